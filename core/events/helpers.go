package events

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addr(a ethcommon.Address) string {
	return a.Hex()
}
