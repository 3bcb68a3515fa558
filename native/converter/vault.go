package converter

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	nativecommon "protocolreserve/native/common"
)

// VaultConverter is a single token converter whose base asset is the vault
// token and whose destination is the vault treasury.
type VaultConverter struct {
	*SingleTokenConverter
	treasury ethcommon.Address
}

// NewVaultConverter builds a converter accumulating opts.BaseAsset for the
// vault treasury at treasury.
func NewVaultConverter(opts Options, treasury ethcommon.Address) (*VaultConverter, error) {
	if treasury == (ethcommon.Address{}) {
		return nil, nativecommon.ErrZeroAddressNotAllowed
	}
	single, err := NewSingleTokenConverter(opts)
	if err != nil {
		return nil, err
	}
	return &VaultConverter{SingleTokenConverter: single, treasury: treasury}, nil
}

// VaultTreasury returns the treasury the converter feeds.
func (v *VaultConverter) VaultTreasury() ethcommon.Address { return v.treasury }

// Initialize points the converter at its treasury.
func (v *VaultConverter) Initialize(minAmountToConvert *big.Int) error {
	return v.Converter.Initialize(v.treasury, minAmountToConvert)
}
