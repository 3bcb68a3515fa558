package common

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// SortByWeightDesc reorders addrs and weights in place so that weights are
// non-increasing. Pairs stay together. Tie order is unspecified. A nil weight
// is treated as zero.
func SortByWeightDesc(addrs []ethcommon.Address, weights []*big.Int) error {
	if len(addrs) != len(weights) {
		return ErrInputLengthMisMatch
	}
	if len(addrs) < 2 {
		return nil
	}
	quickSortDesc(addrs, weights, 0, len(addrs)-1)
	return nil
}

func quickSortDesc(addrs []ethcommon.Address, weights []*big.Int, left, right int) {
	for left < right {
		pivot := weightOf(weights[left+(right-left)/2])
		i, j := left, right
		for i <= j {
			for weightOf(weights[i]).Cmp(pivot) > 0 {
				i++
			}
			for weightOf(weights[j]).Cmp(pivot) < 0 {
				j--
			}
			if i <= j {
				addrs[i], addrs[j] = addrs[j], addrs[i]
				weights[i], weights[j] = weights[j], weights[i]
				i++
				j--
			}
		}
		// recurse into the smaller side to bound stack depth
		if j-left < right-i {
			quickSortDesc(addrs, weights, left, j)
			left = i
		} else {
			quickSortDesc(addrs, weights, i, right)
			right = j
		}
	}
}

var zeroWeight = new(big.Int)

func weightOf(w *big.Int) *big.Int {
	if w == nil {
		return zeroWeight
	}
	return w
}
