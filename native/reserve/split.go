package reserve

import (
	"math/big"

	"protocolreserve/core/mantissa"
)

// Split divides amount across the pools of weights in proportion to their
// amounts. Shares round down and the residual goes to the largest weight, so
// the returned amounts always sum to amount. A nil result means there was
// nothing to split against.
func Split(amount *big.Int, weights []Allocation) ([]Allocation, error) {
	total := new(big.Int)
	for _, w := range weights {
		total.Add(total, w.Amount)
	}
	if total.Sign() == 0 || amount == nil {
		return nil, nil
	}
	out := make([]Allocation, len(weights))
	assigned := new(big.Int)
	largest := 0
	for i, w := range weights {
		share, err := mantissa.MulDivDown(amount, w.Amount, total)
		if err != nil {
			return nil, err
		}
		out[i] = Allocation{Pool: w.Pool, Amount: share}
		assigned.Add(assigned, share)
		if w.Amount.Cmp(weights[largest].Amount) > 0 {
			largest = i
		}
	}
	out[largest].Amount.Add(out[largest].Amount, new(big.Int).Sub(amount, assigned))
	return out, nil
}
