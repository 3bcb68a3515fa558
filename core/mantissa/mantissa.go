// Package mantissa implements the 18-decimal fixed point arithmetic shared by
// the pricing engine and the reserve ledger. Every helper multiplies before it
// divides and fails instead of wrapping when a value leaves the uint256 range.
package mantissa

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when an operand or result exceeds 256 bits.
	ErrOverflow = errors.New("mantissa: uint256 overflow")
	// ErrNegative is returned for negative operands.
	ErrNegative = errors.New("mantissa: negative operand")
	// ErrDivisionByZero is returned when the divisor is zero.
	ErrDivisionByZero = errors.New("mantissa: division by zero")
)

// One is 1.0 expressed as an 18-decimal mantissa. It must not be modified.
var One = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Scale returns 10^decimals * x, useful for writing fixtures in whole units.
func Scale(x int64, decimals uint) *big.Int {
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return factor.Mul(factor, big.NewInt(x))
}

// Units returns x whole units of an 18-decimal asset.
func Units(x int64) *big.Int {
	return Scale(x, 18)
}

func toWord(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, ErrNegative
	}
	word, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrOverflow
	}
	return word, nil
}

func operands(a, b, d *big.Int) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, nil, nil, err
	}
	y, err := toWord(b)
	if err != nil {
		return nil, nil, nil, err
	}
	z, err := toWord(d)
	if err != nil {
		return nil, nil, nil, err
	}
	if z.IsZero() {
		return nil, nil, nil, ErrDivisionByZero
	}
	return x, y, z, nil
}

// MulDivDown returns floor(a*b/d) using a 512-bit intermediate product.
func MulDivDown(a, b, d *big.Int) (*big.Int, error) {
	x, y, z, err := operands(a, b, d)
	if err != nil {
		return nil, err
	}
	result, overflow := new(uint256.Int).MulDivOverflow(x, y, z)
	if overflow {
		return nil, ErrOverflow
	}
	return result.ToBig(), nil
}

// MulDivUp returns ceil(a*b/d) using a 512-bit intermediate product.
func MulDivUp(a, b, d *big.Int) (*big.Int, error) {
	x, y, z, err := operands(a, b, d)
	if err != nil {
		return nil, err
	}
	result, overflow := new(uint256.Int).MulDivOverflow(x, y, z)
	if overflow {
		return nil, ErrOverflow
	}
	if !new(uint256.Int).MulMod(x, y, z).IsZero() {
		if _, carry := result.AddOverflow(result, uint256.NewInt(1)); carry {
			return nil, ErrOverflow
		}
	}
	return result.ToBig(), nil
}

// Mul returns floor(a*b/One).
func Mul(a, b *big.Int) (*big.Int, error) {
	return MulDivDown(a, b, One)
}

// Div returns floor(a*One/b).
func Div(a, b *big.Int) (*big.Int, error) {
	return MulDivDown(a, One, b)
}

// Min returns the smaller operand. Neither argument is copied.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Zero reports whether x is nil or zero.
func Zero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}
