package converter

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/mantissa"
	"protocolreserve/core/oracle"
	nativecommon "protocolreserve/native/common"
)

// quote is the pricing context of one pair for one caller.
type quote struct {
	ratio      *big.Int // tokenIn to tokenOut, mantissa
	multiplier *big.Int // One + incentive
	private    bool
}

func (c *Converter) price(asset ethcommon.Address) (*big.Int, error) {
	if c.oracle == nil {
		return nil, errNilOracle
	}
	price, err := c.oracle.GetPrice(asset)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", oracle.ErrInvalidPrice, asset.Hex())
	}
	return price, nil
}

// pairQuote validates the pair for caller and loads the prices.
func (c *Converter) pairQuote(caller, tokenIn, tokenOut ethcommon.Address) (quote, error) {
	cfg, err := c.ConversionConfig(tokenIn, tokenOut)
	if err != nil {
		return quote{}, err
	}
	if !cfg.Enabled() {
		return quote{}, fmt.Errorf("%w: %s -> %s", nativecommon.ErrConversionConfigNotEnabled, tokenIn.Hex(), tokenOut.Hex())
	}
	private := c.isNetworkMember(caller)
	if private && !cfg.Access.AllowsPrivate() {
		return quote{}, nativecommon.ErrConversionEnabledOnlyForUsers
	}
	if !private && !cfg.Access.AllowsUsers() {
		return quote{}, nativecommon.ErrConversionEnabledOnlyForPrivateConversions
	}
	priceIn, err := c.price(tokenIn)
	if err != nil {
		return quote{}, err
	}
	priceOut, err := c.price(tokenOut)
	if err != nil {
		return quote{}, err
	}
	ratio, err := mantissa.MulDivDown(priceIn, mantissa.One, priceOut)
	if err != nil {
		return quote{}, err
	}
	if ratio.Sign() == 0 {
		return quote{}, fmt.Errorf("%w: %s is worth less than one unit of %s", oracle.ErrInvalidPrice, tokenIn.Hex(), tokenOut.Hex())
	}
	incentive := cfg.Incentive
	if private || incentive == nil {
		incentive = big.NewInt(0)
	}
	return quote{
		ratio:      ratio,
		multiplier: new(big.Int).Add(mantissa.One, incentive),
		private:    private,
	}, nil
}

// out applies the price ratio first and the incentive second, rounding down.
func (q quote) out(amountIn *big.Int) (*big.Int, error) {
	converted, err := mantissa.MulDivDown(amountIn, q.ratio, mantissa.One)
	if err != nil {
		return nil, err
	}
	return mantissa.MulDivDown(converted, q.multiplier, mantissa.One)
}

// in inverts out, rounding up at every step so the converter is never
// under-charged.
func (q quote) in(amountOut *big.Int) (*big.Int, error) {
	beforeIncentive, err := mantissa.MulDivUp(amountOut, mantissa.One, q.multiplier)
	if err != nil {
		return nil, err
	}
	return mantissa.MulDivUp(beforeIncentive, mantissa.One, q.ratio)
}

// GetAmountOut quotes how much tokenOut amountIn of tokenIn buys. When the
// converter cannot pay the full amount the output is clamped to its balance
// and actualAmountIn is the input that buys exactly that balance.
func (c *Converter) GetAmountOut(caller ethcommon.Address, amountIn *big.Int, tokenIn, tokenOut ethcommon.Address) (actualAmountIn, amountOut *big.Int, err error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, nativecommon.ErrInsufficientInputAmount
	}
	q, err := c.pairQuote(caller, tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	return c.amountOut(q, amountIn, tokenOut)
}

func (c *Converter) amountOut(q quote, amountIn *big.Int, tokenOut ethcommon.Address) (*big.Int, *big.Int, error) {
	out, err := q.out(amountIn)
	if err != nil {
		return nil, nil, err
	}
	available, err := c.hooks.availableBalance(tokenOut)
	if err != nil {
		return nil, nil, err
	}
	if out.Cmp(available) <= 0 {
		return new(big.Int).Set(amountIn), out, nil
	}
	in, err := q.in(available)
	if err != nil {
		return nil, nil, err
	}
	return mantissa.Min(in, amountIn), available, nil
}

// GetAmountIn quotes how much tokenIn buys amountOut of tokenOut. amountOut
// is clamped to the converter's balance first.
func (c *Converter) GetAmountIn(caller ethcommon.Address, amountOut *big.Int, tokenIn, tokenOut ethcommon.Address) (actualAmountOut, amountIn *big.Int, err error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, nil, nativecommon.ErrInsufficientInputAmount
	}
	q, err := c.pairQuote(caller, tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	return c.amountIn(q, amountOut, tokenOut)
}

func (c *Converter) amountIn(q quote, amountOut *big.Int, tokenOut ethcommon.Address) (*big.Int, *big.Int, error) {
	available, err := c.hooks.availableBalance(tokenOut)
	if err != nil {
		return nil, nil, err
	}
	actualOut := new(big.Int).Set(mantissa.Min(amountOut, available))
	in, err := q.in(actualOut)
	if err != nil {
		return nil, nil, err
	}
	return actualOut, in, nil
}

// usdValue converts amount of asset into a USD mantissa.
func (c *Converter) usdValue(asset ethcommon.Address, amount *big.Int) (*big.Int, error) {
	price, err := c.price(asset)
	if err != nil {
		return nil, err
	}
	return mantissa.Mul(amount, price)
}
