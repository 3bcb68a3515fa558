package converter

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/mantissa"
	nativecommon "protocolreserve/native/common"
)

// maxTopUps bounds the extra pulls used to cover a fee-on-transfer shortfall.
const maxTopUps = 8

// begin enters the reentrancy guard and checks that conversions may run.
// The returned function must be called once the conversion is over.
func (c *Converter) begin(to ethcommon.Address) (func(), error) {
	release, err := c.enter()
	if err != nil {
		return nil, err
	}
	if err := c.checkConvertible(to); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (c *Converter) checkConvertible(to ethcommon.Address) error {
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		return err
	}
	paused, err := c.ConversionPaused()
	if err != nil {
		return err
	}
	if paused {
		return nativecommon.ErrConversionTokensPaused
	}
	if to == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	return nil
}

func (c *Converter) settle(caller, to, tokenIn, tokenOut ethcommon.Address, amountIn, amountOut *big.Int, kind string, private bool) error {
	if err := c.hooks.postConversion(tokenIn, tokenOut, amountIn, amountOut); err != nil {
		return err
	}
	c.emitter.Emit(events.ConversionExecuted{
		Converter: c.address,
		Sender:    caller,
		Receiver:  to,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Kind:      kind,
		Private:   private,
	})
	return nil
}

// ConvertExactTokens sells amountIn of tokenIn for at least amountOutMin of
// tokenOut sent to to. When the converter cannot cover the full output only
// the input matching its balance is pulled. Tokens that deliver less than the
// nominal amount are rejected.
func (c *Converter) ConvertExactTokens(caller ethcommon.Address, amountIn, amountOutMin *big.Int, tokenIn, tokenOut, to ethcommon.Address) (*big.Int, *big.Int, error) {
	release, err := c.begin(to)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, nativecommon.ErrInsufficientInputAmount
	}
	q, err := c.pairQuote(caller, tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	actualIn, amountOut, err := c.amountOut(q, amountIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	if err := checkMinOut(amountOut, amountOutMin); err != nil {
		return nil, nil, err
	}
	received, err := c.pull(tokenIn, caller, actualIn)
	if err != nil {
		return nil, nil, err
	}
	if received.Cmp(actualIn) != 0 {
		return nil, nil, fmt.Errorf("%w: pulled %s, received %s", nativecommon.ErrAmountInOrAmountOutMismatched, actualIn, received)
	}
	delivered, err := c.push(tokenOut, to, amountOut)
	if err != nil {
		return nil, nil, err
	}
	if delivered.Cmp(amountOut) != 0 {
		return nil, nil, fmt.Errorf("%w: sent %s, delivered %s", nativecommon.ErrAmountInOrAmountOutMismatched, amountOut, delivered)
	}
	if err := c.settle(caller, to, tokenIn, tokenOut, received, amountOut, events.KindExactTokens, q.private); err != nil {
		return nil, nil, err
	}
	return received, amountOut, nil
}

// ConvertExactTokensSupportingFeeOnTransferTokens sells amountIn of tokenIn
// and prices only what actually arrived. amountOutMin is checked against
// what to actually received.
func (c *Converter) ConvertExactTokensSupportingFeeOnTransferTokens(caller ethcommon.Address, amountIn, amountOutMin *big.Int, tokenIn, tokenOut, to ethcommon.Address) (*big.Int, *big.Int, error) {
	release, err := c.begin(to)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, nativecommon.ErrInsufficientInputAmount
	}
	q, err := c.pairQuote(caller, tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	actualIn, _, err := c.amountOut(q, amountIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	received, err := c.pull(tokenIn, caller, actualIn)
	if err != nil {
		return nil, nil, err
	}
	if received.Sign() == 0 {
		return nil, nil, nativecommon.ErrInsufficientInputAmount
	}
	_, amountOut, err := c.amountOut(q, received, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	if amountOut.Sign() == 0 {
		return nil, nil, nativecommon.ErrInsufficientOutputAmount
	}
	delivered, err := c.push(tokenOut, to, amountOut)
	if err != nil {
		return nil, nil, err
	}
	if err := checkMinOut(delivered, amountOutMin); err != nil {
		return nil, nil, err
	}
	if err := c.settle(caller, to, tokenIn, tokenOut, received, amountOut, events.KindExactTokensFeeOnTransfer, q.private); err != nil {
		return nil, nil, err
	}
	return received, amountOut, nil
}

// ConvertForExactTokens buys amountOut of tokenOut for at most amountInMax of
// tokenIn. The output is clamped to the converter's balance.
func (c *Converter) ConvertForExactTokens(caller ethcommon.Address, amountInMax, amountOut *big.Int, tokenIn, tokenOut, to ethcommon.Address) (*big.Int, *big.Int, error) {
	release, err := c.begin(to)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	q, actualOut, requiredIn, err := c.forExactQuote(caller, amountInMax, amountOut, tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	received, err := c.pull(tokenIn, caller, requiredIn)
	if err != nil {
		return nil, nil, err
	}
	if received.Cmp(requiredIn) != 0 {
		return nil, nil, fmt.Errorf("%w: pulled %s, received %s", nativecommon.ErrAmountInOrAmountOutMismatched, requiredIn, received)
	}
	delivered, err := c.push(tokenOut, to, actualOut)
	if err != nil {
		return nil, nil, err
	}
	if delivered.Cmp(actualOut) != 0 {
		return nil, nil, fmt.Errorf("%w: sent %s, delivered %s", nativecommon.ErrAmountInOrAmountOutMismatched, actualOut, delivered)
	}
	if err := c.settle(caller, to, tokenIn, tokenOut, received, actualOut, events.KindForExactTokens, q.private); err != nil {
		return nil, nil, err
	}
	return received, actualOut, nil
}

// ConvertForExactTokensSupportingFeeOnTransferTokens buys amountOut of
// tokenOut. When tokenIn charges a transfer fee the shortfall is pulled
// again, grossed up by the observed fee, until the quoted input has arrived.
// The total pulled never exceeds amountInMax.
func (c *Converter) ConvertForExactTokensSupportingFeeOnTransferTokens(caller ethcommon.Address, amountInMax, amountOut *big.Int, tokenIn, tokenOut, to ethcommon.Address) (*big.Int, *big.Int, error) {
	release, err := c.begin(to)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	q, actualOut, requiredIn, err := c.forExactQuote(caller, amountInMax, amountOut, tokenIn, tokenOut)
	if err != nil {
		return nil, nil, err
	}
	pulled := new(big.Int).Set(requiredIn)
	received, err := c.pull(tokenIn, caller, requiredIn)
	if err != nil {
		return nil, nil, err
	}
	for i := 0; received.Cmp(requiredIn) < 0; i++ {
		if received.Sign() == 0 {
			return nil, nil, nativecommon.ErrInsufficientInputAmount
		}
		if i == maxTopUps {
			return nil, nil, fmt.Errorf("%w: %s of %s arrived after %d top-ups", nativecommon.ErrAmountInHigherThanMax, received, requiredIn, maxTopUps)
		}
		shortfall := new(big.Int).Sub(requiredIn, received)
		extra, err := mantissa.MulDivUp(shortfall, pulled, received)
		if err != nil {
			return nil, nil, err
		}
		if new(big.Int).Add(pulled, extra).Cmp(amountInMax) > 0 {
			return nil, nil, fmt.Errorf("%w: need %s more, max %s", nativecommon.ErrAmountInHigherThanMax, extra, amountInMax)
		}
		got, err := c.pull(tokenIn, caller, extra)
		if err != nil {
			return nil, nil, err
		}
		pulled.Add(pulled, extra)
		received.Add(received, got)
	}
	if _, err := c.push(tokenOut, to, actualOut); err != nil {
		return nil, nil, err
	}
	if err := c.settle(caller, to, tokenIn, tokenOut, received, actualOut, events.KindForExactTokensFeeOnTransfer, q.private); err != nil {
		return nil, nil, err
	}
	return pulled, actualOut, nil
}

func (c *Converter) forExactQuote(caller ethcommon.Address, amountInMax, amountOut *big.Int, tokenIn, tokenOut ethcommon.Address) (quote, *big.Int, *big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return quote{}, nil, nil, nativecommon.ErrInsufficientInputAmount
	}
	if amountInMax == nil {
		amountInMax = new(big.Int)
	}
	q, err := c.pairQuote(caller, tokenIn, tokenOut)
	if err != nil {
		return quote{}, nil, nil, err
	}
	actualOut, requiredIn, err := c.amountIn(q, amountOut, tokenOut)
	if err != nil {
		return quote{}, nil, nil, err
	}
	if actualOut.Sign() == 0 {
		return quote{}, nil, nil, nativecommon.ErrInsufficientOutputAmount
	}
	if requiredIn.Cmp(amountInMax) > 0 {
		return quote{}, nil, nil, fmt.Errorf("%w: need %s, max %s", nativecommon.ErrAmountInHigherThanMax, requiredIn, amountInMax)
	}
	return q, actualOut, requiredIn, nil
}

func checkMinOut(amountOut, amountOutMin *big.Int) error {
	if amountOutMin != nil && amountOut.Cmp(amountOutMin) < 0 {
		return fmt.Errorf("%w: got %s, min %s", nativecommon.ErrAmountOutLowerThanMinRequired, amountOut, amountOutMin)
	}
	if amountOut.Sign() == 0 {
		return nativecommon.ErrInsufficientOutputAmount
	}
	return nil
}
