package converter

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/mantissa"
)

// privateConversion sells up to amount of asset, attributed to pool, to the
// sibling converters that hold the base asset. Siblings are drained most
// liquid first and their output goes straight to the destination. Whatever
// cannot be converted stays with the converter.
func (c *Converter) privateConversion(pool, asset ethcommon.Address, amount *big.Int) (spent, received *big.Int, err error) {
	spent, received = new(big.Int), new(big.Int)
	if asset == c.baseAsset || c.network == nil || amount == nil || amount.Sign() == 0 {
		return spent, received, nil
	}
	minAmount, err := c.MinAmountToConvert()
	if err != nil {
		return nil, nil, err
	}
	worth, err := c.usdValue(asset, amount)
	if err != nil {
		return nil, nil, err
	}
	if worth.Cmp(minAmount) < 0 {
		return spent, received, nil
	}
	dest, err := c.requireDestination()
	if err != nil {
		return nil, nil, err
	}
	siblings, balances, err := c.network.FindTokenConvertersForConverters(c.address, asset, c.baseAsset)
	if err != nil {
		return nil, nil, err
	}
	assetToken, err := c.tokens.Get(asset)
	if err != nil {
		return nil, nil, err
	}
	baseToken, err := c.tokens.Get(c.baseAsset)
	if err != nil {
		return nil, nil, err
	}

	remaining := new(big.Int).Set(amount)
	hops := 0
	for i, addr := range siblings {
		// ranked descending, so nothing after a dry sibling can help
		if balances[i].Sign() == 0 {
			break
		}
		sibling, ok := c.network.Converter(addr)
		if !ok {
			continue
		}
		_, need, err := sibling.GetAmountIn(c.address, balances[i], asset, c.baseAsset)
		if err != nil {
			return nil, nil, err
		}
		amountIn := new(big.Int).Set(mantissa.Min(need, remaining))
		if amountIn.Sign() == 0 {
			continue
		}
		worth, err := c.usdValue(asset, amountIn)
		if err != nil {
			return nil, nil, err
		}
		if worth.Cmp(minAmount) < 0 {
			break
		}

		if err := assetToken.Approve(c.address, addr, amountIn); err != nil {
			return nil, nil, err
		}
		selfBefore, err := assetToken.BalanceOf(c.address)
		if err != nil {
			return nil, nil, err
		}
		destBefore, err := baseToken.BalanceOf(dest)
		if err != nil {
			return nil, nil, err
		}
		if _, _, err := sibling.ConvertExactTokensSupportingFeeOnTransferTokens(c.address, amountIn, big.NewInt(0), asset, c.baseAsset, dest); err != nil {
			return nil, nil, err
		}
		selfAfter, err := assetToken.BalanceOf(c.address)
		if err != nil {
			return nil, nil, err
		}
		destAfter, err := baseToken.BalanceOf(dest)
		if err != nil {
			return nil, nil, err
		}
		if err := assetToken.Approve(c.address, addr, big.NewInt(0)); err != nil {
			return nil, nil, err
		}

		hopSpent := selfBefore.Sub(selfBefore, selfAfter)
		spent.Add(spent, hopSpent)
		received.Add(received, destAfter.Sub(destAfter, destBefore))
		remaining.Sub(remaining, hopSpent)
		hops++
		if remaining.Sign() <= 0 {
			break
		}
	}
	if spent.Sign() == 0 {
		return spent, received, nil
	}
	if err := c.hooks.postPrivateConversion(pool, asset, spent, received); err != nil {
		return nil, nil, err
	}
	c.emitter.Emit(events.PrivateConversionSettled{
		Converter:    c.address,
		Pool:         pool,
		Asset:        asset,
		AmountSpent:  spent,
		BaseAsset:    c.baseAsset,
		BaseReceived: received,
		Hops:         hops,
	})
	return spent, received, nil
}
