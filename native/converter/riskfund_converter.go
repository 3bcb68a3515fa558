package converter

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/mantissa"
	nativecommon "protocolreserve/native/common"
	"protocolreserve/native/network"
	"protocolreserve/native/reserve"
)

// RiskFund is the destination of a RiskFundConverter. It learns which pool
// every delivered unit belongs to.
type RiskFund interface {
	Address() ethcommon.Address
	UpdatePoolState(caller, pool, asset ethcommon.Address, amount *big.Int) error
}

// RiskFundConverter converts the reserves lending pools send it into the base
// asset of the risk fund. Every unit it holds is attributed to a pool through
// a reserve ledger, and the base asset it forwards is attributed to the same
// pools on the risk fund.
type RiskFundConverter struct {
	*Converter
	ledger   *reserve.Ledger
	riskFund RiskFund
}

var _ network.TokenConverter = (*RiskFundConverter)(nil)

// NewRiskFundConverter builds a risk fund converter tracking reserves of the
// pools in registry.
func NewRiskFundConverter(opts Options, registry reserve.PoolRegistry) (*RiskFundConverter, error) {
	r := &RiskFundConverter{}
	conv, err := newConverter(opts, r)
	if err != nil {
		return nil, err
	}
	r.Converter = conv
	r.ledger = reserve.NewLedger(opts.Address.Hex(), opts.State, registry)
	return r, nil
}

// SetRiskFund wires the risk fund that receives pool attributions. Base
// asset sent to any other destination is not attributed.
func (r *RiskFundConverter) SetRiskFund(rf RiskFund) { r.riskFund = rf }

// Ledger exposes the reserve ledger for read access.
func (r *RiskFundConverter) Ledger() *reserve.Ledger { return r.ledger }

// PoolAssetReserve returns the amount of asset attributed to pool.
func (r *RiskFundConverter) PoolAssetReserve(pool, asset ethcommon.Address) (*big.Int, error) {
	return r.ledger.PoolAssetReserve(pool, asset)
}

// AssetReserve returns the amount of asset the converter accounts for.
func (r *RiskFundConverter) AssetReserve(asset ethcommon.Address) (*big.Int, error) {
	return r.ledger.AssetReserve(asset)
}

// PoolsAssetsDirectTransfer reports whether asset of pool skips conversion.
func (r *RiskFundConverter) PoolsAssetsDirectTransfer(pool, asset ethcommon.Address) (bool, error) {
	var enabled bool
	if _, err := r.state.KVGet(r.key("direct", pool.Hex(), asset.Hex()), &enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

// SetPoolsAssetsDirectTransfer marks pool assets that are forwarded to the
// destination as-is.
func (r *RiskFundConverter) SetPoolsAssetsDirectTransfer(caller ethcommon.Address, pools []ethcommon.Address, assets [][]ethcommon.Address, values [][]bool) error {
	if err := r.authorize(caller, MethodSetDirectTransfer); err != nil {
		return err
	}
	if len(pools) != len(assets) || len(pools) != len(values) {
		return nativecommon.ErrInputLengthMisMatch
	}
	for i, pool := range pools {
		if len(assets[i]) != len(values[i]) {
			return fmt.Errorf("%w: pool %s", nativecommon.ErrInputLengthMisMatch, pool.Hex())
		}
		for j, asset := range assets[i] {
			if err := r.state.KVPut(r.key("direct", pool.Hex(), asset.Hex()), values[i][j]); err != nil {
				return err
			}
			r.emitter.Emit(events.DirectTransferUpdated{Converter: r.address, Pool: pool, Asset: asset, Enabled: values[i][j]})
		}
	}
	return nil
}

// UpdateAssetsState accounts for asset that arrived from pool since the last
// update and converts the tracked reserve of asset through the network. The
// base asset and direct-transfer assets are forwarded to the destination as
// they are. Calling it with nothing new is a no-op.
func (r *RiskFundConverter) UpdateAssetsState(caller, pool, asset ethcommon.Address) error {
	release, err := r.enter()
	if err != nil {
		return err
	}
	defer release()

	if _, err := r.ledger.PoolAssetReserve(pool, asset); err != nil {
		return err
	}
	raw, err := r.rawBalance(asset, r.address)
	if err != nil {
		return err
	}
	direct, err := r.PoolsAssetsDirectTransfer(pool, asset)
	if err != nil {
		return err
	}
	if asset == r.baseAsset || direct {
		tracked, err := r.ledger.AssetReserve(asset)
		if err != nil {
			return err
		}
		if raw.Cmp(tracked) <= 0 {
			return nil
		}
		delivered, err := r.forwardToDestination(pool, asset, raw.Sub(raw, tracked))
		if err != nil {
			return err
		}
		return r.attribute(pool, asset, delivered)
	}

	delta, allocations, err := r.ledger.UpdateAssetsState(pool, asset, raw)
	if err != nil {
		return err
	}
	if delta.Sign() == 0 {
		return nil
	}
	for _, alloc := range allocations {
		r.emitter.Emit(events.AssetsReservesUpdated{Contract: r.address, Pool: alloc.Pool, Asset: asset, Amount: alloc.Amount})
	}
	tracked, err := r.ledger.AssetReserve(asset)
	if err != nil {
		return err
	}
	_, _, err = r.privateConversion(pool, asset, tracked)
	return err
}

func (r *RiskFundConverter) attribute(pool, asset ethcommon.Address, amount *big.Int) error {
	if r.riskFund == nil || amount == nil || amount.Sign() == 0 {
		return nil
	}
	dest, err := r.Destination()
	if err != nil {
		return err
	}
	if !dest.Is(r.riskFund.Address()) {
		return nil
	}
	return r.riskFund.UpdatePoolState(r.address, pool, asset, amount)
}

func (r *RiskFundConverter) attributeShares(asset ethcommon.Address, amount *big.Int, spent []reserve.Allocation) error {
	shares, err := reserve.Split(amount, spent)
	if err != nil {
		return err
	}
	for _, share := range shares {
		if err := r.attribute(share.Pool, asset, share.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (r *RiskFundConverter) availableBalance(tok ethcommon.Address) (*big.Int, error) {
	tracked, err := r.ledger.AssetReserve(tok)
	if err != nil {
		return nil, err
	}
	raw, err := r.rawBalance(tok, r.address)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(mantissa.Min(tracked, raw)), nil
}

func (r *RiskFundConverter) postConversion(tokenIn, tokenOut ethcommon.Address, amountIn, amountOut *big.Int) error {
	spent, err := r.ledger.Spend(tokenOut, amountOut)
	if err != nil {
		return err
	}
	if tokenIn != r.baseAsset {
		shares, err := reserve.Split(amountIn, spent)
		if err != nil {
			return err
		}
		for _, share := range shares {
			if err := r.ledger.Credit(share.Pool, tokenIn, share.Amount); err != nil {
				return err
			}
		}
		return nil
	}
	delivered, err := r.forwardToDestination(ethcommon.Address{}, tokenIn, amountIn)
	if err != nil {
		return err
	}
	return r.attributeShares(tokenIn, delivered, spent)
}

func (r *RiskFundConverter) postPrivateConversion(_, asset ethcommon.Address, amountSpent, baseReceived *big.Int) error {
	spent, err := r.ledger.Spend(asset, amountSpent)
	if err != nil {
		return err
	}
	return r.attributeShares(r.baseAsset, baseReceived, spent)
}

func (r *RiskFundConverter) preSweep(tok ethcommon.Address, amount *big.Int) error {
	tracked, err := r.ledger.AssetReserve(tok)
	if err != nil {
		return err
	}
	raw, err := r.rawBalance(tok, r.address)
	if err != nil {
		return err
	}
	untracked := new(big.Int).Sub(raw, tracked)
	if amount.Cmp(untracked) > 0 {
		return fmt.Errorf("%w: %s untracked, %s requested", nativecommon.ErrInsufficientBalance, untracked, amount)
	}
	return nil
}
