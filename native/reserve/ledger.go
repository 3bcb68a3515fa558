package reserve

import (
	"fmt"
	"math/big"
	"sort"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/mantissa"
	nativecommon "protocolreserve/native/common"
)

// Storage is the subset of the state manager the ledger relies on.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// PoolRegistry answers which pools list an asset.
type PoolRegistry interface {
	GetPoolsSupportedByAsset(asset ethcommon.Address) []ethcommon.Address
	GetVTokenForAsset(pool, asset ethcommon.Address) ethcommon.Address
}

// Allocation is the share of an amount attributed to one pool.
type Allocation struct {
	Pool   ethcommon.Address
	Amount *big.Int
}

// Ledger attributes the funds a contract holds to the pools they came from.
// For every asset the sum of the pool reserves equals the asset reserve
// after each call.
type Ledger struct {
	namespace string
	store     Storage
	pools     PoolRegistry
}

// NewLedger returns a ledger whose keys are prefixed with namespace, usually
// the owning contract's address.
func NewLedger(namespace string, store Storage, pools PoolRegistry) *Ledger {
	return &Ledger{namespace: namespace, store: store, pools: pools}
}

func (l *Ledger) assetKey(asset ethcommon.Address) []byte {
	return []byte(fmt.Sprintf("reserve/%s/asset/%s", l.namespace, asset.Hex()))
}

func (l *Ledger) poolKey(pool, asset ethcommon.Address) []byte {
	return []byte(fmt.Sprintf("reserve/%s/pool/%s/%s", l.namespace, pool.Hex(), asset.Hex()))
}

func (l *Ledger) holdersKey(asset ethcommon.Address) []byte {
	return []byte(fmt.Sprintf("reserve/%s/holders/%s", l.namespace, asset.Hex()))
}

func (l *Ledger) getAmount(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := l.store.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// AssetReserve returns the total tracked for asset.
func (l *Ledger) AssetReserve(asset ethcommon.Address) (*big.Int, error) {
	return l.getAmount(l.assetKey(asset))
}

// PoolAssetReserve returns the amount of asset attributed to pool.
func (l *Ledger) PoolAssetReserve(pool, asset ethcommon.Address) (*big.Int, error) {
	if err := l.requireMarket(pool, asset); err != nil {
		return nil, err
	}
	return l.getAmount(l.poolKey(pool, asset))
}

// Holders lists every pool that has ever held asset, in first-credit order.
// Pools with zero reserve stay listed.
func (l *Ledger) Holders(asset ethcommon.Address) ([]ethcommon.Address, error) {
	var holders []ethcommon.Address
	if _, err := l.store.KVGet(l.holdersKey(asset), &holders); err != nil {
		return nil, err
	}
	return holders, nil
}

func (l *Ledger) requireMarket(pool, asset ethcommon.Address) error {
	if l.pools == nil {
		return nil
	}
	if l.pools.GetVTokenForAsset(pool, asset) == (ethcommon.Address{}) {
		return fmt.Errorf("%w: pool %s asset %s", nativecommon.ErrMarketNotExistInPool, pool.Hex(), asset.Hex())
	}
	return nil
}

func (l *Ledger) supported(pool, asset ethcommon.Address) bool {
	return l.pools == nil || l.pools.GetVTokenForAsset(pool, asset) != (ethcommon.Address{})
}

// UpdateAssetsState records funds that arrived since the last update. The
// delta is currentBalance minus the asset reserve. When other supported pools
// already hold reserve in asset, the delta is split across every supported
// holder pro-rata to its reserve; otherwise pool receives all of it. A zero
// delta is a no-op.
func (l *Ledger) UpdateAssetsState(pool, asset ethcommon.Address, currentBalance *big.Int) (*big.Int, []Allocation, error) {
	if err := l.requireMarket(pool, asset); err != nil {
		return nil, nil, err
	}
	total, err := l.AssetReserve(asset)
	if err != nil {
		return nil, nil, err
	}
	if currentBalance == nil || currentBalance.Cmp(total) <= 0 {
		return big.NewInt(0), nil, nil
	}
	delta := new(big.Int).Sub(currentBalance, total)

	holders, err := l.Holders(asset)
	if err != nil {
		return nil, nil, err
	}
	var (
		weighted   []ethcommon.Address
		weights    []*big.Int
		weightSum  = new(big.Int)
		othersHold bool
	)
	for _, holder := range holders {
		if !l.supported(holder, asset) {
			continue
		}
		reserve, err := l.getAmount(l.poolKey(holder, asset))
		if err != nil {
			return nil, nil, err
		}
		if reserve.Sign() == 0 {
			continue
		}
		if holder != pool {
			othersHold = true
		}
		weighted = append(weighted, holder)
		weights = append(weights, reserve)
		weightSum.Add(weightSum, reserve)
	}

	var allocations []Allocation
	if !othersHold {
		allocations = []Allocation{{Pool: pool, Amount: new(big.Int).Set(delta)}}
	} else {
		allocations, err = proRata(delta, weighted, weights, weightSum)
		if err != nil {
			return nil, nil, err
		}
		// the residual goes to the largest holder so nothing is left unattributed
		assigned := new(big.Int)
		largest := 0
		for i, alloc := range allocations {
			assigned.Add(assigned, alloc.Amount)
			if weights[i].Cmp(weights[largest]) > 0 {
				largest = i
			}
		}
		allocations[largest].Amount.Add(allocations[largest].Amount, new(big.Int).Sub(delta, assigned))
	}

	for _, alloc := range allocations {
		if err := l.credit(alloc.Pool, asset, alloc.Amount, holders); err != nil {
			return nil, nil, err
		}
		holders, err = l.Holders(asset)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := l.store.KVPut(l.assetKey(asset), total.Add(total, delta)); err != nil {
		return nil, nil, err
	}
	return delta, allocations, nil
}

// Credit attributes amount of asset to pool without checking balances. It is
// used by contracts that receive attributed funds from a trusted sender.
func (l *Ledger) Credit(pool, asset ethcommon.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return nativecommon.ErrInvalidArguments
	}
	if amount.Sign() == 0 {
		return nil
	}
	holders, err := l.Holders(asset)
	if err != nil {
		return err
	}
	if err := l.credit(pool, asset, amount, holders); err != nil {
		return err
	}
	total, err := l.AssetReserve(asset)
	if err != nil {
		return err
	}
	return l.store.KVPut(l.assetKey(asset), total.Add(total, amount))
}

func (l *Ledger) credit(pool, asset ethcommon.Address, amount *big.Int, holders []ethcommon.Address) error {
	current, err := l.getAmount(l.poolKey(pool, asset))
	if err != nil {
		return err
	}
	if err := l.store.KVPut(l.poolKey(pool, asset), current.Add(current, amount)); err != nil {
		return err
	}
	for _, holder := range holders {
		if holder == pool {
			return nil
		}
	}
	return l.store.KVPut(l.holdersKey(asset), append(holders, pool))
}

// Spend removes amount of asset from the ledger. Every holder is charged
// amount*poolReserve/assetReserve rounded down, measured before the
// decrement. The rounding residual is charged to the holders with the most
// remaining reserve so the asset reserve drops by exactly amount.
func (l *Ledger) Spend(asset ethcommon.Address, amount *big.Int) ([]Allocation, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, nativecommon.ErrInvalidArguments
	}
	total, err := l.AssetReserve(asset)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(total) > 0 {
		return nil, fmt.Errorf("%w: spend %s of %s tracked for %s", nativecommon.ErrInsufficientBalance, amount, total, asset.Hex())
	}
	if amount.Sign() == 0 {
		return nil, nil
	}
	holders, err := l.Holders(asset)
	if err != nil {
		return nil, err
	}
	var (
		pools    []ethcommon.Address
		reserves []*big.Int
	)
	for _, holder := range holders {
		reserve, err := l.getAmount(l.poolKey(holder, asset))
		if err != nil {
			return nil, err
		}
		if reserve.Sign() == 0 {
			continue
		}
		pools = append(pools, holder)
		reserves = append(reserves, reserve)
	}
	allocations, err := proRata(amount, pools, reserves, total)
	if err != nil {
		return nil, err
	}

	residual := new(big.Int).Set(amount)
	remaining := make([]*big.Int, len(allocations))
	for i, alloc := range allocations {
		residual.Sub(residual, alloc.Amount)
		remaining[i] = new(big.Int).Sub(reserves[i], alloc.Amount)
	}
	if residual.Sign() > 0 {
		order := make([]int, len(allocations))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return remaining[order[a]].Cmp(remaining[order[b]]) > 0
		})
		for _, idx := range order {
			if residual.Sign() == 0 {
				break
			}
			take := new(big.Int).Set(mantissa.Min(residual, remaining[idx]))
			allocations[idx].Amount.Add(allocations[idx].Amount, take)
			remaining[idx].Sub(remaining[idx], take)
			residual.Sub(residual, take)
		}
	}

	for i, alloc := range allocations {
		if err := l.store.KVPut(l.poolKey(alloc.Pool, asset), remaining[i]); err != nil {
			return nil, err
		}
	}
	if err := l.store.KVPut(l.assetKey(asset), total.Sub(total, amount)); err != nil {
		return nil, err
	}
	return allocations, nil
}

// Withdraw removes amount of asset from a single pool.
func (l *Ledger) Withdraw(pool, asset ethcommon.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return nativecommon.ErrInvalidArguments
	}
	current, err := l.getAmount(l.poolKey(pool, asset))
	if err != nil {
		return err
	}
	if amount.Cmp(current) > 0 {
		return fmt.Errorf("%w: withdraw %s of %s held by pool %s", nativecommon.ErrInsufficientBalance, amount, current, pool.Hex())
	}
	total, err := l.AssetReserve(asset)
	if err != nil {
		return err
	}
	if err := l.store.KVPut(l.poolKey(pool, asset), current.Sub(current, amount)); err != nil {
		return err
	}
	return l.store.KVPut(l.assetKey(asset), total.Sub(total, amount))
}

// proRata splits amount across pools by weight, rounding every share down.
func proRata(amount *big.Int, pools []ethcommon.Address, weights []*big.Int, weightSum *big.Int) ([]Allocation, error) {
	out := make([]Allocation, len(pools))
	for i, pool := range pools {
		share, err := mantissa.MulDivDown(amount, weights[i], weightSum)
		if err != nil {
			return nil, err
		}
		out[i] = Allocation{Pool: pool, Amount: share}
	}
	return out, nil
}
