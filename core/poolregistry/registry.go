package poolregistry

import (
	"errors"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroAddress   = errors.New("poolregistry: zero address")
	ErrPoolExists    = errors.New("poolregistry: pool already registered")
	ErrUnknownPool   = errors.New("poolregistry: unknown pool")
	ErrMarketExists  = errors.New("poolregistry: market already registered")
	ErrMarketMissing = errors.New("poolregistry: market not registered")
)

// Pool describes a lending pool (comptroller) and its markets.
type Pool struct {
	Address ethcommon.Address
	Name    string
	// markets maps underlying asset to market (vToken) address.
	markets map[ethcommon.Address]ethcommon.Address
}

// Registry tracks lending pools and the markets they list. It answers the
// questions the treasury asks about pools: which pools support an asset, and
// whether an asset is a market of a pool.
type Registry struct {
	mu    sync.RWMutex
	pools []*Pool
	index map[ethcommon.Address]*Pool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{index: make(map[ethcommon.Address]*Pool)}
}

// AddPool registers a pool.
func (r *Registry) AddPool(address ethcommon.Address, name string) error {
	if address == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[address]; ok {
		return ErrPoolExists
	}
	pool := &Pool{Address: address, Name: name, markets: make(map[ethcommon.Address]ethcommon.Address)}
	r.pools = append(r.pools, pool)
	r.index[address] = pool
	return nil
}

// AddMarket lists asset in pool through the vToken market.
func (r *Registry) AddMarket(pool, asset, vToken ethcommon.Address) error {
	if asset == (ethcommon.Address{}) || vToken == (ethcommon.Address{}) {
		return ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.index[pool]
	if !ok {
		return ErrUnknownPool
	}
	if _, ok := p.markets[asset]; ok {
		return ErrMarketExists
	}
	p.markets[asset] = vToken
	return nil
}

// RemoveMarket unlists asset from pool.
func (r *Registry) RemoveMarket(pool, asset ethcommon.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.index[pool]
	if !ok {
		return ErrUnknownPool
	}
	if _, ok := p.markets[asset]; !ok {
		return ErrMarketMissing
	}
	delete(p.markets, asset)
	return nil
}

// GetPoolsSupportedByAsset lists the pools with a market for asset in
// registration order.
func (r *Registry) GetPoolsSupportedByAsset(asset ethcommon.Address) []ethcommon.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ethcommon.Address
	for _, p := range r.pools {
		if _, ok := p.markets[asset]; ok {
			out = append(out, p.Address)
		}
	}
	return out
}

// GetVTokenForAsset returns the market of asset in pool, or the zero address
// when the pool does not list it.
func (r *Registry) GetVTokenForAsset(pool, asset ethcommon.Address) ethcommon.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.index[pool]
	if !ok {
		return ethcommon.Address{}
	}
	return p.markets[asset]
}

// Pools lists registered pool addresses in registration order.
func (r *Registry) Pools() []ethcommon.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ethcommon.Address, len(r.pools))
	for i, p := range r.pools {
		out[i] = p.Address
	}
	return out
}
