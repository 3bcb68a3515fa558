package token

import (
	"bytes"
	"math/big"
	"sort"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Registry resolves token contracts by address.
type Registry struct {
	mu     sync.RWMutex
	tokens map[ethcommon.Address]Token
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[ethcommon.Address]Token)}
}

// Register adds or replaces tok.
func (r *Registry) Register(tok Token) {
	r.mu.Lock()
	r.tokens[tok.Address()] = tok
	r.mu.Unlock()
}

// Get returns the token deployed at address.
func (r *Registry) Get(address ethcommon.Address) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[address]
	if !ok {
		return nil, ErrUnknownToken
	}
	return tok, nil
}

// BalanceOf is a convenience for Get(token).BalanceOf(account).
func (r *Registry) BalanceOf(token, account ethcommon.Address) (*big.Int, error) {
	tok, err := r.Get(token)
	if err != nil {
		return nil, err
	}
	return tok.BalanceOf(account)
}

// Addresses lists the registered tokens in byte order.
func (r *Registry) Addresses() []ethcommon.Address {
	r.mu.RLock()
	out := make([]ethcommon.Address, 0, len(r.tokens))
	for addr := range r.tokens {
		out = append(out, addr)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
