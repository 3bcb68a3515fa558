package access

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var ErrEmptyMethod = errors.New("access: method must not be empty")

// Storage is the subset of the state manager used for permission records.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Checker answers whether caller may invoke method on a bound contract.
type Checker interface {
	IsAllowedToCall(caller ethcommon.Address, method string) bool
}

// Manager stores call permissions as (contract, method, account) triples.
// The zero contract address acts as a wildcard so a governance account can be
// granted a method on every contract at once.
type Manager struct {
	store Storage
}

// NewManager returns a manager persisting permissions in store.
func NewManager(store Storage) *Manager {
	return &Manager{store: store}
}

func roleKey(contract ethcommon.Address, method string, account ethcommon.Address) []byte {
	role := ethcrypto.Keccak256(contract.Bytes(), []byte(method))
	return append([]byte("access/"), ethcrypto.Keccak256(role, account.Bytes())...)
}

// GiveCallPermission allows account to call method on contract.
func (m *Manager) GiveCallPermission(contract ethcommon.Address, method string, account ethcommon.Address) error {
	if method == "" {
		return ErrEmptyMethod
	}
	return m.store.KVPut(roleKey(contract, method, account), true)
}

// RevokeCallPermission removes a previously granted permission.
func (m *Manager) RevokeCallPermission(contract ethcommon.Address, method string, account ethcommon.Address) error {
	if method == "" {
		return ErrEmptyMethod
	}
	return m.store.KVPut(roleKey(contract, method, account), false)
}

// IsAllowedToCall reports whether account may call method on contract,
// either directly or through the wildcard contract.
func (m *Manager) IsAllowedToCall(contract ethcommon.Address, method string, account ethcommon.Address) bool {
	if m.hasRole(contract, method, account) {
		return true
	}
	return contract != (ethcommon.Address{}) && m.hasRole(ethcommon.Address{}, method, account)
}

func (m *Manager) hasRole(contract ethcommon.Address, method string, account ethcommon.Address) bool {
	var granted bool
	ok, err := m.store.KVGet(roleKey(contract, method, account), &granted)
	return err == nil && ok && granted
}

// Bind returns a Checker scoped to contract.
func (m *Manager) Bind(contract ethcommon.Address) Checker {
	return bound{manager: m, contract: contract}
}

type bound struct {
	manager  *Manager
	contract ethcommon.Address
}

func (b bound) IsAllowedToCall(caller ethcommon.Address, method string) bool {
	return b.manager.IsAllowedToCall(b.contract, method, caller)
}

// AllowAll is a Checker that grants everything. Intended for tests.
type AllowAll struct{}

func (AllowAll) IsAllowedToCall(ethcommon.Address, string) bool { return true }
