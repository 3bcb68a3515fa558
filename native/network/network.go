package network

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/types"
	nativecommon "protocolreserve/native/common"
)

// DefaultMaxTokenConverters bounds the registry until governance changes it.
const DefaultMaxTokenConverters = 20

// Method identifiers checked against the access control manager.
const (
	MethodAddTokenConverter     = "addTokenConverter(address)"
	MethodRemoveTokenConverter  = "removeTokenConverter(address)"
	MethodSetMaxTokenConverters = "setMaxTokenConverters(uint256)"
)

// AdminMethods lists every permissioned method of the network.
var AdminMethods = []string{MethodAddTokenConverter, MethodRemoveTokenConverter, MethodSetMaxTokenConverters}

var errNilState = errors.New("converter network: state not configured")

// TokenConverter is the view of a converter the network needs to rank it and
// route private conversions to it.
type TokenConverter interface {
	Address() ethcommon.Address
	BaseAsset() ethcommon.Address
	ConversionConfig(tokenIn, tokenOut ethcommon.Address) (types.ConversionConfig, error)
	ConversionPaused() (bool, error)
	// BalanceOf returns the amount of token the converter can pay out.
	BalanceOf(token ethcommon.Address) (*big.Int, error)
	GetAmountIn(caller ethcommon.Address, amountOut *big.Int, tokenIn, tokenOut ethcommon.Address) (*big.Int, *big.Int, error)
	ConvertExactTokensSupportingFeeOnTransferTokens(caller ethcommon.Address, amountIn, amountOutMin *big.Int, tokenIn, tokenOut, to ethcommon.Address) (*big.Int, *big.Int, error)
}

// Storage is the subset of the state manager the network relies on.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Checker authorizes administrative calls.
type Checker interface {
	IsAllowedToCall(caller ethcommon.Address, method string) bool
}

// Network is the registry of converters that may trade with each other.
// Membership lives in state so it follows snapshot rollback; the converter
// objects themselves are kept in an in-memory directory.
type Network struct {
	address ethcommon.Address
	state   Storage
	access  Checker
	emitter events.Emitter

	mu    sync.RWMutex
	known map[ethcommon.Address]TokenConverter
}

// New returns a network deployed at address.
func New(address ethcommon.Address) *Network {
	return &Network{
		address: address,
		emitter: events.NoopEmitter{},
		known:   make(map[ethcommon.Address]TokenConverter),
	}
}

// Address returns the network's own address.
func (n *Network) Address() ethcommon.Address { return n.address }

// SetState wires the network to the persistence layer.
func (n *Network) SetState(state Storage) { n.state = state }

// SetAccess configures the permission checker for administrative calls.
func (n *Network) SetAccess(access Checker) { n.access = access }

// SetEmitter configures the event emitter. Passing nil disables events.
func (n *Network) SetEmitter(emitter events.Emitter) { n.emitter = events.OrNoop(emitter) }

func (n *Network) membersKey() []byte {
	return []byte(fmt.Sprintf("network/%s/members", n.address.Hex()))
}

func (n *Network) maxKey() []byte {
	return []byte(fmt.Sprintf("network/%s/max", n.address.Hex()))
}

func (n *Network) authorize(caller ethcommon.Address, method string) error {
	if n.access == nil || !n.access.IsAllowedToCall(caller, method) {
		return fmt.Errorf("%w: %s may not call %s", nativecommon.ErrUnauthorized, caller.Hex(), method)
	}
	return nil
}

// Converters lists the registered converters in insertion order.
func (n *Network) Converters() ([]ethcommon.Address, error) {
	if n.state == nil {
		return nil, errNilState
	}
	var members []ethcommon.Address
	if _, err := n.state.KVGet(n.membersKey(), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// MaxTokenConverters returns the registry capacity.
func (n *Network) MaxTokenConverters() (uint64, error) {
	if n.state == nil {
		return 0, errNilState
	}
	var limit uint64
	ok, err := n.state.KVGet(n.maxKey(), &limit)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultMaxTokenConverters, nil
	}
	return limit, nil
}

// IsTokenConverter reports whether address is a registered converter.
func (n *Network) IsTokenConverter(address ethcommon.Address) bool {
	members, err := n.Converters()
	if err != nil {
		return false
	}
	return indexOf(members, address) >= 0
}

// Converter resolves a registered converter by address.
func (n *Network) Converter(address ethcommon.Address) (TokenConverter, bool) {
	if !n.IsTokenConverter(address) {
		return nil, false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	conv, ok := n.known[address]
	return conv, ok
}

// AddTokenConverter registers conv.
func (n *Network) AddTokenConverter(caller ethcommon.Address, conv TokenConverter) error {
	if err := n.authorize(caller, MethodAddTokenConverter); err != nil {
		return err
	}
	if conv == nil || conv.Address() == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	members, err := n.Converters()
	if err != nil {
		return err
	}
	if indexOf(members, conv.Address()) >= 0 {
		return fmt.Errorf("%w: %s", nativecommon.ErrConverterAlreadyExists, conv.Address().Hex())
	}
	limit, err := n.MaxTokenConverters()
	if err != nil {
		return err
	}
	if uint64(len(members)) >= limit {
		return fmt.Errorf("%w: limit %d", nativecommon.ErrMaxConvertersReached, limit)
	}
	if err := n.state.KVPut(n.membersKey(), append(members, conv.Address())); err != nil {
		return err
	}
	n.mu.Lock()
	n.known[conv.Address()] = conv
	n.mu.Unlock()
	n.emitter.Emit(events.ConverterAdded{Network: n.address, Converter: conv.Address(), BaseAsset: conv.BaseAsset()})
	return nil
}

// Restore puts a member loaded from persisted state back into the in-memory
// directory. It fails for converters that are not members.
func (n *Network) Restore(conv TokenConverter) error {
	if conv == nil {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	if !n.IsTokenConverter(conv.Address()) {
		return fmt.Errorf("%w: %s", nativecommon.ErrConverterDoesNotExist, conv.Address().Hex())
	}
	n.mu.Lock()
	n.known[conv.Address()] = conv
	n.mu.Unlock()
	return nil
}

// RemoveTokenConverter unregisters the converter at address.
func (n *Network) RemoveTokenConverter(caller, address ethcommon.Address) error {
	if err := n.authorize(caller, MethodRemoveTokenConverter); err != nil {
		return err
	}
	if address == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	members, err := n.Converters()
	if err != nil {
		return err
	}
	idx := indexOf(members, address)
	if idx < 0 {
		return fmt.Errorf("%w: %s", nativecommon.ErrConverterDoesNotExist, address.Hex())
	}
	updated := make([]ethcommon.Address, 0, len(members)-1)
	updated = append(updated, members[:idx]...)
	updated = append(updated, members[idx+1:]...)
	if err := n.state.KVPut(n.membersKey(), updated); err != nil {
		return err
	}
	n.emitter.Emit(events.ConverterRemoved{Network: n.address, Converter: address})
	return nil
}

// SetMaxTokenConverters changes the registry capacity. It cannot drop below
// the current number of members.
func (n *Network) SetMaxTokenConverters(caller ethcommon.Address, limit uint64) error {
	if err := n.authorize(caller, MethodSetMaxTokenConverters); err != nil {
		return err
	}
	members, err := n.Converters()
	if err != nil {
		return err
	}
	if limit == 0 || limit < uint64(len(members)) {
		return fmt.Errorf("%w: limit %d with %d converters", nativecommon.ErrInvalidArguments, limit, len(members))
	}
	old, err := n.MaxTokenConverters()
	if err != nil {
		return err
	}
	if err := n.state.KVPut(n.maxKey(), limit); err != nil {
		return err
	}
	n.emitter.Emit(events.AmountUpdated(n.address, "MaxTokenConverter", new(big.Int).SetUint64(old), new(big.Int).SetUint64(limit)))
	return nil
}

// FindTokenConverters returns the converters a user could trade tokenIn for
// tokenOut with, ranked by how much tokenOut each can pay out.
func (n *Network) FindTokenConverters(caller, tokenIn, tokenOut ethcommon.Address) ([]ethcommon.Address, []*big.Int, error) {
	return n.find(caller, tokenIn, tokenOut, false)
}

// FindTokenConvertersForConverters returns the converters that accept a
// private conversion of tokenIn into tokenOut, ranked by how much tokenOut
// each can pay out. caller is never part of the result.
func (n *Network) FindTokenConvertersForConverters(caller, tokenIn, tokenOut ethcommon.Address) ([]ethcommon.Address, []*big.Int, error) {
	return n.find(caller, tokenIn, tokenOut, true)
}

func (n *Network) find(caller, tokenIn, tokenOut ethcommon.Address, private bool) ([]ethcommon.Address, []*big.Int, error) {
	members, err := n.Converters()
	if err != nil {
		return nil, nil, err
	}
	n.mu.RLock()
	known := make([]TokenConverter, 0, len(members))
	for _, member := range members {
		if conv, ok := n.known[member]; ok {
			known = append(known, conv)
		}
	}
	n.mu.RUnlock()

	var (
		addrs    []ethcommon.Address
		balances []*big.Int
	)
	for _, conv := range known {
		if conv.Address() == caller || conv.BaseAsset() != tokenIn {
			continue
		}
		paused, err := conv.ConversionPaused()
		if err != nil {
			return nil, nil, err
		}
		if paused {
			continue
		}
		cfg, err := conv.ConversionConfig(tokenIn, tokenOut)
		if err != nil {
			return nil, nil, err
		}
		if private && !cfg.Access.AllowsPrivate() {
			continue
		}
		if !private && !cfg.Access.AllowsUsers() {
			continue
		}
		balance, err := conv.BalanceOf(tokenOut)
		if err != nil {
			return nil, nil, err
		}
		addrs = append(addrs, conv.Address())
		balances = append(balances, balance)
	}
	if err := nativecommon.SortByWeightDesc(addrs, balances); err != nil {
		return nil, nil, err
	}
	return addrs, balances, nil
}

func indexOf(members []ethcommon.Address, address ethcommon.Address) int {
	for i, member := range members {
		if member == address {
			return i
		}
	}
	return -1
}
