package riskfund

import (
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/token"
	"protocolreserve/core/types"
	nativecommon "protocolreserve/native/common"
	"protocolreserve/native/reserve"
)

const moduleName = "riskfund"

// Method identifiers checked against the access control manager.
const (
	MethodSetConverter = "setRiskFundConverter(address)"
	MethodSetShortfall = "setShortfallContractAddress(address)"
	MethodSweepToken   = "sweepToken(address,address,uint256)"
)

// AdminMethods lists every permissioned method of the risk fund.
var AdminMethods = []string{MethodSetConverter, MethodSetShortfall, MethodSweepToken}

var (
	errNilState  = errors.New("riskfund: state not configured")
	errNilTokens = errors.New("riskfund: token registry not configured")
)

// Storage is the subset of the state manager used by the risk fund.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Tokens resolves token contracts by address.
type Tokens interface {
	Get(address ethcommon.Address) (token.Token, error)
}

// Checker authorizes administrative calls.
type Checker interface {
	IsAllowedToCall(caller ethcommon.Address, method string) bool
}

// Options holds what the risk fund needs at construction.
type Options struct {
	Address ethcommon.Address
	State   Storage
	Tokens  Tokens
	Pools   reserve.PoolRegistry
	Access  Checker
}

// RiskFund holds the base asset converted from pool reserves and keeps it
// attributed per pool. Only the configured converter credits it and only the
// shortfall handler draws from it.
type RiskFund struct {
	address ethcommon.Address
	state   Storage
	tokens  Tokens
	access  Checker
	ledger  *reserve.Ledger
	emitter events.Emitter
	pauses  nativecommon.PauseView
	guard   nativecommon.ReentrancyGuard
}

// New builds a risk fund.
func New(opts Options) (*RiskFund, error) {
	if opts.Address == (ethcommon.Address{}) {
		return nil, nativecommon.ErrZeroAddressNotAllowed
	}
	if opts.State == nil {
		return nil, errNilState
	}
	if opts.Tokens == nil {
		return nil, errNilTokens
	}
	return &RiskFund{
		address: opts.Address,
		state:   opts.State,
		tokens:  opts.Tokens,
		access:  opts.Access,
		ledger:  reserve.NewLedger("riskfund/"+opts.Address.Hex(), opts.State, opts.Pools),
		emitter: events.NoopEmitter{},
	}, nil
}

// Address returns the risk fund's address.
func (r *RiskFund) Address() ethcommon.Address { return r.address }

// SetEmitter configures the event emitter. Passing nil disables events.
func (r *RiskFund) SetEmitter(emitter events.Emitter) { r.emitter = events.OrNoop(emitter) }

// SetPauses wires the governance emergency switches.
func (r *RiskFund) SetPauses(p nativecommon.PauseView) { r.pauses = p }

func (r *RiskFund) key(name string) []byte {
	return []byte("riskfund/" + r.address.Hex() + "/" + name)
}

type storedAddress struct {
	Address ethcommon.Address
}

func (r *RiskFund) getAddress(name string) (types.OptionalAddress, error) {
	var stored storedAddress
	ok, err := r.state.KVGet(r.key(name), &stored)
	if err != nil || !ok {
		return types.NoAddress(), err
	}
	return types.SomeAddress(stored.Address), nil
}

func (r *RiskFund) setAddress(caller ethcommon.Address, method, name, field string, addr ethcommon.Address) error {
	if err := r.authorize(caller, method); err != nil {
		return err
	}
	if addr == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	old, err := r.getAddress(name)
	if err != nil {
		return err
	}
	if err := r.state.KVPut(r.key(name), storedAddress{Address: addr}); err != nil {
		return err
	}
	oldAddr, _ := old.Get()
	r.emitter.Emit(events.AddressUpdated(r.address, field, oldAddr, addr))
	return nil
}

func (r *RiskFund) authorize(caller ethcommon.Address, method string) error {
	if r.access == nil || !r.access.IsAllowedToCall(caller, method) {
		return fmt.Errorf("%w: %s may not call %s", nativecommon.ErrUnauthorized, caller.Hex(), method)
	}
	return nil
}

// Converter returns the converter allowed to credit pools.
func (r *RiskFund) Converter() (types.OptionalAddress, error) { return r.getAddress("converter") }

// Shortfall returns the contract allowed to draw reserves for auctions.
func (r *RiskFund) Shortfall() (types.OptionalAddress, error) { return r.getAddress("shortfall") }

// SetConverter changes the converter allowed to credit pools.
func (r *RiskFund) SetConverter(caller, converter ethcommon.Address) error {
	return r.setAddress(caller, MethodSetConverter, "converter", "RiskFundConverter", converter)
}

// SetShortfall changes the contract allowed to draw reserves.
func (r *RiskFund) SetShortfall(caller, shortfall ethcommon.Address) error {
	return r.setAddress(caller, MethodSetShortfall, "shortfall", "ShortfallContract", shortfall)
}

// PoolReserve returns the amount of asset held for pool.
func (r *RiskFund) PoolReserve(pool, asset ethcommon.Address) (*big.Int, error) {
	return r.ledger.PoolAssetReserve(pool, asset)
}

// AssetReserve returns the amount of asset the risk fund accounts for.
func (r *RiskFund) AssetReserve(asset ethcommon.Address) (*big.Int, error) {
	return r.ledger.AssetReserve(asset)
}

// UpdatePoolState credits amount of asset, already transferred to the risk
// fund, to pool. Only the configured converter may call it.
func (r *RiskFund) UpdatePoolState(caller, pool, asset ethcommon.Address, amount *big.Int) error {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	conv, err := r.Converter()
	if err != nil {
		return err
	}
	if !conv.Is(caller) {
		return fmt.Errorf("%w: %s is not the risk fund converter", nativecommon.ErrUnauthorized, caller.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return nativecommon.ErrInvalidArguments
	}
	if _, err := r.ledger.PoolAssetReserve(pool, asset); err != nil {
		return err
	}
	if err := r.ledger.Credit(pool, asset, amount); err != nil {
		return err
	}
	r.emitter.Emit(events.PoolStateUpdated{RiskFund: r.address, Pool: pool, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferReserveForAuction sends amount of asset held for pool to the
// shortfall contract. Only the shortfall contract may call it.
func (r *RiskFund) TransferReserveForAuction(caller, pool, asset ethcommon.Address, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := r.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	shortfall, err := r.Shortfall()
	if err != nil {
		return nil, err
	}
	if !shortfall.Is(caller) {
		return nil, fmt.Errorf("%w: %s is not the shortfall contract", nativecommon.ErrUnauthorized, caller.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nativecommon.ErrInvalidArguments
	}
	held, err := r.ledger.PoolAssetReserve(pool, asset)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(held) > 0 {
		return nil, fmt.Errorf("%w: %s requested, %s held for pool %s", nativecommon.ErrInsufficientPoolReserve, amount, held, pool.Hex())
	}
	if err := r.ledger.Withdraw(pool, asset, amount); err != nil {
		return nil, err
	}
	tok, err := r.tokens.Get(asset)
	if err != nil {
		return nil, err
	}
	if err := tok.Transfer(r.address, caller, amount); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.ReserveTransferredForAuction{
		RiskFund:  r.address,
		Pool:      pool,
		Asset:     asset,
		Shortfall: caller,
		Amount:    new(big.Int).Set(amount),
	})
	return new(big.Int).Set(amount), nil
}

// SweepToken sends amount of tok the risk fund does not account for to to.
func (r *RiskFund) SweepToken(caller, tok, to ethcommon.Address, amount *big.Int) error {
	if err := r.authorize(caller, MethodSweepToken); err != nil {
		return err
	}
	if to == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	if amount == nil || amount.Sign() <= 0 {
		return nativecommon.ErrInvalidArguments
	}
	t, err := r.tokens.Get(tok)
	if err != nil {
		return err
	}
	raw, err := t.BalanceOf(r.address)
	if err != nil {
		return err
	}
	tracked, err := r.ledger.AssetReserve(tok)
	if err != nil {
		return err
	}
	untracked := raw.Sub(raw, tracked)
	if amount.Cmp(untracked) > 0 {
		return fmt.Errorf("%w: %s untracked, %s requested", nativecommon.ErrInsufficientBalance, untracked, amount)
	}
	if err := t.Transfer(r.address, to, amount); err != nil {
		return err
	}
	r.emitter.Emit(events.TokenSwept{Contract: r.address, Token: tok, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}
