package vaulttreasury

import (
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/token"
	"protocolreserve/core/types"
	nativecommon "protocolreserve/native/common"
)

const moduleName = "vaulttreasury"

// Method identifiers checked against the access control manager.
const (
	MethodFundVault  = "fundXVSVault(uint256)"
	MethodSetVault   = "setXVSVault(address)"
	MethodSweepToken = "sweepToken(address,address,uint256)"
)

// AdminMethods lists every permissioned method of the treasury.
var AdminMethods = []string{MethodFundVault, MethodSetVault, MethodSweepToken}

var (
	errNilState   = errors.New("vaulttreasury: state not configured")
	errNilTokens  = errors.New("vaulttreasury: token registry not configured")
	errNoVault    = errors.New("vaulttreasury: vault not configured")
	errZeroAmount = errors.New("vaulttreasury: amount must be positive")
)

// Storage is the subset of the state manager used by the treasury.
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

// Treasury accumulates the vault token delivered by the vault converter and
// funds the staking vault on governance request.
type Treasury struct {
	address    ethcommon.Address
	vaultToken ethcommon.Address
	state      Storage
	tokens     Tokens
	access     Checker
	emitter    events.Emitter
	pauses     nativecommon.PauseView
}

// New builds a treasury holding vaultToken.
func New(address, vaultToken ethcommon.Address, state Storage, tokens Tokens, access Checker) (*Treasury, error) {
	if address == (ethcommon.Address{}) || vaultToken == (ethcommon.Address{}) {
		return nil, nativecommon.ErrZeroAddressNotAllowed
	}
	if state == nil {
		return nil, errNilState
	}
	if tokens == nil {
		return nil, errNilTokens
	}
	return &Treasury{
		address:    address,
		vaultToken: vaultToken,
		state:      state,
		tokens:     tokens,
		access:     access,
		emitter:    events.NoopEmitter{},
	}, nil
}

// Address returns the treasury's address.
func (t *Treasury) Address() ethcommon.Address { return t.address }

// VaultToken returns the token the treasury funds the vault with.
func (t *Treasury) VaultToken() ethcommon.Address { return t.vaultToken }

// SetEmitter configures the event emitter. Passing nil disables events.
func (t *Treasury) SetEmitter(emitter events.Emitter) { t.emitter = events.OrNoop(emitter) }

// SetPauses wires the governance emergency switches.
func (t *Treasury) SetPauses(p nativecommon.PauseView) { t.pauses = p }

func (t *Treasury) vaultKey() []byte {
	return []byte("vaulttreasury/" + t.address.Hex() + "/vault")
}

func (t *Treasury) authorize(caller ethcommon.Address, method string) error {
	if t.access == nil || !t.access.IsAllowedToCall(caller, method) {
		return fmt.Errorf("%w: %s may not call %s", nativecommon.ErrUnauthorized, caller.Hex(), method)
	}
	return nil
}

// Vault returns the staking vault the treasury funds.
func (t *Treasury) Vault() (types.OptionalAddress, error) {
	var vault ethcommon.Address
	ok, err := t.state.KVGet(t.vaultKey(), &vault)
	if err != nil || !ok {
		return types.NoAddress(), err
	}
	return types.SomeAddress(vault), nil
}

// SetVault changes the staking vault.
func (t *Treasury) SetVault(caller, vault ethcommon.Address) error {
	if err := t.authorize(caller, MethodSetVault); err != nil {
		return err
	}
	if vault == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	old, err := t.Vault()
	if err != nil {
		return err
	}
	if err := t.state.KVPut(t.vaultKey(), vault); err != nil {
		return err
	}
	oldAddr, _ := old.Get()
	t.emitter.Emit(events.AddressUpdated(t.address, "XVSVault", oldAddr, vault))
	return nil
}

// FundVault transfers amount of the vault token to the vault.
func (t *Treasury) FundVault(caller ethcommon.Address, amount *big.Int) error {
	if err := nativecommon.Guard(t.pauses, moduleName); err != nil {
		return err
	}
	if err := t.authorize(caller, MethodFundVault); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	opt, err := t.Vault()
	if err != nil {
		return err
	}
	vault, ok := opt.Get()
	if !ok {
		return errNoVault
	}
	tok, err := t.tokens.Get(t.vaultToken)
	if err != nil {
		return err
	}
	balance, err := tok.BalanceOf(t.address)
	if err != nil {
		return err
	}
	if amount.Cmp(balance) > 0 {
		return fmt.Errorf("%w: %s requested, %s held", nativecommon.ErrInsufficientBalance, amount, balance)
	}
	if err := tok.Transfer(t.address, vault, amount); err != nil {
		return err
	}
	t.emitter.Emit(events.VaultFunded{Treasury: t.address, Vault: vault, Amount: new(big.Int).Set(amount)})
	return nil
}

// SweepToken sends amount of tok to to.
func (t *Treasury) SweepToken(caller, tok, to ethcommon.Address, amount *big.Int) error {
	if err := t.authorize(caller, MethodSweepToken); err != nil {
		return err
	}
	if to == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}
	swept, err := t.tokens.Get(tok)
	if err != nil {
		return err
	}
	balance, err := swept.BalanceOf(t.address)
	if err != nil {
		return err
	}
	if amount.Cmp(balance) > 0 {
		return fmt.Errorf("%w: %s requested, %s held", nativecommon.ErrInsufficientBalance, amount, balance)
	}
	if err := swept.Transfer(t.address, to, amount); err != nil {
		return err
	}
	t.emitter.Emit(events.TokenSwept{Contract: t.address, Token: tok, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}
