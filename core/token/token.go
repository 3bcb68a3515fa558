package token

import (
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientFunds     = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be non-negative")
	ErrInvalidFee            = errors.New("token: fee must not exceed 10000 bps")
	ErrUnknownToken          = errors.New("token: unknown token")
)

const maxBps = 10_000

// Token is the fungible token contract consumed by the treasury. The amount
// actually credited to the recipient may be lower than requested; callers must
// measure balance deltas rather than trust the argument.
type Token interface {
	Address() ethcommon.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(account ethcommon.Address) (*big.Int, error)
	Transfer(from, to ethcommon.Address, amount *big.Int) error
	TransferFrom(spender, from, to ethcommon.Address, amount *big.Int) error
	Approve(owner, spender ethcommon.Address, amount *big.Int) error
	Allowance(owner, spender ethcommon.Address) (*big.Int, error)
}

// Storage is the subset of the state manager the token ledger relies on.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TransferHook runs after a transfer has been booked. It models token
// contracts that call back into the recipient or sender.
type TransferHook func(from, to ethcommon.Address, amount *big.Int) error

// Standard is a fungible token whose balances live in state. A non-zero fee
// is deducted from every transfer and burned, which makes it behave like a
// deflationary token.
type Standard struct {
	address  ethcommon.Address
	symbol   string
	decimals uint8
	feeBps   uint16
	store    Storage
	hook     TransferHook
}

// NewStandard builds a token ledger rooted at address.
func NewStandard(address ethcommon.Address, symbol string, decimals uint8, store Storage) *Standard {
	return &Standard{address: address, symbol: symbol, decimals: decimals, store: store}
}

// NewFeeOnTransfer builds a token that burns feeBps of every transfer.
func NewFeeOnTransfer(address ethcommon.Address, symbol string, decimals uint8, feeBps uint16, store Storage) (*Standard, error) {
	if feeBps > maxBps {
		return nil, ErrInvalidFee
	}
	t := NewStandard(address, symbol, decimals, store)
	t.feeBps = feeBps
	return t, nil
}

func (t *Standard) Address() ethcommon.Address { return t.address }
func (t *Standard) Symbol() string             { return t.symbol }
func (t *Standard) Decimals() uint8            { return t.decimals }
func (t *Standard) FeeBps() uint16             { return t.feeBps }

// SetTransferHook installs fn to run after every transfer. Passing nil removes it.
func (t *Standard) SetTransferHook(fn TransferHook) { t.hook = fn }

func (t *Standard) balanceKey(account ethcommon.Address) []byte {
	return []byte(fmt.Sprintf("token/%s/balance/%s", t.address.Hex(), account.Hex()))
}

func (t *Standard) allowanceKey(owner, spender ethcommon.Address) []byte {
	return []byte(fmt.Sprintf("token/%s/allowance/%s/%s", t.address.Hex(), owner.Hex(), spender.Hex()))
}

func (t *Standard) supplyKey() []byte {
	return []byte(fmt.Sprintf("token/%s/supply", t.address.Hex()))
}

func (t *Standard) getAmount(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := t.store.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// BalanceOf returns the balance held by account.
func (t *Standard) BalanceOf(account ethcommon.Address) (*big.Int, error) {
	return t.getAmount(t.balanceKey(account))
}

// TotalSupply returns the amount minted minus the amount burned.
func (t *Standard) TotalSupply() (*big.Int, error) {
	return t.getAmount(t.supplyKey())
}

// Allowance returns how much spender may pull from owner.
func (t *Standard) Allowance(owner, spender ethcommon.Address) (*big.Int, error) {
	return t.getAmount(t.allowanceKey(owner, spender))
}

// Approve sets the allowance of spender over owner's balance.
func (t *Standard) Approve(owner, spender ethcommon.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return t.store.KVPut(t.allowanceKey(owner, spender), new(big.Int).Set(amount))
}

// Mint credits amount to account and grows the supply.
func (t *Standard) Mint(to ethcommon.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return err
	}
	if err := t.store.KVPut(t.balanceKey(to), balance.Add(balance, amount)); err != nil {
		return err
	}
	return t.store.KVPut(t.supplyKey(), supply.Add(supply, amount))
}

// Transfer moves amount from from to to. The recipient receives amount minus
// the transfer fee.
func (t *Standard) Transfer(from, to ethcommon.Address, amount *big.Int) error {
	return t.move(from, to, amount)
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// allowance for the full nominal amount.
func (t *Standard) TransferFrom(spender, from, to ethcommon.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender != from {
		allowance, err := t.Allowance(from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allowed, %s requested", ErrInsufficientAllowance, allowance, amount)
		}
		if err := t.store.KVPut(t.allowanceKey(from, spender), allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return t.move(from, to, amount)
}

// Fee returns the amount burned when transferring amount.
func (t *Standard) Fee(amount *big.Int) *big.Int {
	if t.feeBps == 0 || amount == nil {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(t.feeBps)))
	return fee.Quo(fee, big.NewInt(maxBps))
}

func (t *Standard) move(from, to ethcommon.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := t.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, from.Hex(), fromBalance, t.symbol, amount)
	}
	fee := t.Fee(amount)
	received := new(big.Int).Sub(amount, fee)
	if err := t.store.KVPut(t.balanceKey(from), fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := t.store.KVPut(t.balanceKey(to), toBalance.Add(toBalance, received)); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		supply, err := t.TotalSupply()
		if err != nil {
			return err
		}
		if err := t.store.KVPut(t.supplyKey(), supply.Sub(supply, fee)); err != nil {
			return err
		}
	}
	if t.hook != nil {
		return t.hook(from, to, received)
	}
	return nil
}
