package token

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"protocolreserve/core/state"
	"protocolreserve/storage"
)

var (
	alice = ethcommon.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = ethcommon.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = ethcommon.HexToAddress("0x0000000000000000000000000000000000000ca1")
)

func ether(v string) *big.Int {
	out, ok := new(big.Rat).SetString(v)
	if !ok {
		panic("bad amount " + v)
	}
	out.Mul(out, new(big.Rat).SetInt(big.NewInt(1e18)))
	if !out.IsInt() {
		panic("fractional wei " + v)
	}
	return new(big.Int).Set(out.Num())
}

func newState() *state.Manager {
	return state.NewManager(storage.NewMemDB())
}

func TestStandardTransfer(t *testing.T) {
	tok := NewStandard(ethcommon.HexToAddress("0x01"), "USDT", 18, newState())
	require.NoError(t, tok.Mint(alice, ether("10")))

	require.NoError(t, tok.Transfer(alice, bob, ether("4")))
	balance, err := tok.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, ether("4"), balance)

	err = tok.Transfer(bob, alice, ether("5"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	supply, err := tok.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, ether("10"), supply)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	tok := NewStandard(ethcommon.HexToAddress("0x01"), "USDC", 6, newState())
	require.NoError(t, tok.Mint(alice, big.NewInt(1_000)))

	err := tok.TransferFrom(bob, alice, carol, big.NewInt(10))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(alice, bob, big.NewInt(100)))
	require.NoError(t, tok.TransferFrom(bob, alice, carol, big.NewInt(60)))
	allowance, err := tok.Allowance(alice, bob)
	require.NoError(t, err)
	require.Equal(t, int64(40), allowance.Int64())

	// owners move their own funds without allowance
	require.NoError(t, tok.TransferFrom(alice, alice, carol, big.NewInt(5)))
	balance, err := tok.BalanceOf(carol)
	require.NoError(t, err)
	require.Equal(t, int64(65), balance.Int64())
}

func TestFeeOnTransferBurnsFee(t *testing.T) {
	tok, err := NewFeeOnTransfer(ethcommon.HexToAddress("0x02"), "FOT", 18, 100, newState())
	require.NoError(t, err)
	require.NoError(t, tok.Mint(alice, ether("1")))

	require.NoError(t, tok.Transfer(alice, bob, ether("0.25")))
	received, err := tok.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, ether("0.2475"), received)

	remaining, err := tok.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, ether("0.75"), remaining)

	supply, err := tok.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, ether("0.9975"), supply)

	_, err = NewFeeOnTransfer(ethcommon.HexToAddress("0x03"), "BAD", 18, 10_001, newState())
	require.ErrorIs(t, err, ErrInvalidFee)
}

func TestTransferHookSeesBookedBalances(t *testing.T) {
	tok := NewStandard(ethcommon.HexToAddress("0x04"), "HOOK", 18, newState())
	require.NoError(t, tok.Mint(alice, big.NewInt(10)))

	var observed *big.Int
	tok.SetTransferHook(func(from, to ethcommon.Address, amount *big.Int) error {
		balance, err := tok.BalanceOf(to)
		observed = balance
		return err
	})
	require.NoError(t, tok.Transfer(alice, bob, big.NewInt(3)))
	require.Equal(t, int64(3), observed.Int64())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	tok := NewStandard(ethcommon.HexToAddress("0x05"), "DAI", 18, newState())
	reg.Register(tok)

	got, err := reg.Get(tok.Address())
	require.NoError(t, err)
	require.Equal(t, "DAI", got.Symbol())

	_, err = reg.Get(ethcommon.HexToAddress("0x06"))
	require.ErrorIs(t, err, ErrUnknownToken)
	require.Len(t, reg.Addresses(), 1)
}
