package riskfund

import (
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"protocolreserve/core/access"
	"protocolreserve/core/events"
	"protocolreserve/core/oracle"
	"protocolreserve/core/poolregistry"
	"protocolreserve/core/state"
	"protocolreserve/core/token"
	"protocolreserve/core/types"
	nativecommon "protocolreserve/native/common"
	"protocolreserve/native/converter"
	"protocolreserve/storage"
)

var (
	gov       = ethcommon.HexToAddress("0x0000000000000000000000000000000000000090")
	user      = ethcommon.HexToAddress("0x0000000000000000000000000000000000000a11")
	poolA     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	poolB     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b1")
	usdtAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000001001")
	btcAddr   = ethcommon.HexToAddress("0x0000000000000000000000000000000000001002")
	fundAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000002001")
	convAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000002002")
	shortfall = ethcommon.HexToAddress("0x0000000000000000000000000000000000002003")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type fixture struct {
	state  *state.Manager
	tokens *token.Registry
	usdt   *token.Standard
	btc    *token.Standard
	pools  *poolregistry.Registry
	acl    *access.Manager
	events *events.Buffer
	fund   *RiskFund
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	f := &fixture{
		state:  st,
		tokens: token.NewRegistry(),
		pools:  poolregistry.New(),
		acl:    access.NewManager(st),
		events: &events.Buffer{},
	}
	f.usdt = token.NewStandard(usdtAddr, "USDT", 18, st)
	f.btc = token.NewStandard(btcAddr, "BTC", 18, st)
	f.tokens.Register(f.usdt)
	f.tokens.Register(f.btc)

	vToken := int64(0x4000)
	for _, pool := range []ethcommon.Address{poolA, poolB} {
		require.NoError(t, f.pools.AddPool(pool, pool.Hex()))
		for _, asset := range []ethcommon.Address{usdtAddr, btcAddr} {
			vToken++
			require.NoError(t, f.pools.AddMarket(pool, asset, ethcommon.BigToAddress(big.NewInt(vToken))))
		}
	}
	for _, method := range AdminMethods {
		require.NoError(t, f.acl.GiveCallPermission(fundAddr, method, gov))
	}

	fund, err := New(Options{
		Address: fundAddr,
		State:   st,
		Tokens:  f.tokens,
		Pools:   f.pools,
		Access:  f.acl.Bind(fundAddr),
	})
	require.NoError(t, err)
	fund.SetEmitter(f.events)
	require.NoError(t, fund.SetConverter(gov, convAddr))
	require.NoError(t, fund.SetShortfall(gov, shortfall))
	f.fund = fund
	return f
}

// credit delivers amount of usdt to the fund the way the converter does.
func (f *fixture) credit(t *testing.T, pool ethcommon.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, f.usdt.Mint(fundAddr, amount))
	require.NoError(t, f.fund.UpdatePoolState(convAddr, pool, usdtAddr, amount))
}

func TestUpdatePoolStateOnlyFromConverter(t *testing.T) {
	f := newFixture(t)
	err := f.fund.UpdatePoolState(user, poolA, usdtAddr, ether(1))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	stranger := ethcommon.HexToAddress("0x00000000000000000000000000000000000000ff")
	err = f.fund.UpdatePoolState(convAddr, stranger, usdtAddr, ether(1))
	require.ErrorIs(t, err, nativecommon.ErrMarketNotExistInPool)

	f.credit(t, poolA, ether(30))
	f.credit(t, poolB, ether(70))
	f.credit(t, poolA, ether(5))

	a, err := f.fund.PoolReserve(poolA, usdtAddr)
	require.NoError(t, err)
	require.Equal(t, ether(35).String(), a.String())
	total, err := f.fund.AssetReserve(usdtAddr)
	require.NoError(t, err)
	require.Equal(t, ether(105).String(), total.String())

	var updates int
	for _, ev := range f.events.Events() {
		if _, ok := ev.(events.PoolStateUpdated); ok {
			updates++
		}
	}
	require.Equal(t, 3, updates)
}

func TestUpdatePoolStateTracksAnyAsset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.btc.Mint(fundAddr, ether(2)))
	require.NoError(t, f.fund.UpdatePoolState(convAddr, poolB, btcAddr, ether(2)))
	held, err := f.fund.PoolReserve(poolB, btcAddr)
	require.NoError(t, err)
	require.Equal(t, ether(2).String(), held.String())
}

func TestTransferReserveForAuction(t *testing.T) {
	f := newFixture(t)
	f.credit(t, poolA, ether(40))
	f.credit(t, poolB, ether(60))

	_, err := f.fund.TransferReserveForAuction(user, poolA, usdtAddr, ether(1))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	_, err = f.fund.TransferReserveForAuction(shortfall, poolA, usdtAddr, ether(41))
	require.ErrorIs(t, err, nativecommon.ErrInsufficientPoolReserve)

	sent, err := f.fund.TransferReserveForAuction(shortfall, poolA, usdtAddr, ether(25))
	require.NoError(t, err)
	require.Equal(t, ether(25).String(), sent.String())

	balance, err := f.usdt.BalanceOf(shortfall)
	require.NoError(t, err)
	require.Equal(t, ether(25).String(), balance.String())
	a, err := f.fund.PoolReserve(poolA, usdtAddr)
	require.NoError(t, err)
	require.Equal(t, ether(15).String(), a.String())
	b, err := f.fund.PoolReserve(poolB, usdtAddr)
	require.NoError(t, err)
	require.Equal(t, ether(60).String(), b.String())
}

func TestPausedRiskFundRejectsCalls(t *testing.T) {
	f := newFixture(t)
	f.fund.SetPauses(pauseAll{})
	err := f.fund.UpdatePoolState(convAddr, poolA, usdtAddr, ether(1))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	_, err = f.fund.TransferReserveForAuction(shortfall, poolA, usdtAddr, ether(1))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestSettersRequirePermission(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.fund.SetConverter(user, convAddr), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, f.fund.SetShortfall(gov, ethcommon.Address{}), nativecommon.ErrZeroAddressNotAllowed)

	next := ethcommon.HexToAddress("0x0000000000000000000000000000000000002222")
	require.NoError(t, f.fund.SetConverter(gov, next))
	conv, err := f.fund.Converter()
	require.NoError(t, err)
	require.True(t, conv.Is(next))

	var last events.FieldUpdated
	for _, ev := range f.events.Events() {
		if e, ok := ev.(events.FieldUpdated); ok {
			last = e
		}
	}
	require.Equal(t, "RiskFundConverterUpdated", last.EventType())
	require.Equal(t, convAddr.Hex(), last.Old)
	require.Equal(t, next.Hex(), last.New)
}

func TestSweepTokenOnlyUntracked(t *testing.T) {
	f := newFixture(t)
	f.credit(t, poolA, ether(10))
	require.NoError(t, f.usdt.Mint(fundAddr, ether(3)))

	require.ErrorIs(t, f.fund.SweepToken(gov, usdtAddr, user, ether(4)), nativecommon.ErrInsufficientBalance)
	require.NoError(t, f.fund.SweepToken(gov, usdtAddr, user, ether(3)))
	balance, err := f.usdt.BalanceOf(user)
	require.NoError(t, err)
	require.Equal(t, ether(3).String(), balance.String())
}

func TestConverterAttributesToRiskFund(t *testing.T) {
	f := newFixture(t)
	feed := oracle.NewFeed("test")
	require.NoError(t, feed.SetPrice(usdtAddr, ether(1), time.Time{}))
	require.NoError(t, feed.SetPrice(btcAddr, ether(100), time.Time{}))

	for _, method := range converter.AdminMethods {
		require.NoError(t, f.acl.GiveCallPermission(convAddr, method, gov))
	}
	conv, err := converter.NewRiskFundConverter(converter.Options{
		Address:   convAddr,
		BaseAsset: usdtAddr,
		State:     f.state,
		Tokens:    f.tokens,
		Oracle:    feed,
		Access:    f.acl.Bind(convAddr),
	}, f.pools)
	require.NoError(t, err)
	conv.SetRiskFund(f.fund)
	require.NoError(t, conv.Initialize(fundAddr, ether(1)))
	require.NoError(t, conv.SetConversionConfig(gov, usdtAddr, btcAddr, types.ConversionConfig{Incentive: big.NewInt(0), Access: types.AccessAll}))

	// pools A and B hold one and three BTC
	require.NoError(t, f.btc.Mint(convAddr, ether(4)))
	require.NoError(t, conv.Ledger().Credit(poolA, btcAddr, ether(1)))
	require.NoError(t, conv.Ledger().Credit(poolB, btcAddr, ether(3)))

	require.NoError(t, f.usdt.Mint(user, ether(200)))
	require.NoError(t, f.usdt.Approve(user, convAddr, ether(200)))
	_, _, err = conv.ConvertExactTokens(user, ether(200), ether(2), usdtAddr, btcAddr, user)
	require.NoError(t, err)

	a, err := f.fund.PoolReserve(poolA, usdtAddr)
	require.NoError(t, err)
	require.Equal(t, ether(50).String(), a.String())
	b, err := f.fund.PoolReserve(poolB, usdtAddr)
	require.NoError(t, err)
	require.Equal(t, ether(150).String(), b.String())
}
