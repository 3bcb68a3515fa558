package network

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"protocolreserve/core/access"
	"protocolreserve/core/events"
	"protocolreserve/core/state"
	"protocolreserve/core/types"
	nativecommon "protocolreserve/native/common"
	"protocolreserve/storage"
)

var (
	usdt = ethcommon.HexToAddress("0x0000000000000000000000000000000000000001")
	btc  = ethcommon.HexToAddress("0x0000000000000000000000000000000000000002")
	gov  = ethcommon.HexToAddress("0x0000000000000000000000000000000000000090")
)

type mockConverter struct {
	address  ethcommon.Address
	base     ethcommon.Address
	configs  map[[2]ethcommon.Address]types.ConversionConfig
	paused   bool
	balances map[ethcommon.Address]*big.Int
}

func newMockConverter(n int64, base ethcommon.Address) *mockConverter {
	return &mockConverter{
		address:  ethcommon.BigToAddress(big.NewInt(0x1000 + n)),
		base:     base,
		configs:  make(map[[2]ethcommon.Address]types.ConversionConfig),
		balances: make(map[ethcommon.Address]*big.Int),
	}
}

func (m *mockConverter) enable(tokenIn, tokenOut ethcommon.Address, level types.AccessLevel) *mockConverter {
	m.configs[[2]ethcommon.Address{tokenIn, tokenOut}] = types.ConversionConfig{Incentive: big.NewInt(0), Access: level}
	return m
}

func (m *mockConverter) fund(token ethcommon.Address, amount int64) *mockConverter {
	m.balances[token] = big.NewInt(amount)
	return m
}

func (m *mockConverter) Address() ethcommon.Address   { return m.address }
func (m *mockConverter) BaseAsset() ethcommon.Address { return m.base }
func (m *mockConverter) ConversionPaused() (bool, error) {
	return m.paused, nil
}

func (m *mockConverter) ConversionConfig(tokenIn, tokenOut ethcommon.Address) (types.ConversionConfig, error) {
	return m.configs[[2]ethcommon.Address{tokenIn, tokenOut}], nil
}

func (m *mockConverter) BalanceOf(token ethcommon.Address) (*big.Int, error) {
	if b, ok := m.balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (m *mockConverter) GetAmountIn(ethcommon.Address, *big.Int, ethcommon.Address, ethcommon.Address) (*big.Int, *big.Int, error) {
	return nil, nil, nil
}

func (m *mockConverter) ConvertExactTokensSupportingFeeOnTransferTokens(ethcommon.Address, *big.Int, *big.Int, ethcommon.Address, ethcommon.Address, ethcommon.Address) (*big.Int, *big.Int, error) {
	return nil, nil, nil
}

func newNetwork(t *testing.T) (*Network, *events.Buffer) {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	n := New(ethcommon.HexToAddress("0x0000000000000000000000000000000000000e70"))
	n.SetState(st)
	acl := access.NewManager(st)
	for _, method := range AdminMethods {
		require.NoError(t, acl.GiveCallPermission(n.Address(), method, gov))
	}
	n.SetAccess(acl.Bind(n.Address()))
	buf := &events.Buffer{}
	n.SetEmitter(buf)
	return n, buf
}

func TestAddRemoveTokenConverter(t *testing.T) {
	n, buf := newNetwork(t)
	conv := newMockConverter(1, usdt)

	require.ErrorIs(t, n.AddTokenConverter(usdt, conv), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, n.AddTokenConverter(gov, newMockConverter(-0x1000, usdt)), nativecommon.ErrZeroAddressNotAllowed)

	require.NoError(t, n.AddTokenConverter(gov, conv))
	require.True(t, n.IsTokenConverter(conv.Address()))
	require.ErrorIs(t, n.AddTokenConverter(gov, conv), nativecommon.ErrConverterAlreadyExists)

	resolved, ok := n.Converter(conv.Address())
	require.True(t, ok)
	require.Equal(t, conv.Address(), resolved.Address())

	require.NoError(t, n.RemoveTokenConverter(gov, conv.Address()))
	require.False(t, n.IsTokenConverter(conv.Address()))
	require.ErrorIs(t, n.RemoveTokenConverter(gov, conv.Address()), nativecommon.ErrConverterDoesNotExist)
	require.ErrorIs(t, n.RemoveTokenConverter(gov, ethcommon.Address{}), nativecommon.ErrZeroAddressNotAllowed)

	emitted := buf.Events()
	require.Len(t, emitted, 2)
	require.Equal(t, events.TypeConverterAdded, emitted[0].EventType())
	require.Equal(t, events.TypeConverterRemoved, emitted[1].EventType())
}

func TestMaxTokenConverters(t *testing.T) {
	n, _ := newNetwork(t)
	require.NoError(t, n.SetMaxTokenConverters(gov, 2))
	require.NoError(t, n.AddTokenConverter(gov, newMockConverter(1, usdt)))
	require.NoError(t, n.AddTokenConverter(gov, newMockConverter(2, usdt)))
	require.ErrorIs(t, n.AddTokenConverter(gov, newMockConverter(3, usdt)), nativecommon.ErrMaxConvertersReached)
	require.ErrorIs(t, n.SetMaxTokenConverters(gov, 1), nativecommon.ErrInvalidArguments)

	limit, err := n.MaxTokenConverters()
	require.NoError(t, err)
	require.Equal(t, uint64(2), limit)
}

func TestFindTokenConvertersRanksByLiveBalance(t *testing.T) {
	n, _ := newNetwork(t)
	caller := newMockConverter(0, btc).enable(btc, usdt, types.AccessAll).fund(usdt, 1_000)
	c1 := newMockConverter(1, usdt).enable(usdt, btc, types.AccessAll).fund(btc, 150)
	c2 := newMockConverter(2, usdt).enable(usdt, btc, types.AccessAll).fund(btc, 100)
	c3 := newMockConverter(3, usdt).enable(usdt, btc, types.AccessAll).fund(btc, 50)
	c4 := newMockConverter(4, usdt).enable(usdt, btc, types.AccessAll)
	for _, conv := range []*mockConverter{caller, c1, c2, c3, c4} {
		require.NoError(t, n.AddTokenConverter(gov, conv))
	}

	addrs, balances, err := n.FindTokenConvertersForConverters(caller.Address(), usdt, btc)
	require.NoError(t, err)
	require.Equal(t, []ethcommon.Address{c1.address, c2.address, c3.address, c4.address}, addrs)
	require.Equal(t, int64(0), balances[3].Int64())

	// balances are read live on every query
	c4.fund(btc, 360)
	addrs, balances, err = n.FindTokenConvertersForConverters(caller.Address(), usdt, btc)
	require.NoError(t, err)
	require.Equal(t, []ethcommon.Address{c4.address, c1.address, c2.address, c3.address}, addrs)
	got := make([]int64, len(balances))
	for i, b := range balances {
		got[i] = b.Int64()
	}
	require.Equal(t, []int64{360, 150, 100, 50}, got)
}

func TestFindTokenConvertersExcludesCaller(t *testing.T) {
	n, _ := newNetwork(t)
	self := newMockConverter(1, usdt).enable(usdt, btc, types.AccessAll).fund(btc, 500)
	other := newMockConverter(2, usdt).enable(usdt, btc, types.AccessAll).fund(btc, 10)
	require.NoError(t, n.AddTokenConverter(gov, self))
	require.NoError(t, n.AddTokenConverter(gov, other))

	addrs, _, err := n.FindTokenConvertersForConverters(self.Address(), usdt, btc)
	require.NoError(t, err)
	require.Equal(t, []ethcommon.Address{other.address}, addrs)

	addrs, _, err = n.FindTokenConverters(self.Address(), usdt, btc)
	require.NoError(t, err)
	require.NotContains(t, addrs, self.address)
}

func TestFindTokenConvertersFilters(t *testing.T) {
	n, _ := newNetwork(t)
	paused := newMockConverter(1, usdt).enable(usdt, btc, types.AccessAll).fund(btc, 10)
	paused.paused = true
	wrongBase := newMockConverter(2, btc).enable(usdt, btc, types.AccessAll).fund(btc, 10)
	disabled := newMockConverter(3, usdt).enable(usdt, btc, types.AccessNone).fund(btc, 10)
	privateOnly := newMockConverter(4, usdt).enable(usdt, btc, types.AccessOnlyForConverters).fund(btc, 10)
	usersOnly := newMockConverter(5, usdt).enable(usdt, btc, types.AccessOnlyForUsers).fund(btc, 10)
	for _, conv := range []*mockConverter{paused, wrongBase, disabled, privateOnly, usersOnly} {
		require.NoError(t, n.AddTokenConverter(gov, conv))
	}

	private, _, err := n.FindTokenConvertersForConverters(gov, usdt, btc)
	require.NoError(t, err)
	require.Equal(t, []ethcommon.Address{privateOnly.address}, private)

	public, _, err := n.FindTokenConverters(gov, usdt, btc)
	require.NoError(t, err)
	require.Equal(t, []ethcommon.Address{usersOnly.address}, public)
}

func TestMembershipFollowsSnapshots(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	n := New(ethcommon.HexToAddress("0xe7"))
	n.SetState(st)
	n.SetAccess(access.AllowAll{})

	snap := st.Snapshot()
	conv := newMockConverter(1, usdt)
	require.NoError(t, n.AddTokenConverter(gov, conv))
	st.RevertToSnapshot(snap)
	require.False(t, n.IsTokenConverter(conv.Address()))
	_, ok := n.Converter(conv.Address())
	require.False(t, ok)
}

func TestRestoreRebuildsDirectory(t *testing.T) {
	db := storage.NewMemDB()
	st := state.NewManager(db)
	n := New(ethcommon.HexToAddress("0xe7"))
	n.SetState(st)
	n.SetAccess(access.AllowAll{})
	conv := newMockConverter(1, usdt).enable(usdt, btc, types.AccessAll).fund(btc, 5)
	require.NoError(t, n.AddTokenConverter(gov, conv))
	require.NoError(t, st.Commit())

	reopened := New(n.Address())
	reopened.SetState(state.NewManager(db))
	require.True(t, reopened.IsTokenConverter(conv.Address()))
	_, ok := reopened.Converter(conv.Address())
	require.False(t, ok)

	require.ErrorIs(t, reopened.Restore(newMockConverter(2, usdt)), nativecommon.ErrConverterDoesNotExist)
	require.NoError(t, reopened.Restore(conv))
	addrs, balances, err := reopened.FindTokenConverters(gov, usdt, btc)
	require.NoError(t, err)
	require.Equal(t, []ethcommon.Address{conv.Address()}, addrs)
	require.Equal(t, int64(5), balances[0].Int64())
}
