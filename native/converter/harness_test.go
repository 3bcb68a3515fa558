package converter

import (
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"protocolreserve/core/access"
	"protocolreserve/core/events"
	"protocolreserve/core/mantissa"
	"protocolreserve/core/oracle"
	"protocolreserve/core/poolregistry"
	"protocolreserve/core/state"
	"protocolreserve/core/token"
	"protocolreserve/core/types"
	"protocolreserve/native/network"
	"protocolreserve/storage"
)

var (
	gov      = ethcommon.HexToAddress("0x0000000000000000000000000000000000000090")
	user     = ethcommon.HexToAddress("0x0000000000000000000000000000000000000a11")
	poolA    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	poolB    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b1")
	poolC    = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c1")
	poolCore = ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1")

	usdtAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000001001")
	btcAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000001002")
	fotAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000001003")

	riskFundAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000002001")
	vaultAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000002002")
	networkAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000002003")
)

// e18 parses a decimal amount into an 18-decimal integer.
func e18(v string) *big.Int {
	r, ok := new(big.Rat).SetString(v)
	if !ok {
		panic("bad amount " + v)
	}
	r.Mul(r, new(big.Rat).SetInt(mantissa.One))
	if !r.IsInt() {
		panic("fractional amount " + v)
	}
	return new(big.Int).Set(r.Num())
}

type poolStateCall struct {
	pool   ethcommon.Address
	asset  ethcommon.Address
	amount *big.Int
}

type mockRiskFund struct {
	address ethcommon.Address
	calls   []poolStateCall
}

func (m *mockRiskFund) Address() ethcommon.Address { return m.address }

func (m *mockRiskFund) UpdatePoolState(_, pool, asset ethcommon.Address, amount *big.Int) error {
	m.calls = append(m.calls, poolStateCall{pool: pool, asset: asset, amount: new(big.Int).Set(amount)})
	return nil
}

func (m *mockRiskFund) total(pool, asset ethcommon.Address) *big.Int {
	sum := new(big.Int)
	for _, call := range m.calls {
		if call.pool == pool && call.asset == asset {
			sum.Add(sum, call.amount)
		}
	}
	return sum
}

type harness struct {
	t        *testing.T
	state    *state.Manager
	tokens   *token.Registry
	usdt     *token.Standard
	btc      *token.Standard
	fot      *token.Standard
	feed     *oracle.Feed
	acl      *access.Manager
	pools    *poolregistry.Registry
	network  *network.Network
	riskFund *mockRiskFund
	events   *events.Buffer
	nextAddr int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	h := &harness{
		t:        t,
		state:    st,
		tokens:   token.NewRegistry(),
		feed:     oracle.NewFeed("test"),
		acl:      access.NewManager(st),
		pools:    poolregistry.New(),
		riskFund: &mockRiskFund{address: riskFundAddr},
		events:   &events.Buffer{},
		nextAddr: 0x3000,
	}
	h.usdt = token.NewStandard(usdtAddr, "USDT", 18, st)
	h.btc = token.NewStandard(btcAddr, "BTC", 18, st)
	fot, err := token.NewFeeOnTransfer(fotAddr, "FOT", 18, 100, st)
	require.NoError(t, err)
	h.fot = fot
	for _, tok := range []*token.Standard{h.usdt, h.btc, h.fot} {
		h.tokens.Register(tok)
	}

	require.NoError(t, h.feed.SetPrice(usdtAddr, e18("1"), time.Time{}))
	require.NoError(t, h.feed.SetPrice(btcAddr, e18("100"), time.Time{}))
	require.NoError(t, h.feed.SetPrice(fotAddr, e18("1"), time.Time{}))

	vToken := int64(0x4000)
	for _, pool := range []ethcommon.Address{poolA, poolB, poolC, poolCore} {
		require.NoError(t, h.pools.AddPool(pool, pool.Hex()))
		for _, asset := range []ethcommon.Address{usdtAddr, btcAddr, fotAddr} {
			vToken++
			require.NoError(t, h.pools.AddMarket(pool, asset, ethcommon.BigToAddress(big.NewInt(vToken))))
		}
	}

	h.network = network.New(networkAddr)
	h.network.SetState(st)
	h.network.SetAccess(access.AllowAll{})
	return h
}

func (h *harness) options(base ethcommon.Address) Options {
	h.nextAddr++
	addr := ethcommon.BigToAddress(big.NewInt(h.nextAddr))
	for _, method := range AdminMethods {
		require.NoError(h.t, h.acl.GiveCallPermission(addr, method, gov))
	}
	return Options{
		Address:   addr,
		BaseAsset: base,
		State:     h.state,
		Tokens:    h.tokens,
		Oracle:    h.feed,
		Access:    h.acl.Bind(addr),
	}
}

// riskFundConverter returns a converter with the given base feeding the
// mock risk fund.
func (h *harness) riskFundConverter(base ethcommon.Address) *RiskFundConverter {
	conv, err := NewRiskFundConverter(h.options(base), h.pools)
	require.NoError(h.t, err)
	conv.SetRiskFund(h.riskFund)
	conv.SetEmitter(h.events)
	require.NoError(h.t, conv.Initialize(riskFundAddr, e18("1")))
	return conv
}

func (h *harness) singleTokenConverter(base, destination ethcommon.Address) *SingleTokenConverter {
	conv, err := NewSingleTokenConverter(h.options(base))
	require.NoError(h.t, err)
	conv.SetEmitter(h.events)
	require.NoError(h.t, conv.Initialize(destination, e18("1")))
	return conv
}

func (h *harness) join(convs ...network.TokenConverter) {
	for _, conv := range convs {
		require.NoError(h.t, h.network.AddTokenConverter(gov, conv))
		if c, ok := conv.(interface {
			SetConverterNetwork(caller ethcommon.Address, network Network) error
		}); ok {
			require.NoError(h.t, c.SetConverterNetwork(gov, h.network))
		}
	}
}

func (h *harness) enable(conv interface {
	SetConversionConfig(caller, tokenIn, tokenOut ethcommon.Address, cfg types.ConversionConfig) error
}, tokenIn, tokenOut ethcommon.Address, incentive string, level types.AccessLevel) {
	require.NoError(h.t, conv.SetConversionConfig(gov, tokenIn, tokenOut, types.ConversionConfig{Incentive: e18(incentive), Access: level}))
}

func (h *harness) balance(tok *token.Standard, account ethcommon.Address) *big.Int {
	b, err := tok.BalanceOf(account)
	require.NoError(h.t, err)
	return b
}

// seedReserve mints amount to the converter and attributes it to pool.
func (h *harness) seedReserve(conv *RiskFundConverter, tok *token.Standard, pool ethcommon.Address, amount *big.Int) {
	require.NoError(h.t, tok.Mint(conv.Address(), amount))
	require.NoError(h.t, conv.Ledger().Credit(pool, tok.Address(), amount))
}

func requireAmount(t *testing.T, want, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.Equal(t, want.String(), got.String(), msgAndArgs...)
}
