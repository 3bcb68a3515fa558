package app

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"protocolreserve/config"
	"protocolreserve/core/events"
	"protocolreserve/core/exec"
	nativecommon "protocolreserve/native/common"
	"protocolreserve/observability/metrics"
)

var (
	daiAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000001001")
	usdtAddr   = ethcommon.HexToAddress("0x0000000000000000000000000000000000001002")
	poolX      = ethcommon.HexToAddress("0x00000000000000000000000000000000000000a1")
	rfcAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000002002")
	stcAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000002004")
	fundAddr   = ethcommon.HexToAddress("0x0000000000000000000000000000000000002001")
	daiSink    = ethcommon.HexToAddress("0x0000000000000000000000000000000000005001")
	incomeAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000005002")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func loadTopology(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("..", "config", "testdata", "topology.toml"))
	require.NoError(t, err)
	return cfg
}

func balance(t *testing.T, sys *System, tok, account ethcommon.Address) *big.Int {
	t.Helper()
	b, err := sys.Tokens.BalanceOf(tok, account)
	require.NoError(t, err)
	return b
}

// depositAndRelease sends 100 DAI of pool income to the reserve, records it
// and releases 90 DAI.
func depositAndRelease(t *testing.T, sys *System) {
	t.Helper()
	ctx := context.Background()
	psr := sys.Release.Address()
	dai, ok := sys.Token(daiAddr)
	require.True(t, ok)

	require.NoError(t, sys.Executor.Execute(ctx, "deposit", func(context.Context) error {
		return dai.Mint(psr, ether(100))
	}))
	require.NoError(t, sys.Executor.Execute(ctx, "updateAssetsState", func(context.Context) error {
		delta, err := sys.Release.UpdateAssetsState(poolX, poolX, daiAddr)
		if err != nil {
			return err
		}
		if delta.Cmp(ether(100)) != 0 {
			return fmt.Errorf("recorded %s", delta)
		}
		return nil
	}))
	require.NoError(t, sys.Executor.Execute(ctx, "releaseFunds", func(context.Context) error {
		return sys.Release.ReleaseFunds(poolX, poolX, []ethcommon.Address{daiAddr}, []*big.Int{ether(90)})
	}))
}

func TestReleaseScenario(t *testing.T) {
	cases := []struct {
		riskFundBps uint16
		incomeBps   uint16
		toRiskFund  int64
		toIncome    int64
	}{
		{3000, 7000, 27, 63},
		{5000, 5000, 45, 45},
		{10000, 0, 90, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d/%d", tc.riskFundBps, tc.incomeBps), func(t *testing.T) {
			cfg := loadTopology(t)
			cfg.Release.Distribution = []config.Distribution{
				{Destination: rfcAddr.Hex(), PercentageBps: tc.riskFundBps},
				{Destination: incomeAddr.Hex(), PercentageBps: tc.incomeBps},
			}
			reg := prometheus.NewRegistry()
			m, err := metrics.NewTreasury(reg)
			require.NoError(t, err)
			sys, err := Build(context.Background(), cfg, WithMetrics(m))
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, sys.Close()) })

			depositAndRelease(t, sys)

			left, err := sys.Release.PoolAssetReserve(poolX, daiAddr)
			require.NoError(t, err)
			require.Equal(t, ether(10).String(), left.String())
			require.Equal(t, ether(tc.toIncome).String(), balance(t, sys, daiAddr, incomeAddr).String())

			// the risk fund converter sold 20 DAI to the sibling holding
			// 20 USDT and keeps the rest attributed to the pool
			rfc := sys.RiskFundConverters[rfcAddr]
			held, err := rfc.PoolAssetReserve(poolX, daiAddr)
			require.NoError(t, err)
			require.Equal(t, ether(tc.toRiskFund-20).String(), held.String())
			require.Equal(t, ether(20).String(), balance(t, sys, daiAddr, daiSink).String())
			require.Zero(t, balance(t, sys, usdtAddr, stcAddr).Sign())

			funded, err := sys.RiskFund.PoolReserve(poolX, usdtAddr)
			require.NoError(t, err)
			require.Equal(t, ether(20).String(), funded.String())
			require.Equal(t, ether(20).String(), balance(t, sys, usdtAddr, fundAddr).String())

			released, err := testutil.GatherAndCount(reg, "treasury_release_releases_total")
			require.NoError(t, err)
			require.Equal(t, 1, released)
		})
	}
}

func TestFailedCallLeavesNoTrace(t *testing.T) {
	recorder := &events.Buffer{}
	sys, err := Build(context.Background(), loadTopology(t), WithExecutorOptions(exec.WithSink(recorder)))
	require.NoError(t, err)
	depositAndRelease(t, sys)
	before := recorder.Len()

	err = sys.Executor.Execute(context.Background(), "releaseFunds", func(context.Context) error {
		return sys.Release.ReleaseFunds(poolX, poolX, []ethcommon.Address{daiAddr}, []*big.Int{ether(11)})
	})
	require.ErrorIs(t, err, nativecommon.ErrInsufficientBalance)
	require.Equal(t, before, recorder.Len())

	left, err := sys.Release.PoolAssetReserve(poolX, daiAddr)
	require.NoError(t, err)
	require.Equal(t, ether(10).String(), left.String())
}

func TestPausedModulesRejectCalls(t *testing.T) {
	cfg := loadTopology(t)
	cfg.Governance.Paused = []string{"release"}
	sys, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	_, err = sys.Release.UpdateAssetsState(poolX, poolX, daiAddr)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	sys.Pauses.Set("release", false)
	_, err = sys.Release.UpdateAssetsState(poolX, poolX, daiAddr)
	require.NoError(t, err)
}

func TestRestartRestoresWiring(t *testing.T) {
	cfg := loadTopology(t)
	cfg.DataDir = t.TempDir()

	sys, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, sys.Close())

	sys, err = Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sys.Close()) })

	// balances are minted once
	require.Equal(t, ether(20).String(), balance(t, sys, usdtAddr, stcAddr).String())

	addrs, balances, err := sys.Network.FindTokenConvertersForConverters(rfcAddr, daiAddr, usdtAddr)
	require.NoError(t, err)
	require.Equal(t, []ethcommon.Address{stcAddr}, addrs)
	require.Equal(t, ether(20).String(), balances[0].String())

	depositAndRelease(t, sys)
	funded, err := sys.RiskFund.PoolReserve(poolX, usdtAddr)
	require.NoError(t, err)
	require.Equal(t, ether(20).String(), funded.String())
}

func TestBuildRejectsInvalidTopology(t *testing.T) {
	_, err := Build(context.Background(), nil)
	require.ErrorIs(t, err, errNilConfig)

	cfg := loadTopology(t)
	cfg.Release.Distribution[0].PercentageBps = 1
	_, err = Build(context.Background(), cfg)
	require.ErrorContains(t, err, "add up to")
}
