package converter

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"protocolreserve/core/events"
	"protocolreserve/core/types"
	nativecommon "protocolreserve/native/common"
)

func settledEvents(buf *events.Buffer) []events.PrivateConversionSettled {
	var out []events.PrivateConversionSettled
	for _, ev := range buf.Events() {
		if e, ok := ev.(events.PrivateConversionSettled); ok {
			out = append(out, e)
		}
	}
	return out
}

func TestPrivateConversionSpendsSiblingReservesProRata(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)
	y := h.riskFundConverter(btcAddr)
	h.enable(y, btcAddr, usdtAddr, "0.2", types.AccessAll)
	h.join(x, y)

	pools := []ethcommon.Address{poolA, poolB, poolC, poolCore}
	for i, amount := range []string{"10", "20", "30", "40"} {
		h.seedReserve(y, h.usdt, pools[i], e18(amount))
	}

	require.NoError(t, h.btc.Mint(x.Address(), e18("0.18")))
	require.NoError(t, x.UpdateAssetsState(user, poolA, btcAddr))

	// no incentive between siblings: 0.18 BTC buys 18 USDT
	requireAmount(t, e18("18"), h.balance(h.usdt, riskFundAddr))
	requireAmount(t, e18("18"), h.riskFund.total(poolA, usdtAddr))

	for i, want := range []string{"8.2", "16.4", "24.6", "32.8"} {
		got, err := y.PoolAssetReserve(pools[i], usdtAddr)
		require.NoError(t, err)
		requireAmount(t, e18(want), got, "pool %d", i)
	}
	total, err := y.AssetReserve(usdtAddr)
	require.NoError(t, err)
	requireAmount(t, e18("82"), total)

	left, err := x.AssetReserve(btcAddr)
	require.NoError(t, err)
	requireAmount(t, big.NewInt(0), left)
	requireAmount(t, big.NewInt(0), h.balance(h.btc, x.Address()))

	// the sibling forwards the BTC it received to its own destination
	requireAmount(t, e18("0.18"), h.balance(h.btc, riskFundAddr))

	settled := settledEvents(h.events)
	require.Len(t, settled, 1)
	require.Equal(t, x.Address(), settled[0].Converter)
	require.Equal(t, 1, settled[0].Hops)
	requireAmount(t, e18("0.18"), settled[0].AmountSpent)
	requireAmount(t, e18("18"), settled[0].BaseReceived)
}

func TestPrivateConversionDrainsSiblingsInOrder(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)
	small := h.riskFundConverter(btcAddr)
	large := h.riskFundConverter(btcAddr)
	for _, y := range []*RiskFundConverter{small, large} {
		h.enable(y, btcAddr, usdtAddr, "0", types.AccessOnlyForConverters)
	}
	h.join(x, small, large)
	h.seedReserve(small, h.usdt, poolA, e18("50"))
	h.seedReserve(large, h.usdt, poolB, e18("150"))

	require.NoError(t, h.btc.Mint(x.Address(), e18("3")))
	require.NoError(t, x.UpdateAssetsState(user, poolA, btcAddr))

	requireAmount(t, e18("200"), h.balance(h.usdt, riskFundAddr))
	// one BTC had no buyer and stays with the pool
	left, err := x.PoolAssetReserve(poolA, btcAddr)
	require.NoError(t, err)
	requireAmount(t, e18("1"), left)
	requireAmount(t, e18("1"), h.balance(h.btc, x.Address()))

	settled := settledEvents(h.events)
	require.Len(t, settled, 1)
	require.Equal(t, 2, settled[0].Hops)
}

func TestPrivateConversionSkippedBelowMinimum(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)
	y := h.riskFundConverter(btcAddr)
	h.enable(y, btcAddr, usdtAddr, "0", types.AccessAll)
	h.join(x, y)
	h.seedReserve(y, h.usdt, poolA, e18("100"))

	// 0.005 BTC is worth 0.5 USD, below the 1 USD threshold
	require.NoError(t, h.btc.Mint(x.Address(), e18("0.005")))
	require.NoError(t, x.UpdateAssetsState(user, poolB, btcAddr))

	tracked, err := x.PoolAssetReserve(poolB, btcAddr)
	require.NoError(t, err)
	requireAmount(t, e18("0.005"), tracked)
	requireAmount(t, big.NewInt(0), h.balance(h.usdt, riskFundAddr))
	require.Empty(t, settledEvents(h.events))

	// once the pool has accumulated enough the whole reserve is converted
	require.NoError(t, h.btc.Mint(x.Address(), e18("0.015")))
	require.NoError(t, x.UpdateAssetsState(user, poolB, btcAddr))
	requireAmount(t, e18("2"), h.balance(h.usdt, riskFundAddr))
	requireAmount(t, e18("2"), h.riskFund.total(poolB, usdtAddr))
}

func TestPrivateConversionWithoutNetworkKeepsReserve(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)

	require.NoError(t, h.btc.Mint(x.Address(), e18("1")))
	require.NoError(t, x.UpdateAssetsState(user, poolA, btcAddr))

	tracked, err := x.AssetReserve(btcAddr)
	require.NoError(t, err)
	requireAmount(t, e18("1"), tracked)

	// nothing new arrived, so a second update is a no-op
	require.NoError(t, x.UpdateAssetsState(user, poolA, btcAddr))
	tracked, err = x.AssetReserve(btcAddr)
	require.NoError(t, err)
	requireAmount(t, e18("1"), tracked)
}

func TestUpdateAssetsStateSplitsAcrossHolders(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)
	h.seedReserve(x, h.btc, poolA, e18("1"))
	h.seedReserve(x, h.btc, poolB, e18("3"))

	require.NoError(t, h.btc.Mint(x.Address(), e18("2")))
	require.NoError(t, x.UpdateAssetsState(user, poolC, btcAddr))

	a, err := x.PoolAssetReserve(poolA, btcAddr)
	require.NoError(t, err)
	requireAmount(t, e18("1.5"), a)
	b, err := x.PoolAssetReserve(poolB, btcAddr)
	require.NoError(t, err)
	requireAmount(t, e18("4.5"), b)
}

func TestUpdateAssetsStateRequiresMarket(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)
	stranger := ethcommon.HexToAddress("0x00000000000000000000000000000000000000ff")
	require.ErrorIs(t, x.UpdateAssetsState(user, stranger, btcAddr), nativecommon.ErrMarketNotExistInPool)
}

func TestBaseAssetForwardedOnArrival(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)

	require.NoError(t, h.usdt.Mint(x.Address(), e18("50")))
	require.NoError(t, x.UpdateAssetsState(user, poolB, usdtAddr))

	requireAmount(t, e18("50"), h.balance(h.usdt, riskFundAddr))
	requireAmount(t, e18("50"), h.riskFund.total(poolB, usdtAddr))
	requireAmount(t, big.NewInt(0), h.balance(h.usdt, x.Address()))
}

func TestDirectTransferAssetsSkipConversion(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)

	err := x.SetPoolsAssetsDirectTransfer(gov, []ethcommon.Address{poolA}, [][]ethcommon.Address{{btcAddr}}, nil)
	require.ErrorIs(t, err, nativecommon.ErrInputLengthMisMatch)
	require.NoError(t, x.SetPoolsAssetsDirectTransfer(gov,
		[]ethcommon.Address{poolA},
		[][]ethcommon.Address{{btcAddr}},
		[][]bool{{true}},
	))
	enabled, err := x.PoolsAssetsDirectTransfer(poolA, btcAddr)
	require.NoError(t, err)
	require.True(t, enabled)

	require.NoError(t, h.btc.Mint(x.Address(), e18("2")))
	require.NoError(t, x.UpdateAssetsState(user, poolA, btcAddr))

	requireAmount(t, e18("2"), h.balance(h.btc, riskFundAddr))
	requireAmount(t, e18("2"), h.riskFund.total(poolA, btcAddr))
	tracked, err := x.AssetReserve(btcAddr)
	require.NoError(t, err)
	requireAmount(t, big.NewInt(0), tracked)
}

func TestUserConversionCreditsInputToPools(t *testing.T) {
	h := newHarness(t)
	x := h.riskFundConverter(usdtAddr)
	h.enable(x, fotAddr, btcAddr, "0", types.AccessAll)
	h.seedReserve(x, h.btc, poolA, e18("1"))
	h.seedReserve(x, h.btc, poolB, e18("1"))

	seller := user
	require.NoError(t, h.fot.Mint(seller, e18("200")))
	require.NoError(t, h.fot.Approve(seller, x.Address(), e18("200")))

	_, out, err := x.ConvertExactTokensSupportingFeeOnTransferTokens(seller, e18("100"), nil, fotAddr, btcAddr, seller)
	require.NoError(t, err)
	requireAmount(t, e18("0.99"), out)

	// the received 99 FOT belong to the pools whose BTC was sold
	a, err := x.PoolAssetReserve(poolA, fotAddr)
	require.NoError(t, err)
	requireAmount(t, e18("49.5"), a)
	b, err := x.PoolAssetReserve(poolB, fotAddr)
	require.NoError(t, err)
	requireAmount(t, e18("49.5"), b)
}

func TestSingleTokenConverterPrivateConversion(t *testing.T) {
	h := newHarness(t)
	vault, err := NewVaultConverter(h.options(usdtAddr), vaultAddr)
	require.NoError(t, err)
	vault.SetEmitter(h.events)
	require.NoError(t, vault.Initialize(e18("1")))
	require.Equal(t, vaultAddr, vault.VaultTreasury())

	sink := ethcommon.HexToAddress("0x0000000000000000000000000000000000005151")
	sibling := h.singleTokenConverter(btcAddr, sink)
	h.enable(sibling, btcAddr, usdtAddr, "0", types.AccessOnlyForConverters)
	h.join(vault, sibling)
	require.NoError(t, h.usdt.Mint(sibling.Address(), e18("150")))

	require.NoError(t, h.btc.Mint(vault.Address(), e18("2")))
	require.NoError(t, vault.UpdateAssetsState(user, poolA, btcAddr))

	requireAmount(t, e18("150"), h.balance(h.usdt, vaultAddr))
	requireAmount(t, e18("0.5"), h.balance(h.btc, vault.Address()))
	requireAmount(t, e18("1.5"), h.balance(h.btc, sink))

	// base asset sent straight to the converter is forwarded as is
	require.NoError(t, h.usdt.Mint(vault.Address(), e18("5")))
	require.NoError(t, vault.UpdateAssetsState(user, poolA, usdtAddr))
	requireAmount(t, e18("155"), h.balance(h.usdt, vaultAddr))
}

func TestNewVaultConverterRequiresTreasury(t *testing.T) {
	h := newHarness(t)
	_, err := NewVaultConverter(h.options(usdtAddr), ethcommon.Address{})
	require.Error(t, err)
}
