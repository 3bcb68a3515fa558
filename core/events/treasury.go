package events

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/types"
)

const (
	// TypeAssetsReservesUpdated is emitted when a ledger records new funds.
	TypeAssetsReservesUpdated = "reserve.assets_updated"
	// TypeConverterAdded is emitted when the network registers a converter.
	TypeConverterAdded = "network.converter_added"
	// TypeConverterRemoved is emitted when the network drops a converter.
	TypeConverterRemoved = "network.converter_removed"
	// TypeAssetReleased is emitted per destination share of a release.
	TypeAssetReleased = "release.asset_released"
	// TypeFundsReleased summarises a release for one pool and asset.
	TypeFundsReleased = "release.funds_released"
	// TypeDistributionConfigUpdated is emitted when a destination share changes.
	TypeDistributionConfigUpdated = "release.distribution_updated"
	// TypePoolStateUpdated is emitted when the risk fund credits a pool.
	TypePoolStateUpdated = "riskfund.pool_state_updated"
	// TypeReserveTransferredForAuction is emitted when the shortfall pulls reserve.
	TypeReserveTransferredForAuction = "riskfund.auction_transfer"
	// TypeVaultFunded is emitted when the vault treasury funds the vault.
	TypeVaultFunded = "vaulttreasury.funded"
	// TypeTokenSwept is emitted when untracked funds are swept.
	TypeTokenSwept = "treasury.token_swept"
	// TypeDirectTransferUpdated is emitted when a pool asset starts or stops
	// bypassing conversion.
	TypeDirectTransferUpdated = "converter.direct_transfer_updated"
)

// FieldUpdated is the generic "<Field>Updated(old, new)" event emitted by
// administrative setters.
type FieldUpdated struct {
	Contract ethcommon.Address
	Field    string
	Old      string
	New      string
}

// EventType returns "<Field>Updated", e.g. "PriceOracleUpdated".
func (e FieldUpdated) EventType() string { return e.Field + "Updated" }

func (e FieldUpdated) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"contract": addr(e.Contract),
		"old":      e.Old,
		"new":      e.New,
	}}
}

// AddressUpdated builds a FieldUpdated event for an address field.
func AddressUpdated(contract ethcommon.Address, field string, old, updated ethcommon.Address) FieldUpdated {
	return FieldUpdated{Contract: contract, Field: field, Old: old.Hex(), New: updated.Hex()}
}

// AmountUpdated builds a FieldUpdated event for an integer field.
func AmountUpdated(contract ethcommon.Address, field string, old, updated *big.Int) FieldUpdated {
	return FieldUpdated{Contract: contract, Field: field, Old: amountString(old), New: amountString(updated)}
}

// AssetsReservesUpdated records newly tracked funds for a pool.
type AssetsReservesUpdated struct {
	Contract ethcommon.Address
	Pool     ethcommon.Address
	Asset    ethcommon.Address
	Amount   *big.Int
}

// EventType satisfies the events.Event interface.
func (AssetsReservesUpdated) EventType() string { return TypeAssetsReservesUpdated }

func (e AssetsReservesUpdated) Event() *types.Event {
	return &types.Event{Type: TypeAssetsReservesUpdated, Attributes: map[string]string{
		"contract": addr(e.Contract),
		"pool":     addr(e.Pool),
		"asset":    addr(e.Asset),
		"amount":   amountString(e.Amount),
	}}
}

// ConverterAdded is emitted when a converter joins the network.
type ConverterAdded struct {
	Network   ethcommon.Address
	Converter ethcommon.Address
	BaseAsset ethcommon.Address
}

// EventType satisfies the events.Event interface.
func (ConverterAdded) EventType() string { return TypeConverterAdded }

func (e ConverterAdded) Event() *types.Event {
	return &types.Event{Type: TypeConverterAdded, Attributes: map[string]string{
		"network":   addr(e.Network),
		"converter": addr(e.Converter),
		"baseAsset": addr(e.BaseAsset),
	}}
}

// ConverterRemoved is emitted when a converter leaves the network.
type ConverterRemoved struct {
	Network   ethcommon.Address
	Converter ethcommon.Address
}

// EventType satisfies the events.Event interface.
func (ConverterRemoved) EventType() string { return TypeConverterRemoved }

func (e ConverterRemoved) Event() *types.Event {
	return &types.Event{Type: TypeConverterRemoved, Attributes: map[string]string{
		"network":   addr(e.Network),
		"converter": addr(e.Converter),
	}}
}

// AssetReleased records the share of a release sent to one destination.
type AssetReleased struct {
	Reserve     ethcommon.Address
	Pool        ethcommon.Address
	Asset       ethcommon.Address
	Destination ethcommon.Address
	Amount      *big.Int
	ShareBps    uint16
}

// EventType satisfies the events.Event interface.
func (AssetReleased) EventType() string { return TypeAssetReleased }

func (e AssetReleased) Event() *types.Event {
	return &types.Event{Type: TypeAssetReleased, Attributes: map[string]string{
		"reserve":     addr(e.Reserve),
		"pool":        addr(e.Pool),
		"asset":       addr(e.Asset),
		"destination": addr(e.Destination),
		"amount":      amountString(e.Amount),
		"shareBps":    strconv.FormatUint(uint64(e.ShareBps), 10),
	}}
}

// FundsReleased summarises a release of one asset for a pool.
type FundsReleased struct {
	Reserve ethcommon.Address
	Pool    ethcommon.Address
	Asset   ethcommon.Address
	Amount  *big.Int
}

// EventType satisfies the events.Event interface.
func (FundsReleased) EventType() string { return TypeFundsReleased }

func (e FundsReleased) Event() *types.Event {
	return &types.Event{Type: TypeFundsReleased, Attributes: map[string]string{
		"reserve": addr(e.Reserve),
		"pool":    addr(e.Pool),
		"asset":   addr(e.Asset),
		"amount":  amountString(e.Amount),
	}}
}

// DistributionConfigUpdated records a destination share change. NewBps is
// zero when the destination was removed.
type DistributionConfigUpdated struct {
	Reserve     ethcommon.Address
	Destination ethcommon.Address
	OldBps      uint16
	NewBps      uint16
}

// EventType satisfies the events.Event interface.
func (DistributionConfigUpdated) EventType() string { return TypeDistributionConfigUpdated }

func (e DistributionConfigUpdated) Event() *types.Event {
	return &types.Event{Type: TypeDistributionConfigUpdated, Attributes: map[string]string{
		"reserve":     addr(e.Reserve),
		"destination": addr(e.Destination),
		"oldBps":      strconv.FormatUint(uint64(e.OldBps), 10),
		"newBps":      strconv.FormatUint(uint64(e.NewBps), 10),
	}}
}

// PoolStateUpdated records funds credited to a pool by the risk fund.
type PoolStateUpdated struct {
	RiskFund ethcommon.Address
	Pool     ethcommon.Address
	Asset    ethcommon.Address
	Amount   *big.Int
}

// EventType satisfies the events.Event interface.
func (PoolStateUpdated) EventType() string { return TypePoolStateUpdated }

func (e PoolStateUpdated) Event() *types.Event {
	return &types.Event{Type: TypePoolStateUpdated, Attributes: map[string]string{
		"riskFund": addr(e.RiskFund),
		"pool":     addr(e.Pool),
		"asset":    addr(e.Asset),
		"amount":   amountString(e.Amount),
	}}
}

// ReserveTransferredForAuction records risk fund reserve handed to the
// shortfall handler.
type ReserveTransferredForAuction struct {
	RiskFund  ethcommon.Address
	Pool      ethcommon.Address
	Asset     ethcommon.Address
	Shortfall ethcommon.Address
	Amount    *big.Int
}

// EventType satisfies the events.Event interface.
func (ReserveTransferredForAuction) EventType() string { return TypeReserveTransferredForAuction }

func (e ReserveTransferredForAuction) Event() *types.Event {
	return &types.Event{Type: TypeReserveTransferredForAuction, Attributes: map[string]string{
		"riskFund":  addr(e.RiskFund),
		"pool":      addr(e.Pool),
		"asset":     addr(e.Asset),
		"shortfall": addr(e.Shortfall),
		"amount":    amountString(e.Amount),
	}}
}

// VaultFunded records vault tokens moved from the treasury to the vault.
type VaultFunded struct {
	Treasury ethcommon.Address
	Vault    ethcommon.Address
	Amount   *big.Int
}

// EventType satisfies the events.Event interface.
func (VaultFunded) EventType() string { return TypeVaultFunded }

func (e VaultFunded) Event() *types.Event {
	return &types.Event{Type: TypeVaultFunded, Attributes: map[string]string{
		"treasury": addr(e.Treasury),
		"vault":    addr(e.Vault),
		"amount":   amountString(e.Amount),
	}}
}

// TokenSwept records untracked funds removed by governance.
type TokenSwept struct {
	Contract ethcommon.Address
	Token    ethcommon.Address
	To       ethcommon.Address
	Amount   *big.Int
}

// EventType satisfies the events.Event interface.
func (TokenSwept) EventType() string { return TypeTokenSwept }

func (e TokenSwept) Event() *types.Event {
	return &types.Event{Type: TypeTokenSwept, Attributes: map[string]string{
		"contract": addr(e.Contract),
		"token":    addr(e.Token),
		"to":       addr(e.To),
		"amount":   amountString(e.Amount),
	}}
}

// DirectTransferUpdated records a change of the direct transfer flag of a
// pool asset.
type DirectTransferUpdated struct {
	Converter ethcommon.Address
	Pool      ethcommon.Address
	Asset     ethcommon.Address
	Enabled   bool
}

// EventType satisfies the events.Event interface.
func (DirectTransferUpdated) EventType() string { return TypeDirectTransferUpdated }

func (e DirectTransferUpdated) Event() *types.Event {
	return &types.Event{Type: TypeDirectTransferUpdated, Attributes: map[string]string{
		"converter": addr(e.Converter),
		"pool":      addr(e.Pool),
		"asset":     addr(e.Asset),
		"enabled":   strconv.FormatBool(e.Enabled),
	}}
}

// Broadcastable is implemented by every event in this package.
type Broadcastable interface {
	Event
	Event() *types.Event
}

// Render converts e into its attribute form when it supports it.
func Render(e Event) (*types.Event, bool) {
	b, ok := e.(Broadcastable)
	if !ok {
		return nil, false
	}
	return b.Event(), true
}
