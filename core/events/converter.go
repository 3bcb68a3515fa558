package events

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/types"
)

const (
	// TypeConversionExecuted is emitted for every completed conversion.
	TypeConversionExecuted = "converter.converted"
	// TypeConversionConfigUpdated is emitted when a pair configuration changes.
	TypeConversionConfigUpdated = "converter.config_updated"
	// TypeConversionPaused is emitted when conversions are paused.
	TypeConversionPaused = "converter.paused"
	// TypeConversionResumed is emitted when conversions resume.
	TypeConversionResumed = "converter.resumed"
	// TypePrivateConversionSettled summarises a private conversion pass.
	TypePrivateConversionSettled = "converter.private_settled"
	// TypeAssetTransferredToDestination marks funds forwarded without conversion.
	TypeAssetTransferredToDestination = "converter.asset_forwarded"
)

// Conversion kinds recorded on ConversionExecuted.
const (
	KindExactTokens                 = "exact_in"
	KindForExactTokens              = "exact_out"
	KindExactTokensFeeOnTransfer    = "exact_in_fot"
	KindForExactTokensFeeOnTransfer = "exact_out_fot"
)

// ConversionExecuted records a conversion performed by a converter.
type ConversionExecuted struct {
	Converter ethcommon.Address
	Sender    ethcommon.Address
	Receiver  ethcommon.Address
	TokenIn   ethcommon.Address
	TokenOut  ethcommon.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Kind      string
	Private   bool
}

// EventType satisfies the events.Event interface.
func (ConversionExecuted) EventType() string { return TypeConversionExecuted }

// Event converts the payload into a broadcastable event.
func (e ConversionExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeConversionExecuted,
		Attributes: map[string]string{
			"converter": addr(e.Converter),
			"sender":    addr(e.Sender),
			"receiver":  addr(e.Receiver),
			"tokenIn":   addr(e.TokenIn),
			"tokenOut":  addr(e.TokenOut),
			"amountIn":  amountString(e.AmountIn),
			"amountOut": amountString(e.AmountOut),
			"kind":      e.Kind,
			"private":   strconv.FormatBool(e.Private),
		},
	}
}

// ConversionConfigUpdated records a change of a pair configuration.
type ConversionConfigUpdated struct {
	Converter    ethcommon.Address
	TokenIn      ethcommon.Address
	TokenOut     ethcommon.Address
	OldIncentive *big.Int
	NewIncentive *big.Int
	OldAccess    types.AccessLevel
	NewAccess    types.AccessLevel
}

// EventType satisfies the events.Event interface.
func (ConversionConfigUpdated) EventType() string { return TypeConversionConfigUpdated }

func (e ConversionConfigUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeConversionConfigUpdated,
		Attributes: map[string]string{
			"converter":    addr(e.Converter),
			"tokenIn":      addr(e.TokenIn),
			"tokenOut":     addr(e.TokenOut),
			"oldIncentive": amountString(e.OldIncentive),
			"newIncentive": amountString(e.NewIncentive),
			"oldAccess":    e.OldAccess.String(),
			"newAccess":    e.NewAccess.String(),
		},
	}
}

// ConversionPaused is emitted when a converter stops accepting conversions.
type ConversionPaused struct {
	Converter ethcommon.Address
	Caller    ethcommon.Address
}

// EventType satisfies the events.Event interface.
func (ConversionPaused) EventType() string { return TypeConversionPaused }

func (e ConversionPaused) Event() *types.Event {
	return &types.Event{Type: TypeConversionPaused, Attributes: map[string]string{
		"converter": addr(e.Converter),
		"caller":    addr(e.Caller),
	}}
}

// ConversionResumed is emitted when a paused converter resumes.
type ConversionResumed struct {
	Converter ethcommon.Address
	Caller    ethcommon.Address
}

// EventType satisfies the events.Event interface.
func (ConversionResumed) EventType() string { return TypeConversionResumed }

func (e ConversionResumed) Event() *types.Event {
	return &types.Event{Type: TypeConversionResumed, Attributes: map[string]string{
		"converter": addr(e.Converter),
		"caller":    addr(e.Caller),
	}}
}

// PrivateConversionSettled summarises the sibling conversions triggered by a
// converter for a pool and asset.
type PrivateConversionSettled struct {
	Converter    ethcommon.Address
	Pool         ethcommon.Address
	Asset        ethcommon.Address
	AmountSpent  *big.Int
	BaseAsset    ethcommon.Address
	BaseReceived *big.Int
	Hops         int
}

// EventType satisfies the events.Event interface.
func (PrivateConversionSettled) EventType() string { return TypePrivateConversionSettled }

func (e PrivateConversionSettled) Event() *types.Event {
	return &types.Event{Type: TypePrivateConversionSettled, Attributes: map[string]string{
		"converter":    addr(e.Converter),
		"pool":         addr(e.Pool),
		"asset":        addr(e.Asset),
		"amountSpent":  amountString(e.AmountSpent),
		"baseAsset":    addr(e.BaseAsset),
		"baseReceived": amountString(e.BaseReceived),
		"hops":         strconv.Itoa(e.Hops),
	}}
}

// AssetTransferredToDestination records funds forwarded to a destination in
// their original asset.
type AssetTransferredToDestination struct {
	Converter   ethcommon.Address
	Destination ethcommon.Address
	Pool        ethcommon.Address
	Asset       ethcommon.Address
	Amount      *big.Int
}

// EventType satisfies the events.Event interface.
func (AssetTransferredToDestination) EventType() string { return TypeAssetTransferredToDestination }

func (e AssetTransferredToDestination) Event() *types.Event {
	return &types.Event{Type: TypeAssetTransferredToDestination, Attributes: map[string]string{
		"converter":   addr(e.Converter),
		"destination": addr(e.Destination),
		"pool":        addr(e.Pool),
		"asset":       addr(e.Asset),
		"amount":      amountString(e.Amount),
	}}
}
