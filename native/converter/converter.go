package converter

import (
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/mantissa"
	"protocolreserve/core/oracle"
	"protocolreserve/core/token"
	"protocolreserve/core/types"
	nativecommon "protocolreserve/native/common"
	"protocolreserve/native/network"
)

const moduleName = "converter"

// MaxIncentive caps the premium of a conversion pair at 50%.
var MaxIncentive = new(big.Int).Div(mantissa.One, big.NewInt(2))

var (
	errNilState           = errors.New("converter: state not configured")
	errNilOracle          = errors.New("converter: price oracle not configured")
	errNilTokens          = errors.New("converter: token registry not configured")
	errAlreadyInitialized = errors.New("converter: already initialized")
	errNoDestination      = errors.New("converter: destination not configured")
)

// Storage is the subset of the state manager the converters rely on.
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

// Network is the view of the converter network used for pricing and private
// conversions.
type Network interface {
	Address() ethcommon.Address
	IsTokenConverter(address ethcommon.Address) bool
	FindTokenConvertersForConverters(caller, tokenIn, tokenOut ethcommon.Address) ([]ethcommon.Address, []*big.Int, error)
	Converter(address ethcommon.Address) (network.TokenConverter, bool)
}

// hooks is implemented by the concrete converters and customises where funds
// are counted and where they go after a conversion.
type hooks interface {
	// availableBalance is the amount of tok the converter may pay out.
	availableBalance(tok ethcommon.Address) (*big.Int, error)
	// postConversion runs after amountIn of tokenIn arrived and amountOut of
	// tokenOut left.
	postConversion(tokenIn, tokenOut ethcommon.Address, amountIn, amountOut *big.Int) error
	// postPrivateConversion runs after amountSpent of asset, attributed to
	// pool, was converted and the destination received baseReceived.
	postPrivateConversion(pool, asset ethcommon.Address, amountSpent, baseReceived *big.Int) error
	// preSweep rejects sweeps that would touch accounted funds.
	preSweep(tok ethcommon.Address, amount *big.Int) error
}

// Options holds what every converter needs at construction.
type Options struct {
	Address   ethcommon.Address
	BaseAsset ethcommon.Address
	State     Storage
	Tokens    Tokens
	Oracle    oracle.PriceSource
	Access    Checker
}

// Converter is the pricing and conversion engine shared by the concrete
// converters. It converts any configured token into its base asset at oracle
// prices plus a per-pair incentive.
type Converter struct {
	address   ethcommon.Address
	baseAsset ethcommon.Address
	state     Storage
	tokens    Tokens
	oracle    oracle.PriceSource
	access    Checker
	network   Network
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	guard     nativecommon.ReentrancyGuard
	hooks     hooks
}

func newConverter(opts Options, h hooks) (*Converter, error) {
	if opts.Address == (ethcommon.Address{}) || opts.BaseAsset == (ethcommon.Address{}) {
		return nil, nativecommon.ErrZeroAddressNotAllowed
	}
	if opts.State == nil {
		return nil, errNilState
	}
	if opts.Tokens == nil {
		return nil, errNilTokens
	}
	return &Converter{
		address:   opts.Address,
		baseAsset: opts.BaseAsset,
		state:     opts.State,
		tokens:    opts.Tokens,
		oracle:    opts.Oracle,
		access:    opts.Access,
		emitter:   events.NoopEmitter{},
		hooks:     h,
	}, nil
}

// Address returns the converter's own address.
func (c *Converter) Address() ethcommon.Address { return c.address }

// BaseAsset returns the asset the converter accumulates for its destination.
func (c *Converter) BaseAsset() ethcommon.Address { return c.baseAsset }

// SetEmitter configures the event emitter. Passing nil disables events.
func (c *Converter) SetEmitter(emitter events.Emitter) { c.emitter = events.OrNoop(emitter) }

// SetPauses wires the governance emergency switches.
func (c *Converter) SetPauses(p nativecommon.PauseView) { c.pauses = p }

// ConverterNetwork returns the configured network, if any.
func (c *Converter) ConverterNetwork() Network { return c.network }

func (c *Converter) key(parts ...string) []byte {
	k := "converter/" + c.address.Hex()
	for _, part := range parts {
		k += "/" + part
	}
	return []byte(k)
}

type storedConfig struct {
	Incentive *big.Int
	Access    uint8
}

type storedAddress struct {
	Address ethcommon.Address
}

// Initialize records the destination and the private conversion threshold.
// It can run once.
func (c *Converter) Initialize(destination ethcommon.Address, minAmountToConvert *big.Int) error {
	var done bool
	ok, err := c.state.KVGet(c.key("initialized"), &done)
	if err != nil {
		return err
	}
	if ok && done {
		return errAlreadyInitialized
	}
	if destination == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	if minAmountToConvert == nil || minAmountToConvert.Sign() <= 0 {
		return fmt.Errorf("%w: min amount to convert must be positive", nativecommon.ErrInvalidArguments)
	}
	if err := c.state.KVPut(c.key("destination"), storedAddress{Address: destination}); err != nil {
		return err
	}
	if err := c.state.KVPut(c.key("minAmountToConvert"), new(big.Int).Set(minAmountToConvert)); err != nil {
		return err
	}
	return c.state.KVPut(c.key("initialized"), true)
}

// Destination returns where converted base asset is sent.
func (c *Converter) Destination() (types.OptionalAddress, error) {
	var stored storedAddress
	ok, err := c.state.KVGet(c.key("destination"), &stored)
	if err != nil {
		return types.NoAddress(), err
	}
	if !ok {
		return types.NoAddress(), nil
	}
	return types.SomeAddress(stored.Address), nil
}

func (c *Converter) requireDestination() (ethcommon.Address, error) {
	dest, err := c.Destination()
	if err != nil {
		return ethcommon.Address{}, err
	}
	addr, ok := dest.Get()
	if !ok {
		return ethcommon.Address{}, errNoDestination
	}
	return addr, nil
}

// MinAmountToConvert returns the USD value below which private conversions
// are skipped.
func (c *Converter) MinAmountToConvert() (*big.Int, error) {
	value := new(big.Int)
	ok, err := c.state.KVGet(c.key("minAmountToConvert"), value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// ConversionPaused reports whether conversions are paused.
func (c *Converter) ConversionPaused() (bool, error) {
	var paused bool
	if _, err := c.state.KVGet(c.key("paused"), &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// ConversionConfig returns the configuration of the tokenIn to tokenOut pair.
// Pairs never configured are disabled.
func (c *Converter) ConversionConfig(tokenIn, tokenOut ethcommon.Address) (types.ConversionConfig, error) {
	var stored storedConfig
	ok, err := c.state.KVGet(c.key("config", tokenIn.Hex(), tokenOut.Hex()), &stored)
	if err != nil {
		return types.ConversionConfig{}, err
	}
	if !ok {
		return types.ConversionConfig{Incentive: big.NewInt(0), Access: types.AccessNone}, nil
	}
	if stored.Incentive == nil {
		stored.Incentive = big.NewInt(0)
	}
	return types.ConversionConfig{Incentive: stored.Incentive, Access: types.AccessLevel(stored.Access)}, nil
}

// BalanceOf returns the amount of tok the converter can pay out.
func (c *Converter) BalanceOf(tok ethcommon.Address) (*big.Int, error) {
	return c.hooks.availableBalance(tok)
}

func (c *Converter) rawBalance(tok ethcommon.Address, account ethcommon.Address) (*big.Int, error) {
	t, err := c.tokens.Get(tok)
	if err != nil {
		return nil, err
	}
	return t.BalanceOf(account)
}

func (c *Converter) isNetworkMember(caller ethcommon.Address) bool {
	return c.network != nil && c.network.IsTokenConverter(caller)
}

func (c *Converter) authorize(caller ethcommon.Address, method string) error {
	if c.access == nil || !c.access.IsAllowedToCall(caller, method) {
		return fmt.Errorf("%w: %s may not call %s", nativecommon.ErrUnauthorized, caller.Hex(), method)
	}
	return nil
}

func (c *Converter) enter() (func(), error) {
	return c.guard.Enter()
}

// pull moves amount of tok from from to the converter and returns what
// actually arrived.
func (c *Converter) pull(tok, from ethcommon.Address, amount *big.Int) (*big.Int, error) {
	t, err := c.tokens.Get(tok)
	if err != nil {
		return nil, err
	}
	before, err := t.BalanceOf(c.address)
	if err != nil {
		return nil, err
	}
	if err := t.TransferFrom(c.address, from, c.address, amount); err != nil {
		return nil, err
	}
	after, err := t.BalanceOf(c.address)
	if err != nil {
		return nil, err
	}
	return after.Sub(after, before), nil
}

// push sends amount of tok to to and returns what to actually received.
func (c *Converter) push(tok, to ethcommon.Address, amount *big.Int) (*big.Int, error) {
	t, err := c.tokens.Get(tok)
	if err != nil {
		return nil, err
	}
	before, err := t.BalanceOf(to)
	if err != nil {
		return nil, err
	}
	if err := t.Transfer(c.address, to, amount); err != nil {
		return nil, err
	}
	after, err := t.BalanceOf(to)
	if err != nil {
		return nil, err
	}
	return after.Sub(after, before), nil
}

// forwardToDestination sends amount of tok to the destination and reports it.
func (c *Converter) forwardToDestination(pool, tok ethcommon.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	dest, err := c.requireDestination()
	if err != nil {
		return nil, err
	}
	delivered, err := c.push(tok, dest, amount)
	if err != nil {
		return nil, err
	}
	c.emitter.Emit(events.AssetTransferredToDestination{
		Converter:   c.address,
		Destination: dest,
		Pool:        pool,
		Asset:       tok,
		Amount:      delivered,
	})
	return delivered, nil
}
