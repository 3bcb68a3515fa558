package converter

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"protocolreserve/core/events"
	"protocolreserve/core/oracle"
	"protocolreserve/core/types"
	nativecommon "protocolreserve/native/common"
)

// Method identifiers checked against the access control manager.
const (
	MethodSetConversionConfig   = "setConversionConfig(address,address,ConversionConfig)"
	MethodPauseConversion       = "pauseConversion()"
	MethodResumeConversion      = "resumeConversion()"
	MethodSetPriceOracle        = "setPriceOracle(address)"
	MethodSetDestination        = "setDestination(address)"
	MethodSetConverterNetwork   = "setConverterNetwork(address)"
	MethodSetMinAmountToConvert = "setMinAmountToConvert(uint256)"
	MethodSweepToken            = "sweepToken(address,address,uint256)"
	MethodSetDirectTransfer     = "setPoolsAssetsDirectTransfer(address[],address[][],bool[][])"
)

// AdminMethods lists every permissioned method of a converter.
var AdminMethods = []string{
	MethodSetConversionConfig,
	MethodPauseConversion,
	MethodResumeConversion,
	MethodSetPriceOracle,
	MethodSetDestination,
	MethodSetConverterNetwork,
	MethodSetMinAmountToConvert,
	MethodSweepToken,
	MethodSetDirectTransfer,
}

// SetConversionConfig configures the tokenIn to tokenOut pair.
func (c *Converter) SetConversionConfig(caller, tokenIn, tokenOut ethcommon.Address, cfg types.ConversionConfig) error {
	if err := c.authorize(caller, MethodSetConversionConfig); err != nil {
		return err
	}
	return c.setConversionConfig(tokenIn, tokenOut, cfg)
}

// SetConversionConfigs configures several pairs sharing tokenIn.
func (c *Converter) SetConversionConfigs(caller, tokenIn ethcommon.Address, tokensOut []ethcommon.Address, cfgs []types.ConversionConfig) error {
	if err := c.authorize(caller, MethodSetConversionConfig); err != nil {
		return err
	}
	if len(tokensOut) != len(cfgs) {
		return nativecommon.ErrInputLengthMisMatch
	}
	for i := range tokensOut {
		if err := c.setConversionConfig(tokenIn, tokensOut[i], cfgs[i]); err != nil {
			return fmt.Errorf("pair %d: %w", i, err)
		}
	}
	return nil
}

func (c *Converter) setConversionConfig(tokenIn, tokenOut ethcommon.Address, cfg types.ConversionConfig) error {
	if tokenIn == (ethcommon.Address{}) || tokenOut == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	if tokenIn == tokenOut {
		return fmt.Errorf("%w: %s -> %s", nativecommon.ErrInvalidArguments, tokenIn.Hex(), tokenOut.Hex())
	}
	if !cfg.Access.Valid() {
		return nativecommon.ErrInvalidAccessLevel
	}
	incentive := big.NewInt(0)
	if cfg.Incentive != nil {
		if cfg.Incentive.Sign() < 0 {
			return nativecommon.ErrInvalidArguments
		}
		incentive.Set(cfg.Incentive)
	}
	if incentive.Cmp(MaxIncentive) > 0 {
		return fmt.Errorf("%w: %s above %s", nativecommon.ErrIncentiveTooHigh, incentive, MaxIncentive)
	}
	old, err := c.ConversionConfig(tokenIn, tokenOut)
	if err != nil {
		return err
	}
	if err := c.state.KVPut(c.key("config", tokenIn.Hex(), tokenOut.Hex()), storedConfig{Incentive: incentive, Access: uint8(cfg.Access)}); err != nil {
		return err
	}
	c.emitter.Emit(events.ConversionConfigUpdated{
		Converter:    c.address,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		OldIncentive: old.Incentive,
		NewIncentive: incentive,
		OldAccess:    old.Access,
		NewAccess:    cfg.Access,
	})
	return nil
}

// PauseConversion stops every conversion entry point.
func (c *Converter) PauseConversion(caller ethcommon.Address) error {
	if err := c.authorize(caller, MethodPauseConversion); err != nil {
		return err
	}
	paused, err := c.ConversionPaused()
	if err != nil {
		return err
	}
	if paused {
		return nativecommon.ErrConversionTokensPaused
	}
	if err := c.state.KVPut(c.key("paused"), true); err != nil {
		return err
	}
	c.emitter.Emit(events.ConversionPaused{Converter: c.address, Caller: caller})
	return nil
}

// ResumeConversion re-enables conversions.
func (c *Converter) ResumeConversion(caller ethcommon.Address) error {
	if err := c.authorize(caller, MethodResumeConversion); err != nil {
		return err
	}
	paused, err := c.ConversionPaused()
	if err != nil {
		return err
	}
	if !paused {
		return nativecommon.ErrConversionTokensActive
	}
	if err := c.state.KVPut(c.key("paused"), false); err != nil {
		return err
	}
	c.emitter.Emit(events.ConversionResumed{Converter: c.address, Caller: caller})
	return nil
}

// SetPriceOracle replaces the price source.
func (c *Converter) SetPriceOracle(caller ethcommon.Address, source oracle.PriceSource) error {
	if err := c.authorize(caller, MethodSetPriceOracle); err != nil {
		return err
	}
	if source == nil {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	old := c.oracle
	c.oracle = source
	c.emitter.Emit(events.FieldUpdated{Contract: c.address, Field: "PriceOracle", Old: describe(old), New: describe(source)})
	return nil
}

// SetDestination changes where the base asset is sent.
func (c *Converter) SetDestination(caller, destination ethcommon.Address) error {
	if err := c.authorize(caller, MethodSetDestination); err != nil {
		return err
	}
	if destination == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	old, err := c.Destination()
	if err != nil {
		return err
	}
	if err := c.state.KVPut(c.key("destination"), storedAddress{Address: destination}); err != nil {
		return err
	}
	oldAddr, _ := old.Get()
	c.emitter.Emit(events.AddressUpdated(c.address, "DestinationAddress", oldAddr, destination))
	return nil
}

// SetConverterNetwork attaches the converter to a network.
func (c *Converter) SetConverterNetwork(caller ethcommon.Address, network Network) error {
	if err := c.authorize(caller, MethodSetConverterNetwork); err != nil {
		return err
	}
	if network == nil || network.Address() == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	var oldAddr ethcommon.Address
	if c.network != nil {
		oldAddr = c.network.Address()
	}
	c.network = network
	c.emitter.Emit(events.AddressUpdated(c.address, "ConverterNetworkAddress", oldAddr, network.Address()))
	return nil
}

// SetMinAmountToConvert changes the USD threshold of private conversions.
func (c *Converter) SetMinAmountToConvert(caller ethcommon.Address, amount *big.Int) error {
	if err := c.authorize(caller, MethodSetMinAmountToConvert); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: min amount to convert must be positive", nativecommon.ErrInvalidArguments)
	}
	old, err := c.MinAmountToConvert()
	if err != nil {
		return err
	}
	if err := c.state.KVPut(c.key("minAmountToConvert"), new(big.Int).Set(amount)); err != nil {
		return err
	}
	c.emitter.Emit(events.AmountUpdated(c.address, "MinAmountToConvert", old, amount))
	return nil
}

// SweepToken sends amount of tok held by the converter to to. Funds the
// converter accounts for cannot be swept.
func (c *Converter) SweepToken(caller, tok, to ethcommon.Address, amount *big.Int) error {
	if err := c.authorize(caller, MethodSweepToken); err != nil {
		return err
	}
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()
	if to == (ethcommon.Address{}) {
		return nativecommon.ErrZeroAddressNotAllowed
	}
	if amount == nil || amount.Sign() <= 0 {
		return nativecommon.ErrInvalidArguments
	}
	if err := c.hooks.preSweep(tok, amount); err != nil {
		return err
	}
	t, err := c.tokens.Get(tok)
	if err != nil {
		return err
	}
	if err := t.Transfer(c.address, to, amount); err != nil {
		return err
	}
	c.emitter.Emit(events.TokenSwept{Contract: c.address, Token: tok, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func describe(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%T", v)
	}
}
