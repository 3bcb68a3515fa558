package common

import "errors"

// Input validation.
var (
	ErrZeroAddressNotAllowed = errors.New("treasury: zero address not allowed")
	ErrInvalidArguments      = errors.New("treasury: invalid arguments")
	ErrInputLengthMisMatch   = errors.New("treasury: input length mismatch")
	ErrIncentiveTooHigh      = errors.New("treasury: incentive too high")
	ErrInvalidAccessLevel    = errors.New("treasury: invalid access level")
)

// State and configuration.
var (
	ErrConversionConfigNotEnabled = errors.New("treasury: conversion config not enabled")
	ErrConversionTokensPaused     = errors.New("treasury: conversion tokens paused")
	ErrConversionTokensActive     = errors.New("treasury: conversion tokens active")
	ErrConverterAlreadyExists     = errors.New("treasury: converter already exists")
	ErrConverterDoesNotExist      = errors.New("treasury: converter does not exist")
	ErrMaxConvertersReached       = errors.New("treasury: max converters reached")
	ErrMarketNotExistInPool       = errors.New("treasury: market does not exist in pool")
	ErrInvalidTotalPercentage     = errors.New("treasury: distribution percentages must sum to 10000 bps")

	ErrConversionEnabledOnlyForPrivateConversions = errors.New("treasury: conversion enabled only for private conversions")
	ErrConversionEnabledOnlyForUsers              = errors.New("treasury: conversion enabled only for users")
)

// Economic and slippage.
var (
	ErrAmountOutLowerThanMinRequired = errors.New("treasury: amount out lower than min required")
	ErrAmountInHigherThanMax         = errors.New("treasury: amount in higher than max")
	ErrInsufficientInputAmount       = errors.New("treasury: insufficient input amount")
	ErrInsufficientOutputAmount      = errors.New("treasury: insufficient output amount")
	ErrAmountInOrAmountOutMismatched = errors.New("treasury: amount in or amount out mismatched")
	ErrInsufficientPoolLiquidity     = errors.New("treasury: insufficient pool liquidity")
	ErrInsufficientBalance           = errors.New("treasury: insufficient balance")
	ErrInsufficientPoolReserve       = errors.New("treasury: insufficient pool reserve")
)

// Authorization and call safety.
var (
	ErrUnauthorized  = errors.New("treasury: unauthorized")
	ErrReentrantCall = errors.New("treasury: reentrant call")
)
