package types

import (
	"fmt"
	"math/big"
	"strings"
)

// AccessLevel controls who may use a conversion pair.
type AccessLevel uint8

const (
	// AccessNone disables the pair.
	AccessNone AccessLevel = iota
	// AccessAll allows both users and network converters.
	AccessAll
	// AccessOnlyForConverters restricts the pair to private conversions.
	AccessOnlyForConverters
	// AccessOnlyForUsers restricts the pair to public conversions.
	AccessOnlyForUsers
)

func (a AccessLevel) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessAll:
		return "all"
	case AccessOnlyForConverters:
		return "converters"
	case AccessOnlyForUsers:
		return "users"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// Valid reports whether a is a known access level.
func (a AccessLevel) Valid() bool {
	return a <= AccessOnlyForUsers
}

// AllowsPrivate reports whether network converters may use the pair.
func (a AccessLevel) AllowsPrivate() bool {
	return a == AccessAll || a == AccessOnlyForConverters
}

// AllowsUsers reports whether end users may use the pair.
func (a AccessLevel) AllowsUsers() bool {
	return a == AccessAll || a == AccessOnlyForUsers
}

// ParseAccessLevel maps configuration strings onto access levels.
func ParseAccessLevel(raw string) (AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none", "disabled":
		return AccessNone, nil
	case "all", "user_and_private":
		return AccessAll, nil
	case "converters", "private_only", "only_for_converters":
		return AccessOnlyForConverters, nil
	case "users", "only_for_users":
		return AccessOnlyForUsers, nil
	default:
		return AccessNone, fmt.Errorf("unknown access level %q", raw)
	}
}

// ConversionConfig is the per-pair configuration read by the pricing engine.
// Incentive is an 18-decimal mantissa.
type ConversionConfig struct {
	Incentive *big.Int
	Access    AccessLevel
}

// Enabled reports whether the pair accepts conversions at all.
func (c ConversionConfig) Enabled() bool {
	return c.Access != AccessNone
}

// Clone returns a deep copy of the configuration.
func (c ConversionConfig) Clone() ConversionConfig {
	clone := ConversionConfig{Access: c.Access, Incentive: big.NewInt(0)}
	if c.Incentive != nil {
		clone.Incentive = new(big.Int).Set(c.Incentive)
	}
	return clone
}
