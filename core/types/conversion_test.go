package types

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func TestParseAccessLevel(t *testing.T) {
	cases := map[string]AccessLevel{
		"":             AccessNone,
		"disabled":     AccessNone,
		"ALL":          AccessAll,
		"private_only": AccessOnlyForConverters,
		"users":        AccessOnlyForUsers,
	}
	for raw, want := range cases {
		got, err := ParseAccessLevel(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}
	if _, err := ParseAccessLevel("sometimes"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestAccessLevelPermissions(t *testing.T) {
	if !AccessAll.AllowsPrivate() || !AccessAll.AllowsUsers() {
		t.Fatalf("all must allow both paths")
	}
	if AccessOnlyForConverters.AllowsUsers() || !AccessOnlyForConverters.AllowsPrivate() {
		t.Fatalf("converter-only level misreported")
	}
	if AccessOnlyForUsers.AllowsPrivate() || !AccessOnlyForUsers.AllowsUsers() {
		t.Fatalf("user-only level misreported")
	}
	if AccessNone.AllowsPrivate() || AccessNone.AllowsUsers() {
		t.Fatalf("none must deny both paths")
	}
}

func TestConversionConfigClone(t *testing.T) {
	cfg := ConversionConfig{Incentive: big.NewInt(10), Access: AccessAll}
	clone := cfg.Clone()
	clone.Incentive.SetInt64(99)
	if cfg.Incentive.Int64() != 10 {
		t.Fatalf("clone shares incentive pointer")
	}
	if (ConversionConfig{}).Clone().Incentive.Sign() != 0 {
		t.Fatalf("nil incentive should clone to zero")
	}
}

func TestOptionalAddress(t *testing.T) {
	var unset OptionalAddress
	if unset.IsSet() {
		t.Fatalf("zero value must be unset")
	}
	zero := SomeAddress(ethcommon.Address{})
	if !zero.IsSet() || !zero.Is(ethcommon.Address{}) {
		t.Fatalf("explicit zero address must be set")
	}
	addr := ethcommon.HexToAddress("0x01")
	if _, ok := NoAddress().Get(); ok {
		t.Fatalf("NoAddress must be unset")
	}
	if got, ok := SomeAddress(addr).Get(); !ok || got != addr {
		t.Fatalf("unexpected optional contents")
	}
}
