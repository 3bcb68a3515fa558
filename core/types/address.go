package types

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// OptionalAddress models an address that may be unset. The zero value is
// unset; an explicitly configured zero address is still reported as set.
type OptionalAddress struct {
	addr ethcommon.Address
	set  bool
}

// SomeAddress wraps a configured address.
func SomeAddress(addr ethcommon.Address) OptionalAddress {
	return OptionalAddress{addr: addr, set: true}
}

// NoAddress returns the unset value.
func NoAddress() OptionalAddress { return OptionalAddress{} }

// Get returns the address and whether it was configured.
func (o OptionalAddress) Get() (ethcommon.Address, bool) {
	return o.addr, o.set
}

// IsSet reports whether an address was configured.
func (o OptionalAddress) IsSet() bool { return o.set }

// Is reports whether the optional holds exactly addr.
func (o OptionalAddress) Is(addr ethcommon.Address) bool {
	return o.set && o.addr == addr
}

func (o OptionalAddress) String() string {
	if !o.set {
		return "<unset>"
	}
	return o.addr.Hex()
}
