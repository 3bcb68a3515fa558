package common

import (
	"errors"
	"sync/atomic"
)

var ErrModulePaused = errors.New("treasury: module paused")

// PauseView exposes the emergency pause switches maintained by governance.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is paused in p.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard rejects nested entry into a contract while a call is in
// flight. Token transfer hooks can call back into the contract that issued
// the transfer; those calls fail with ErrReentrantCall.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter marks the contract as busy. The returned function releases it.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if !g.entered.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.entered.Store(false) }, nil
}

// Entered reports whether a call is currently in flight.
func (g *ReentrancyGuard) Entered() bool {
	return g.entered.Load()
}
