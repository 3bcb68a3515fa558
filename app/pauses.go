package app

import (
	"strings"
	"sync"
)

// Pauses is the set of modules governance has halted. Modules consult it
// through nativecommon.Guard on every state-changing entry point.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses returns a pause set with modules already halted.
func NewPauses(modules ...string) *Pauses {
	p := &Pauses{paused: make(map[string]bool)}
	for _, module := range modules {
		p.Set(module, true)
	}
	return p
}

// IsPaused implements nativecommon.PauseView.
func (p *Pauses) IsPaused(module string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[normalize(module)]
}

// Set halts or resumes module.
func (p *Pauses) Set(module string, paused bool) {
	name := normalize(module)
	if name == "" {
		return
	}
	p.mu.Lock()
	if paused {
		p.paused[name] = true
	} else {
		delete(p.paused, name)
	}
	p.mu.Unlock()
}

func normalize(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
