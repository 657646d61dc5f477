package watcher

import (
	"sync"
	"time"
)

// State is the debounce state of one subscription.
type State int

const (
	StateIdle State = iota
	StateDebouncing
)

// String returns the string representation of State
func (s State) String() string {
	if s == StateDebouncing {
		return "debouncing"
	}
	return "idle"
}

// gate is a leading-edge debouncer. admit returns true for the first event
// after an idle period and false for every event until the window elapses.
// The window is timed with time.AfterFunc, never by blocking the caller.
type gate struct {
	mu      sync.Mutex
	window  time.Duration
	state   State
	timer   *time.Timer
	stopped bool
}

func newGate(window time.Duration) *gate {
	return &gate{window: window}
}

func (g *gate) admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped || g.state == StateDebouncing {
		return false
	}
	g.state = StateDebouncing
	g.timer = time.AfterFunc(g.window, g.reset)
	return true
}

func (g *gate) reset() {
	g.mu.Lock()
	g.state = StateIdle
	g.timer = nil
	g.mu.Unlock()
}

func (g *gate) current() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *gate) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
