// Package resilience provides fault tolerance patterns used by the
// supervisor: a circuit-breaker-shaped state machine adapted into
// crash-window supervision for per-account instance runtimes.
package resilience

import (
	"sync"
	"time"
)

// InstanceState is the crash-supervision state of one instance runtime.
type InstanceState int

const (
	// StateHealthy is the closed-circuit equivalent: crashes within the
	// window are below the threshold, restarts proceed normally.
	StateHealthy InstanceState = iota
	// StateRestartPending mirrors half-open: a restart has been scheduled
	// after a crash and has not yet been observed to succeed or fail.
	StateRestartPending
	// StateCrashed is the open-circuit equivalent and is terminal: the
	// window's crash threshold was exceeded and no further auto-restart
	// will be scheduled until an external reset.
	StateCrashed
)

func (s InstanceState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateRestartPending:
		return "restart-pending"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// CrashWindowConfig configures a CrashWindow.
type CrashWindowConfig struct {
	// Window is the rolling interval over which crash timestamps are kept.
	Window time.Duration
	// MaxCrashCount is the number of crashes tolerated within Window before
	// the instance is considered terminal.
	MaxCrashCount int
	// RestartDelay is the deferred-restart wait after a non-terminal crash.
	RestartDelay time.Duration
	// OnStateChange, if set, is invoked (in its own goroutine) on every
	// state transition.
	OnStateChange func(from, to InstanceState)
}

// DefaultCrashWindowConfig returns the spec defaults: a 5-minute window,
// three tolerated crashes, and a 5-second restart delay.
func DefaultCrashWindowConfig() CrashWindowConfig {
	return CrashWindowConfig{
		Window:        5 * time.Minute,
		MaxCrashCount: 3,
		RestartDelay:  5 * time.Second,
	}
}

// CrashWindow tracks crash timestamps for a single instance and decides,
// on each crash, whether a restart should be scheduled or the instance
// should become terminal.
type CrashWindow struct {
	mu     sync.Mutex
	config CrashWindowConfig
	state  InstanceState
	crashes []time.Time
}

// NewCrashWindow creates a CrashWindow with cfg, filling unset fields with
// DefaultCrashWindowConfig's values.
func NewCrashWindow(cfg CrashWindowConfig) *CrashWindow {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.MaxCrashCount <= 0 {
		cfg.MaxCrashCount = 3
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	return &CrashWindow{config: cfg, state: StateHealthy}
}

// State returns the current crash-supervision state.
func (c *CrashWindow) State() InstanceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RecordCrash records a crash at now and returns the resulting decision:
// shouldRestart is true when a restart should be scheduled after
// RestartDelay; when false, the instance has transitioned to StateCrashed.
func (c *CrashWindow) RecordCrash(now time.Time) (shouldRestart bool, restartDelay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateCrashed {
		return false, 0
	}

	c.crashes = c.prune(c.crashes, now)
	c.crashes = append(c.crashes, now)

	if len(c.crashes) > c.config.MaxCrashCount {
		c.setState(StateCrashed)
		return false, 0
	}

	c.setState(StateRestartPending)
	return true, c.config.RestartDelay
}

// RecordRestartSucceeded marks the pending restart as having brought the
// instance back to a healthy, running state.
func (c *CrashWindow) RecordRestartSucceeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRestartPending {
		c.setState(StateHealthy)
	}
}

// Reset clears the crash window, mirroring spec §4.3's "explicit restart
// resets the window" rule — used when a user-initiated restart occurs
// against a terminal instance.
func (c *CrashWindow) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crashes = nil
	c.setState(StateHealthy)
}

// CrashCount reports the number of crashes currently counted within the
// live window, as of now.
func (c *CrashWindow) CrashCount(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crashes = c.prune(c.crashes, now)
	return len(c.crashes)
}

func (c *CrashWindow) prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-c.config.Window)
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (c *CrashWindow) setState(newState InstanceState) {
	if c.state == newState {
		return
	}
	old := c.state
	c.state = newState
	if c.config.OnStateChange != nil {
		go c.config.OnStateChange(old, newState)
	}
}
