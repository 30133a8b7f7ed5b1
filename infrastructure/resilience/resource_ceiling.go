package resilience

import "sync"

// CeilingState is the resource-ceiling equivalent of a circuit breaker's
// closed/open states: healthy below the warning threshold, warning once
// crossed, and limit once the refusal threshold is crossed.
type CeilingState int

const (
	CeilingHealthy CeilingState = iota
	CeilingWarning
	CeilingLimit
)

func (s CeilingState) String() string {
	switch s {
	case CeilingHealthy:
		return "healthy"
	case CeilingWarning:
		return "warning"
	case CeilingLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// ResourceCeilingConfig sets the warning and refusal fractions, per spec
// §4.3 "Resource ceiling".
type ResourceCeilingConfig struct {
	// WarningFraction is the system resource fraction (0..1) at which a
	// warning event is published. Default 0.75.
	WarningFraction float64
	// LimitFraction is the fraction at which new create() calls are
	// refused with a Capacity error. Default 0.90.
	LimitFraction float64
	OnStateChange func(from, to CeilingState)
}

// DefaultResourceCeilingConfig returns the spec defaults: warning at 75%,
// limit at 90%.
func DefaultResourceCeilingConfig() ResourceCeilingConfig {
	return ResourceCeilingConfig{WarningFraction: 0.75, LimitFraction: 0.90}
}

// ResourceCeiling evaluates a sampled resource fraction against the
// configured thresholds and reports the resulting state.
type ResourceCeiling struct {
	mu     sync.Mutex
	config ResourceCeilingConfig
	state  CeilingState
}

// NewResourceCeiling creates a ResourceCeiling with cfg, filling unset
// fields with DefaultResourceCeilingConfig's values.
func NewResourceCeiling(cfg ResourceCeilingConfig) *ResourceCeiling {
	if cfg.WarningFraction <= 0 {
		cfg.WarningFraction = 0.75
	}
	if cfg.LimitFraction <= 0 {
		cfg.LimitFraction = 0.90
	}
	return &ResourceCeiling{config: cfg, state: CeilingHealthy}
}

// Sample records a new system resource fraction (the larger of the
// memory and cpu fractions the caller has sampled) and returns the
// resulting state.
func (r *ResourceCeiling) Sample(fraction float64) CeilingState {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next CeilingState
	switch {
	case fraction >= r.config.LimitFraction:
		next = CeilingLimit
	case fraction >= r.config.WarningFraction:
		next = CeilingWarning
	default:
		next = CeilingHealthy
	}

	if next != r.state {
		old := r.state
		r.state = next
		if r.config.OnStateChange != nil {
			go r.config.OnStateChange(old, next)
		}
	}
	return next
}

// State returns the last-sampled state.
func (r *ResourceCeiling) State() CeilingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RefusesNewInstances reports whether create() calls should currently be
// refused with a Capacity error.
func (r *ResourceCeiling) RefusesNewInstances() bool {
	return r.State() == CeilingLimit
}
