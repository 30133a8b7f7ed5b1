package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/multiacct/sessionhost/infrastructure/logging"
)

// HealthStatus represents the /healthz response.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker runs named health checks for the /healthz endpoint and
// serves the /readyz endpoint.
type HealthChecker struct {
	mu        sync.RWMutex
	startTime time.Time
	checks    map[string]func() error
	logger    *logging.Logger
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(logger *logging.Logger) *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]func() error),
		logger:    logger,
	}
}

// RegisterCheck adds a named health check function.
func (h *HealthChecker) RegisterCheck(name string, check func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Handler returns the /healthz HTTP handler, aggregating every check added
// with RegisterCheck. The IPC server registers only a migration-completion
// check; instance health is not part of this endpoint.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		defer h.mu.RUnlock()

		status := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(h.startTime).String(),
			Checks:    make(map[string]string),
		}

		for name, check := range h.checks {
			if err := check(); err != nil {
				status.Status = "unhealthy"
				status.Checks[name] = err.Error()
			} else {
				status.Checks[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			h.logger.WithError(err).Warn("healthz handler encode failed")
		}
	}
}

// ReadinessHandler returns a /readyz handler gated on ready.
func ReadinessHandler(logger *logging.Logger, ready *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil && *ready {
			if err := json.NewEncoder(w).Encode(map[string]string{"status": "ready"}); err != nil {
				logger.WithError(err).Warn("readyz handler encode failed")
			}
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"}); err != nil {
			logger.WithError(err).Warn("readyz handler encode failed")
		}
	}
}
