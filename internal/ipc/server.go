// Package ipc implements the Shell/IPC Surface (spec §6): a local HTTP
// request-response channel set plus a websocket push channel for one-way
// notifications, grounded on the teacher's infrastructure/service.Runner
// wiring (mux.Router, promhttp.Handler, applyMiddleware, graceful
// shutdown).
package ipc

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/infrastructure/metrics"
	appmiddleware "github.com/multiacct/sessionhost/infrastructure/middleware"
	"github.com/multiacct/sessionhost/internal/accounts"
	"github.com/multiacct/sessionhost/internal/isolation"
	"github.com/multiacct/sessionhost/internal/migration"
	"github.com/multiacct/sessionhost/internal/monitor"
	"github.com/multiacct/sessionhost/internal/supervisor"
	"github.com/multiacct/sessionhost/internal/switching"
)

// Server is the Shell/IPC Surface: the local HTTP boundary the desktop
// shell and its dialogs speak to.
type Server struct {
	store        *accounts.Store
	supervisor   *supervisor.Supervisor
	switcher     *switching.Engine
	migration    *migration.Engine
	materializer *isolation.Materializer
	bus          *monitor.Bus
	hub          *Hub
	rateLimiter  *appmiddleware.RateLimiter
	health       *appmiddleware.HealthChecker
	metrics      *metrics.Metrics
	logger       *logging.Logger
	startedAt    time.Time
}

// Deps bundles every component the IPC surface dispatches channel calls to.
type Deps struct {
	Store        *accounts.Store
	Supervisor   *supervisor.Supervisor
	Switching    *switching.Engine
	Migration    *migration.Engine
	Materializer *isolation.Materializer
	Bus          *monitor.Bus
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
}

// NewServer constructs a Server, its websocket notification Hub, and
// subscribes the Hub to the shared event bus so every domain publish
// fans out to connected shell clients as a named notification (spec §6
// "Notifications (main → shell)").
func NewServer(d Deps) *Server {
	hub := NewHub(d.Logger)
	if d.Bus != nil {
		d.Bus.Subscribe(hub.forward)
	}

	s := &Server{
		store:        d.Store,
		supervisor:   d.Supervisor,
		switcher:     d.Switching,
		migration:    d.Migration,
		materializer: d.Materializer,
		bus:          d.Bus,
		hub:          hub,
		rateLimiter:  appmiddleware.NewRateLimiterWithWindow(50, time.Second, 100, d.Logger),
		health:       appmiddleware.NewHealthChecker(d.Logger),
		metrics:      d.Metrics,
		logger:       d.Logger,
		startedAt:    time.Now(),
	}

	s.health.RegisterCheck("migration", func() error {
		done, _, err := s.migration.Status()
		if err != nil {
			return err
		}
		if !done {
			return errMigrationIncomplete
		}
		return nil
	})

	return s
}

// Router builds the mux.Router serving every whitelisted channel under
// /ipc/{channel}, the websocket notification endpoint, and the standard
// health/metrics endpoints (spec §6, SPEC_FULL §12).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(appmiddleware.LoggingMiddleware(s.logger))
	r.Use(appmiddleware.NewRecoveryMiddleware(s.logger).Handler)
	if s.metrics != nil {
		r.Use(appmiddleware.MetricsMiddleware(s.metrics))
		if metrics.Enabled() {
			r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
		}
	}
	r.Use(s.rateLimiter.Handler)

	r.HandleFunc("/ipc/{channel}", s.dispatch).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.hub.ServeHTTP).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health.Handler()).Methods(http.MethodGet)

	ready := true
	r.HandleFunc("/readyz", appmiddleware.ReadinessHandler(s.logger, &ready)).Methods(http.MethodGet)

	return r
}

var errMigrationIncomplete = &migrationIncompleteError{}

type migrationIncompleteError struct{}

func (*migrationIncompleteError) Error() string { return "migration has not completed" }
