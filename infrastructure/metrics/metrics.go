// Package metrics provides Prometheus metrics collection for the host.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/multiacct/sessionhost/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics exposed by the host.
type Metrics struct {
	// HTTP/IPC metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Instance/supervisor metrics
	InstancesRunning    prometheus.Gauge
	InstanceCrashTotal  *prometheus.CounterVec
	InstanceMemoryBytes *prometheus.GaugeVec
	InstanceCPUFraction *prometheus.GaugeVec

	// View switching metrics
	SwitchDuration *prometheus.HistogramVec
	SwitchTotal    *prometheus.CounterVec

	// Migration metrics
	MigrationRecordsTotal *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
// against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionhost_ipc_requests_total",
				Help: "Total number of IPC channel requests",
			},
			[]string{"channel", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessionhost_ipc_request_duration_seconds",
				Help:    "IPC request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"channel"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessionhost_ipc_requests_in_flight",
				Help: "Current number of IPC requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionhost_errors_total",
				Help: "Total number of errors by category",
			},
			[]string{"category"},
		),

		InstancesRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessionhost_instances_running",
				Help: "Current number of running account instances",
			},
		),
		InstanceCrashTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionhost_crash_total",
				Help: "Total number of instance crashes by account",
			},
			[]string{"account_id"},
		),
		InstanceMemoryBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sessionhost_instance_memory_bytes",
				Help: "Last-sampled resident memory of an account's instance",
			},
			[]string{"account_id"},
		),
		InstanceCPUFraction: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sessionhost_instance_cpu_fraction",
				Help: "Last-sampled CPU fraction of an account's instance",
			},
			[]string{"account_id"},
		),

		SwitchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessionhost_switch_duration_seconds",
				Help:    "View switch latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"status"},
		),
		SwitchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionhost_switch_total",
				Help: "Total number of view switch attempts",
			},
			[]string{"status"},
		),

		MigrationRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionhost_migration_records_total",
				Help: "Total number of account records processed by the migration engine",
			},
			[]string{"status"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessionhost_uptime_seconds",
				Help: "Host process uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sessionhost_info",
				Help: "Host build/environment information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.InstancesRunning,
			m.InstanceCrashTotal,
			m.InstanceMemoryBytes,
			m.InstanceCPUFraction,
			m.SwitchDuration,
			m.SwitchTotal,
			m.MigrationRecordsTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordIPCRequest records one IPC channel request.
func (m *Metrics) RecordIPCRequest(channel, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(channel, status).Inc()
	m.RequestDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordError records one categorized error.
func (m *Metrics) RecordError(category string) {
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

// RecordCrash records one instance crash for an account.
func (m *Metrics) RecordCrash(accountID string) {
	m.InstanceCrashTotal.WithLabelValues(accountID).Inc()
}

// SetInstanceSample records a memory/cpu sample for an account's instance.
func (m *Metrics) SetInstanceSample(accountID string, memoryBytes uint64, cpuFraction float64) {
	m.InstanceMemoryBytes.WithLabelValues(accountID).Set(float64(memoryBytes))
	m.InstanceCPUFraction.WithLabelValues(accountID).Set(cpuFraction)
}

// SetInstancesRunning sets the current running-instance count.
func (m *Metrics) SetInstancesRunning(n int) {
	m.InstancesRunning.Set(float64(n))
}

// RecordSwitch records one view switch attempt and its latency.
func (m *Metrics) RecordSwitch(status string, duration time.Duration) {
	m.SwitchTotal.WithLabelValues(status).Inc()
	m.SwitchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordMigrationRecord records one migrated-record outcome.
func (m *Metrics) RecordMigrationRecord(status string) {
	m.MigrationRecordsTotal.WithLabelValues(status).Inc()
}

// UpdateUptime updates the service uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight IPC request counter.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight IPC request counter.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether the Prometheus /metrics endpoint should be
// exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, initializing it with a
// placeholder name if necessary.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
