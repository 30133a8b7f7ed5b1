// Package supervisor implements the Instance Supervisor (spec §4.3): per-
// account runtime lifecycle, crash-window supervision, health probing, and
// the global resource ceiling.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	gopscpu "github.com/shirou/gopsutil/v3/cpu"
	gopsmem "github.com/shirou/gopsutil/v3/mem"
	gopsprocess "github.com/shirou/gopsutil/v3/process"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/infrastructure/metrics"
	"github.com/multiacct/sessionhost/infrastructure/resilience"
	"github.com/multiacct/sessionhost/internal/accounts"
	"github.com/multiacct/sessionhost/internal/hostconfig"
	"github.com/multiacct/sessionhost/internal/isolation"
)

// State is an instance's externally observable lifecycle state.
type State string

const (
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateRestarting  State = "restarting"
	StateCrashed     State = "crashed"
	StateUnresponsive State = "unresponsive"
	StateStopped     State = "stopped"
)

// ProcessHandle is the runtime's live worker process. The host process that
// embeds this module (the desktop shell) supplies the concrete
// implementation — spawning and driving an isolated browser view is outside
// what a Go backend module does directly.
type ProcessHandle interface {
	// Pid returns the OS process id backing this instance, for diagnostics.
	Pid() int
	// Probe runs the liveness callback with the given timeout, returning an
	// error (including context.DeadlineExceeded) on failure to respond.
	Probe(ctx context.Context, timeout time.Duration) error
	// Stop requests a graceful close; if the process is still alive after
	// timeout, the implementation force-terminates it before returning.
	Stop(ctx context.Context, timeout time.Duration) error
}

// Launcher creates and tears down ProcessHandles for a runtime.
type Launcher interface {
	Launch(ctx context.Context, runtime isolation.Runtime) (ProcessHandle, error)
}

// EventPublisher is the narrow slice of the Error & Monitoring Subsystem's
// event bus the Supervisor depends on, kept as an interface here to avoid a
// direct dependency on the monitor package's concrete bus type.
type EventPublisher interface {
	Publish(source string, category hosterrors.Category, accountID string, message string, details map[string]interface{})
}

type instanceEntry struct {
	accountID   string
	runtime     isolation.Runtime
	handle      ProcessHandle
	state       State
	crashWindow *resilience.CrashWindow
	lastHealth  time.Time
	memoryBytes uint64
	cpuFraction float64
	restartTimer *time.Timer
}

// Supervisor is the Instance Supervisor (spec §4.3).
type Supervisor struct {
	mu           sync.Mutex
	instances    map[string]*instanceEntry
	launcher     Launcher
	materializer *isolation.Materializer
	cfg          hostconfig.SupervisorConfig
	ceiling      *resilience.ResourceCeiling
	logger       *logging.Logger
	metrics      *metrics.Metrics
	events       EventPublisher
	cron         *cron.Cron
	now          func() time.Time
}

// New constructs a Supervisor. events may be nil (no publication).
func New(launcher Launcher, materializer *isolation.Materializer, cfg hostconfig.SupervisorConfig, logger *logging.Logger, m *metrics.Metrics, events EventPublisher) *Supervisor {
	s := &Supervisor{
		instances:    make(map[string]*instanceEntry),
		launcher:     launcher,
		materializer: materializer,
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		events:       events,
		now:          time.Now,
	}
	s.ceiling = resilience.NewResourceCeiling(resilience.ResourceCeilingConfig{
		WarningFraction: cfg.WarningFraction,
		LimitFraction:   cfg.LimitFraction,
		OnStateChange:   s.onCeilingStateChange,
	})
	return s
}

// Start launches the periodic health tick (spec §4.3 "Health probing") on a
// ~10s cron schedule (the "@every" cron syntax, not a fixed clock time,
// since this is a fixed-interval tick rather than a calendar trigger).
func (s *Supervisor) Start(ctx context.Context) error {
	s.cron = cron.New()
	interval := s.cfg.HealthTick
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.healthTick(ctx)
	}); err != nil {
		return fmt.Errorf("schedule health tick: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the health tick and gracefully tears down every running
// instance, aggregating any per-instance shutdown failures.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cron != nil {
		cronStopCtx := s.cron.Stop()
		<-cronStopCtx.Done()
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var result *multierror.Error
	for _, id := range ids {
		if err := s.Destroy(ctx, id, DestroyOptions{TimeoutMs: 5000}); err != nil {
			result = multierror.Append(result, fmt.Errorf("destroy %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}

// Create stands up an isolated runtime for account and registers its
// lifecycle hooks. Refuses with Capacity at maxInstances or when the
// resource ceiling is at CeilingLimit (spec §4.3).
func (s *Supervisor) Create(ctx context.Context, account accounts.Account) (ProcessHandle, error) {
	s.mu.Lock()
	if len(s.instances) >= s.cfg.MaxInstances {
		s.mu.Unlock()
		return nil, hosterrors.Capacity(s.cfg.MaxInstances)
	}
	if s.ceiling.RefusesNewInstances() {
		s.mu.Unlock()
		return nil, hosterrors.New(hosterrors.CategoryCapacity, "resource ceiling reached", 503)
	}
	if _, exists := s.instances[account.ID]; exists {
		s.mu.Unlock()
		return nil, hosterrors.DuplicateId(account.ID)
	}
	s.mu.Unlock()

	runtime, err := s.materializer.Build(account)
	if err != nil {
		return nil, err
	}

	handle, err := s.launcher.Launch(ctx, runtime)
	if err != nil {
		return nil, hosterrors.Wrap(hosterrors.CategoryInstanceCrash, "failed to launch instance", 500, err)
	}

	entry := &instanceEntry{
		accountID: account.ID,
		runtime:   runtime,
		handle:    handle,
		state:     StateStarting,
		crashWindow: resilience.NewCrashWindow(resilience.CrashWindowConfig{
			Window:        s.cfg.CrashWindow,
			MaxCrashCount: s.cfg.MaxCrashCount,
			RestartDelay:  s.cfg.RestartDelay,
		}),
		lastHealth: s.now(),
	}

	s.mu.Lock()
	s.instances[account.ID] = entry
	entry.state = StateRunning
	count := len(s.instances)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetInstancesRunning(count)
	}
	s.publish(hosterrors.Category(""), account.ID, "instance created", nil)
	return handle, nil
}

// DestroyOptions controls instance teardown.
type DestroyOptions struct {
	SaveState bool
	TimeoutMs int
}

// Destroy requests a graceful close, force-terminating after the timeout
// (default 5000ms per spec §4.3).
func (s *Supervisor) Destroy(ctx context.Context, id string, opts DestroyOptions) error {
	s.mu.Lock()
	entry, ok := s.instances[id]
	if !ok {
		s.mu.Unlock()
		return hosterrors.NotFound("instance", id)
	}
	delete(s.instances, id)
	count := len(s.instances)
	s.mu.Unlock()

	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	err := entry.handle.Stop(ctx, timeout)

	if s.metrics != nil {
		s.metrics.SetInstancesRunning(count)
	}
	s.publish(hosterrors.Category(""), id, "instanceStopped", map[string]interface{}{"id": id})
	return err
}

// Restart captures the current configuration, destroys the instance
// (preserving state), waits a ~1s release window, then recreates it with
// the same configuration (spec §4.3).
func (s *Supervisor) Restart(ctx context.Context, account accounts.Account) (ProcessHandle, error) {
	s.mu.Lock()
	if entry, ok := s.instances[account.ID]; ok {
		entry.state = StateRestarting
	}
	s.mu.Unlock()

	if err := s.Destroy(ctx, account.ID, DestroyOptions{SaveState: true, TimeoutMs: 5000}); err != nil {
		if hosterrors.CategoryOf(err) != hosterrors.CategoryNotFound {
			return nil, hosterrors.RestartFailure(account.ID, err)
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
	}

	handle, err := s.Create(ctx, account)
	if err != nil {
		return nil, hosterrors.RestartFailure(account.ID, err)
	}
	return handle, nil
}

// UpdateProxy validates and applies a new proxy configuration to the
// account's running session without recreating the view.
func (s *Supervisor) UpdateProxy(ctx context.Context, account accounts.Account, proxy accounts.ProxySettings) error {
	account.Proxy = proxy
	if proxy.Enabled {
		if errs := accounts.Validate(account); len(errs) > 0 {
			return hosterrors.ValidationError(errs)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.instances[account.ID]
	if !ok {
		return hosterrors.NotFound("instance", account.ID)
	}
	entry.runtime.Proxy = proxy
	return nil
}

// Status is an observation snapshot of one instance.
type Status struct {
	AccountID   string
	State       State
	CrashState  resilience.InstanceState
	LastHealth  time.Time
	MemoryBytes uint64
	CPUFraction float64
}

// GetStatus returns the current status for id.
func (s *Supervisor) GetStatus(id string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.instances[id]
	if !ok {
		return Status{}, hosterrors.NotFound("instance", id)
	}
	return statusFromEntry(entry), nil
}

// ListRunning returns a status snapshot for every known instance.
func (s *Supervisor) ListRunning() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.instances))
	for _, entry := range s.instances {
		out = append(out, statusFromEntry(entry))
	}
	return out
}

// InstanceCount returns the number of currently tracked instances.
func (s *Supervisor) InstanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

func statusFromEntry(e *instanceEntry) Status {
	return Status{
		AccountID:   e.accountID,
		State:       e.state,
		CrashState:  e.crashWindow.State(),
		LastHealth:  e.lastHealth,
		MemoryBytes: e.memoryBytes,
		CPUFraction: e.cpuFraction,
	}
}

// ReportCrash records a crash event for id: schedules a restart if the
// crash window permits it, or transitions to terminal `crashed` otherwise
// (spec §4.3 "Crash supervision").
func (s *Supervisor) ReportCrash(ctx context.Context, account accounts.Account, cause error) {
	s.mu.Lock()
	entry, ok := s.instances[account.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	window := entry.crashWindow
	shouldRestart, delay := window.RecordCrash(s.now())
	crashCount := window.CrashCount(s.now())
	if !shouldRestart {
		entry.state = StateCrashed
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCrash(account.ID)
	}

	if !shouldRestart {
		s.publish(hosterrors.CategoryCrashThresholdExceeded, account.ID, "crash threshold exceeded", map[string]interface{}{"crashCount": crashCount})
		return
	}

	s.publish(hosterrors.CategoryInstanceCrash, account.ID, "instance crashed", map[string]interface{}{"cause": cause, "crashCount": crashCount})

	timer := time.AfterFunc(delay, func() {
		if _, err := s.Restart(ctx, account); err != nil {
			s.mu.Lock()
			if e, ok := s.instances[account.ID]; ok {
				e.crashWindow.RecordCrash(s.now())
			}
			s.mu.Unlock()
			s.publish(hosterrors.CategoryRestartFailure, account.ID, "restart attempt failed", map[string]interface{}{"error": err.Error()})
		} else {
			s.mu.Lock()
			if e, ok := s.instances[account.ID]; ok {
				// Restart recreated the entry; carry the crash history over
				// so crashes keep counting across automatic restarts.
				e.crashWindow = window
				e.crashWindow.RecordRestartSucceeded()
			}
			s.mu.Unlock()
		}
	})

	s.mu.Lock()
	if entry, ok := s.instances[account.ID]; ok {
		entry.restartTimer = timer
	}
	s.mu.Unlock()
}

// ResetCrashWindow performs a user-initiated restart window reset (spec
// §4.3 "terminal until a user-initiated restart resets the window").
func (s *Supervisor) ResetCrashWindow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.instances[id]
	if !ok {
		return hosterrors.NotFound("instance", id)
	}
	entry.crashWindow.Reset()
	entry.state = StateRunning
	return nil
}

// healthTick walks all runtimes, probing liveness and sampling memory/cpu
// (spec §4.3 "Health probing"), and samples the system-wide resource
// ceiling.
func (s *Supervisor) healthTick(ctx context.Context) {
	s.sampleResourceCeiling()

	s.mu.Lock()
	entries := make([]*instanceEntry, 0, len(s.instances))
	for _, e := range s.instances {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, entry := range entries {
		s.probeOne(ctx, entry)
	}
}

func (s *Supervisor) probeOne(ctx context.Context, entry *instanceEntry) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := entry.handle.Probe(probeCtx, 5*time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		entry.state = StateUnresponsive
		s.publish(hosterrors.CategoryUnresponsive, entry.accountID, "instance did not respond to liveness probe", nil)
		return
	}
	entry.lastHealth = s.now()
	if entry.state == StateUnresponsive {
		entry.state = StateRunning
	}

	if proc, procErr := gopsprocess.NewProcess(int32(entry.handle.Pid())); procErr == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			entry.memoryBytes = memInfo.RSS
		}
		if cpuPct, err := proc.CPUPercent(); err == nil {
			entry.cpuFraction = cpuPct / 100.0
		}
		if s.metrics != nil {
			s.metrics.SetInstanceSample(entry.accountID, entry.memoryBytes, entry.cpuFraction)
		}
	}
}

// sampleResourceCeiling samples system-wide memory and cpu fractions and
// feeds the larger of the two into the ResourceCeiling state machine (spec
// §4.3 "Resource ceiling").
func (s *Supervisor) sampleResourceCeiling() {
	fraction := 0.0
	if vm, err := gopsmem.VirtualMemory(); err == nil && vm != nil {
		fraction = vm.UsedPercent / 100.0
	}
	if cpuPcts, err := gopscpu.Percent(0, false); err == nil && len(cpuPcts) > 0 {
		if cpuPcts[0]/100.0 > fraction {
			fraction = cpuPcts[0] / 100.0
		}
	}
	s.ceiling.Sample(fraction)
}

func (s *Supervisor) onCeilingStateChange(from, to resilience.CeilingState) {
	switch to {
	case resilience.CeilingWarning:
		s.publish(hosterrors.Category(""), "", "resource ceiling warning", map[string]interface{}{"state": to.String()})
	case resilience.CeilingLimit:
		s.publish(hosterrors.Category(""), "", "resource ceiling limit reached; refusing new instances", map[string]interface{}{"state": to.String()})
	}
}

func (s *Supervisor) publish(category hosterrors.Category, accountID, message string, details map[string]interface{}) {
	if s.logger != nil {
		entry := s.logger.WithFields(map[string]interface{}{"accountId": accountID, "message": message})
		if details != nil {
			entry = entry.WithFields(details)
		}
		entry.Info("supervisor event")
	}
	if s.events != nil {
		s.events.Publish("supervisor", category, accountID, message, details)
	}
}
