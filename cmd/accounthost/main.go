// Command accounthost runs the account-isolation engine standalone: the
// Configuration Store, Session Isolation Layer, Instance Supervisor, View
// Switching Engine, Error & Monitoring Subsystem, Migration Engine, and
// Shell/IPC Surface, wired together and served over HTTP for a desktop
// shell to attach to.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/infrastructure/metrics"
	hostruntime "github.com/multiacct/sessionhost/infrastructure/runtime"
	"github.com/multiacct/sessionhost/internal/accounts"
	"github.com/multiacct/sessionhost/internal/app/system"
	"github.com/multiacct/sessionhost/internal/hostconfig"
	"github.com/multiacct/sessionhost/internal/ipc"
	"github.com/multiacct/sessionhost/internal/isolation"
	"github.com/multiacct/sessionhost/internal/migration"
	"github.com/multiacct/sessionhost/internal/monitor"
	"github.com/multiacct/sessionhost/internal/supervisor"
	"github.com/multiacct/sessionhost/internal/switching"
	pkglogger "github.com/multiacct/sessionhost/pkg/logger"
)

func main() {
	addr := flag.String("addr", ":8765", "HTTP listen address for the Shell/IPC Surface")
	dataDir := flag.String("data-dir", "", "override for the host's data directory (defaults to SESSIONHOST_DATA_DIR or the OS per-user path)")
	hostConfigPath := flag.String("host-config", "", "path to the host tuning config (defaults to <data-dir>/host-config.yaml)")
	rendererBinary := flag.String("renderer-binary", "", "path to the external per-account renderer-host binary; omit to run with the in-process reference view runtime")
	preloadScript := flag.String("preload-script", "", "path to the content-script injection hook applied to every view")
	shutdownTimeout := flag.Duration("shutdown-timeout", 15*time.Second, "maximum time to wait for graceful shutdown")
	flag.Parse()

	boot := pkglogger.NewDefault("accounthost")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		boot.WithError(err).Warn("failed to load .env file")
	}

	dir := *dataDir
	if dir == "" {
		resolved, err := hostruntime.DataDir()
		if err != nil {
			boot.WithError(err).Fatal("resolve data directory")
		}
		dir = resolved
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		boot.WithError(err).Fatalf("create data directory %s", dir)
	}

	logger := logging.NewFromEnv("accounthost")

	cfgPath := *hostConfigPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dir, "host-config.yaml")
	}
	hostCfg, err := hostconfig.LoadFromPathOrDefault(cfgPath)
	if err != nil {
		logger.WithError(err).Fatal("load host config")
	}

	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.Init("accounthost")
	}

	errorLog, err := monitor.NewErrorLog(filepath.Join(dir, "errors.log"), 50*1024*1024)
	if err != nil {
		logger.WithError(err).Fatal("open error log")
	}
	bus := monitor.NewBus(logger, m, errorLog)

	masterKey, err := loadOrCreateMasterKey(dir)
	if err != nil {
		logger.WithError(err).Fatal("resolve master key")
	}

	store := accounts.NewStore(filepath.Join(dir, "registry.json"), logger, accounts.WithCredentialProtection(masterKey))

	materializer := isolation.NewMaterializer(filepath.Join(dir, "profiles"), *preloadScript)

	var launcher supervisor.Launcher
	if *rendererBinary != "" {
		launcher = supervisor.NewProcessLauncher(*rendererBinary)
	} else {
		launcher = devNullLauncher{}
		logger.Warn("no -renderer-binary configured; instances will report Capacity-free status but never run real content")
	}

	sup := supervisor.New(launcher, materializer, hostCfg.Supervisor, logger, m, bus)

	viewRuntime := newLoggingViewRuntime(logger)
	sw := switching.New(viewRuntime, bus, logger, hostCfg.Switching.SoftCapViews)

	mig := migration.New(
		filepath.Join(dir, "legacy-registry.json"),
		filepath.Join(dir, "legacy-sessions"),
		filepath.Join(dir, "migration-backups"),
		filepath.Join(dir, "migration-completed.json"),
		filepath.Join(dir, "migration.log"),
		store, logger, bus,
	)

	ipcServer := ipc.NewServer(ipc.Deps{
		Store:        store,
		Supervisor:   sup,
		Switching:    sw,
		Migration:    mig,
		Materializer: materializer,
		Bus:          bus,
		Metrics:      m,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: ipcServer.Router(),
	}

	mgr := system.NewManager()
	registerOrFatal(logger, mgr, storeService{store: store})
	registerOrFatal(logger, mgr, migrationService{engine: mig})
	registerOrFatal(logger, mgr, supervisorService{sup: sup})
	registerOrFatal(logger, mgr, httpService{server: httpServer, logger: logger})

	rootCtx := context.Background()
	if err := mgr.Start(rootCtx); err != nil {
		logger.WithError(err).Fatal("start accounthost")
	}
	logger.WithField("addr", *addr).Info("accounthost listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("shutdown")
	}
}

func registerOrFatal(logger *logging.Logger, mgr *system.Manager, svc system.Service) {
	if err := mgr.Register(svc); err != nil {
		logger.WithError(err).Fatalf("register %s", svc.Name())
	}
}

// storeService loads the account registry before any other component
// depends on it being populated (spec's dependency order: "Configuration
// Store" is the leaf every other module builds on).
type storeService struct{ store *accounts.Store }

func (storeService) Name() string { return "accounts.store" }

func (s storeService) Start(ctx context.Context) error {
	_, err := s.store.LoadAll(ctx)
	return err
}

func (storeService) Stop(ctx context.Context) error { return nil }

// migrationService runs the one-shot legacy upgrade at startup, before the
// Supervisor accepts work (spec §4.5 "Triggers: at startup").
type migrationService struct{ engine *migration.Engine }

func (migrationService) Name() string { return "migration" }

func (m migrationService) Start(ctx context.Context) error {
	result, err := m.engine.Execute(ctx)
	if err != nil {
		return fmt.Errorf("run migration: %w", err)
	}
	_ = result
	return nil
}

func (migrationService) Stop(ctx context.Context) error { return nil }

type supervisorService struct{ sup *supervisor.Supervisor }

func (supervisorService) Name() string { return "supervisor" }

func (s supervisorService) Start(ctx context.Context) error { return s.sup.Start(ctx) }
func (s supervisorService) Stop(ctx context.Context) error  { return s.sup.Stop(ctx) }

// httpService adapts the Shell/IPC Surface's http.Server into a
// system.Service, grounded on the teacher's cmd/appserver signal/shutdown
// wiring.
type httpService struct {
	server *http.Server
	logger *logging.Logger
}

func (httpService) Name() string { return "ipc.http" }

func (h httpService) Start(ctx context.Context) error {
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.WithError(err).Error("ipc http server stopped unexpectedly")
		}
	}()
	return nil
}

func (h httpService) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// devNullLauncher is used when no -renderer-binary is configured: every
// Launch fails with an error naming the missing flag rather than pretending
// to start a worker it cannot actually run.
type devNullLauncher struct{}

func (devNullLauncher) Launch(ctx context.Context, rt isolation.Runtime) (supervisor.ProcessHandle, error) {
	return nil, fmt.Errorf("no renderer-host binary configured (pass -renderer-binary)")
}
