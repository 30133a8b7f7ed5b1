package main

import (
	"context"
	"sync"

	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/internal/switching"
)

// loggingViewRuntime is the reference switching.ViewRuntime used when the
// host runs standalone rather than embedded in a real desktop shell:
// driving an actual isolated browser surface is native-platform work this
// module does not do (the same boundary drawn around supervisor.Launcher).
// It tracks view existence only, so the switching Engine's bookkeeping and
// the IPC surface's view.* channels are exercisable without a shell
// attached; a production deployment supplies its own switching.ViewRuntime.
type loggingViewRuntime struct {
	mu      sync.Mutex
	created map[string]bool
	logger  *logging.Logger
}

func newLoggingViewRuntime(logger *logging.Logger) *loggingViewRuntime {
	return &loggingViewRuntime{created: make(map[string]bool), logger: logger}
}

func (v *loggingViewRuntime) EnsureCreated(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.created[id] = true
	v.logger.WithField("account_id", id).Debug("view created (reference runtime)")
	return nil
}

func (v *loggingViewRuntime) Reparent(ctx context.Context, id string, visible bool) error {
	v.logger.WithFields(map[string]interface{}{"account_id": id, "visible": visible}).Debug("view reparented (reference runtime)")
	return nil
}

func (v *loggingViewRuntime) Resize(ctx context.Context, id string, bounds switching.Bounds) error {
	return nil
}

func (v *loggingViewRuntime) Destroy(ctx context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.created, id)
	return nil
}

func (v *loggingViewRuntime) Reload(ctx context.Context, id string, ignoreCache bool) error {
	return nil
}

func (v *loggingViewRuntime) LoadURL(ctx context.Context, id string, url string) error {
	v.logger.WithFields(map[string]interface{}{"account_id": id, "url": url}).Debug("view navigated (reference runtime)")
	return nil
}
