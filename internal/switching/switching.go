// Package switching implements the View Switching Engine (spec §4.2):
// holds at most one visible "active" session while keeping N "warm"
// sessions resident, with bounded-latency switches and ordered event
// publication.
package switching

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/logging"
)

// ViewState is a view's lifecycle state (spec §4.2).
type ViewState string

const (
	ViewCreated ViewState = "created"
	ViewLoading ViewState = "loading"
	ViewReady   ViewState = "ready"
	ViewError   ViewState = "error"
	ViewCrashed ViewState = "crashed"
)

// Bounds is the shell's content-pane drawable rectangle.
type Bounds struct {
	X, Y, Width, Height int
}

// ViewRuntime is the narrow slice of the Instance Supervisor the engine
// needs: create the underlying runtime for a view, reparent it into or out
// of the visible viewport, and reshape it.
type ViewRuntime interface {
	// EnsureCreated materializes the runtime backing id if it does not
	// already exist; the engine marks the view ready once it returns
	// without error.
	EnsureCreated(ctx context.Context, id string) error
	// Reparent moves id's render surface into the visible viewport
	// (visible=true) or into the hidden pool (visible=false).
	Reparent(ctx context.Context, id string, visible bool) error
	// Resize reshapes id's drawable rectangle.
	Resize(ctx context.Context, id string, bounds Bounds) error
	// Destroy releases id's render surface; the underlying runtime may
	// outlive this per the Supervisor's own policy.
	Destroy(ctx context.Context, id string) error
	// Reload refreshes id's current page, optionally bypassing cache.
	Reload(ctx context.Context, id string, ignoreCache bool) error
	// LoadURL navigates id's render surface to url.
	LoadURL(ctx context.Context, id string, url string) error
}

// EventPublisher receives the engine's viewSwitching/viewSwitched/
// viewSwitchFailed event triple (spec §4.2 "Ordering guarantees").
type EventPublisher interface {
	Publish(source string, category hosterrors.Category, accountID string, message string, details map[string]interface{})
}

type view struct {
	id    string
	state ViewState
}

// Engine is the View Switching Engine.
type Engine struct {
	mu          sync.Mutex
	switchMu    sync.Mutex
	views       map[string]*view
	activeId    string
	runtime     ViewRuntime
	events      EventPublisher
	logger      *logging.Logger
	softCap     int
	recency     *lru.Cache[string, int64]
	resizeTimer *time.Timer
	resizeDelay time.Duration
	lastBounds  Bounds
}

// New constructs an Engine. softCapViews <= 0 means unlimited (up to the
// Supervisor's own resource ceiling), per spec §4.2 "Prefetch and
// residency".
func New(runtime ViewRuntime, events EventPublisher, logger *logging.Logger, softCapViews int) *Engine {
	e := &Engine{
		views:       make(map[string]*view),
		runtime:     runtime,
		events:      events,
		logger:      logger,
		softCap:     softCapViews,
		resizeDelay: 16 * time.Millisecond,
	}
	if softCapViews > 0 {
		cache, _ := lru.NewWithEvict[string, int64](softCapViews, e.onRecencyEvicted)
		e.recency = cache
	}
	return e
}

// onRecencyEvicted is invoked by the LRU cache itself when the soft cap is
// exceeded and the least-recently-switched-to view falls out (spec §4.2
// "Prefetch and residency" — the engine requests the runtime stop; the
// Supervisor arbitrates). Runs synchronously inside Add, so the actual
// teardown is dispatched to its own goroutine to avoid holding e.mu across
// a runtime call.
func (e *Engine) onRecencyEvicted(id string, _ int64) {
	go func() {
		e.mu.Lock()
		active := e.activeId
		e.mu.Unlock()
		if id == "" || id == active {
			return
		}
		e.publish("viewEvicted", "", id, map[string]interface{}{"reason": "soft cap exceeded"})
		if err := e.runtime.Destroy(context.Background(), id); err == nil {
			e.mu.Lock()
			delete(e.views, id)
			e.mu.Unlock()
		}
	}()
}

// EnsureView idempotently creates a view bound to the account's isolated
// runtime if absent (spec §4.2 "ensureView").
func (e *Engine) EnsureView(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.views[id]; ok {
		e.mu.Unlock()
		return nil
	}
	e.views[id] = &view{id: id, state: ViewLoading}
	e.mu.Unlock()

	if err := e.runtime.EnsureCreated(ctx, id); err != nil {
		e.mu.Lock()
		e.views[id].state = ViewError
		e.mu.Unlock()
		return hosterrors.PageLoadFailure(id, "create_failed", err.Error())
	}

	e.mu.Lock()
	e.views[id].state = ViewReady
	e.mu.Unlock()
	return nil
}

// SwitchTo atomically switches the visible view to id (spec §4.2
// "switchTo"). Calls are serialized on switchMu: a switchTo in flight
// completes before the next one begins, so successive callers are queued
// in arrival order rather than coalesced — a legal choice under the
// spec's "either coalesce... or are queued" clause, and simpler to reason
// about correctly than real mid-flight retargeting.
func (e *Engine) SwitchTo(ctx context.Context, id string) error {
	e.switchMu.Lock()
	defer e.switchMu.Unlock()

	e.mu.Lock()
	from := e.activeId
	if from == id {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.publish("viewSwitching", "", id, map[string]interface{}{"from": from, "to": id})

	if err := e.EnsureView(ctx, id); err != nil {
		e.publish("viewSwitchFailed", hosterrors.CategoryOf(err), id, map[string]interface{}{"error": err.Error()})
		return err
	}

	if err := e.runtime.Reparent(ctx, id, true); err != nil {
		e.publish("viewSwitchFailed", hosterrors.CategoryOf(err), id, map[string]interface{}{"error": err.Error()})
		return hosterrors.Wrap(hosterrors.CategoryInjectionFailure, "failed to reparent view into the visible viewport", 500, err)
	}
	if from != "" {
		if err := e.runtime.Reparent(ctx, from, false); err != nil {
			e.logger.WithFields(map[string]interface{}{"viewId": from}).WithError(err).Warn("failed to demote previous active view")
		}
	}

	e.mu.Lock()
	e.activeId = id
	e.touchRecency(id)
	e.mu.Unlock()

	e.publish("viewSwitched", "", id, map[string]interface{}{"from": from, "to": id})
	return nil
}

// DestroyView releases id's render surface (spec §4.2 "destroyView").
func (e *Engine) DestroyView(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.views[id]; !ok {
		e.mu.Unlock()
		return hosterrors.NotFound("view", id)
	}
	delete(e.views, id)
	if e.activeId == id {
		e.activeId = ""
	}
	e.mu.Unlock()

	return e.runtime.Destroy(ctx, id)
}

// ResizeActiveTo reshapes the active view's drawable rectangle, debounced
// to coalesce rapid resize events (spec §4.2 "resizeActiveTo").
func (e *Engine) ResizeActiveTo(ctx context.Context, bounds Bounds) {
	e.mu.Lock()
	active := e.activeId
	e.lastBounds = bounds
	if e.resizeTimer != nil {
		e.resizeTimer.Stop()
	}
	e.resizeTimer = time.AfterFunc(e.resizeDelay, func() {
		e.mu.Lock()
		target := e.lastBounds
		e.mu.Unlock()
		if active != "" {
			e.runtime.Resize(ctx, active, target)
		}
	})
	e.mu.Unlock()
}

// ReloadView refreshes id's current page (spec §6 "view.reload"), user-
// initiated and never auto-retried (spec §7 "retries are user-initiated").
func (e *Engine) ReloadView(ctx context.Context, id string, ignoreCache bool) error {
	e.mu.Lock()
	_, ok := e.views[id]
	e.mu.Unlock()
	if !ok {
		return hosterrors.NotFound("view", id)
	}
	if err := e.runtime.Reload(ctx, id, ignoreCache); err != nil {
		e.publish("viewError", hosterrors.CategoryPageLoadFailure, id, map[string]interface{}{"error": err.Error()})
		return hosterrors.PageLoadFailure(id, "reload_failed", err.Error())
	}
	return nil
}

// LoadURL navigates id's render surface to url (spec §6 "view.loadUrl").
func (e *Engine) LoadURL(ctx context.Context, id string, url string) error {
	e.mu.Lock()
	_, ok := e.views[id]
	e.mu.Unlock()
	if !ok {
		return hosterrors.NotFound("view", id)
	}
	if err := e.runtime.LoadURL(ctx, id, url); err != nil {
		e.publish("viewError", hosterrors.CategoryPageLoadFailure, id, map[string]interface{}{"error": err.Error()})
		return hosterrors.PageLoadFailure(id, "load_url_failed", err.Error())
	}
	return nil
}

// State returns id's current view state, or ("", false) if unknown.
func (e *Engine) State(id string) (ViewState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.views[id]
	if !ok {
		return "", false
	}
	return v.state, true
}

// ActiveID returns the currently visible view's id, or "" if none.
func (e *Engine) ActiveID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeId
}

// touchRecency records id as most-recently-switched-to. Caller must hold
// e.mu.
func (e *Engine) touchRecency(id string) {
	if e.recency == nil {
		return
	}
	e.recency.Add(id, time.Now().UnixNano())
}

func (e *Engine) publish(event string, category hosterrors.Category, accountID string, details map[string]interface{}) {
	if e.logger != nil {
		e.logger.WithFields(map[string]interface{}{"event": event, "viewId": accountID}).Info(fmt.Sprintf("switch event: %s", event))
	}
	if e.events != nil {
		e.events.Publish("switching", category, accountID, event, details)
	}
}
