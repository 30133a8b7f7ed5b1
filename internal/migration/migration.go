// Package migration implements the Migration Engine (spec §4.5): detects a
// legacy per-account-window installation, converts it to the current
// single-registry layout exactly once, and seals the conversion with a
// durable sentinel.
package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/internal/accounts"
)

// EventPublisher mirrors the narrow Publish contract every domain package
// declares locally (see internal/supervisor, internal/switching);
// internal/monitor.Bus satisfies it.
type EventPublisher interface {
	Publish(source string, category hosterrors.Category, accountID, message string, details map[string]interface{})
}

// WindowGeometry is the legacy per-account-window placement the pre-2.0.0
// schema embedded directly on each record.
type WindowGeometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LegacyRecord is one pre-migration account record (spec §4.5 "legacy
// per-account-window format").
type LegacyRecord struct {
	ID             string                        `json:"id"`
	Name           string                        `json:"name"`
	Note           string                        `json:"note,omitempty"`
	SessionDir     string                        `json:"sessionDir"`
	Proxy          accounts.ProxySettings        `json:"proxy"`
	Translation    accounts.TranslationSettings  `json:"translation"`
	Notifications  accounts.NotificationSettings `json:"notifications"`
	WindowGeometry *WindowGeometry               `json:"windowGeometry,omitempty"`
}

type legacyRegistryFile struct {
	Version  string                  `json:"version"`
	Accounts map[string]LegacyRecord `json:"accounts"`
}

// Sentinel is the durable, presence-only marker declaring a completed
// migration (spec §4.5 "migration-completed sentinel").
type Sentinel struct {
	CompletedAt time.Time `json:"completedAt"`
	Version     string    `json:"version"`
}

// Result summarizes one Execute call.
type Result struct {
	AlreadyMigrated bool
	Triggered       bool
	RecordsMigrated int
	Warnings        []string
}

// Engine is the Migration Engine.
type Engine struct {
	registryPath      string
	legacySessionDir  string
	backupDir         string
	sentinelPath      string
	completionLogPath string
	store             *accounts.Store
	logger            *logging.Logger
	events            EventPublisher
	now               func() time.Time
}

// New constructs an Engine. registryPath is the live registry file (read
// both pre- and post-migration); legacySessionDir is the old canonical
// session-directory path checked by detection rule 1; backupDir holds
// timestamped pre-migration snapshots; sentinelPath and
// completionLogPath are the durable completion artifacts (spec §6).
func New(registryPath, legacySessionDir, backupDir, sentinelPath, completionLogPath string, store *accounts.Store, logger *logging.Logger, events EventPublisher) *Engine {
	return &Engine{
		registryPath:      registryPath,
		legacySessionDir:  legacySessionDir,
		backupDir:         backupDir,
		sentinelPath:      sentinelPath,
		completionLogPath: completionLogPath,
		store:             store,
		logger:            logger,
		events:            events,
		now:               time.Now,
	}
}

// Status reports whether migration has already completed, without running
// it (spec §6 "migration.status()").
func (e *Engine) Status() (bool, *Sentinel, error) {
	data, err := os.ReadFile(e.sentinelPath)
	if os.IsNotExist(err) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("read sentinel: %w", err)
	}
	var s Sentinel
	if err := json.Unmarshal(data, &s); err != nil {
		return false, nil, fmt.Errorf("parse sentinel: %w", err)
	}
	return true, &s, nil
}

// Execute runs the detect→backup→transform→verify→persist→seal pipeline
// (spec §6 "migration.execute()"). A no-op if the sentinel already exists,
// or if neither detection rule fires.
func (e *Engine) Execute(ctx context.Context) (Result, error) {
	if done, _, err := e.Status(); err != nil {
		return Result{}, err
	} else if done {
		return Result{AlreadyMigrated: true}, nil
	}

	legacy, triggered, err := e.detect()
	if err != nil {
		return Result{}, err
	}
	if !triggered {
		return Result{Triggered: false}, nil
	}

	if err := e.backup(legacy); err != nil {
		return Result{}, e.fail(err)
	}

	migrated, warnings, err := e.transform(legacy)
	if err != nil {
		return Result{}, e.fail(err)
	}

	warnings = append(warnings, e.verify(migrated)...)

	migratedAt := e.now()
	accountsOut := make(map[string]accounts.Account, len(migrated))
	for _, a := range migrated {
		accountsOut[a.ID] = a
	}
	if err := e.store.ReplaceAll(accounts.SchemaVersionCurrent, accountsOut, &migratedAt, &legacy.Version); err != nil {
		return Result{}, e.fail(err)
	}

	if err := e.seal(migratedAt, len(migrated)); err != nil {
		return Result{}, e.fail(err)
	}

	e.publish(hosterrors.Category(""), "", "migration completed", map[string]interface{}{
		"recordsMigrated": len(migrated),
		"warnings":        warnings,
	})

	return Result{Triggered: true, RecordsMigrated: len(migrated), Warnings: warnings}, nil
}

// detect applies spec §4.5's two detection rules in order, returning the
// parsed legacy registry (possibly with zero accounts, if only rule 1
// fired) and whether migration is triggered at all.
func (e *Engine) detect() (legacyRegistryFile, bool, error) {
	if info, err := os.Stat(e.legacySessionDir); err == nil && info.IsDir() {
		reg, err := e.readLegacyRegistry()
		if err != nil {
			return legacyRegistryFile{}, false, err
		}
		return reg, true, nil
	}

	reg, err := e.readLegacyRegistry()
	if err != nil {
		return legacyRegistryFile{}, false, err
	}
	for _, r := range reg.Accounts {
		if r.WindowGeometry != nil {
			return reg, true, nil
		}
	}
	return legacyRegistryFile{}, false, nil
}

func (e *Engine) readLegacyRegistry() (legacyRegistryFile, error) {
	data, err := os.ReadFile(e.registryPath)
	if os.IsNotExist(err) {
		return legacyRegistryFile{Accounts: map[string]LegacyRecord{}}, nil
	}
	if err != nil {
		return legacyRegistryFile{}, fmt.Errorf("read registry: %w", err)
	}
	var reg legacyRegistryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return legacyRegistryFile{}, hosterrors.StoreCorrupt(err)
	}
	return reg, nil
}

// backup snapshots the pre-migration registry and a distilled,
// audit-only copy of every window-geometry object encountered (spec §4.5
// step 1).
func (e *Engine) backup(legacy legacyRegistryFile) error {
	if err := os.MkdirAll(e.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	stamp := e.now().UTC().Format("20060102T150405Z")

	if data, err := os.ReadFile(e.registryPath); err == nil {
		if err := os.WriteFile(filepath.Join(e.backupDir, fmt.Sprintf("registry-%s.json", stamp)), data, 0o600); err != nil {
			return fmt.Errorf("write registry backup: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read registry for backup: %w", err)
	}

	geometry := make(map[string]WindowGeometry)
	for id, r := range legacy.Accounts {
		if r.WindowGeometry != nil {
			geometry[id] = *r.WindowGeometry
		}
	}
	data, err := json.MarshalIndent(geometry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal geometry backup: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.backupDir, fmt.Sprintf("window-geometry-%s.json", stamp)), data, 0o600); err != nil {
		return fmt.Errorf("write geometry backup: %w", err)
	}
	return nil
}

// transform converts every legacy record to the current Account shape,
// dropping window geometry and assigning order deterministically by prior
// window y then x (spec §4.5 step 2). Any per-record validation error
// aborts the whole migration: partial data is never persisted.
func (e *Engine) transform(legacy legacyRegistryFile) ([]accounts.Account, []string, error) {
	type ordered struct {
		record LegacyRecord
		hasGeo bool
	}
	recs := make([]ordered, 0, len(legacy.Accounts))
	for _, r := range legacy.Accounts {
		recs = append(recs, ordered{record: r, hasGeo: r.WindowGeometry != nil})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		gi, gj := recs[i].record.WindowGeometry, recs[j].record.WindowGeometry
		if gi == nil && gj == nil {
			return recs[i].record.ID < recs[j].record.ID
		}
		if gi == nil {
			return false
		}
		if gj == nil {
			return true
		}
		if gi.Y != gj.Y {
			return gi.Y < gj.Y
		}
		return gi.X < gj.X
	})

	var merr *multierror.Error
	out := make([]accounts.Account, 0, len(recs))
	now := e.now()
	for i, o := range recs {
		r := o.record
		a := accounts.Account{
			ID:            r.ID,
			Name:          r.Name,
			Note:          r.Note,
			Order:         i,
			CreatedAt:     now,
			LastActiveAt:  now,
			SessionDir:    r.SessionDir,
			Proxy:         r.Proxy,
			Translation:   r.Translation,
			Notifications: r.Notifications,
		}
		if a.Translation.Enabled && a.Translation.Engine == "" {
			a.Translation.Engine = "google"
		}
		if errs := accounts.Validate(a); len(errs) > 0 {
			for _, fe := range errs {
				merr = multierror.Append(merr, fmt.Errorf("record %s: %s: %s", r.ID, fe.Field, fe.Reason))
			}
			continue
		}
		out = append(out, a)
	}

	if merr.ErrorOrNil() != nil {
		return nil, nil, merr
	}
	return out, nil, nil
}

// verify checks each migrated account's partition directory is accessible
// and appears to hold real session data (spec §4.5 step 3). Absence is a
// warning, never an error.
func (e *Engine) verify(migrated []accounts.Account) []string {
	var warnings []string
	expectedSubpaths := []string{"Cookies", "Local Storage", "IndexedDB"}

	for _, a := range migrated {
		info, err := os.Stat(a.SessionDir)
		if err != nil || !info.IsDir() {
			warnings = append(warnings, fmt.Sprintf("account %s: partition directory %s is not accessible", a.ID, a.SessionDir))
			continue
		}
		hasData := false
		for _, sub := range expectedSubpaths {
			if _, err := os.Stat(filepath.Join(a.SessionDir, sub)); err == nil {
				hasData = true
				break
			}
		}
		if !hasData {
			warnings = append(warnings, fmt.Sprintf("account %s: no recognizable session data found under %s", a.ID, a.SessionDir))
		}
	}
	return warnings
}

// seal writes the completion sentinel and appends a human-readable
// completion log line (spec §4.5 step 5).
func (e *Engine) seal(completedAt time.Time, recordsMigrated int) error {
	sentinel := Sentinel{CompletedAt: completedAt, Version: accounts.SchemaVersionCurrent}
	data, err := json.MarshalIndent(sentinel, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sentinel: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.sentinelPath), 0o755); err != nil {
		return fmt.Errorf("create sentinel dir: %w", err)
	}
	if err := os.WriteFile(e.sentinelPath, data, 0o600); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}

	line := fmt.Sprintf("%s migration completed: %d record(s) migrated to schema %s\n",
		completedAt.UTC().Format(time.RFC3339), recordsMigrated, accounts.SchemaVersionCurrent)
	f, err := os.OpenFile(e.completionLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open completion log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write completion log: %w", err)
	}
	return nil
}

// fail publishes a MigrationFailure event and returns err unchanged, per
// spec §4.4's "MigrationFailure: logged; migration is not sealed;
// application continues with the pre-migration registry."
func (e *Engine) fail(err error) error {
	e.publish(hosterrors.CategoryMigrationFailure, "", err.Error(), nil)
	return err
}

func (e *Engine) publish(category hosterrors.Category, accountID, message string, details map[string]interface{}) {
	if e.logger != nil {
		e.logger.WithFields(map[string]interface{}{"category": string(category)}).Info(message)
	}
	if e.events != nil {
		e.events.Publish("migration", category, accountID, message, details)
	}
}
