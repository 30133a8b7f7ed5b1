package migration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/internal/accounts"
)

func writeLegacyRegistry(t *testing.T, path string, recs map[string]LegacyRecord) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	reg := legacyRegistryFile{Version: accounts.SchemaVersionLegacy, Accounts: recs}
	data, err := json.Marshal(reg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestEngine(t *testing.T) (*Engine, string, string) {
	t.Helper()
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.json")
	legacySessionDir := filepath.Join(dir, "legacy-sessions")
	backupDir := filepath.Join(dir, "backups")
	sentinelPath := filepath.Join(dir, "migration-completed.json")
	completionLog := filepath.Join(dir, "migration.log")

	logger := logging.New("migration-test", "error", "text")
	store := accounts.NewStore(registryPath, logger)

	e := New(registryPath, legacySessionDir, backupDir, sentinelPath, completionLog, store, logger, nil)
	return e, registryPath, dir
}

func TestEngine_NoOpWhenNothingToMigrate(t *testing.T) {
	e, _, _ := newTestEngine(t)
	result, err := e.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Triggered {
		t.Error("expected Triggered=false with no legacy signal")
	}
}

func TestEngine_MigratesAndOrdersByWindowPosition(t *testing.T) {
	e, registryPath, dir := newTestEngine(t)

	sessionA := filepath.Join(dir, "session-a")
	sessionB := filepath.Join(dir, "session-b")
	os.MkdirAll(sessionA, 0o755)
	os.MkdirAll(sessionB, 0o755)

	writeLegacyRegistry(t, registryPath, map[string]LegacyRecord{
		"a1": {ID: "a1", Name: "Alice", SessionDir: sessionA, WindowGeometry: &WindowGeometry{X: 500, Y: 100}},
		"a2": {ID: "a2", Name: "Bob", SessionDir: sessionB, WindowGeometry: &WindowGeometry{X: 0, Y: 0}},
	})

	result, err := e.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Triggered {
		t.Fatal("expected Triggered=true")
	}
	if result.RecordsMigrated != 2 {
		t.Fatalf("RecordsMigrated = %d, want 2", result.RecordsMigrated)
	}

	got, err := e.store.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "a2" || got[0].Order != 0 {
		t.Errorf("got[0] = %+v, want a2 at order 0 (lower y first)", got[0])
	}
	if got[1].ID != "a1" || got[1].Order != 1 {
		t.Errorf("got[1] = %+v, want a1 at order 1", got[1])
	}

	if e.store.Version() != accounts.SchemaVersionCurrent {
		t.Errorf("Version() = %v, want %v", e.store.Version(), accounts.SchemaVersionCurrent)
	}
}

func TestEngine_IdempotentAfterSentinel(t *testing.T) {
	e, registryPath, dir := newTestEngine(t)
	sessionA := filepath.Join(dir, "session-a")
	os.MkdirAll(sessionA, 0o755)
	writeLegacyRegistry(t, registryPath, map[string]LegacyRecord{
		"a1": {ID: "a1", Name: "Alice", SessionDir: sessionA, WindowGeometry: &WindowGeometry{X: 0, Y: 0}},
	})

	first, err := e.Execute(context.Background())
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if !first.Triggered {
		t.Fatal("expected first run to trigger migration")
	}

	backupEntries, _ := os.ReadDir(filepath.Join(dir, "backups"))
	backupCountAfterFirst := len(backupEntries)

	second, err := e.Execute(context.Background())
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if !second.AlreadyMigrated {
		t.Error("expected second run to report AlreadyMigrated")
	}

	backupEntries, _ = os.ReadDir(filepath.Join(dir, "backups"))
	if len(backupEntries) != backupCountAfterFirst {
		t.Errorf("expected no new backup on the idempotent run, had %d now have %d", backupCountAfterFirst, len(backupEntries))
	}
}

func TestEngine_PerRecordValidationFailureAbortsWithoutSealing(t *testing.T) {
	e, registryPath, dir := newTestEngine(t)
	writeLegacyRegistry(t, registryPath, map[string]LegacyRecord{
		"bad": {ID: "bad", Name: "", SessionDir: "", WindowGeometry: &WindowGeometry{X: 0, Y: 0}},
	})

	_, err := e.Execute(context.Background())
	if err == nil {
		t.Fatal("expected an error for an invalid migrated record")
	}

	if _, err := os.Stat(filepath.Join(dir, "migration-completed.json")); !os.IsNotExist(err) {
		t.Error("expected no sentinel to be written on a failed migration")
	}
}

func TestEngine_DetectionByLegacySessionDirAlone(t *testing.T) {
	e, _, dir := newTestEngine(t)
	if err := os.MkdirAll(filepath.Join(dir, "legacy-sessions"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	result, err := e.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Triggered {
		t.Error("expected legacy session directory alone to trigger migration")
	}
}

func TestEngine_VerifyWarnsWithoutFailingOnMissingData(t *testing.T) {
	e, registryPath, dir := newTestEngine(t)
	sessionA := filepath.Join(dir, "session-a-empty")
	os.MkdirAll(sessionA, 0o755)
	writeLegacyRegistry(t, registryPath, map[string]LegacyRecord{
		"a1": {ID: "a1", Name: "Alice", SessionDir: sessionA, WindowGeometry: &WindowGeometry{X: 0, Y: 0}},
	})

	result, err := e.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for a partition directory with no recognizable session data")
	}
}

func TestEngine_StatusReflectsSentinel(t *testing.T) {
	e, registryPath, dir := newTestEngine(t)
	sessionA := filepath.Join(dir, "session-a")
	os.MkdirAll(sessionA, 0o755)
	writeLegacyRegistry(t, registryPath, map[string]LegacyRecord{
		"a1": {ID: "a1", Name: "Alice", SessionDir: sessionA, WindowGeometry: &WindowGeometry{X: 0, Y: 0}},
	})

	done, sentinel, err := e.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if done || sentinel != nil {
		t.Fatal("expected not-yet-migrated status before Execute")
	}

	if _, err := e.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	done, sentinel, err = e.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !done || sentinel == nil {
		t.Fatal("expected migrated status after Execute")
	}
	if sentinel.Version != accounts.SchemaVersionCurrent {
		t.Errorf("sentinel.Version = %v, want %v", sentinel.Version, accounts.SchemaVersionCurrent)
	}
	if time.Since(sentinel.CompletedAt) > time.Minute {
		t.Errorf("sentinel.CompletedAt = %v, looks stale", sentinel.CompletedAt)
	}
}
