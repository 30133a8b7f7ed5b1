package hostconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Supervisor.MaxInstances != 30 {
		t.Errorf("MaxInstances = %d, want 30", cfg.Supervisor.MaxInstances)
	}
	if cfg.Supervisor.MaxCrashCount != 3 {
		t.Errorf("MaxCrashCount = %d, want 3", cfg.Supervisor.MaxCrashCount)
	}
	if cfg.Supervisor.CrashWindow != 5*time.Minute {
		t.Errorf("CrashWindow = %v, want 5m", cfg.Supervisor.CrashWindow)
	}
	if cfg.Supervisor.RestartDelay != 5*time.Second {
		t.Errorf("RestartDelay = %v, want 5s", cfg.Supervisor.RestartDelay)
	}
	if cfg.Supervisor.WarningFraction != 0.75 || cfg.Supervisor.LimitFraction != 0.90 {
		t.Errorf("thresholds = %v/%v, want 0.75/0.90", cfg.Supervisor.WarningFraction, cfg.Supervisor.LimitFraction)
	}
}

func TestLoadFromPathOrDefault_MissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFromPathOrDefault(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPathOrDefault() error = %v", err)
	}
	if cfg.Supervisor.MaxInstances != 30 {
		t.Errorf("MaxInstances = %d, want default 30", cfg.Supervisor.MaxInstances)
	}
}

func TestLoadFromPath_PartialOverrideKeepsOtherDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.yaml")
	content := "supervisor:\n  maxInstances: 10\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Supervisor.MaxInstances != 10 {
		t.Errorf("MaxInstances = %d, want 10", cfg.Supervisor.MaxInstances)
	}
	if cfg.Supervisor.MaxCrashCount != 3 {
		t.Errorf("MaxCrashCount = %d, want default 3", cfg.Supervisor.MaxCrashCount)
	}
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected an error for invalid yaml")
	}
}

func TestLoadFromPath_RejectsInvalidThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.yaml")
	content := "supervisor:\n  maxInstances: 5\n  warningFraction: 0.95\n  limitFraction: 0.90\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected an error when limitFraction <= warningFraction")
	}
}

func TestLoadFromPath_RejectsNonPositiveMaxInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.yaml")
	content := "supervisor:\n  maxInstances: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected an error for maxInstances <= 0")
	}
}
