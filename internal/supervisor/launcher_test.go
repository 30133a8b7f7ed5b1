package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/multiacct/sessionhost/internal/isolation"
)

func newSleeperBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sleeper.sh")
	script := "#!/bin/sh\nsleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write sleeper script: %v", err)
	}
	return path
}

func TestProcessLauncher_LaunchProbeStop(t *testing.T) {
	launcher := NewProcessLauncher(newSleeperBinary(t))
	runtime := isolation.Runtime{AccountID: "a1"}

	handle, err := launcher.Launch(context.Background(), runtime)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if handle.Pid() <= 0 {
		t.Fatalf("Pid() = %d, want a positive pid", handle.Pid())
	}

	if err := handle.Probe(context.Background(), time.Second); err != nil {
		t.Fatalf("Probe() error = %v while process is alive", err)
	}

	if err := handle.Stop(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := handle.Probe(context.Background(), time.Second); err == nil {
		t.Fatal("expected Probe() to fail after Stop()")
	}
}

func TestProcessLauncher_LaunchMissingBinary(t *testing.T) {
	launcher := NewProcessLauncher(filepath.Join(t.TempDir(), "does-not-exist"))
	_, err := launcher.Launch(context.Background(), isolation.Runtime{AccountID: "a1"})
	if err == nil {
		t.Fatal("expected an error launching a nonexistent binary")
	}
}

func TestProcessLauncher_StopKillsUnresponsiveProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ignore-sigterm.sh")
	script := "#!/bin/sh\ntrap '' TERM\nsleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	launcher := NewProcessLauncher(path)
	handle, err := launcher.Launch(context.Background(), isolation.Runtime{AccountID: "a1"})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	start := time.Now()
	if err := handle.Stop(context.Background(), 500*time.Millisecond); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop() took %v, want it to force-kill near the timeout", elapsed)
	}
}
