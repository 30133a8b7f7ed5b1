package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("sessionhost", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if m.InstancesRunning == nil {
		t.Error("InstancesRunning should not be nil")
	}
	if m.SwitchDuration == nil {
		t.Error("SwitchDuration should not be nil")
	}
}

func TestRecordIPCRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("sessionhost", reg)

	m.RecordIPCRequest("account.create", "ok", 10*time.Millisecond)
	m.RecordIPCRequest("account.create", "error", 5*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("sessionhost", reg)

	m.RecordError("ValidationError")
	m.RecordError("InstanceCrash")
}

func TestRecordCrashAndSample(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("sessionhost", reg)

	m.RecordCrash("acct-1")
	m.SetInstanceSample("acct-1", 128*1024*1024, 0.12)
	m.SetInstancesRunning(4)
}

func TestRecordSwitch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("sessionhost", reg)

	m.RecordSwitch("ok", 20*time.Millisecond)
	m.RecordSwitch("failed", 5*time.Millisecond)
}

func TestRecordMigrationRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("sessionhost", reg)

	m.RecordMigrationRecord("migrated")
	m.RecordMigrationRecord("invalid")
}

func TestUpdateUptimeAndInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("sessionhost", reg)

	m.UpdateUptime(time.Now().Add(-time.Minute))
	m.IncrementInFlight()
	m.DecrementInFlight()
}

func TestEnabled(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "false")
	if Enabled() {
		t.Error("Enabled() = true, want false when METRICS_ENABLED=false")
	}

	t.Setenv("METRICS_ENABLED", "true")
	if !Enabled() {
		t.Error("Enabled() = false, want true when METRICS_ENABLED=true")
	}
}

func TestGlobal(t *testing.T) {
	m := Global()
	if m == nil {
		t.Fatal("Global() returned nil")
	}
	if Global() != m {
		t.Error("Global() should return the same instance on repeat calls")
	}
}
