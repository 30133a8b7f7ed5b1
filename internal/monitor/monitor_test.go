package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/logging"
)

func newTestBus(t *testing.T) (*Bus, *ErrorLog) {
	t.Helper()
	dir := t.TempDir()
	log, err := NewErrorLog(filepath.Join(dir, "errors.log"), 0)
	if err != nil {
		t.Fatalf("NewErrorLog() error = %v", err)
	}
	logger := logging.New("monitor-test", "error", "text")
	return NewBus(logger, nil, log), log
}

func TestBus_PublishDeliversToSubscribers(t *testing.T) {
	b, _ := newTestBus(t)
	var received []Event
	b.Subscribe(func(e Event) { received = append(received, e) })

	b.Publish("supervisor", hosterrors.CategoryInstanceCrash, "a1", "instance crashed", nil)

	if len(received) != 1 {
		t.Fatalf("len(received) = %d, want 1", len(received))
	}
	if received[0].AccountID != "a1" || received[0].Category != hosterrors.CategoryInstanceCrash {
		t.Errorf("event = %+v", received[0])
	}
}

func TestBus_PublishPreservesPerSourceOrder(t *testing.T) {
	b, _ := newTestBus(t)
	var received []string
	b.Subscribe(func(e Event) { received = append(received, e.Message) })

	for i := 0; i < 5; i++ {
		b.Publish("switching", "", "a1", string(rune('a'+i)), nil)
	}

	want := []string{"a", "b", "c", "d", "e"}
	for i, w := range want {
		if received[i] != w {
			t.Errorf("received[%d] = %v, want %v", i, received[i], w)
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b, _ := newTestBus(t)
	count := 0
	unsub := b.Subscribe(func(e Event) { count++ })

	b.Publish("supervisor", "", "a1", "first", nil)
	unsub()
	b.Publish("supervisor", "", "a1", "second", nil)

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestBus_PublishRedactsSensitiveDetails(t *testing.T) {
	b, log := newTestBus(t)
	b.Publish("accounts", hosterrors.CategoryProxyFailure, "a1", "proxy failed", map[string]interface{}{
		"password": "hunter2",
		"host":     "proxy.example.com",
	})

	events, err := log.Read(Filter{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Details["password"] != "***" {
		t.Errorf("password = %v, want redacted", events[0].Details["password"])
	}
	if events[0].Details["host"] != "proxy.example.com" {
		t.Errorf("host = %v, want preserved", events[0].Details["host"])
	}
}

func TestErrorLog_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	log, err := NewErrorLog(filepath.Join(dir, "errors.log"), 0)
	if err != nil {
		t.Fatalf("NewErrorLog() error = %v", err)
	}

	now := time.Now()
	log.Append(Event{Timestamp: now, Source: "supervisor", AccountID: "a1", Category: hosterrors.CategoryInstanceCrash, Message: "crash"})
	log.Append(Event{Timestamp: now.Add(time.Second), Source: "supervisor", AccountID: "a2", Category: hosterrors.CategoryUnresponsive, Message: "unresponsive"})

	all, err := log.Read(Filter{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	byAccount, err := log.Read(Filter{AccountID: "a1"})
	if err != nil {
		t.Fatalf("Read(AccountID) error = %v", err)
	}
	if len(byAccount) != 1 || byAccount[0].AccountID != "a1" {
		t.Errorf("byAccount = %+v", byAccount)
	}

	byCategory, err := log.Read(Filter{Category: hosterrors.CategoryUnresponsive})
	if err != nil {
		t.Fatalf("Read(Category) error = %v", err)
	}
	if len(byCategory) != 1 || byCategory[0].Message != "unresponsive" {
		t.Errorf("byCategory = %+v", byCategory)
	}

	byTime, err := log.Read(Filter{Since: now.Add(500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("Read(Since) error = %v", err)
	}
	if len(byTime) != 1 || byTime[0].AccountID != "a2" {
		t.Errorf("byTime = %+v", byTime)
	}
}

func TestErrorLog_RotatesPastMaxBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "errors.log")
	log, err := NewErrorLog(path, 200)
	if err != nil {
		t.Fatalf("NewErrorLog() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		if err := log.Append(Event{Timestamp: time.Now(), Source: "supervisor", Message: "filler event to grow the log past the rotation threshold"}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected a rotated backup file, got error = %v", err)
	}
}
