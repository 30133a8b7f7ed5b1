package monitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
)

// DefaultMaxLogBytes is the rotation threshold for the error log file
// (spec §4.4 "the log size policy is a rotating cap decided by the
// implementer"): once the live file has reached this size, the next append
// first rotates it to a single ".1" backup and starts a fresh file,
// logrotate-style, so the live file can pass the cap by at most one line.
const DefaultMaxLogBytes = 10 * 1024 * 1024

// ErrorLog is the append-only, one-event-per-line structured error log.
type ErrorLog struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
}

// NewErrorLog opens (creating if absent) the error log at path.
func NewErrorLog(path string, maxBytes int64) (*ErrorLog, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLogBytes
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	f.Close()
	return &ErrorLog{path: path, maxBytes: maxBytes}, nil
}

// Append writes one JSON-encoded event as a single line, rotating first if
// the live file has grown past maxBytes.
func (l *ErrorLog) Append(evt Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if info, err := os.Stat(l.path); err == nil && info.Size() >= l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// rotateLocked renames the live file to a single ".1" backup, overwriting
// any previous backup. Caller must hold l.mu.
func (l *ErrorLog) rotateLocked() error {
	backup := l.path + ".1"
	if err := os.Rename(l.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate error log: %w", err)
	}
	return nil
}

// Filter narrows a read to a specific account id, category, and/or
// [Since, Until) time range. A zero Since or Until means unbounded on that
// end. An empty AccountID or Category means "match any".
type Filter struct {
	AccountID string
	Category  hosterrors.Category
	Since     time.Time
	Until     time.Time
}

func (f Filter) matches(evt Event) bool {
	if f.AccountID != "" && evt.AccountID != f.AccountID {
		return false
	}
	if f.Category != "" && evt.Category != f.Category {
		return false
	}
	if !f.Since.IsZero() && evt.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !evt.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Read scans the rotated backup (if present) followed by the live file,
// oldest-first, returning every event matching filter.
func (l *ErrorLog) Read(filter Filter) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []Event
	for _, p := range []string{l.path + ".1", l.path} {
		read, err := readEventsFrom(p)
		if err != nil {
			return nil, err
		}
		events = append(events, read...)
	}

	out := make([]Event, 0, len(events))
	for _, evt := range events {
		if filter.matches(evt) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func readEventsFrom(path string) ([]Event, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return events, nil
}
