// Package monitor implements the Error & Monitoring Subsystem (spec §4.4):
// a uniform failure taxonomy, a single-producer-per-source many-subscriber
// in-process event bus, and an append-only structured error log.
package monitor

import (
	"sync"
	"time"

	hosterrors "github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/infrastructure/metrics"
)

// Event is one published occurrence: a failure, a lifecycle transition, or
// any other status worth propagating (spec §4.4 "Each event carries:
// timestamp, account id (if scoped), category, human-readable message, and
// optional details map").
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	AccountID string                 `json:"accountId,omitempty"`
	Category  hosterrors.Category    `json:"category,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Subscriber receives published events. Implementations must not block for
// long: the bus calls subscribers synchronously on the producer's own
// goroutine to preserve per-source publication order (spec §4.4 "Events
// are delivered in publication order per source").
type Subscriber func(Event)

// severityFor classifies a category against spec §4.5's propagation policy,
// deciding whether Publish logs it at warning level (surfaced-to-caller
// categories) or error level (everything else).
func severityFor(category hosterrors.Category) string {
	switch category {
	case hosterrors.CategoryValidationError,
		hosterrors.CategoryNotFound,
		hosterrors.CategoryDuplicateId,
		hosterrors.CategoryCapacity:
		return "warn"
	default:
		return "error"
	}
}

// Bus is the in-process event bus. A single Bus instance is shared by
// every domain component; each component is a single producer for its own
// "source" string (e.g. "supervisor", "switching", "accounts").
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *logging.Logger
	metrics     *metrics.Metrics
	errorLog    *ErrorLog
	now         func() time.Time
}

// NewBus constructs a Bus. errorLog and m may be nil (events are then only
// delivered to in-process subscribers and logged, never persisted or
// counted).
func NewBus(logger *logging.Logger, m *metrics.Metrics, errorLog *ErrorLog) *Bus {
	return &Bus{logger: logger, metrics: m, errorLog: errorLog, now: time.Now}
}

// Subscribe registers a subscriber and returns an unsubscribe func.
func (b *Bus) Subscribe(sub Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.subscribers)
	b.subscribers = append(b.subscribers, sub)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.subscribers) {
			b.subscribers[idx] = nil
		}
	}
}

// Publish satisfies the EventPublisher contract every domain package
// depends on (internal/supervisor.EventPublisher, internal/switching.EventPublisher).
// Because each source publishes from a single goroutine, the call order a
// source observes is the delivery order subscribers observe for that
// source; no cross-source ordering is promised or needed (spec §4.4).
func (b *Bus) Publish(source string, category hosterrors.Category, accountID, message string, details map[string]interface{}) {
	evt := Event{
		Timestamp: b.now(),
		Source:    source,
		AccountID: accountID,
		Category:  category,
		Message:   message,
		Details:   redactSensitive(details),
	}

	if b.logger != nil {
		fields := map[string]interface{}{"source": source, "account_id": accountID, "category": string(category)}
		for k, v := range evt.Details {
			fields[k] = v
		}
		entry := b.logger.WithFields(fields)
		if severityFor(category) == "warn" {
			entry.Warn(message)
		} else {
			entry.Error(message)
		}
	}

	if b.metrics != nil && category != "" {
		b.metrics.RecordError(string(category))
	}

	if b.errorLog != nil {
		if err := b.errorLog.Append(evt); err != nil && b.logger != nil {
			b.logger.WithError(err).Warn("failed to append to error log")
		}
	}

	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub != nil {
			sub(evt)
		}
	}
}

// redactSensitive strips keys that could carry proxy credentials or api
// keys before anything is logged or propagated (spec §4.5 "Sensitive
// fields... must never appear in logs or propagated messages").
func redactSensitive(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	const redacted = "***"
	sensitive := map[string]bool{"password": true, "apiKey": true, "apikey": true, "proxyPassword": true, "authorization": true}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if sensitive[k] {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}
