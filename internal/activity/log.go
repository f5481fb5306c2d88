// Package activity keeps a bounded, newest-first journal of cycle summaries
// for operators. Nothing in the sync path reads it back.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindFetch        Kind = "fetch"
	KindNotification Kind = "notification"
	KindError        Kind = "error"
	KindInfo         Kind = "info"
)

const DefaultCapacity = 500

type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink receives a copy of every entry. Delivery is best effort.
type Sink interface {
	PublishActivity(ctx context.Context, entry Entry) error
}

type Log struct {
	mu       sync.RWMutex
	entries  []Entry // oldest first
	capacity int

	queue       chan Entry
	sink        Sink
	sinkTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time
}

func New(capacity int, logger *slog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity:    capacity,
		sinkTimeout: 5 * time.Second,
		logger:      logger.With("component", "activity"),
		now:         time.Now,
	}
}

// WithSink forwards entries to sink through a queue of the given size.
// Call Run to start forwarding.
func (l *Log) WithSink(sink Sink, buffer int) *Log {
	if buffer <= 0 {
		buffer = 100
	}
	l.sink = sink
	l.queue = make(chan Entry, buffer)
	return l
}

// Record appends an entry. It never blocks: when the sink queue is full the
// entry is kept locally but not forwarded.
func (l *Log) Record(kind Kind, message string, details map[string]any) {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Kind:      kind,
		Message:   message,
		Details:   details,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
	l.mu.Unlock()

	l.logger.Info(message, "kind", kind, "details", details)

	if l.queue == nil {
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("activity sink queue full, entry not forwarded", "id", entry.ID)
	}
}

// Entries returns up to limit entries, newest first. limit <= 0 returns all.
func (l *Log) Entries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
	l.logger.Info("activity log cleared")
}

// Run forwards queued entries to the sink until ctx is done.
func (l *Log) Run(ctx context.Context) error {
	if l.queue == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-l.queue:
			l.forward(ctx, entry)
		}
	}
}

func (l *Log) forward(ctx context.Context, entry Entry) {
	ctx, cancel := context.WithTimeout(ctx, l.sinkTimeout)
	defer cancel()

	if err := l.sink.PublishActivity(ctx, entry); err != nil {
		l.logger.Warn("failed to forward activity entry", "id", entry.ID, "error", err)
	}
}
