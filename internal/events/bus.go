package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/metrics"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

// Forwarder ships events outside the process.
type Forwarder interface {
	Publish(ctx context.Context, e schema.Event) error
	Close() error
}

type Subscriber func(schema.Event)

// Bus delivers each new event to local subscribers in subscription order,
// keeps a process-wide recent buffer and forwards to an optional Forwarder.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	subs      []subscription
	recent    *Buffer
	forwarder Forwarder
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
}

type subscription struct {
	id int
	fn Subscriber
}

func NewBus(bufferSize int, logger *zap.SugaredLogger, m *metrics.Metrics) *Bus {
	return &Bus{
		recent:  NewBuffer(bufferSize),
		logger:  logging.OrNop(logger).With("component", "events"),
		metrics: m,
	}
}

// SetForwarder attaches f; nil detaches.
func (b *Bus) SetForwarder(f Forwarder) {
	b.mu.Lock()
	b.forwarder = f
	b.mu.Unlock()
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish records e and fans it out. Duplicates are counted and dropped.
// It returns false for a duplicate.
func (b *Bus) Publish(ctx context.Context, e schema.Event) bool {
	if !b.recent.Add(e) {
		b.metrics.IncEventDropped()
		return false
	}
	b.metrics.IncEvent(e.Service, string(e.Severity))

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	fwd := b.forwarder
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
	if fwd != nil {
		if err := fwd.Publish(ctx, e); err != nil {
			b.metrics.IncNatsPublishError()
			b.logger.Warnw("Failed to forward event", "service", e.Service, "error", err)
		}
	}
	return true
}

func (b *Bus) deliver(s subscription, e schema.Event) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Errorw("Event subscriber panicked", "service", e.Service, "panic", p)
		}
	}()
	s.fn(e)
}

// Recent returns the newest events seen by the bus across all services.
func (b *Bus) Recent(limit int) []schema.Event {
	return b.recent.Recent(limit)
}

func (b *Bus) Close() error {
	b.mu.Lock()
	fwd := b.forwarder
	b.forwarder = nil
	b.mu.Unlock()
	if fwd != nil {
		return fwd.Close()
	}
	return nil
}
