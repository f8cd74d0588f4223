package supervisor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/metrics"
)

// Event types a handler can subscribe to.
const (
	EventOutput = "output" // stdout lines
	EventError  = "error"  // stderr lines
	EventData   = "data"   // both streams
	EventExit   = "exit"   // process finished, Line carries the exit code
)

// OutputEvent is delivered to handlers for one line of a streamed process.
type OutputEvent struct {
	Name   string
	PID    int
	Type   string
	Stream string
	Line   string
	At     time.Time
}

type Handler func(OutputEvent)

type handlerKey struct {
	name  string
	event string
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// handlerRegistry maps (process name, event type) to an ordered handler list.
type handlerRegistry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[handlerKey][]handlerEntry
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

func newHandlerRegistry(logger *zap.SugaredLogger, m *metrics.Metrics) *handlerRegistry {
	return &handlerRegistry{
		handlers: map[handlerKey][]handlerEntry{},
		logger:   logger,
		metrics:  m,
	}
}

func (r *handlerRegistry) on(name, event string, fn Handler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	k := handlerKey{name, event}
	r.handlers[k] = append(r.handlers[k], handlerEntry{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *handlerRegistry) off(name, event string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := handlerKey{name, event}
	list := r.handlers[k]
	for i, h := range list {
		if h.id == id {
			r.handlers[k] = append(list[:i:i], list[i+1:]...)
			if len(r.handlers[k]) == 0 {
				delete(r.handlers, k)
			}
			return true
		}
	}
	return false
}

func (r *handlerRegistry) clear(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.handlers {
		if k.name == name {
			delete(r.handlers, k)
		}
	}
}

// fire calls every handler for (ev.Name, ev.Type) in registration order.
// A panicking handler is logged and skipped.
func (r *handlerRegistry) fire(ev OutputEvent) {
	r.mu.RLock()
	list := append([]handlerEntry(nil), r.handlers[handlerKey{ev.Name, ev.Type}]...)
	r.mu.RUnlock()
	for _, h := range list {
		r.call(h, ev)
	}
}

func (r *handlerRegistry) call(h handlerEntry, ev OutputEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.IncHandlerPanic()
			r.logger.Errorw("Output handler panicked", "process", ev.Name, "event", ev.Type, "panic", p)
		}
	}()
	h.fn(ev)
}
