// Package events holds recently emitted canonical events and fans them out
// to in-process subscribers and an optional NATS subject.
package events

import (
	"container/ring"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

const DefaultBufferSize = 1000

// Buffer is a bounded most-recent-first event cache. When full the oldest
// event is overwritten. Exact duplicates seen recently are dropped.
type Buffer struct {
	mu     sync.RWMutex
	next   *ring.Ring
	size   int
	count  int
	dedupe *lru.Cache[string, struct{}]
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	// Sized well above the ring so an evicted event is still remembered.
	dedupe, _ := lru.New[string, struct{}](size * 2)
	return &Buffer{next: ring.New(size), size: size, dedupe: dedupe}
}

// Add stores e and reports whether it was new.
func (b *Buffer) Add(e schema.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := e.Key()
	if b.dedupe.Contains(key) {
		return false
	}
	b.dedupe.Add(key, struct{}{})

	b.next.Value = e
	b.next = b.next.Next()
	if b.count < b.size {
		b.count++
	}
	return true
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (b *Buffer) Recent(limit int) []schema.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]schema.Event, 0, n)
	r := b.next.Prev()
	for i := 0; i < n; i++ {
		out = append(out, r.Value.(schema.Event))
		r = r.Prev()
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

func (b *Buffer) Cap() int { return b.size }

// Clear drops all events and forgets the dedupe history.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = ring.New(b.size)
	b.count = 0
	b.dedupe.Purge()
}
