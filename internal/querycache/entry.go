package querycache

import (
	"context"
	"sync"
	"time"
)

// Fetcher loads the authoritative value of one key from the gateway.
type Fetcher func(ctx context.Context) (any, error)

type pendingUpdate struct {
	mutation *Mutation
	apply    func(any) any
}

type entry struct {
	key       Key
	staleTime time.Duration

	mu          sync.Mutex
	value       any
	hasValue    bool
	fetchedAt   time.Time
	invalidated bool
	// version changes on every write so a fetch that raced one is discarded.
	version   uint64
	lastErr   error
	fetcher   Fetcher
	pending   []pendingUpdate
	listeners map[uint64]func(any)
	nextID    uint64
}

func newEntry(key Key, staleTime time.Duration) *entry {
	return &entry{
		key:       key,
		staleTime: staleTime,
		listeners: make(map[uint64]func(any)),
	}
}

// isStale must be called with e.mu held.
func (e *entry) isStale(now time.Time) bool {
	return e.invalidated || !e.hasValue || now.Sub(e.fetchedAt) >= e.staleTime
}

func (e *entry) listenerFuncs() []func(any) {
	if len(e.listeners) == 0 {
		return nil
	}
	out := make([]func(any), 0, len(e.listeners))
	for _, fn := range e.listeners {
		out = append(out, fn)
	}
	return out
}

func (e *entry) addListener(fn func(any)) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[e.nextID] = fn
	return e.nextID
}

func (e *entry) removeListener(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, id)
}

func (e *entry) subscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// removePending drops m's updates and returns the updates queued after it.
// Must be called with e.mu held.
func (e *entry) removePending(m *Mutation) []pendingUpdate {
	var later []pendingUpdate
	kept := e.pending[:0:0]
	seen := false
	for _, p := range e.pending {
		if p.mutation == m {
			seen = true
			continue
		}
		if seen {
			later = append(later, p)
		}
		kept = append(kept, p)
	}
	e.pending = kept
	return later
}

func emit(listeners []func(any), v any) {
	for _, fn := range listeners {
		fn(v)
	}
}
