package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MutationState int

const (
	MutationPending MutationState = iota
	MutationSettled
	MutationRolledBack
)

func (s MutationState) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationSettled:
		return "settled"
	case MutationRolledBack:
		return "rolled-back"
	}
	return "unknown"
}

// Mutation is one write in flight. It owns the pre-image of every key it
// touched optimistically.
type Mutation struct {
	ID        uuid.UUID
	Name      string
	StartedAt time.Time

	mu     sync.Mutex
	state  MutationState
	images []preimage
}

type preimage struct {
	entry       *entry
	value       any
	fetchedAt   time.Time
	invalidated bool
}

func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mutation) setState(s MutationState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Mutation) imaged(e *entry) bool {
	for _, img := range m.images {
		if img.entry == e {
			return true
		}
	}
	return false
}

// Update is an optimistic change to one cached key.
type Update struct {
	Key   Key
	apply func(any) any
}

// Optimistic wraps a pure updater for key. fn must not modify its argument.
func Optimistic[T any](key Key, fn func(T) T) Update {
	return Update{Key: key, apply: func(v any) any {
		cur, _ := v.(T)
		return fn(cur)
	}}
}

type MutationSpec[R any] struct {
	Name string
	// Validate runs before anything else; an error here means no gateway call.
	Validate   func() error
	Optimistic []Update
	Do         func(ctx context.Context) (R, error)
	// Invalidate lists keys refetched after success before Mutate returns.
	Invalidate []Key
	// Dependents are refetched in the background whatever the outcome.
	Dependents []Key
}

// Mutate runs a write through the cache: optimistic apply, gateway call,
// then invalidation on success or an exact rollback plus one notification on
// failure.
func Mutate[R any](ctx context.Context, c *Cache, spec MutationSpec[R]) (R, error) {
	var zero R
	if spec.Validate != nil {
		if err := spec.Validate(); err != nil {
			c.metrics.Mutations.WithLabelValues(spec.Name, "rejected").Inc()
			c.notifyFailure(ctx, spec.Name, err)
			return zero, err
		}
	}

	m := c.begin(spec.Name, spec.Optimistic)

	var result R
	_, err := c.withRetry(ctx, "mutation", c.opts.MutationRetries, func(ctx context.Context) (any, error) {
		r, err := spec.Do(ctx)
		if err != nil {
			return nil, err
		}
		result = r
		return nil, nil
	})
	if err != nil {
		c.rollback(m)
		c.metrics.Mutations.WithLabelValues(spec.Name, "rolled_back").Inc()
		c.notifyFailure(ctx, spec.Name, err)
		c.InvalidateAsync(spec.Dependents...)
		return zero, err
	}

	c.settle(m)
	c.metrics.Mutations.WithLabelValues(spec.Name, "settled").Inc()
	if err := c.Invalidate(ctx, spec.Invalidate...); err != nil {
		c.log.Warn("refetch after mutation failed", "mutation", spec.Name, "error", err.Error())
	}
	c.InvalidateAsync(spec.Dependents...)
	return result, nil
}

func (c *Cache) notifyFailure(ctx context.Context, name string, err error) {
	if c.notifier != nil {
		c.notifier.MutationFailed(ctx, name, err)
	}
}

func (c *Cache) begin(name string, updates []Update) *Mutation {
	m := &Mutation{ID: uuid.New(), Name: name, StartedAt: c.opts.Now(), state: MutationPending}
	c.mutMu.Lock()
	c.inflight[m.ID] = m
	c.mutMu.Unlock()

	for _, u := range updates {
		e := c.lookup(u.Key)
		if e == nil {
			continue
		}
		e.mu.Lock()
		if !e.hasValue {
			e.mu.Unlock()
			continue
		}
		if !m.imaged(e) {
			m.images = append(m.images, preimage{
				entry:       e,
				value:       e.value,
				fetchedAt:   e.fetchedAt,
				invalidated: e.invalidated,
			})
		}
		e.value = u.apply(e.value)
		e.version++
		e.pending = append(e.pending, pendingUpdate{mutation: m, apply: u.apply})
		v, listeners := e.value, e.listenerFuncs()
		e.mu.Unlock()
		emit(listeners, v)
	}
	return m
}

func (c *Cache) settle(m *Mutation) {
	for _, img := range m.images {
		img.entry.mu.Lock()
		img.entry.removePending(m)
		img.entry.mu.Unlock()
	}
	m.setState(MutationSettled)
	c.untrack(m)
}

func (c *Cache) rollback(m *Mutation) {
	for _, img := range m.images {
		e := img.entry
		e.mu.Lock()
		later := e.removePending(m)
		v := img.value
		if c.opts.RollbackMode == RollbackRebase {
			for _, p := range later {
				v = p.apply(v)
			}
		}
		e.value, e.hasValue = v, true
		e.fetchedAt = img.fetchedAt
		e.invalidated = img.invalidated
		e.version++
		listeners := e.listenerFuncs()
		e.mu.Unlock()
		emit(listeners, v)
	}
	m.setState(MutationRolledBack)
	c.untrack(m)
}

func (c *Cache) untrack(m *Mutation) {
	c.mutMu.Lock()
	delete(c.inflight, m.ID)
	c.mutMu.Unlock()
}
