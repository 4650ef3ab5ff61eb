// Package querycache keeps gateway query results in memory with per-kind
// freshness windows, deduplicated fetches, optimistic mutations with rollback
// and invalidation cascades.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type RollbackMode string

const (
	// RollbackSnapshot restores the failed mutation's pre-image as-is, which
	// also drops any optimistic update applied after it.
	RollbackSnapshot RollbackMode = "snapshot"
	// RollbackRebase restores the pre-image and replays later updates that
	// are still pending.
	RollbackRebase RollbackMode = "rebase"
)

func ParseRollbackMode(s string) (RollbackMode, error) {
	switch RollbackMode(s) {
	case "", RollbackSnapshot:
		return RollbackSnapshot, nil
	case RollbackRebase:
		return RollbackRebase, nil
	}
	return "", fmt.Errorf("unknown rollback mode %q", s)
}

// Signal is an external hint that cached data may be out of date.
type Signal string

const (
	// SignalFocus refetches entries past their stale window.
	SignalFocus Signal = "focus"
	// SignalReconnect refetches every entry.
	SignalReconnect Signal = "reconnect"
)

type Options struct {
	StaleTimes       map[Kind]time.Duration
	DefaultStaleTime time.Duration
	GCTime           time.Duration
	CleanupInterval  time.Duration
	QueryRetries     int
	MutationRetries  int
	RetryDelay       time.Duration
	FetchTimeout     time.Duration
	RollbackMode     RollbackMode
	Now              func() time.Time
	// OnAuthFailure runs instead of a retry when the gateway rejects the
	// session.
	OnAuthFailure func(err error)
}

func DefaultOptions() Options {
	return Options{
		StaleTimes:       DefaultStaleTimes(),
		DefaultStaleTime: StandardStaleTime,
		GCTime:           10 * time.Minute,
		CleanupInterval:  time.Minute,
		QueryRetries:     1,
		MutationRetries:  1,
		RetryDelay:       200 * time.Millisecond,
		FetchTimeout:     10 * time.Second,
		RollbackMode:     RollbackSnapshot,
		Now:              time.Now,
	}
}

// Notifier receives one user-facing notice per failed mutation.
type Notifier interface {
	MutationFailed(ctx context.Context, mutation string, err error)
}

// Publisher fans invalidations out to sibling instances.
type Publisher interface {
	PublishInvalidation(ctx context.Context, keys []Key) error
}

type Option func(*Cache)

func WithNotifier(n Notifier) Option   { return func(c *Cache) { c.notifier = n } }
func WithPublisher(p Publisher) Option { return func(c *Cache) { c.publisher = p } }
func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) { c.log = l.Component("querycache") }
}
func WithMetrics(m *metrics.Metrics) Option { return func(c *Cache) { c.metrics = m } }

// Cache is created once at startup and closed on shutdown.
type Cache struct {
	opts      Options
	store     *gocache.Cache
	group     singleflight.Group
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	notifier  Notifier
	publisher Publisher
	log       *logger.Logger
	metrics   *metrics.Metrics

	mutMu    sync.Mutex
	inflight map[uuid.UUID]*Mutation
}

func New(opts Options, options ...Option) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultStaleTime <= 0 {
		opts.DefaultStaleTime = StandardStaleTime
	}
	if opts.RollbackMode == "" {
		opts.RollbackMode = RollbackSnapshot
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		opts:     opts,
		store:    gocache.New(gcTTL(opts.GCTime), opts.CleanupInterval),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Nop(),
		inflight: make(map[uuid.UUID]*Mutation),
	}
	for _, o := range options {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New("clinic")
	}
	c.store.OnEvicted(func(string, interface{}) {
		c.metrics.CacheEvictions.Inc()
		c.metrics.CacheEntries.Set(float64(c.store.ItemCount()))
	})
	return c
}

func gcTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return gocache.NoExpiration
	}
	return d
}

func (c *Cache) staleTime(kind Kind) time.Duration {
	if d, ok := c.opts.StaleTimes[kind]; ok {
		return d
	}
	return c.opts.DefaultStaleTime
}

func (c *Cache) lookup(key Key) *entry {
	if v, ok := c.store.Get(key.String()); ok {
		return v.(*entry)
	}
	return nil
}

// obtain returns the entry for key, creating it if needed, and pushes its gc
// deadline forward.
func (c *Cache) obtain(key Key) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.lookup(key); e != nil {
		c.touch(e)
		return e
	}
	e := newEntry(key, c.staleTime(key.Kind))
	c.store.Set(key.String(), e, gcTTL(c.opts.GCTime))
	c.metrics.CacheEntries.Set(float64(c.store.ItemCount()))
	return e
}

// touch re-arms the gc window. Entries with subscribers never expire.
func (c *Cache) touch(e *entry) {
	ttl := gcTTL(c.opts.GCTime)
	if e.subscriberCount() > 0 {
		ttl = gocache.NoExpiration
	}
	c.store.Set(e.key.String(), e, ttl)
}

func (c *Cache) entries() []*entry {
	items := c.store.Items()
	out := make([]*entry, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*entry))
	}
	return out
}

// fetch loads the entry through singleflight. Fetches run on the cache's own
// context; ctx only bounds how long this caller waits.
func (c *Cache) fetch(ctx context.Context, e *entry) (any, error) {
	e.mu.Lock()
	version := e.version
	e.mu.Unlock()
	return c.fetchAt(ctx, e, version)
}

// fetchAt loads the entry as of version. Callers that raced a newer value get
// that value instead of a second gateway call.
func (c *Cache) fetchAt(ctx context.Context, e *entry, version uint64) (any, error) {
	e.mu.Lock()
	fetcher := e.fetcher
	e.mu.Unlock()
	if fetcher == nil {
		return nil, fmt.Errorf("querycache: no fetcher registered for %s", e.key)
	}

	ch := c.group.DoChan(fmt.Sprintf("%s#%d", e.key, version), func() (interface{}, error) {
		return c.load(e, fetcher, version)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) load(e *entry, fetcher Fetcher, version uint64) (any, error) {
	ctx := c.ctx
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}

	e.mu.Lock()
	if e.version != version && e.hasValue {
		v := e.value
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	kind := string(e.key.Kind)
	start := time.Now()
	v, err := c.withRetry(ctx, "query", c.opts.QueryRetries, func(ctx context.Context) (any, error) {
		return fetcher(ctx)
	})
	c.metrics.CacheFetchLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.CacheFetches.WithLabelValues(kind, "error").Inc()
		e.mu.Lock()
		e.lastErr = err
		if apperrors.Is(err, apperrors.ErrNotFound) && e.version == version && e.hasValue {
			// The gateway no longer has it; later reads fetch and see NotFound.
			e.value, e.hasValue = nil, false
			e.invalidated = false
			e.version++
		}
		e.mu.Unlock()
		return nil, err
	}
	c.metrics.CacheFetches.WithLabelValues(kind, "ok").Inc()

	e.mu.Lock()
	if e.version != version {
		// An optimistic write or invalidation landed while we were fetching.
		current, has := e.value, e.hasValue
		e.mu.Unlock()
		if has {
			return current, nil
		}
		return v, nil
	}
	for _, p := range e.pending {
		v = p.apply(v)
	}
	e.value, e.hasValue = v, true
	e.fetchedAt = c.opts.Now()
	e.invalidated = false
	e.lastErr = nil
	e.version++
	listeners := e.listenerFuncs()
	e.mu.Unlock()

	emit(listeners, v)
	return v, nil
}

func (c *Cache) withRetry(ctx context.Context, op string, retries int, call func(context.Context) (any, error)) (any, error) {
	for attempt := 0; ; attempt++ {
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}
		if apperrors.Is(err, apperrors.ErrUnauthorized) {
			if c.opts.OnAuthFailure != nil {
				c.opts.OnAuthFailure(err)
			}
			return nil, err
		}
		if attempt >= retries || !apperrors.Retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		c.metrics.MutationRetries.WithLabelValues(op).Inc()
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(c.opts.RetryDelay):
		}
	}
}

func (c *Cache) refetchAsync(e *entry) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, err := c.fetch(c.ctx, e)
		if err != nil && !errors.Is(err, context.Canceled) && !apperrors.Is(err, apperrors.ErrNotFound) {
			c.log.Warn("background refetch failed, serving last value",
				"key", e.key.String(), "error", err.Error())
		}
	}()
}

func (c *Cache) refetchAll(ctx context.Context, entries []*entry) error {
	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			_, err := c.fetch(ctx, e)
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// markInvalid flags every entry covered by keys as stale and returns those
// that can be refetched.
func (c *Cache) markInvalid(keys []Key, origin string) []*entry {
	if len(keys) == 0 {
		return nil
	}
	var out []*entry
	for _, e := range c.entries() {
		for _, k := range keys {
			if !k.Matches(e.key) {
				continue
			}
			e.mu.Lock()
			e.invalidated = true
			e.version++
			refetchable := e.fetcher != nil
			e.mu.Unlock()
			if refetchable {
				out = append(out, e)
			}
			break
		}
	}
	for _, k := range keys {
		c.metrics.CacheInvalidations.WithLabelValues(string(k.Kind), origin).Inc()
	}
	return out
}

func (c *Cache) publish(keys []Key) {
	if c.publisher == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, 2*time.Second)
	defer cancel()
	if err := c.publisher.PublishInvalidation(ctx, keys); err != nil {
		c.log.Warn("failed to publish invalidation", "error", err.Error())
	}
}

// Invalidate marks matching entries stale and waits for their refetch.
func (c *Cache) Invalidate(ctx context.Context, keys ...Key) error {
	entries := c.markInvalid(keys, "local")
	c.publish(keys)
	return c.refetchAll(ctx, entries)
}

// InvalidateAsync marks matching entries stale and refetches them in the
// background.
func (c *Cache) InvalidateAsync(keys ...Key) {
	entries := c.markInvalid(keys, "local")
	c.publish(keys)
	for _, e := range entries {
		c.refetchAsync(e)
	}
}

// HandleRemoteInvalidation applies an invalidation received from another
// instance without publishing it again.
func (c *Cache) HandleRemoteInvalidation(keys []Key) {
	for _, e := range c.markInvalid(keys, "remote") {
		c.refetchAsync(e)
	}
}

// Refetch reacts to a focus or reconnect signal and returns how many entries
// were refetched.
func (c *Cache) Refetch(ctx context.Context, sig Signal) (int, error) {
	now := c.opts.Now()
	var targets []*entry
	for _, e := range c.entries() {
		e.mu.Lock()
		eligible := e.fetcher != nil && (sig == SignalReconnect || e.isStale(now))
		e.mu.Unlock()
		if eligible {
			targets = append(targets, e)
		}
	}
	return len(targets), c.refetchAll(ctx, targets)
}

// Subscribe keeps the entry for key alive and calls fn with every new value.
// The returned func removes the subscription.
func (c *Cache) Subscribe(key Key, fn func(any)) (unsubscribe func()) {
	e := c.obtain(key)
	id := e.addListener(fn)
	c.touch(e)
	var once sync.Once
	return func() {
		once.Do(func() {
			e.removeListener(id)
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.lookup(key) == e {
				c.touch(e)
			}
		})
	}
}

// Collect drops entries whose gc window has passed.
func (c *Cache) Collect() {
	c.store.DeleteExpired()
	c.metrics.CacheEntries.Set(float64(c.store.ItemCount()))
}

// Len counts live entries.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// InFlight counts mutations still waiting on the gateway.
func (c *Cache) InFlight() int {
	c.mutMu.Lock()
	defer c.mutMu.Unlock()
	return len(c.inflight)
}

// Wait blocks until background refetches have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
	c.store.Flush()
}
