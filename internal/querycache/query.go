package querycache

import (
	"context"
	"fmt"
)

// Query returns the cached value for key. A fresh entry is served without a
// gateway call; a stale one is served as-is while a background refetch runs;
// a missing one is fetched synchronously.
func Query[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) (T, error) {
	v, err := c.read(ctx, key, func(ctx context.Context) (any, error) {
		t, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](key, v)
}

// Peek returns what the cache currently holds for key without fetching.
func Peek[T any](c *Cache, key Key) (T, bool) {
	var zero T
	e := c.lookup(key)
	if e == nil {
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasValue {
		return zero, false
	}
	t, ok := e.value.(T)
	return t, ok
}

// Subscribe calls fn with every new value stored under key.
func Subscribe[T any](c *Cache, key Key, fn func(T)) (unsubscribe func()) {
	return c.Subscribe(key, func(v any) {
		if t, ok := v.(T); ok {
			fn(t)
		}
	})
}

func (c *Cache) read(ctx context.Context, key Key, fetcher Fetcher) (any, error) {
	e := c.obtain(key)
	kind := string(key.Kind)

	e.mu.Lock()
	e.fetcher = fetcher
	if e.hasValue {
		v := e.value
		stale := e.isStale(c.opts.Now())
		e.mu.Unlock()
		if stale {
			c.metrics.CacheReads.WithLabelValues(kind, "stale").Inc()
			c.refetchAsync(e)
		} else {
			c.metrics.CacheReads.WithLabelValues(kind, "hit").Inc()
		}
		return v, nil
	}
	version := e.version
	e.mu.Unlock()

	c.metrics.CacheReads.WithLabelValues(kind, "miss").Inc()
	return c.fetchAt(ctx, e, version)
}

func cast[T any](key Key, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("querycache: %s holds %T", key, v)
	}
	return t, nil
}
