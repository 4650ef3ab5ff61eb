package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []string
}

func (n *recordingNotifier) MutationFailed(_ context.Context, mutation string, _ error) {
	n.mu.Lock()
	n.failures = append(n.failures, mutation)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failures)
}

// fakeSource stands in for a gateway list call.
type fakeSource struct {
	mu    sync.Mutex
	items []string
	err   error
	calls atomic.Int32
}

func newSource(items ...string) *fakeSource {
	return &fakeSource{items: items}
}

func (s *fakeSource) list(context.Context) ([]string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.items...), nil
}

func (s *fakeSource) set(items ...string) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func newTestCache(t *testing.T, tweak ...func(*Options)) (*Cache, *fakeClock, *recordingNotifier) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts := DefaultOptions()
	opts.Now = clock.Now
	opts.RetryDelay = time.Millisecond
	opts.CleanupInterval = 0
	for _, fn := range tweak {
		fn(&opts)
	}
	notifier := &recordingNotifier{}
	c := New(opts, WithNotifier(notifier), WithMetrics(metrics.New("test")))
	t.Cleanup(c.Close)
	return c, clock, notifier
}

func TestQueryFreshValueSkipsGateway(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	src := newSource("a", "b")
	key := NewKey(KindPatients)

	first, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)
	second, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestQueryStaleValueServedWhileRefetching(t *testing.T) {
	c, clock, _ := newTestCache(t)
	ctx := context.Background()
	src := newSource("inv-1")
	key := NewKey(KindInvoices)

	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	src.set("inv-1", "inv-2")
	clock.Advance(FinancialStaleTime + time.Second)

	got, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-1"}, got, "stale read returns the last value")

	c.Wait()
	cached, ok := Peek[[]string](c, key)
	require.True(t, ok)
	assert.Equal(t, []string{"inv-1", "inv-2"}, cached)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestStaleTimesPerKind(t *testing.T) {
	c, clock, _ := newTestCache(t)
	ctx := context.Background()
	invoices := newSource("inv")
	patients := newSource("pat")

	_, err := Query(ctx, c, NewKey(KindInvoices), invoices.list)
	require.NoError(t, err)
	_, err = Query(ctx, c, NewKey(KindPatients), patients.list)
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	_, _ = Query(ctx, c, NewKey(KindInvoices), invoices.list)
	_, _ = Query(ctx, c, NewKey(KindPatients), patients.list)
	c.Wait()

	assert.EqualValues(t, 2, invoices.calls.Load())
	assert.EqualValues(t, 1, patients.calls.Load())
}

func TestQueryDeduplicatesConcurrentFetches(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"x"}, nil
	}
	key := NewKey(KindPatients)

	var wg sync.WaitGroup
	results := make([][]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Query(ctx, c, key, fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, []string{"x"}, r)
	}
}

func TestQueryRetriesTransientErrorOnce(t *testing.T) {
	c, _, _ := newTestCache(t)
	src := newSource()
	src.fail(errors.New("connection reset"))

	_, err := Query(context.Background(), c, NewKey(KindPatients), src.list)
	require.Error(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestQueryAuthFailureSkipsRetry(t *testing.T) {
	var hooks atomic.Int32
	c, _, _ := newTestCache(t, func(o *Options) {
		o.OnAuthFailure = func(error) { hooks.Add(1) }
	})
	src := newSource()
	src.fail(apperrors.Unauthorized(errors.New("jwt expired")))

	_, err := Query(context.Background(), c, NewKey(KindPatients), src.list)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
	assert.EqualValues(t, 1, src.calls.Load())
	assert.EqualValues(t, 1, hooks.Load())
}

func TestFailedRefetchKeepsLastGoodValue(t *testing.T) {
	c, clock, _ := newTestCache(t)
	ctx := context.Background()
	src := newSource("a")
	key := NewKey(KindPatients)

	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	src.fail(errors.New("offline"))
	clock.Advance(StandardStaleTime + time.Second)
	got, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, []string{"a"}, got)
	cached, _ := Peek[[]string](c, key)
	assert.Equal(t, []string{"a"}, cached)
}

func TestNotFoundRefetchDropsValue(t *testing.T) {
	c, clock, _ := newTestCache(t)
	ctx := context.Background()
	src := newSource("p-1")
	key := NewKey(KindPatients, "id=p-1")

	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	src.fail(apperrors.NotFound("patient", nil))
	require.NoError(t, c.Invalidate(ctx, KindKey(KindPatients)), "a vanished row is reconciled, not an error")

	_, ok := Peek[[]string](c, key)
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		_, err = Query(ctx, c, key, src.list)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	}

	// A stale read that finds the row gone drops it too.
	src.fail(nil)
	_, err = Query(ctx, c, key, src.list)
	require.NoError(t, err)
	src.fail(apperrors.NotFound("patient", nil))
	clock.Advance(StandardStaleTime + time.Second)
	_, err = Query(ctx, c, key, src.list)
	require.NoError(t, err)
	c.Wait()
	_, err = Query(ctx, c, key, src.list)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestGCEvictsOnlyUnsubscribedEntries(t *testing.T) {
	c, _, _ := newTestCache(t, func(o *Options) { o.GCTime = 30 * time.Millisecond })
	ctx := context.Background()
	idle := NewKey(KindPatients)
	watched := NewKey(KindWorkflowStats)

	_, err := Query(ctx, c, idle, newSource("a").list)
	require.NoError(t, err)
	var seen atomic.Int32
	unsubscribe := Subscribe(c, watched, func([]string) { seen.Add(1) })
	_, err = Query(ctx, c, watched, newSource("w").list)
	require.NoError(t, err)
	assert.EqualValues(t, 1, seen.Load())

	time.Sleep(60 * time.Millisecond)
	c.Collect()
	assert.Equal(t, 1, c.Len())
	_, ok := Peek[[]string](c, idle)
	assert.False(t, ok)
	_, ok = Peek[[]string](c, watched)
	assert.True(t, ok)

	unsubscribe()
	time.Sleep(60 * time.Millisecond)
	c.Collect()
	assert.Equal(t, 0, c.Len())
}

func TestRefetchSignals(t *testing.T) {
	c, clock, _ := newTestCache(t)
	ctx := context.Background()
	invoices := newSource("inv")
	patients := newSource("pat")
	_, err := Query(ctx, c, NewKey(KindInvoices), invoices.list)
	require.NoError(t, err)
	_, err = Query(ctx, c, NewKey(KindPatients), patients.list)
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)

	n, err := c.Refetch(ctx, SignalFocus)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "focus only refetches stale entries")
	assert.EqualValues(t, 2, invoices.calls.Load())
	assert.EqualValues(t, 1, patients.calls.Load())

	n, err = c.Refetch(ctx, SignalReconnect)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 3, invoices.calls.Load())
	assert.EqualValues(t, 2, patients.calls.Load())
}

func TestInvalidateCoversWholeKind(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	all := newSource("a", "b")
	paid := newSource("b")
	patients := newSource("p")
	_, _ = Query(ctx, c, NewKey(KindInvoices), all.list)
	_, _ = Query(ctx, c, NewKey(KindInvoices, "status=paid"), paid.list)
	_, _ = Query(ctx, c, NewKey(KindPatients), patients.list)

	require.NoError(t, c.Invalidate(ctx, KindKey(KindInvoices)))

	assert.EqualValues(t, 2, all.calls.Load())
	assert.EqualValues(t, 2, paid.calls.Load())
	assert.EqualValues(t, 1, patients.calls.Load())
}

func TestHandleRemoteInvalidationDoesNotRepublish(t *testing.T) {
	pub := &recordingPublisher{}
	c, _, _ := newTestCache(t)
	c.publisher = pub
	ctx := context.Background()
	src := newSource("a")
	_, _ = Query(ctx, c, NewKey(KindPatients), src.list)

	c.HandleRemoteInvalidation([]Key{KindKey(KindPatients)})
	c.Wait()
	assert.EqualValues(t, 2, src.calls.Load())
	assert.Equal(t, 0, pub.count())

	require.NoError(t, c.Invalidate(ctx, KindKey(KindPatients)))
	assert.Equal(t, 1, pub.count())
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent [][]Key
}

func (p *recordingPublisher) PublishInvalidation(_ context.Context, keys []Key) error {
	p.mu.Lock()
	p.sent = append(p.sent, keys)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}
