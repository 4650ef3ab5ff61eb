package querycache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func TestMutateShowsOptimisticValueUntilSettled(t *testing.T) {
	c, _, notifier := newTestCache(t)
	ctx := context.Background()
	src := newSource("a")
	key := NewKey(KindInvoices)
	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	started, release := make(chan struct{}), make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Mutate(ctx, c, MutationSpec[string]{
			Name:       "create-invoice",
			Optimistic: []Update{Optimistic(key, Prepend("draft"))},
			Do: func(context.Context) (string, error) {
				close(started)
				<-release
				src.set("inv-1", "a")
				return "inv-1", nil
			},
			Invalidate: []Key{KindKey(KindInvoices)},
		})
		done <- err
	}()

	<-started
	optimistic, _ := Peek[[]string](c, key)
	assert.Equal(t, []string{"draft", "a"}, optimistic)
	assert.Equal(t, 1, c.InFlight())

	close(release)
	require.NoError(t, <-done)

	settled, _ := Peek[[]string](c, key)
	assert.Equal(t, []string{"inv-1", "a"}, settled)
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, 0, notifier.count())
}

func TestMutateFailureRestoresExactSnapshot(t *testing.T) {
	c, _, notifier := newTestCache(t)
	ctx := context.Background()
	src := newSource("alice", "bob")
	stats := newSource("stats")
	key := NewKey(KindPatients)
	depKey := NewKey(KindDashboard)
	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)
	_, err = Query(ctx, c, depKey, stats.list)
	require.NoError(t, err)
	before, _ := Peek[[]string](c, key)

	var doCalls atomic.Int32
	_, err = Mutate(ctx, c, MutationSpec[struct{}]{
		Name: "update-patient",
		Optimistic: []Update{Optimistic(key, UpdateWhere(
			func(s string) bool { return s == "alice" },
			func(string) string { return "alicia" },
		))},
		Do: func(context.Context) (struct{}, error) {
			doCalls.Add(1)
			return struct{}{}, errors.New("gateway timeout")
		},
		Invalidate: []Key{KindKey(KindPatients)},
		Dependents: []Key{depKey},
	})
	require.Error(t, err)
	c.Wait()

	after, _ := Peek[[]string](c, key)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, notifier.count())
	assert.EqualValues(t, 2, doCalls.Load(), "transient failures are retried once")
	assert.EqualValues(t, 1, src.calls.Load(), "the failed key is not refetched")
	assert.EqualValues(t, 2, stats.calls.Load(), "dependents refetch regardless of outcome")
}

func TestMutateDoesNotRetryFinalErrors(t *testing.T) {
	c, _, notifier := newTestCache(t)
	var doCalls atomic.Int32
	_, err := Mutate(context.Background(), c, MutationSpec[int]{
		Name: "adjust-stock",
		Do: func(context.Context) (int, error) {
			doCalls.Add(1)
			return 0, apperrors.Conflict("stock cannot go negative")
		},
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	assert.EqualValues(t, 1, doCalls.Load())
	assert.Equal(t, 1, notifier.count())
}

func TestMutateRetrySucceeds(t *testing.T) {
	c, _, notifier := newTestCache(t)
	var doCalls atomic.Int32
	got, err := Mutate(context.Background(), c, MutationSpec[int]{
		Name: "record-payment",
		Do: func(context.Context) (int, error) {
			if doCalls.Add(1) == 1 {
				return 0, errors.New("connection reset")
			}
			return 42, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.EqualValues(t, 2, doCalls.Load())
	assert.Equal(t, 0, notifier.count())
}

func TestMutateValidationRejectsBeforeGatewayCall(t *testing.T) {
	c, _, notifier := newTestCache(t)
	ctx := context.Background()
	src := newSource("paid-invoice")
	key := NewKey(KindInvoices)
	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	called := false
	_, err = Mutate(ctx, c, MutationSpec[struct{}]{
		Name:       "update-invoice",
		Validate:   func() error { return apperrors.Validation("paid invoices cannot be edited") },
		Optimistic: []Update{Optimistic(key, Prepend("edited"))},
		Do: func(context.Context) (struct{}, error) {
			called = true
			return struct{}{}, nil
		},
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.False(t, called)
	cached, _ := Peek[[]string](c, key)
	assert.Equal(t, []string{"paid-invoice"}, cached)
	assert.Equal(t, 1, notifier.count())
}

// blockingMutation starts a mutation whose gateway call waits on release.
func blockingMutation(t *testing.T, c *Cache, key Key, item string, result error, onCall func()) (release chan struct{}, done chan error) {
	t.Helper()
	started := make(chan struct{})
	release = make(chan struct{})
	done = make(chan error, 1)
	go func() {
		_, err := Mutate(context.Background(), c, MutationSpec[struct{}]{
			Name:       "add-" + item,
			Optimistic: []Update{Optimistic(key, Prepend(item))},
			Do: func(context.Context) (struct{}, error) {
				close(started)
				<-release
				if result == nil && onCall != nil {
					onCall()
				}
				return struct{}{}, result
			},
			Invalidate: []Key{KindKey(key.Kind)},
		})
		done <- err
	}()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("mutation never reached the gateway")
	}
	return release, done
}

func TestConcurrentMutationsBuildOnLatestOptimisticValue(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	src := newSource("a")
	key := NewKey(KindInvoices)
	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	releaseX, doneX := blockingMutation(t, c, key, "x", nil, func() { src.set("x", "a") })
	releaseY, doneY := blockingMutation(t, c, key, "y", nil, func() { src.set("y", "x", "a") })

	cached, _ := Peek[[]string](c, key)
	assert.Equal(t, []string{"y", "x", "a"}, cached)

	close(releaseX)
	require.NoError(t, <-doneX)
	cached, _ = Peek[[]string](c, key)
	assert.Equal(t, []string{"y", "x", "a"}, cached, "refetch keeps the pending update on top")

	close(releaseY)
	require.NoError(t, <-doneY)
	cached, _ = Peek[[]string](c, key)
	assert.Equal(t, []string{"y", "x", "a"}, cached)
}

// Snapshot rollback restores the failed mutation's pre-image, which also
// discards a later update that is still pending.
func TestSnapshotRollbackDropsLaterPendingUpdate(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	src := newSource("a")
	key := NewKey(KindInvoices)
	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	releaseX, doneX := blockingMutation(t, c, key, "x", apperrors.Conflict("rejected"), nil)
	releaseY, doneY := blockingMutation(t, c, key, "y", nil, func() { src.set("y", "a") })

	close(releaseX)
	require.Error(t, <-doneX)
	cached, _ := Peek[[]string](c, key)
	assert.Equal(t, []string{"a"}, cached)

	close(releaseY)
	require.NoError(t, <-doneY)
	cached, _ = Peek[[]string](c, key)
	assert.Equal(t, []string{"y", "a"}, cached, "the refetch after y settles restores it")
}

func TestRebaseRollbackKeepsLaterPendingUpdate(t *testing.T) {
	c, _, _ := newTestCache(t, func(o *Options) { o.RollbackMode = RollbackRebase })
	ctx := context.Background()
	src := newSource("a")
	key := NewKey(KindInvoices)
	_, err := Query(ctx, c, key, src.list)
	require.NoError(t, err)

	releaseX, doneX := blockingMutation(t, c, key, "x", apperrors.Conflict("rejected"), nil)
	releaseY, doneY := blockingMutation(t, c, key, "y", nil, func() { src.set("y", "a") })

	close(releaseX)
	require.Error(t, <-doneX)
	cached, _ := Peek[[]string](c, key)
	assert.Equal(t, []string{"y", "a"}, cached)

	close(releaseY)
	require.NoError(t, <-doneY)
	cached, _ = Peek[[]string](c, key)
	assert.Equal(t, []string{"y", "a"}, cached)
}

func TestMutationStateTransitions(t *testing.T) {
	assert.Equal(t, "pending", MutationPending.String())
	assert.Equal(t, "settled", MutationSettled.String())
	assert.Equal(t, "rolled-back", MutationRolledBack.String())

	c, _, _ := newTestCache(t)
	m := c.begin("noop", nil)
	assert.Equal(t, MutationPending, m.State())
	c.settle(m)
	assert.Equal(t, MutationSettled, m.State())

	m = c.begin("noop", nil)
	c.rollback(m)
	assert.Equal(t, MutationRolledBack, m.State())
}

func TestParseRollbackMode(t *testing.T) {
	mode, err := ParseRollbackMode("")
	require.NoError(t, err)
	assert.Equal(t, RollbackSnapshot, mode)
	mode, err = ParseRollbackMode("rebase")
	require.NoError(t, err)
	assert.Equal(t, RollbackRebase, mode)
	_, err = ParseRollbackMode("undo-all")
	assert.Error(t, err)
}
