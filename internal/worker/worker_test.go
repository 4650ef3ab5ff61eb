package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/service/servicetest"
	"github.com/jwalitptl/clinic-api/internal/service/workflow"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type signals struct {
	mu   sync.Mutex
	sent []querycache.Signal
	err  error
}

func (s *signals) Refetch(_ context.Context, sig querycache.Signal) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sig)
	return 3, s.err
}

func (s *signals) list() []querycache.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]querycache.Signal(nil), s.sent...)
}

type badgeStore struct {
	mu   sync.Mutex
	keys []string
	ttl  time.Duration
}

func (b *badgeStore) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, key)
	b.ttl = ttl
	return nil
}

func (b *badgeStore) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys)
}

func TestReconnectWatcherRefetchesOnRecovery(t *testing.T) {
	env := servicetest.New(t)
	sig := &signals{}
	m := metrics.New("test")
	w := NewReconnectWatcher(env.Store, sig, ReconnectWatcherConfig{Interval: time.Second}, logger.Nop(), m)
	ctx := context.Background()

	assert.False(t, w.check(ctx))
	assert.Empty(t, sig.list())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayUp))

	env.Store.SetOffline(true)
	assert.False(t, w.check(ctx))
	assert.False(t, w.check(ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GatewayUp))
	assert.Empty(t, sig.list())

	env.Store.SetOffline(false)
	assert.True(t, w.check(ctx))
	assert.Equal(t, []querycache.Signal{querycache.SignalReconnect}, sig.list())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayUp))

	// Already connected: nothing more to do.
	assert.False(t, w.check(ctx))
	assert.Len(t, sig.list(), 1)
}

func TestReconnectWatcherSurvivesRefetchErrors(t *testing.T) {
	env := servicetest.New(t)
	sig := &signals{err: errors.New("boom")}
	w := NewReconnectWatcher(env.Store, sig, ReconnectWatcherConfig{}, logger.Nop(), nil)

	env.Store.SetOffline(true)
	w.check(context.Background())
	env.Store.SetOffline(false)

	assert.True(t, w.check(context.Background()))
	assert.Equal(t, 10*time.Second, w.config.Interval)
}

func receiveBadges(t *testing.T, ch <-chan []byte, want func(Badges) bool) Badges {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case raw, ok := <-ch:
			require.True(t, ok, "badge channel closed")
			var b Badges
			require.NoError(t, json.Unmarshal(raw, &b))
			if want(b) {
				return b
			}
		case <-timeout:
			t.Fatal("no matching badge update")
		}
	}
}

func TestBadgePublisherFollowsWorkflowStats(t *testing.T) {
	env := servicetest.New(t)
	log := logger.Nop()
	workflows := workflow.NewService(env.Gateway.Workflows, env.Cache, log)
	broker := messaging.NewMemoryBroker()
	store := &badgeStore{}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := broker.Subscribe(ctx, messaging.ChannelWorkflowBadges)
	require.NoError(t, err)

	p := NewBadgePublisher(workflows, env.Cache, broker, store, BadgePublisherConfig{TTL: time.Minute}, log)
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	first := receiveBadges(t, sub, func(Badges) bool { return true })
	assert.Zero(t, first.Stats.Total)

	invoice := model.Invoice{
		Base:      model.Base{ID: uuid.New()},
		PatientID: uuid.New(),
		Type:      model.InvoiceTypeConsultation,
	}
	_, err = workflows.CreateForInvoice(ctx, model.Actor{UserID: uuid.New(), Role: model.RoleCashier}, invoice)
	require.NoError(t, err)

	next := receiveBadges(t, sub, func(b Badges) bool { return b.Stats.Total == 1 })
	assert.Equal(t, 1, next.Stats.PaymentPending)
	assert.Eventually(t, func() bool { return store.count() >= 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, time.Minute, store.ttl)
}
