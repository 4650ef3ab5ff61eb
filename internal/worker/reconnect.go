package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Refetcher interface {
	Refetch(ctx context.Context, sig querycache.Signal) (int, error)
}

type ReconnectWatcherConfig struct {
	Interval    time.Duration
	PingTimeout time.Duration
}

// ReconnectWatcher pings the gateway and fires the cache reconnect signal
// when it comes back after an outage.
type ReconnectWatcher struct {
	gateway Pinger
	cache   Refetcher
	config  ReconnectWatcherConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	down bool
}

func NewReconnectWatcher(gateway Pinger, cache Refetcher, config ReconnectWatcherConfig, log *logger.Logger, m *metrics.Metrics) *ReconnectWatcher {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 2 * time.Second
	}
	return &ReconnectWatcher{
		gateway: gateway,
		cache:   cache,
		config:  config,
		logger:  log.Component("reconnect-watcher"),
		metrics: m,
	}
}

func (w *ReconnectWatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("Starting reconnect watcher", "interval", w.config.Interval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down reconnect watcher")
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check returns true when this ping restored a lost connection.
func (w *ReconnectWatcher) check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, w.config.PingTimeout)
	err := w.gateway.Ping(pingCtx)
	cancel()

	if err != nil {
		if !w.down {
			w.logger.Warn("Gateway unreachable", "error", err.Error())
		}
		w.down = true
		w.setUp(false)
		return false
	}

	w.setUp(true)
	if !w.down {
		return false
	}
	w.down = false

	n, err := w.cache.Refetch(ctx, querycache.SignalReconnect)
	if err != nil {
		w.logger.Error(err, "Refetch after reconnect failed", "entries", n)
	} else {
		w.logger.Info("Gateway reachable again", "refetched", n)
	}
	return true
}

func (w *ReconnectWatcher) setUp(up bool) {
	if w.metrics == nil {
		return
	}
	if up {
		w.metrics.GatewayUp.Set(1)
	} else {
		w.metrics.GatewayUp.Set(0)
	}
}
