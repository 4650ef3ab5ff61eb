package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

// BadgeKey holds the latest badge counts when a BadgeStore is configured.
const BadgeKey = "clinic:workflow:badges:latest"

type StatsSource interface {
	ComputeStats(ctx context.Context) model.WorkflowStats
}

// BadgeStore keeps the last published counts for clients that connect late.
type BadgeStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type Badges struct {
	Stats model.WorkflowStats `json:"stats"`
	At    time.Time           `json:"at"`
}

type BadgePublisherConfig struct {
	TTL time.Duration
}

// BadgePublisher follows the cached workflow stats and publishes every new
// value on the badge channel.
type BadgePublisher struct {
	stats  StatsSource
	cache  *querycache.Cache
	broker messaging.Broker
	store  BadgeStore
	config BadgePublisherConfig
	logger *logger.Logger
	now    func() time.Time
}

func NewBadgePublisher(stats StatsSource, cache *querycache.Cache, broker messaging.Broker, store BadgeStore, config BadgePublisherConfig, log *logger.Logger) *BadgePublisher {
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	return &BadgePublisher{
		stats:  stats,
		cache:  cache,
		broker: broker,
		store:  store,
		config: config,
		logger: log.Component("badge-publisher"),
		now:    time.Now,
	}
}

// Start publishes the current counts, then every change, until ctx is done.
func (p *BadgePublisher) Start(ctx context.Context) {
	// Only the newest value matters.
	updates := make(chan model.WorkflowStats, 1)
	unsubscribe := querycache.Subscribe(p.cache, querycache.NewKey(querycache.KindWorkflowStats), func(s model.WorkflowStats) {
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()

	p.logger.Info("Starting badge publisher")
	p.publish(ctx, p.stats.ComputeStats(ctx))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down badge publisher")
			return
		case s := <-updates:
			p.publish(ctx, s)
		}
	}
}

func (p *BadgePublisher) publish(ctx context.Context, stats model.WorkflowStats) {
	if err := p.send(ctx, Badges{Stats: stats, At: p.now()}); err != nil {
		p.logger.Error(err, "Failed to publish workflow badges")
	}
}

func (p *BadgePublisher) send(ctx context.Context, b Badges) error {
	if err := p.broker.Publish(ctx, messaging.ChannelWorkflowBadges, b); err != nil {
		return fmt.Errorf("failed to publish badges: %w", err)
	}
	if p.store == nil {
		return nil
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal badges: %w", err)
	}
	if err := p.store.Set(ctx, BadgeKey, payload, p.config.TTL); err != nil {
		return fmt.Errorf("failed to store badges: %w", err)
	}
	return nil
}
