package querycache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

type invalidationMessage struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

// Bus carries invalidations between service instances over a broker channel.
type Bus struct {
	broker  messaging.Broker
	channel string
	origin  string
	log     *logger.Logger
}

func NewBus(broker messaging.Broker, channel, origin string, log *logger.Logger) *Bus {
	return &Bus{broker: broker, channel: channel, origin: origin, log: log.Component("invalidation-bus")}
}

func (b *Bus) PublishInvalidation(ctx context.Context, keys []Key) error {
	msg := invalidationMessage{Origin: b.origin, Keys: make([]string, len(keys))}
	for i, k := range keys {
		msg.Keys[i] = k.String()
	}
	return b.broker.Publish(ctx, b.channel, msg)
}

// Listen applies invalidations published by other instances until ctx is
// done or the broker closes the channel.
func (b *Bus) Listen(ctx context.Context, c *Cache) error {
	msgs, err := b.broker.Subscribe(ctx, b.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var msg invalidationMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				b.log.Warn("dropping malformed invalidation", "error", err.Error())
				continue
			}
			if msg.Origin == b.origin {
				continue
			}
			keys := make([]Key, len(msg.Keys))
			for i, s := range msg.Keys {
				keys[i] = ParseKey(s)
			}
			c.HandleRemoteInvalidation(keys)
		}
	}
}
