// Package events delivers receipt notifications over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
)

// DefaultChannel carries every receipt event.
const DefaultChannel = "receipts:events"

// RedisPublisher implements receipts.Publisher with PUBLISH.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher constructs the publisher. An empty channel falls back to DefaultChannel.
func NewRedisPublisher(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Channel returns the pub/sub channel in use.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish encodes the event as JSON and publishes it. Having no subscribers is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, event receipts.Event) error {
	if p == nil || p.client == nil {
		return errors.New("events: publisher not initialised")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Type, err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	p.logger.Debug("receipt event published", slog.String("type", event.Type), slog.String("branch", event.Branch), slog.Int64("receivers", receivers))
	return nil
}

// Subscribe decodes events from the channel until ctx ends. Malformed
// messages are logged and dropped.
func (p *RedisPublisher) Subscribe(ctx context.Context, handle func(receipts.Event)) error {
	if p == nil || p.client == nil {
		return errors.New("events: publisher not initialised")
	}
	pubsub := p.client.Subscribe(ctx, p.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event receipts.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				p.logger.Warn("drop malformed receipt event", slog.Any("error", err))
				continue
			}
			handle(event)
		}
	}
}
