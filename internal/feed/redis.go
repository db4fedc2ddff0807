package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"qryptic/internal/models"
)

// ChannelPrefix is prepended to the owner id to form the Redis channel name.
const ChannelPrefix = "qryptic:feed:"

// RedisRelay fans events out across server instances. Publish sends to Redis;
// Run receives from Redis and delivers into the local Hub, so every instance's
// subscribers see every instance's writes.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
	session    func(ctx context.Context) error
}

// NewRedisRelay creates a relay between client and hub.
func NewRedisRelay(client *redis.Client, hub *Hub, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisRelay{
		client:     client,
		hub:        hub,
		logger:     logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	r.session = r.subscribe
	return r
}

// Channel returns the Redis channel carrying owner's events.
func Channel(owner string) string {
	return ChannelPrefix + owner
}

// Publish sends event to the owner's Redis channel.
func (r *RedisRelay) Publish(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := r.client.Publish(ctx, Channel(event.Record.OwnerID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run relays messages from every owner channel into the hub until ctx is
// done. A failed or lost subscription is retried with capped exponential
// backoff. It returns ctx.Err().
func (r *RedisRelay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		started := time.Now()
		err := r.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > r.maxBackoff {
			backoff = r.minBackoff
		}
		r.logger.Warn("feed relay disconnected", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}

// subscribe runs one pattern subscription until it fails or ctx is done.
func (r *RedisRelay) subscribe(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to feed channels: %w", err)
	}
	r.logger.Info("feed relay subscribed", "pattern", ChannelPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("feed subscription closed")
			}
			r.deliver(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, channel, payload string) {
	var event models.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logger.Warn("discarding malformed feed message", "channel", channel, "error", err)
		return
	}
	if !models.IsValidOperation(event.Operation) {
		r.logger.Warn("discarding feed message with unknown operation", "channel", channel, "operation", event.Operation)
		return
	}
	if Channel(event.Record.OwnerID) != channel {
		r.logger.Warn("discarding feed message for mismatched owner", "channel", channel, "owner_id", event.Record.OwnerID)
		return
	}
	r.hub.Publish(ctx, event)
}
