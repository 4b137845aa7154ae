package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes events to a Redis pub/sub channel so listeners in
// other processes (the UI backend, other service instances) can subscribe.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a RedisNotifier from a Redis URL.
// Parameters:
//   - redisURL: connection URL (redis://...).
//   - channel: pub/sub channel name for job events.
// Returns:
//   - *RedisNotifier: initialized notifier.
//   - error: non-nil if the URL cannot be parsed.
func NewRedisNotifier(redisURL, channel string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &RedisNotifier{
		client:  redis.NewClient(opts),
		channel: channel,
	}, nil
}

// Ping verifies connectivity to Redis.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - error: non-nil if Redis is unreachable.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Publish delivers the event as JSON to the configured channel.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - event: event to deliver.
// Returns:
//   - error: non-nil if marshaling or the publish fails.
func (n *RedisNotifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Close releases the underlying Redis connection.
// Parameters: none.
// Returns:
//   - error: non-nil if the close fails.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
