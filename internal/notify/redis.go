package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "pool-events:"

// RedisBroker implements Broker over redis pub/sub so every instance of
// the service sees allocation events regardless of which one handled the
// allocate call.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to redis and verifies connectivity
func NewRedisBroker(address, password string, db int) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBroker{client: client}, nil
}

// Publish sends an event to the pool's channel
func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, channelPrefix+event.PoolID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe delivers the pool's events until the returned cancel function
// is called or ctx is done
func (b *RedisBroker) Subscribe(ctx context.Context, poolID string) (<-chan Event, func(), error) {
	sub := b.client.Subscribe(ctx, channelPrefix+poolID)

	// Force the subscription to be established before returning
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("failed to decode pool event", "error", err, "pool_id", poolID)
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		sub.Close()
	}

	return out, cancel, nil
}

// Ping verifies redis connectivity
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the redis connection
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
