package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus broadcasts envelopes over Redis pub/sub, one Redis channel per
// topic. Pub/sub gives exactly the required delivery contract: best effort,
// no queueing for absent subscribers, no cross-channel ordering.
type RedisBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisBus wraps an already-connected client.
func NewRedisBus(rdb *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, topic, string(data)).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string, h Handler) (func(), error) {
	pubsub := b.rdb.Subscribe(ctx, topic)
	// Receive forces the SUBSCRIBE round-trip so a publish racing the
	// subscription is not silently dropped on our side.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed bus event", "topic", topic, "error", err)
				continue
			}
			h(env)
		}
	}()

	return func() { pubsub.Close() }, nil
}
