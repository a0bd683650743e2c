package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// busBuffer bounds messages queued per subscription before go-redis drops them.
const busBuffer = 256

// SignalBus carries price and trade events over Redis Pub/Sub. Channel names
// are prefixed so several deployments can share one Redis.
type SignalBus struct {
	c *Client
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload to every current subscriber of channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed. The returned channel
// closes when ctx is cancelled or the connection is lost for good.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.c.rdb.Subscribe(ctx, sb.c.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, busBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel(redis.WithChannelSize(busBuffer))
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
