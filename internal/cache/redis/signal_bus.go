package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/arbiterlabs/mevscan/internal/domain"
)

// SignalBus implements domain.SignalBus on Redis Pub/Sub. Queued and resolved
// opportunity events go out on the "opportunities" and "resolutions"
// channels; the ws hub and the alerter subscribe.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a raw payload to a channel. Delivery is fire-and-forget;
// durable history lives in the opportunity store, not on the bus.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw payloads for the given channel name,
// which may contain glob wildcards. Cancelling the context tears the
// subscription down and closes the returned channel.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	subscribe := sb.rdb.Subscribe
	if strings.ContainsAny(channel, "*?[") {
		subscribe = sb.rdb.PSubscribe
	}
	pubsub := subscribe(ctx, channel)

	// Receive the confirmation so a dead connection fails here, not silently
	// in the pump.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go pump(ctx, pubsub, out)
	return out, nil
}

func pump(ctx context.Context, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
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
}

var _ domain.SignalBus = (*SignalBus)(nil)
