// Package pubsub carries the query/response envelopes between the bridge and
// external portal clients. Channels are scoped to a single (portal, job)
// pair so a subscription only ever sees traffic for its own session.
package pubsub

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	redisclient "github.com/breqdev/portal-bridge-go/internal/redis"
)

// JobChannel names the channel for one session's round trip.
func JobChannel(portalID, jobID string) string {
	return fmt.Sprintf("portal:%s:%s", portalID, jobID)
}

type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns once the subscription is established, so a publish
	// issued afterwards cannot race past it. Callers must Close the
	// subscription when the session ends.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

type redisBroker struct {
	client *redisclient.Client
}

func NewRedis(client *redisclient.Client) Broker {
	return &redisBroker{client: client}
}

func (b *redisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *redisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	// Wait for the server's subscribe confirmation before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(sub.messages)
		ch := pubsub.Channel()
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case sub.messages <- []byte(msg.Payload):
				default:
					log.Warn().Str("channel", channel).Msg("subscription buffer full, dropping message")
				}
			}
		}
	}()

	sub.closeFn = func() error {
		close(sub.done)
		return pubsub.Close()
	}

	return sub, nil
}

type redisSubscription struct {
	messages chan []byte
	done     chan struct{}
	closeFn  func() error
	closed   bool
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *redisSubscription) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeFn()
}
