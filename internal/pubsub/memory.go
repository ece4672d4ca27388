package pubsub

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker used by tests.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string][]*memorySubscription
}

func NewMemory() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memorySubscription)}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	subs := make([]*memorySubscription, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		broker:   b,
		channel:  channel,
		messages: make(chan []byte, 16),
	}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	return sub, nil
}

// SubscriberCount reports how many subscriptions are open on a channel.
func (b *MemoryBroker) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

type memorySubscription struct {
	broker   *MemoryBroker
	channel  string
	messages chan []byte
	mu       sync.Mutex
	closed   bool
}

func (s *memorySubscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.messages <- payload:
	default:
	}
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	b := s.broker
	b.mu.Lock()
	subs := b.subs[s.channel]
	for i, sub := range subs {
		if sub == s {
			b.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[s.channel]) == 0 {
		delete(b.subs, s.channel)
	}
	b.mu.Unlock()

	close(s.messages)
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
