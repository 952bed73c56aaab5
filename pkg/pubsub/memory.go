package pubsub

import (
	"context"
	"sync"
)

// MemoryPubSub is an in-process bus with the same channel and pattern
// semantics as the Redis driver. Several services in one process (or one
// test) can share it to simulate a cluster.
type MemoryPubSub struct {
	mu   sync.RWMutex
	subs map[string][]*memorySub
}

type memorySub struct {
	key     string
	pattern bool
	ch      chan *Event
	done    chan struct{}
	once    sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// NewMemoryPubSub creates an empty in-process bus.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string][]*memorySub)}
}

// Publish delivers the event to every matching subscription. Full
// subscriber buffers drop the event, as the network drivers do.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, list := range m.subs {
		for _, sub := range list {
			if sub.pattern && !matchPattern(sub.key, channel) {
				continue
			}
			if !sub.pattern && sub.key != channel {
				continue
			}
			cp := *event
			select {
			case <-sub.done:
			case sub.ch <- &cp:
			default:
			}
		}
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return m.add(ctx, channel, false), nil
}

// SubscribePattern subscribes to channels matching a single-wildcard pattern.
func (m *MemoryPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return m.add(ctx, pattern, true), nil
}

func (m *MemoryPubSub) add(ctx context.Context, key string, pattern bool) <-chan *Event {
	sub := &memorySub{
		key:     key,
		pattern: pattern,
		ch:      make(chan *Event, 100),
		done:    make(chan struct{}),
	}
	out := make(chan *Event, 100)

	m.mu.Lock()
	m.subs[key] = append(m.subs[key], sub)
	m.mu.Unlock()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case ev := <-sub.ch:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-sub.done:
					return
				}
			}
		}
	}()
	return out
}

// Unsubscribe removes every subscription registered under channel.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs[channel] {
		sub.close()
	}
	delete(m.subs, channel)
	return nil
}

// Close ends all subscriptions.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, list := range m.subs {
		for _, sub := range list {
			sub.close()
		}
		delete(m.subs, key)
	}
	return nil
}
