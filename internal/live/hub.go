// Package live turns store mutations into change signals and change signals
// into live queries.
package live

import (
	"context"
	"sync"

	"github.com/alovak/cardwallet/internal/stream"
)

// Hub fans change signals out to subscribers by topic.
//
// Signals carry no payload and coalesce: a subscriber that has not yet
// consumed a signal receives one signal no matter how many publishes happened
// in between. Publish never blocks.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
}

type subscriber struct {
	topics map[string]struct{}
	ch     chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[uint64]*subscriber),
	}
}

// Subscribe registers interest in topics. The returned function removes the
// subscription; it is safe to call more than once.
func (h *Hub) Subscribe(topics ...string) (<-chan struct{}, func()) {
	s := &subscriber{
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan struct{}, 1),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish signals every subscriber of any of the topics.
func (h *Hub) Publish(topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if !s.wants(topics) {
			continue
		}
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *subscriber) wants(topics []string) bool {
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			return true
		}
	}
	return false
}

// Watch runs load now and again after every signal on topic, emitting each
// result. The hub subscription is taken before the first load, so a mutation
// that completes after Watch returns is always followed by an emission that
// reflects it.
//
// Load errors are emitted as Update.Err and the watch keeps running. The
// channel closes and the subscription is released once ctx is done.
func Watch[T any](ctx context.Context, hub *Hub, topic string, load func(context.Context) (T, error)) <-chan stream.Update[T] {
	return WatchVersioned(ctx, hub, topic, func(ctx context.Context) (T, uint64, error) {
		v, err := load(ctx)
		return v, 0, err
	})
}

// WatchVersioned is Watch for loads that also report the store version they
// read at. The version is passed on as Update.Version.
func WatchVersioned[T any](ctx context.Context, hub *Hub, topic string, load func(context.Context) (T, uint64, error)) <-chan stream.Update[T] {
	changed, unsubscribe := hub.Subscribe(topic)
	out := make(chan stream.Update[T])

	go func() {
		defer close(out)
		defer unsubscribe()

		for {
			v, version, err := load(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- stream.Update[T]{Value: v, Err: err, Version: version}:
			case <-ctx.Done():
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
