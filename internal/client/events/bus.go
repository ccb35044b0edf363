// Package events is a small in-process publish/subscribe bus. It decouples
// the transport layer from session state: the API client announces a
// rejected token and the auth service reacts, without either importing the
// other.
package events

import (
	"context"
	"sync"
)

type Topic string

// TopicAuthLogout is published when the server rejects the bearer token.
const TopicAuthLogout Topic = "auth:logout"

type Event struct {
	Topic  Topic
	Reason string
}

type Handler func(ctx context.Context, e Event)

type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic]map[int]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]Handler)}
}

// Subscribe registers h for topic and returns a function removing it.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e synchronously to every current subscriber of e.Topic.
// Handlers run outside the bus lock and may subscribe or publish themselves.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Topic]))
	for _, h := range b.subs[e.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, e)
	}
}
