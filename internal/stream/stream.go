package stream

import (
	"context"
	"sync"
)

// AllTopics subscribes to every topic published on a broker.
const AllTopics = "*"

const defaultBuffer = 16

// Broker fans out typed events to subscribers scoped by topic. A topic is
// usually an entity identifier, e.g. the actor whose permissions changed.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan T
	next   int
	buffer int
}

// NewBroker creates an empty broker. Each subscriber channel holds up to
// buffer pending events; a non-positive buffer uses the default.
func NewBroker[T any](buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker[T]{
		subs:   make(map[string]map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for topic and returns a channel which will
// receive events. The channel is closed when the provided context ends.
func (b *Broker[T]) Subscribe(ctx context.Context, topic string) <-chan T {
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan T)
	}
	b.subs[topic][id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[topic], id)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to subscribers of topic and of AllTopics. It returns the
// number of subscribers that accepted the event.
func (b *Broker[T]) Publish(topic string, evt T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	deliver := func(subs map[int]chan T) {
		for _, ch := range subs {
			select {
			case ch <- evt:
				delivered++
			default:
				// Drop when subscriber is slow to avoid blocking the publisher.
			}
		}
	}
	deliver(b.subs[topic])
	if topic != AllTopics {
		deliver(b.subs[AllTopics])
	}
	return delivered
}

// Subscribers reports how many subscribers currently watch topic.
func (b *Broker[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
