package bus

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	keys      []string
	ch        chan Event
}

func (s *subscription) matches(evt Event) bool {
	if !strings.HasPrefix(evt.Kind, s.namespace) {
		return false
	}
	return len(s.keys) == 0 || slices.Contains(s.keys, evt.Key)
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// evt.Kind and whose key filter (if any) contains evt.Key.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.matches(evt) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// PublishEach publishes one event of the given kind per key.
func (b *Bus) PublishEach(kind string, keys []string, payload any) {
	now := time.Now()
	for _, k := range keys {
		b.Publish(Event{Kind: kind, Key: k, Timestamp: now, Payload: payload})
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// When keys are given only events whose Key is one of them are delivered.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int, keys ...string) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, keys: keys, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
