// Package events implements the typed publish-subscribe hub called for in
// spec.md section 9's design notes: the original's string-topic event bus
// ("network:online", "sync:complete", ...) is replaced here with a closed
// enum of events and typed payloads.
package events

import (
	"sync"
)

// Topic is a closed enum of the events this module emits.
type Topic string

const (
	NetworkOnlineStart  Topic = "network:online:start"
	NetworkOnline       Topic = "network:online"
	NetworkOfflineStart Topic = "network:offline:start"
	NetworkOffline      Topic = "network:offline"
	SyncStart           Topic = "sync:start"
	SyncProgress        Topic = "sync:progress"
	SyncComplete        Topic = "sync:complete"
)

// NetworkPayload accompanies the Network* topics.
type NetworkPayload struct {
	IsOnline           bool
	IsLocalReachable   bool
	IsExternalReachable bool
}

// SyncProgressPayload accompanies SyncProgress.
type SyncProgressPayload struct {
	PendingCount   int
	ProcessedCount int
}

// SyncCompletePayload accompanies SyncComplete.
type SyncCompletePayload struct {
	ProcessedCount int
}

// Handler receives a topic's payload. The concrete type of payload is
// documented per Topic above; handlers type-assert as needed.
type Handler func(payload any)

// Bus is a typed, synchronous, goroutine-safe publish-subscribe hub.
// Subscribers are invoked synchronously in the order they subscribed;
// callers that need async dispatch wrap their own handler in a goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]Handler)}
}

// Subscribe registers handler to be invoked whenever topic is published.
// It returns an unsubscribe function.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
	idx := len(b.subs[topic]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[topic]
		if idx < 0 || idx >= len(handlers) {
			return
		}
		handlers[idx] = nil
	}
}

// Publish invokes every handler currently registered for topic, in
// subscription order. Panics inside a handler are not recovered — a
// misbehaving subscriber should fail loudly during development.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[topic]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		if h != nil {
			h(payload)
		}
	}
}
