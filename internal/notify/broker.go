// Package notify is the in-process realtime channel. The orchestrator
// publishes sync outcomes; the SSE endpoint subscribes per user.
package notify

import (
	"sync"
)

// Message is one published notification.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

const subscriberBuffer = 8

// Broker fans messages out to per-user subscribers. Publishing is
// fire-and-forget: a subscriber that cannot keep up drops messages rather
// than blocking a sync pass.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Message]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Message]struct{})}
}

// Publish delivers a message to every subscriber of userID.
func (b *Broker) Publish(userID, event string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[userID] {
		select {
		case ch <- Message{Event: event, Payload: payload}:
		default:
		}
	}
}

// Subscribe registers a listener for one user. The returned cancel func must
// be called to release the channel.
func (b *Broker) Subscribe(userID string) (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Message]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
