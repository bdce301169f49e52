// Package events fans out bot lifecycle events to subscribers. Delivery is
// best-effort: a slow consumer is dropped rather than ever blocking a
// trading decision.
package events

import (
	"sync"
	"time"

	"github.com/vadiminshakov/courtside/internal/domain"
)

// Type classifies a lifecycle event.
type Type string

const (
	TypeStarted      Type = "started"
	TypeStopped      Type = "stopped"
	TypeEntry        Type = "entry"
	TypeExit         Type = "exit"
	TypeDCA          Type = "dca"
	TypeWalletUpdate Type = "wallet_update"
)

// Event carries the full current wallet/position snapshot for one session,
// plus the closing trade on exits.
type Event struct {
	Type      Type                `json:"type"`
	User      string              `json:"user"`
	Event     string              `json:"event_ticker"`
	Timestamp time.Time           `json:"ts"`
	Wallet    domain.WalletStatus `json:"wallet"`
	Trade     *domain.Trade       `json:"trade,omitempty"`
}

// Broadcaster fans out events to all subscribers via buffered channels.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping if a reader is slow.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is
// called.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
