// Package events carries "data changed" notifications from the components
// that write user data to the components that display it.
package events

import (
	"context"
	"slices"
	"sync"
	"time"
)

// TypeDataChanged signals that a user's transactions or budgets changed.
const TypeDataChanged = "data_changed"

// Sources of a data change.
const (
	SourceManual   = "manual"
	SourceBudget   = "budget"
	SourceScan     = "scan"
	SourceVoice    = "voice"
	SourceExternal = "external"
)

type Event struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
	// Origin names the process that first published the event. Empty for
	// events raised in this process.
	Origin string `json:"origin,omitempty"`
}

// DataChanged builds a data_changed event stamped with the current time.
func DataChanged(userID, source string) Event {
	return Event{Type: TypeDataChanged, UserID: userID, Source: source, At: time.Now().UTC()}
}

// Handler receives published events.
type Handler func(Event)

// Bus is the channel between writers and the sync coordinator.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe registers h and returns a function that removes it.
	Subscribe(h Handler) (unsubscribe func())
}

// LocalBus delivers events in-process, synchronously and in publish order.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
	next     uint64
}

var _ Bus = (*LocalBus)(nil)

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[uint64]Handler)}
}

func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	ids := make([]uint64, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	return nil
}

func (b *LocalBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered handlers.
func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
