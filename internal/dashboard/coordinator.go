// Package dashboard keeps each session's view of transactions, budgets and
// derived metrics in step with the data it was computed from.
package dashboard

import (
	"sync"

	"finary/internal/events"
)

// Coordinator owns a session's refresh token. It is the only subscriber that
// reacts to data_changed events for its user; each event bumps the token once
// and hands the new value to the listener.
type Coordinator struct {
	userID      string
	listener    func(token uint64)
	unsubscribe func()

	mu    sync.Mutex
	token uint64
}

// NewCoordinator subscribes to bus for userID's events. listener may be nil.
func NewCoordinator(bus events.Bus, userID string, listener func(token uint64)) *Coordinator {
	c := &Coordinator{userID: userID, listener: listener}
	c.unsubscribe = bus.Subscribe(c.handle)
	return c
}

func (c *Coordinator) handle(e events.Event) {
	if e.Type != events.TypeDataChanged || e.UserID != c.userID {
		return
	}

	c.mu.Lock()
	c.token++
	token := c.token
	c.mu.Unlock()

	if c.listener != nil {
		c.listener(token)
	}
}

// Token returns the current refresh token. Only changes carry meaning.
func (c *Coordinator) Token() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Close stops listening for events.
func (c *Coordinator) Close() {
	c.unsubscribe()
}
