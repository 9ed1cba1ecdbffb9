package dashboard

import (
	"time"

	"finary/internal/cache"
	"finary/internal/events"
	"finary/internal/identity"
	"finary/internal/metrics"
)

// Registry hands out one Session per session key. Sessions expire with their
// token lifetime or when the registry is full, and are closed on the way out.
type Registry struct {
	loader   *Loader
	bus      events.Bus
	sessions *cache.LRUCache[*Session]
}

func NewRegistry(loader *Loader, bus events.Bus, size int, ttl time.Duration) *Registry {
	sessions := cache.NewLRUCache[*Session](size, ttl)
	sessions.OnEvict(func(_ string, s *Session) {
		s.Close()
		metrics.ActiveSessions.Dec()
	})
	return &Registry{loader: loader, bus: bus, sessions: sessions}
}

// Session returns the session for ident, creating it on first use.
func (r *Registry) Session(ident identity.Identity) *Session {
	s, created := r.sessions.GetOrCreate(ident.SessionKey(), func() *Session {
		return NewSession(ident, r.loader, r.bus)
	})
	if created {
		metrics.ActiveSessions.Inc()
	}
	return s
}

// End drops the session for key.
func (r *Registry) End(key string) {
	r.sessions.Delete(key)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Size()
}

// Cleaner exposes expiry for the cache manager.
func (r *Registry) Cleaner() cache.Cleaner {
	return r.sessions
}
