package cache

import (
	"log/slog"
	"sync"
	"time"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(key string) (T, bool)

	// Set stores a value in the cache
	Set(key string, data T)

	// Delete removes a key from the cache
	Delete(key string)

	// Size returns the current number of items in the cache
	Size() int
}

// Manager handles cache lifecycle and cleanup
type Manager struct {
	mu          sync.Mutex
	caches      map[string]Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
	started     bool
}

// Cleaner interface for caches that support cleanup
type Cleaner interface {
	CleanExpired() int
}

// NewManager creates a new cache manager
func NewManager() *Manager {
	return &Manager{
		caches:      make(map[string]Cleaner),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a named cache to the manager for cleanup
func (m *Manager) Register(name string, cache Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[name] = cache
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go m.cleanup(interval)
}

// CleanNow runs one cleanup pass and returns the number of entries removed.
func (m *Manager) CleanNow() int {
	m.mu.Lock()
	caches := make(map[string]Cleaner, len(m.caches))
	for name, c := range m.caches {
		caches[name] = c
	}
	m.mu.Unlock()

	total := 0
	for name, c := range caches {
		if n := c.CleanExpired(); n > 0 {
			slog.Debug("Expired cache entries removed", "component", "cache", "cache", name, "removed", n)
			total += n
		}
	}
	return total
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanNow()
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop gracefully stops the cleanup routine
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.cleanupDone
		}
	})
}
