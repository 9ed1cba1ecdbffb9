// Package ratelimit throttles write requests per client IP with token buckets.
package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client.
type Limiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
	now          func() time.Time

	// Configuration
	requestsPerMinute int
	cleanupInterval   time.Duration
	staleAfter        time.Duration
}

type clientInfo struct {
	limiter     *rate.Limiter
	lastRequest time.Time
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
	// StaleAfter is how long an idle client is remembered.
	StaleAfter time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
		StaleAfter:        10 * time.Minute,
	}
}

// NewLimiter creates a new rate limiter
func NewLimiter(config Config) *Limiter {
	defaults := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}

	rl := &Limiter{
		clients:           make(map[string]*clientInfo),
		stopCleanup:       make(chan struct{}),
		now:               time.Now,
		requestsPerMinute: config.RequestsPerMinute,
		cleanupInterval:   config.CleanupInterval,
		staleAfter:        config.StaleAfter,
	}
	go rl.startCleanup()
	return rl
}

// Allow reports whether a request from clientIP may proceed. Each client can
// burst up to the per-minute budget, refilled evenly over the minute.
func (rl *Limiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, exists := rl.clients[clientIP]
	if !exists {
		every := rate.Every(time.Minute / time.Duration(rl.requestsPerMinute))
		client = &clientInfo{limiter: rate.NewLimiter(every, rl.requestsPerMinute)}
		rl.clients[clientIP] = client
	}
	client.lastRequest = now

	return client.limiter.AllowN(now, 1)
}

// Middleware rejects POST requests over budget with 429. Other methods pass.
func (rl *Limiter) Middleware(clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				ip := clientIP(r)
				if !rl.Allow(ip) {
					slog.WarnContext(r.Context(), "Rate limit exceeded",
						"component", "rate_limit",
						"client_ip", ip,
						"method", r.Method,
						"path", r.URL.Path)
					w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusTooManyRequests)
					_, _ = w.Write([]byte(`{"error":"rate limit exceeded, try again later","kind":"rate_limited"}`))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *Limiter) retryAfterSeconds() int {
	secs := int((time.Minute / time.Duration(rl.requestsPerMinute)).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries forgets clients idle for longer than staleAfter
func (rl *Limiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.staleAfter)
	removed := 0
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}
