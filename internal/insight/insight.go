// Package insight caches the AI backend's proactive insight per session.
//
// The cached text is never invalidated by new transactions or budgets: one
// backend call per session is the budget, staleness is accepted. Failures
// are not cached, so the next request retries.
package insight

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"finary/internal/cache"
	"finary/internal/core"
	"finary/internal/identity"
	"finary/internal/log"
	"finary/internal/metrics"
)

// FallbackInsight is shown whenever no insight could be fetched.
const FallbackInsight = "Track your spending to unlock personalized smart trends."

// fetchTimeout bounds one shared backend call.
const fetchTimeout = 30 * time.Second

var errEmptyInsight = errors.New("empty insight")

// Fetcher produces a fresh insight for a user.
type Fetcher interface {
	ProactiveInsight(ctx context.Context, ident identity.Identity) (string, error)
}

type Service struct {
	fetcher Fetcher
	cache   *cache.LRUCache[string]
	group   singleflight.Group
}

// NewService caches up to size insights, each for at most ttl.
func NewService(fetcher Fetcher, size int, ttl time.Duration) *Service {
	return &Service{
		fetcher: fetcher,
		cache:   cache.NewLRUCache[string](size, ttl),
	}
}

// Get returns the session's insight, fetching it on the first call. Concurrent
// first calls for one session share a single backend request.
func (s *Service) Get(ctx context.Context, ident identity.Identity) string {
	logger := log.FromContext(ctx).WithComponent(log.ComponentInsight)

	if !ident.Valid() {
		metrics.InsightRequests.WithLabelValues("fallback").Inc()
		return FallbackInsight
	}

	key := ident.SessionKey()
	if text, ok := s.cache.Get(key); ok {
		metrics.InsightRequests.WithLabelValues("hit").Inc()
		return text
	}
	metrics.InsightRequests.WithLabelValues("miss").Inc()

	// The shared fetch outlives any single caller: one client going away must
	// not hand the fallback to the others waiting on the same session.
	ch := s.group.DoChan(key, func() (any, error) {
		if text, ok := s.cache.Get(key); ok {
			return text, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		text, err := s.fetcher.ProactiveInsight(fctx, ident)
		if err != nil {
			return "", err
		}
		if text == "" {
			return "", errEmptyInsight
		}
		s.cache.Set(key, text)
		return text, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = singleflight.Result{Err: ctx.Err()}
	}
	if res.Err != nil {
		metrics.InsightRequests.WithLabelValues("fallback").Inc()
		logger.WarnContext(ctx, "Insight unavailable, using fallback",
			log.FieldUserID, ident.UserID,
			log.FieldError, res.Err,
			log.FieldErrorKind, core.Kind(res.Err),
			"shared", res.Shared)
		return FallbackInsight
	}
	return res.Val.(string)
}

// Peek returns the cached insight for a session without calling the backend.
func (s *Service) Peek(sessionKey string) (string, bool) {
	return s.cache.Get(sessionKey)
}

// EndSession forgets the session's insight.
func (s *Service) EndSession(sessionKey string) {
	s.cache.Delete(sessionKey)
}

// Cleaner exposes expiry for the cache manager.
func (s *Service) Cleaner() cache.Cleaner {
	return s.cache
}
