// Package badge computes the unread badge shown in the panel and watches
// the tables that change it.
package badge

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Badge is the unread total and its display label
type Badge struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

// Label renders a count for the badge: empty at zero, "99+" above 99
func Label(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}

// New returns the badge for a count
func New(n int) Badge {
	if n < 0 {
		n = 0
	}
	return Badge{Count: n, Label: Label(n)}
}

// Counter sums the unread counters of all contacts
type Counter interface {
	TotalUnread(ctx context.Context) (int, error)
}

// Service serves the unread badge from a cache in front of the store
type Service struct {
	counter Counter
	cache   Cache
	ttl     time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	last *Badge
}

// NewService creates a badge service. A nil cache means a memory cache.
func NewService(counter Counter, cache Cache, ttl time.Duration, log *zap.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache(time.Now)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{counter: counter, cache: cache, ttl: ttl, log: log}
}

// Unread returns the current badge. Cache failures fall through to the store.
func (s *Service) Unread(ctx context.Context) (Badge, error) {
	n, ok, err := s.cache.Get(ctx)
	if err != nil {
		s.log.Warn("badge_cache_get_failed", zap.Error(err))
	}
	if ok {
		return New(n), nil
	}

	n, err = s.counter.TotalUnread(ctx)
	if err != nil {
		return Badge{}, fmt.Errorf("count unread: %w", err)
	}
	if err := s.cache.Set(ctx, n, s.ttl); err != nil {
		s.log.Warn("badge_cache_set_failed", zap.Error(err))
	}
	return New(n), nil
}

// Refresh drops the cached value and recomputes it. It reports whether the
// badge differs from the one last returned by Refresh.
func (s *Service) Refresh(ctx context.Context) (Badge, bool, error) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("badge_cache_invalidate_failed", zap.Error(err))
	}
	b, err := s.Unread(ctx)
	if err != nil {
		return Badge{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.last == nil || *s.last != b
	s.last = &b
	return b, changed, nil
}
