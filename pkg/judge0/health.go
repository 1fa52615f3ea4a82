package judge0

import (
	"context"
	"sync"
	"time"
)

// HealthChecker reports whether the execution service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) (bool, string)
}

// HealthCache memoises health checks for a bounded period.
type HealthCache struct {
	checker HealthChecker
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	healthy   bool
	detail    string
}

// NewHealthCache wraps the checker with a TTL. A non-positive TTL disables caching.
func NewHealthCache(checker HealthChecker, ttl time.Duration) *HealthCache {
	return &HealthCache{checker: checker, ttl: ttl, now: time.Now}
}

// Health returns the cached status or refreshes it when stale.
func (h *HealthCache) Health(ctx context.Context) (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if h.ttl > 0 && !h.checkedAt.IsZero() && now.Sub(h.checkedAt) < h.ttl {
		return h.healthy, h.detail
	}

	h.healthy, h.detail = h.checker.Health(ctx)
	h.checkedAt = now
	return h.healthy, h.detail
}

// Invalidate forces the next call to hit the service.
func (h *HealthCache) Invalidate() {
	h.mu.Lock()
	h.checkedAt = time.Time{}
	h.mu.Unlock()
}
