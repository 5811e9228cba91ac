package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoCatalog is returned when the live source failed and nothing is cached.
var ErrNoCatalog = errors.New("no pricing catalog available")

// DefaultTTL is how long a fetched catalog is considered fresh.
const DefaultTTL = time.Hour

// retryAfterFailure spaces refresh attempts while serving a stale catalog.
const retryAfterFailure = time.Minute

// Clock returns the current time.
type Clock func() time.Time

// Cache holds the last good catalog from a Source. Concurrent refreshes are
// collapsed into one fetch.
type Cache struct {
	src    Source
	ttl    time.Duration
	now    Clock
	logger *zap.Logger

	group singleflight.Group

	mu        sync.RWMutex
	catalog   Catalog
	fetchedAt time.Time
	failedAt  time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now.
func WithClock(now Clock) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache wraps src. A non-positive ttl means DefaultTTL.
func NewCache(src Source, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{src: src, ttl: ttl, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a fresh catalog, refreshing it when the TTL has elapsed. If the
// refresh fails and a catalog was fetched before, the stale one is served.
func (c *Cache) Get(ctx context.Context) (Catalog, error) {
	c.mu.RLock()
	cat, fetchedAt, failedAt := c.catalog, c.fetchedAt, c.failedAt
	c.mu.RUnlock()

	now := c.now()
	if cat != nil && now.Sub(fetchedAt) < c.ttl {
		return cat, nil
	}
	if cat != nil && !failedAt.IsZero() && now.Sub(failedAt) < retryAfterFailure {
		return cat, nil
	}
	if c.src == nil {
		return nil, ErrNoCatalog
	}

	v, err, _ := c.group.Do("catalog", func() (any, error) {
		return c.src.Fetch(ctx)
	})
	if err != nil {
		c.mu.Lock()
		c.failedAt = c.now()
		c.mu.Unlock()
		if cat != nil {
			c.logger.Warn("pricing refresh failed, serving cached catalog",
				zap.Error(err), zap.Time("fetched_at", fetchedAt))
			return cat, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrNoCatalog, err)
	}

	fresh := v.(Catalog)
	c.mu.Lock()
	c.catalog = fresh
	c.fetchedAt = c.now()
	c.failedAt = time.Time{}
	c.mu.Unlock()
	c.logger.Debug("pricing catalog refreshed", zap.Int("models", fresh.Len()))
	return fresh, nil
}

// FetchedAt reports when the cached catalog was fetched, zero if never.
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Clear drops the cached catalog.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.catalog = nil
	c.fetchedAt = time.Time{}
	c.failedAt = time.Time{}
	c.mu.Unlock()
	c.group.Forget("catalog")
}
