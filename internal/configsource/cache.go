package configsource

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"indication-validation-service/internal/observability"
	"indication-validation-service/internal/validation"
)

const DefaultTTL = 300 * time.Second

// Fetcher is the remote side of the cache. Implemented by Client.
type Fetcher interface {
	FetchConfig(ctx context.Context) (validation.ValidationConfig, error)
}

// Cache holds the current ValidationConfig with a TTL so the
// config-service is not hit on every evaluation. The config is replaced
// wholesale under the lock; readers never see a partially updated value.
// While one goroutine refreshes an expired entry, concurrent readers keep
// serving the stale config.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	mu        sync.RWMutex
	cfg       validation.ValidationConfig
	fetchedAt time.Time
	degraded  bool

	refreshMu sync.Mutex
}

func NewCache(fetcher Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{fetcher: fetcher, ttl: ttl, now: time.Now}
}

// Current returns the cached config while fresh, refreshing it otherwise.
// It never fails: a failed fetch yields the emergency default config,
// which is cached for a full TTL window so a dead config-service is
// retried once per window, not once per request.
func (c *Cache) Current(ctx context.Context) validation.ValidationConfig {
	cfg, fetchedAt := c.snapshot()
	if c.fresh(fetchedAt) {
		return cfg
	}

	if c.refreshMu.TryLock() {
		defer c.refreshMu.Unlock()
		// another goroutine may have refreshed while we waited
		if cfg, fetchedAt := c.snapshot(); c.fresh(fetchedAt) {
			return cfg
		}
		return c.refresh(ctx)
	}

	// a refresh is in flight; stale-while-revalidate
	if !fetchedAt.IsZero() {
		return cfg
	}

	// cold cache under contention: wait for the first fetch
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if cfg, fetchedAt := c.snapshot(); !fetchedAt.IsZero() {
		return cfg
	}
	return c.refresh(ctx)
}

// Refresh forces a fetch regardless of age. Used by the background
// refresher.
func (c *Cache) Refresh(ctx context.Context) validation.ValidationConfig {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh(ctx)
}

// Degraded reports whether the cached config came from the emergency
// fallback rather than the config-service.
func (c *Cache) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

func (c *Cache) fresh(fetchedAt time.Time) bool {
	return !fetchedAt.IsZero() && c.now().Sub(fetchedAt) < c.ttl
}

func (c *Cache) snapshot() (validation.ValidationConfig, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.fetchedAt
}

func (c *Cache) refresh(ctx context.Context) validation.ValidationConfig {
	cfg, err := c.fetcher.FetchConfig(ctx)
	if err != nil {
		observability.ConfigFetchFailures.Inc()
		log.Warn().Err(err).Msg("config fetch failed; caching fallback config")
	}

	c.mu.Lock()
	c.cfg = cfg
	c.fetchedAt = c.now() // failures also reset the clock, giving backoff
	c.degraded = err != nil
	c.mu.Unlock()

	return cfg
}
