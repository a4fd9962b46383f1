package configsource

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// StartRefresher re-warms the threshold cache in the background so request
// paths rarely pay fetch latency. Runs until ctx is canceled.
func StartRefresher(ctx context.Context, cache *Cache, interval time.Duration) {
	if interval <= 0 {
		interval = cache.ttl
	}

	go func() {
		for {
			wait := jitter(interval)
			select {
			case <-ctx.Done():
				log.Info().Msg("config refresher stopped")
				return
			case <-time.After(wait):
			}

			cache.Refresh(ctx)
			if cache.Degraded() {
				log.Warn().Msg("config refresher running on fallback config")
			}
		}
	}()
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x to 1.5x
	return time.Duration(float64(base) * factor)
}
