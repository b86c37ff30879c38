package app

import (
	"context"
	"log/slog"
	"time"
)

// DefaultJanitorPeriod is how often expired dedup entries are swept.
const DefaultJanitorPeriod = 5 * time.Minute

// StartJanitor sweeps the dedup cache on a fixed period until ctx ends.
// Backends that expire entries natively report zero evictions; the loop is
// still harmless for them.
func (a *App) StartJanitor(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultJanitorPeriod
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evicted, err := a.cache.EvictExpired(ctx, a.now())
				if err != nil {
					slog.Warn("dedup cache sweep failed", "error", err)
					continue
				}
				if evicted > 0 {
					slog.Debug("dedup cache sweep", "evicted", evicted)
				}
			}
		}
	}()
}
