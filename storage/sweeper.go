package storage

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper launches a background goroutine that deletes expired pastes
// every interval, for stores that implement Sweeper. Stores with native
// passive expiry (DynamoDB TTL, Redis key TTL, MongoDB TTL index) are left
// alone. It reports whether a sweeper was started.
func StartSweeper(ctx context.Context, store PasteStore, interval time.Duration, logger *slog.Logger) bool {
	sweeper, ok := store.(Sweeper)
	if !ok || interval <= 0 {
		return false
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sweepOnce(ctx, sweeper, now, logger)
			}
		}
	}()
	return true
}

func sweepOnce(ctx context.Context, sweeper Sweeper, now time.Time, logger *slog.Logger) int {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	removed, err := sweeper.DeleteExpired(c, now.UnixMilli())
	if err != nil {
		logger.Error("sweeper error", "error", err)
		return 0
	}
	if removed > 0 {
		logger.Info("sweeper removed expired pastes", "count", removed)
	}
	return removed
}
