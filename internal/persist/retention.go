package persist

import (
	"context"
	"log/slog"
	"time"
)

// RunRetention periodically deletes fills older than the retention period.
// Blocks until ctx is cancelled. Pass retentionDays <= 0 to disable.
func RunRetention(ctx context.Context, store FillPruner, retentionDays int, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if retentionDays <= 0 {
		logger.Info("fill retention disabled (keep forever)")
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	logger.Info("fill retention enabled", "days", retentionDays, "interval", interval)

	// once at startup, then on the ticker
	prune(ctx, store, retentionDays, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune(ctx, store, retentionDays, logger)
		}
	}
}

func prune(ctx context.Context, store FillPruner, retentionDays int, logger *slog.Logger) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := store.PruneFills(ctx, cutoff)
	if err != nil {
		logger.Error("fill retention prune failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("fill retention pruned", "fills", n, "before", cutoff.Format(time.DateOnly))
	}
}
