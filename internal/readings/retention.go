package readings

import (
	"context"
	"time"
)

// Pruner deletes journal rows older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Logger is the logging surface used by the retention loop.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// RunRetention prunes immediately and then once per interval until ctx is
// cancelled. Failures are logged and retried on the next tick.
//
// Parameters:
//   - ctx: Stops the loop when cancelled
//   - p: Journal to prune
//   - retention: Rows with a reading timestamp older than this are deleted
//   - interval: Time between prune passes
//   - log: Receives prune results
func RunRetention(ctx context.Context, p Pruner, retention, interval time.Duration, log Logger) {
	pruneOnce(ctx, p, retention, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(ctx, p, retention, log)
		}
	}
}

func pruneOnce(ctx context.Context, p Pruner, retention time.Duration, log Logger) {
	deleted, err := p.Prune(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("failed to prune reading journal", "error", err)
		}
		return
	}
	if deleted > 0 {
		log.Info("pruned reading journal", "deleted", deleted)
	}
}
