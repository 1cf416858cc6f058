// Package sweep runs periodic cleanup of expired rows.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Func deletes expired rows and reports how many it removed.
type Func func(ctx context.Context) (int64, error)

// Run calls fn every interval until ctx is done. Errors are logged and the
// loop continues.
func Run(ctx context.Context, name string, interval time.Duration, fn Func, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := fn(ctx)
			if err != nil {
				log.Warn("sweep_failed", zap.String("sweep", name), zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("sweep_complete", zap.String("sweep", name), zap.Int64("removed", n))
			}
		}
	}
}
