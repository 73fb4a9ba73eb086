// Package syncjobs implements the two background reconciliation loops
// (holdings sync and token refresh) described in spec.md §4.5-4.6: long-
// running tasks that periodically sweep active connections, call out to the
// relevant institution.Service, and reconcile local state with the
// brokerage's.
//
// Grounded on
// _examples/original_source/app/infrastructure/tasks/get_holdings.py and
// refresh_tokens.py for the warmup/period/per-connection error handling
// shape, and on dexidp-dex's storage/sql/gc.go for the idiomatic Go
// rendering of that shape as a select over time.After and ctx.Done()
// instead of asyncio.sleep plus a cancellation exception.
package syncjobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// runPeriodic sleeps warmup, then repeatedly calls iterate and sleeps
// period, until ctx is cancelled. Cancellation propagates immediately
// (spec.md §5 "both loops MUST propagate cancellation promptly"); any other
// error from iterate is logged and the loop continues.
func runPeriodic(ctx context.Context, logger *slog.Logger, loopName string, warmup, period time.Duration, iterate func(context.Context) error) error {
	select {
	case <-time.After(warmup):
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		start := time.Now()
		if err := iterate(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Error("sync iteration failed", "loop", loopName, "error", err)
		}
		iterationsTotal.WithLabelValues(loopName).Inc()
		logger.Info("sync iteration complete", "loop", loopName, "duration_ms", time.Since(start).Milliseconds())

		select {
		case <-time.After(period):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
