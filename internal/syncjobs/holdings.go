package syncjobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pelleum/account-connections/internal/institution"
	"github.com/pelleum/account-connections/internal/robinhood"
	"github.com/pelleum/account-connections/internal/storage"
)

const holdingsLoopName = "holdings_sync"

// HoldingsSyncLoop is background component C6: periodically refreshes every
// active connection's holdings from its brokerage and reconciles the local
// assets table against the brokerage snapshot (spec.md §4.5).
type HoldingsSyncLoop struct {
	Connections storage.ConnectionStore
	Assets      storage.AssetStore
	Registry    institution.Registry
	Logger      *slog.Logger

	// Warmup delays the first iteration after process start (12h in the
	// original service). Period is the sleep between iterations (default
	// 24h, spec.md §6 ASSET_UPDATE_TASK_FREQUENCY).
	Warmup time.Duration
	Period time.Duration

	// PageSize bounds how many connections are claimed per List call; 0
	// defers to the store's own default.
	PageSize int
}

// Run blocks until ctx is cancelled, sleeping Warmup then sweeping
// connections every Period.
func (l *HoldingsSyncLoop) Run(ctx context.Context) error {
	return runPeriodic(ctx, l.Logger, holdingsLoopName, l.Warmup, l.Period, l.iterate)
}

func (l *HoldingsSyncLoop) iterate(ctx context.Context) error {
	isActive := true
	filter := storage.ConnectionFilter{IsActive: &isActive}
	page := 1

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var claimed int
		err := l.Connections.WithClaimedPage(ctx, filter, storage.ConnectionListOptions{
			Page:     page,
			PageSize: l.PageSize,
		}, func(ctx context.Context, conns []storage.ConnectionWithInstitution) error {
			claimed = len(conns)
			for _, conn := range conns {
				if err := ctx.Err(); err != nil {
					return err
				}
				l.processConnection(ctx, conn)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if claimed == 0 {
			return nil
		}

		if l.PageSize > 0 && claimed < l.PageSize {
			return nil
		}
		page++
	}
}

func (l *HoldingsSyncLoop) processConnection(ctx context.Context, conn storage.ConnectionWithInstitution) {
	svc, err := l.Registry.Get(conn.InstitutionID)
	if err != nil {
		l.Logger.Warn("no institution service registered", "connection_id", conn.ConnectionID, "institution_id", conn.InstitutionID)
		return
	}
	if conn.AccessTokenCT == nil {
		l.Logger.Warn("active connection has no access token", "connection_id", conn.ConnectionID)
		return
	}

	holdings, err := svc.GetRecentHoldings(ctx, *conn.AccessTokenCT)
	if err != nil {
		l.handleBrokerageError(ctx, conn, err)
		return
	}

	tracked, err := l.Assets.ListByConnection(ctx, conn.UserID, conn.InstitutionID)
	if err != nil {
		l.Logger.Error("listing tracked assets failed", "connection_id", conn.ConnectionID, "error", err)
		connectionsProcessedTotal.WithLabelValues(holdingsLoopName, "error").Inc()
		return
	}

	if err := institution.Reconcile(ctx, l.Assets, conn.UserID, conn.InstitutionID, tracked, holdings.Holdings); err != nil {
		l.Logger.Error("reconciliation failed", "connection_id", conn.ConnectionID, "error", err)
		connectionsProcessedTotal.WithLabelValues(holdingsLoopName, "error").Inc()
		return
	}

	connectionsProcessedTotal.WithLabelValues(holdingsLoopName, "ok").Inc()
}

// handleBrokerageError implements spec.md §4.5's per-connection error
// handling: 401 deactivates the connection, every other brokerage or
// unexpected error is logged and the loop moves to the next connection.
func (l *HoldingsSyncLoop) handleBrokerageError(ctx context.Context, conn storage.ConnectionWithInstitution, err error) {
	if errors.Is(err, robinhood.ErrUnauthorized) {
		deactivateConnection(ctx, l.Connections, l.Logger, holdingsLoopName, conn.ConnectionID)
		return
	}

	var apiErr *robinhood.APIError
	var transportErr *robinhood.TransportError
	switch {
	case errors.As(err, &apiErr):
		l.Logger.Warn("brokerage api error during holdings sync", "connection_id", conn.ConnectionID, "status", apiErr.Status, "detail", apiErr.Detail)
	case errors.As(err, &transportErr):
		l.Logger.Warn("brokerage transport error during holdings sync", "connection_id", conn.ConnectionID, "status", transportErr.Status)
	default:
		l.Logger.Error("unexpected error during holdings sync", "connection_id", conn.ConnectionID, "error", err)
	}
	connectionsProcessedTotal.WithLabelValues(holdingsLoopName, "error").Inc()
}

func deactivateConnection(ctx context.Context, connections storage.ConnectionStore, logger *slog.Logger, loopName string, connectionID int64) {
	isActive := false
	if err := connections.Update(ctx, storage.UpdateConnection{ConnectionID: connectionID, IsActive: &isActive}); err != nil {
		logger.Error("failed to deactivate connection after 401", "connection_id", connectionID, "error", err)
		return
	}
	logger.Warn("deactivated connection after 401 from brokerage", "connection_id", connectionID)
	deactivationsTotal.WithLabelValues(loopName).Inc()
	connectionsProcessedTotal.WithLabelValues(loopName, "deactivated").Inc()
}
