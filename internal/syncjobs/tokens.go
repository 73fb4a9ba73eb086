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

const tokenRefreshLoopName = "token_refresh"

// TokenRefreshLoop is background component C7: periodically refreshes the
// access/refresh token pair for every active connection that has a refresh
// token on file (spec.md §4.6).
type TokenRefreshLoop struct {
	Connections storage.ConnectionStore
	Registry    institution.Registry
	Logger      *slog.Logger

	Warmup time.Duration
	Period time.Duration

	PageSize int
}

// Run blocks until ctx is cancelled, sleeping Warmup then sweeping
// connections every Period.
func (l *TokenRefreshLoop) Run(ctx context.Context) error {
	return runPeriodic(ctx, l.Logger, tokenRefreshLoopName, l.Warmup, l.Period, l.iterate)
}

func (l *TokenRefreshLoop) iterate(ctx context.Context) error {
	isActive := true
	hasRefreshToken := true
	filter := storage.ConnectionFilter{IsActive: &isActive, HasRefreshToken: &hasRefreshToken}
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

func (l *TokenRefreshLoop) processConnection(ctx context.Context, conn storage.ConnectionWithInstitution) {
	svc, err := l.Registry.Get(conn.InstitutionID)
	if err != nil {
		l.Logger.Warn("no institution service registered", "connection_id", conn.ConnectionID, "institution_id", conn.InstitutionID)
		return
	}
	if conn.RefreshTokenCT == nil {
		return
	}

	refreshed, err := svc.RefreshToken(ctx, *conn.RefreshTokenCT)
	if err != nil {
		l.handleBrokerageError(ctx, conn, err)
		return
	}

	if err := l.Connections.Update(ctx, storage.UpdateConnection{
		ConnectionID:   conn.ConnectionID,
		AccessTokenCT:  &refreshed.AccessTokenCT,
		RefreshTokenCT: &refreshed.RefreshTokenCT,
	}); err != nil {
		l.Logger.Error("persisting refreshed tokens failed", "connection_id", conn.ConnectionID, "error", err)
		connectionsProcessedTotal.WithLabelValues(tokenRefreshLoopName, "error").Inc()
		return
	}

	connectionsProcessedTotal.WithLabelValues(tokenRefreshLoopName, "ok").Inc()
}

// handleBrokerageError mirrors HoldingsSyncLoop's: 401 deactivates, every
// other error is logged and the loop moves on (spec.md §4.6).
func (l *TokenRefreshLoop) handleBrokerageError(ctx context.Context, conn storage.ConnectionWithInstitution, err error) {
	if errors.Is(err, robinhood.ErrUnauthorized) {
		deactivateConnection(ctx, l.Connections, l.Logger, tokenRefreshLoopName, conn.ConnectionID)
		return
	}

	var apiErr *robinhood.APIError
	var transportErr *robinhood.TransportError
	switch {
	case errors.As(err, &apiErr):
		l.Logger.Warn("brokerage api error during token refresh", "connection_id", conn.ConnectionID, "status", apiErr.Status, "detail", apiErr.Detail)
	case errors.As(err, &transportErr):
		l.Logger.Warn("brokerage transport error during token refresh", "connection_id", conn.ConnectionID, "status", transportErr.Status)
	default:
		l.Logger.Error("unexpected error during token refresh", "connection_id", conn.ConnectionID, "error", err)
	}
	connectionsProcessedTotal.WithLabelValues(tokenRefreshLoopName, "error").Inc()
}
