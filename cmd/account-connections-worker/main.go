// Command account-connections-worker runs the two background sync loops:
// periodically pulling fresh holdings for every active connection, and
// refreshing brokerage access tokens before they expire.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/pelleum/account-connections/internal/config"
	"github.com/pelleum/account-connections/internal/cryptutil"
	"github.com/pelleum/account-connections/internal/institution"
	"github.com/pelleum/account-connections/internal/logging"
	"github.com/pelleum/account-connections/internal/robinhood"
	"github.com/pelleum/account-connections/internal/storage/sqlstore"
	"github.com/pelleum/account-connections/internal/syncjobs"
)

// warmup mirrors the 12-hour delay the original Celery beat schedule gave
// itself before the first sweep, so a freshly deployed worker doesn't
// immediately hammer every connection at once.
const warmup = 12 * time.Hour

func main() {
	cmd := &cobra.Command{
		Use:   "account-connections-worker",
		Short: "Run the holdings sync and token refresh background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run_()
		},
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run_() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	db, err := sqlstore.Open(sqlstore.Config{
		DatabaseURL:  cfg.DatabaseURL,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer db.Close()

	crypto, err := cryptutil.NewService(cfg.EncryptionSecretKey)
	if err != nil {
		return fmt.Errorf("configuring encryption: %w", err)
	}

	registry := institution.NewRegistry(
		institution.NewRobinhoodService(
			robinhood.New(http.DefaultClient),
			db,
			db,
			db,
			crypto,
			institution.RobinhoodConfig{ClientID: cfg.RobinhoodClientID, DeviceToken: cfg.RobinhoodDeviceToken},
		),
	)

	holdingsLoop := &syncjobs.HoldingsSyncLoop{
		Connections: db,
		Assets:      db,
		Registry:    registry,
		Logger:      logger,
		Warmup:      warmup,
		Period:      time.Duration(cfg.AssetUpdateTaskFrequencySeconds) * time.Second,
		PageSize:    200,
	}

	tokenLoop := &syncjobs.TokenRefreshLoop{
		Connections: db,
		Registry:    registry,
		Logger:      logger,
		Warmup:      warmup,
		Period:      time.Duration(cfg.RefreshTokensTaskFrequencySeconds) * time.Second,
		PageSize:    200,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var gr run.Group
	gr.Add(func() error {
		return holdingsLoop.Run(ctx)
	}, func(error) { cancel() })

	gr.Add(func() error {
		return tokenLoop.Run(ctx)
	}, func(error) { cancel() })

	gr.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) { cancel() })

	if err := gr.Run(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
