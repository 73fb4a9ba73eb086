// Command account-connections-api serves the institutions HTTP API:
// listing supported institutions, listing a user's active connections,
// initiating a brokerage login, completing MFA, and unlinking.
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
	"github.com/pelleum/account-connections/internal/httpapi"
	"github.com/pelleum/account-connections/internal/institution"
	"github.com/pelleum/account-connections/internal/logging"
	"github.com/pelleum/account-connections/internal/robinhood"
	"github.com/pelleum/account-connections/internal/storage/sqlstore"
)

func main() {
	cmd := &cobra.Command{
		Use:   "account-connections-api",
		Short: "Serve the institutions HTTP API",
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

	applied, err := db.Migrate()
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied", "count", applied)

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

	router := httpapi.NewRouter(
		httpapi.Config{JWTSecret: cfg.JSONWebTokenSecret, JWTAlgorithm: cfg.JSONWebTokenAlgorithm},
		db, db, db, registry, logger,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler: router,
	}

	var gr run.Group
	gr.Add(func() error {
		logger.Info("listening", "addr", srv.Addr)
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	gr.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {
		cancel()
	})

	return gr.Run()
}
