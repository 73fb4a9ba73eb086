// Package sqlstore implements internal/storage's repository interfaces over
// Postgres using database/sql and lib/pq.
//
// Grounded on dexidp-dex's storage/sql package: the serializable-transaction
// retry loop (sql.go's flavorPostgres.executeTx) and the NetworkDB pool
// tuning knobs (config.go) are reused in spirit, trimmed to the single
// backend this system needs.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Conn wraps a Postgres connection pool and implements every storage
// interface in internal/storage.
type Conn struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting every
// repository method run either directly against the pool or, when a
// transaction has been stashed on the context by withTx, against that
// transaction instead.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type txContextKey struct{}

// q returns the transaction on ctx if withTx put one there, otherwise the
// connection pool itself.
func (c *Conn) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok {
		return tx
	}
	return c.db
}

// Config controls pool sizing, mirroring dexidp-dex's storage/sql.NetworkDB.
type Config struct {
	DatabaseURL  string
	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to Postgres, applies pool tuning, and verifies connectivity
// with a ping.
func Open(cfg Config) (*Conn, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &Conn{db: db}, nil
}

// Close releases the underlying connection pool.
func (c *Conn) Close() error {
	return c.db.Close()
}

// DB exposes the underlying pool. The migration runner reads c.db directly
// and does not go through this accessor.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// execTx runs fn inside a serializable transaction, retrying on Postgres
// serialization failures. Grounded directly on dexidp-dex's
// storage/sql/sql.go flavorPostgres.executeTx.
func (c *Conn) execTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	for {
		tx, err := c.db.BeginTx(ctx, opts)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isSerializationFailure(err) {
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				continue
			}
			return fmt.Errorf("committing transaction: %w", err)
		}

		return nil
	}
}

// withTx runs fn inside a plain (read-committed) transaction, stashing it
// on the context so nested repository calls made with the returned context
// reuse it instead of opening their own. Used for FOR UPDATE SKIP LOCKED
// claim-and-process passes, where the claiming lock must be held until the
// whole page has been processed (spec.md §5) — unlike execTx, this never
// retries, since a claim pass has no predicate to re-read on conflict.
func (c *Conn) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txContextKey{}, tx)
	if err := fn(txCtx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "serialization_failure"
}
