package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every pending migration in order, tracking progress in a
// migrations table. Grounded on dexidp-dex's storage/sql/migrate.go: a
// tracking table holding the highest applied migration number, each
// migration applied inside its own transaction.
func (c *Conn) Migrate() (int, error) {
	if _, err := c.db.Exec(`
		create table if not exists migrations (
			num integer not null,
			at timestamptz not null default now()
		)`); err != nil {
		return 0, fmt.Errorf("creating migrations table: %w", err)
	}

	names, err := migrationNames()
	if err != nil {
		return 0, err
	}

	applied := 0
	for {
		n, done, err := c.applyNextMigration(names)
		if err != nil {
			return applied, err
		}
		if done {
			break
		}
		applied += n
	}
	return applied, nil
}

func (c *Conn) applyNextMigration(names []string) (applied int, done bool, err error) {
	err = c.execTx(context.TODO(), func(tx *sql.Tx) error {
		var num sql.NullInt64
		if err := tx.QueryRow(`select max(num) from migrations`).Scan(&num); err != nil {
			return fmt.Errorf("select max migration: %w", err)
		}

		n := 0
		if num.Valid {
			n = int(num.Int64)
		}
		if n >= len(names) {
			done = true
			return nil
		}

		nextNum := n + 1
		stmt, err := migrationFiles.ReadFile("migrations/" + names[n])
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", names[n], err)
		}

		if _, err := tx.Exec(string(stmt)); err != nil {
			return fmt.Errorf("applying migration %d (%s): %w", nextNum, names[n], err)
		}
		if _, err := tx.Exec(`insert into migrations (num) values ($1)`, nextNum); err != nil {
			return fmt.Errorf("recording migration %d: %w", nextNum, err)
		}

		applied = 1
		return nil
	})
	return applied, done, err
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
