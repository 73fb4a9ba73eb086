package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pelleum/account-connections/internal/storage"
)

var _ storage.InstitutionStore = (*Conn)(nil)

// ListInstitutions returns every supported institution, newest first.
func (c *Conn) ListInstitutions(ctx context.Context) ([]storage.Institution, error) {
	rows, err := c.q(ctx).QueryContext(ctx, `
		select institution_id, name, created_at, updated_at
		from account_connections.institutions
		order by created_at desc`)
	if err != nil {
		return nil, fmt.Errorf("listing institutions: %w", err)
	}
	defer rows.Close()

	var out []storage.Institution
	for rows.Next() {
		var inst storage.Institution
		if err := rows.Scan(&inst.InstitutionID, &inst.Name, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning institution: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// GetInstitution looks up a single institution by ID.
func (c *Conn) GetInstitution(ctx context.Context, institutionID string) (*storage.Institution, error) {
	var inst storage.Institution
	err := c.q(ctx).QueryRowContext(ctx, `
		select institution_id, name, created_at, updated_at
		from account_connections.institutions
		where institution_id = $1`, institutionID).
		Scan(&inst.InstitutionID, &inst.Name, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting institution: %w", err)
	}
	return &inst, nil
}

// GetInstruments returns the cached (name, symbol) pairs for the given
// instrument IDs, which may be a subset or none of them: the instrument
// cache is advisory (spec.md §3 invariant 5).
func (c *Conn) GetInstruments(ctx context.Context, instrumentIDs []string) ([]storage.Instrument, error) {
	if len(instrumentIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(instrumentIDs))
	args := make([]interface{}, len(instrumentIDs))
	for i, id := range instrumentIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		select instrument_id, name, symbol
		from account_connections.robinhood_instruments
		where instrument_id in (%s)`, strings.Join(placeholders, ", "))

	rows, err := c.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting instruments: %w", err)
	}
	defer rows.Close()

	var out []storage.Instrument
	for rows.Next() {
		var inst storage.Instrument
		if err := rows.Scan(&inst.InstrumentID, &inst.Name, &inst.Symbol); err != nil {
			return nil, fmt.Errorf("scanning instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpsertInstrument records a newly observed (or re-observed) instrument.
// spec.md §3 invariant 5 requires the cached value to match what the
// brokerage last returned, so a conflict always refreshes name and symbol.
func (c *Conn) UpsertInstrument(ctx context.Context, instrument storage.Instrument) error {
	_, err := c.q(ctx).ExecContext(ctx, `
		insert into account_connections.robinhood_instruments (instrument_id, name, symbol, created_at, updated_at)
		values ($1, $2, $3, $4, $4)
		on conflict (instrument_id) do update set
			name = excluded.name,
			symbol = excluded.symbol,
			updated_at = excluded.updated_at`,
		instrument.InstrumentID, instrument.Name, instrument.Symbol, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting instrument: %w", err)
	}
	return nil
}
