package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pelleum/account-connections/internal/storage"
)

var _ storage.ConnectionStore = (*Conn)(nil)

// Upsert inserts by (user_id, institution_id); on conflict it updates
// username/password/access_token/refresh_token/is_active, leaving every
// other column untouched, per spec.md §4.3.
func (c *Conn) Upsert(ctx context.Context, data storage.UpsertConnection) (*storage.Connection, error) {
	now := time.Now().UTC()

	var conn storage.Connection
	err := c.q(ctx).QueryRowContext(ctx, `
		insert into account_connections.institution_connections (
			institution_id, user_id, username_ct, password_ct,
			access_token_ct, refresh_token_ct, is_active, created_at, updated_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		on conflict (user_id, institution_id) do update set
			username_ct = coalesce(excluded.username_ct, account_connections.institution_connections.username_ct),
			password_ct = coalesce(excluded.password_ct, account_connections.institution_connections.password_ct),
			access_token_ct = coalesce(excluded.access_token_ct, account_connections.institution_connections.access_token_ct),
			refresh_token_ct = coalesce(excluded.refresh_token_ct, account_connections.institution_connections.refresh_token_ct),
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		returning connection_id, institution_id, user_id, username_ct, password_ct,
			access_token_ct, refresh_token_ct, is_active, created_at, updated_at`,
		data.InstitutionID, data.UserID, data.UsernameCT, data.PasswordCT,
		data.AccessTokenCT, data.RefreshTokenCT, data.IsActive, now).
		Scan(&conn.ConnectionID, &conn.InstitutionID, &conn.UserID, &conn.UsernameCT, &conn.PasswordCT,
			&conn.AccessTokenCT, &conn.RefreshTokenCT, &conn.IsActive, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting connection: %w", err)
	}
	return &conn, nil
}

// Update patches only the non-nil fields of an existing connection.
func (c *Conn) Update(ctx context.Context, data storage.UpdateConnection) error {
	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if data.AccessTokenCT != nil {
		add("access_token_ct", *data.AccessTokenCT)
	}
	if data.RefreshTokenCT != nil {
		add("refresh_token_ct", *data.RefreshTokenCT)
	}
	if data.UsernameCT != nil {
		add("username_ct", *data.UsernameCT)
	}
	if data.PasswordCT != nil {
		add("password_ct", *data.PasswordCT)
	}
	if data.IsActive != nil {
		add("is_active", *data.IsActive)
	}

	args = append(args, data.ConnectionID)
	query := fmt.Sprintf(`
		update account_connections.institution_connections
		set %s
		where connection_id = $%d`, strings.Join(sets, ", "), len(args))

	if _, err := c.q(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating connection: %w", err)
	}
	return nil
}

// Get returns a single connection matching filter, or storage.ErrNotFound.
func (c *Conn) Get(ctx context.Context, filter storage.ConnectionFilter) (*storage.Connection, error) {
	where, args := buildConnectionFilter(filter)
	if where == "" {
		return nil, fmt.Errorf("Get requires at least one filter condition")
	}

	query := fmt.Sprintf(`
		select connection_id, institution_id, user_id, username_ct, password_ct,
			access_token_ct, refresh_token_ct, is_active, created_at, updated_at
		from account_connections.institution_connections
		where %s
		limit 1`, where)

	var conn storage.Connection
	err := c.q(ctx).QueryRowContext(ctx, query, args...).Scan(
		&conn.ConnectionID, &conn.InstitutionID, &conn.UserID, &conn.UsernameCT, &conn.PasswordCT,
		&conn.AccessTokenCT, &conn.RefreshTokenCT, &conn.IsActive, &conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting connection: %w", err)
	}
	return &conn, nil
}

// List returns connections matching filter, joined with their institution's
// name. When opts.SkipLocked is true, rows already locked by a concurrent
// transaction are skipped rather than waited on — the coordination
// primitive multiple sync-loop replicas use to partition work (spec.md §5).
func (c *Conn) List(ctx context.Context, filter storage.ConnectionFilter, opts storage.ConnectionListOptions) ([]storage.ConnectionWithInstitution, error) {
	where, args := buildConnectionFilter(filter)
	if where == "" {
		where = "true"
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	lockClause := ""
	if opts.SkipLocked {
		lockClause = "for update of ic skip locked"
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`
		select ic.connection_id, ic.institution_id, ic.user_id, ic.username_ct, ic.password_ct,
			ic.access_token_ct, ic.refresh_token_ct, ic.is_active, ic.created_at, ic.updated_at,
			i.name
		from account_connections.institution_connections ic
		join account_connections.institutions i on i.institution_id = ic.institution_id
		where %s
		order by ic.created_at desc
		limit $%d offset $%d
		%s`, where, len(args)-1, len(args), lockClause)

	rows, err := c.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	var out []storage.ConnectionWithInstitution
	for rows.Next() {
		var row storage.ConnectionWithInstitution
		if err := rows.Scan(
			&row.ConnectionID, &row.InstitutionID, &row.UserID, &row.UsernameCT, &row.PasswordCT,
			&row.AccessTokenCT, &row.RefreshTokenCT, &row.IsActive, &row.CreatedAt, &row.UpdatedAt,
			&row.InstitutionName,
		); err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// WithClaimedPage claims one page of connections matching filter via FOR
// UPDATE SKIP LOCKED and invokes fn while that claim is still held: List and
// fn run inside the same transaction, so the lock spans the whole
// reconciliation pass fn performs rather than being released the instant
// List's query completes (spec.md §5 — this is what lets several worker
// replicas partition a sync pass without double-processing a connection).
// Any repository call fn makes with the ctx it is given joins this same
// transaction.
func (c *Conn) WithClaimedPage(ctx context.Context, filter storage.ConnectionFilter, opts storage.ConnectionListOptions, fn func(ctx context.Context, conns []storage.ConnectionWithInstitution) error) error {
	opts.SkipLocked = true
	return c.withTx(ctx, func(txCtx context.Context) error {
		conns, err := c.List(txCtx, filter, opts)
		if err != nil {
			return err
		}
		return fn(txCtx, conns)
	})
}

// Delete removes a connection by ID. Caller (internal/httpapi's
// deleteConnection) is responsible for also deleting its assets (spec.md §3
// invariant 4).
func (c *Conn) Delete(ctx context.Context, connectionID int64) error {
	_, err := c.q(ctx).ExecContext(ctx, `
		delete from account_connections.institution_connections
		where connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}

// buildConnectionFilter renders ConnectionFilter's tri-state fields into a
// SQL WHERE fragment. A nil pointer field contributes no condition at all
// (spec.md §9 defect #5: truthiness checks must not treat IsActive=false
// the same as unfiltered).
func buildConnectionFilter(filter storage.ConnectionFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.UserID != nil {
		add("user_id", *filter.UserID)
	}
	if filter.InstitutionID != nil {
		add("institution_id", *filter.InstitutionID)
	}
	if filter.IsActive != nil {
		add("is_active", *filter.IsActive)
	}
	if filter.HasRefreshToken != nil {
		if *filter.HasRefreshToken {
			conditions = append(conditions, "refresh_token_ct is not null")
		} else {
			conditions = append(conditions, "refresh_token_ct is null")
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " and "), args
}
