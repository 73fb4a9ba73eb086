package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pelleum/account-connections/internal/storage"
)

var _ storage.AssetStore = (*Conn)(nil)

// Upsert inserts by (user_id, asset_symbol, institution_id); on conflict it
// updates position_value/quantity/average_buy_price/total_contribution,
// leaving thesis_id and skin_rating untouched (spec.md §4.3).
func (c *Conn) Upsert(ctx context.Context, asset storage.UpsertAsset) (*storage.Asset, error) {
	now := time.Now().UTC()

	var out storage.Asset
	err := c.q(ctx).QueryRowContext(ctx, `
		insert into public.assets (
			user_id, institution_id, asset_symbol, name, quantity,
			average_buy_price, thesis_id, skin_rating, total_contribution,
			position_value, is_up_to_date, created_at, updated_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, $11, $11)
		on conflict (user_id, asset_symbol, institution_id) do update set
			position_value = excluded.position_value,
			quantity = excluded.quantity,
			average_buy_price = excluded.average_buy_price,
			total_contribution = excluded.total_contribution,
			updated_at = excluded.updated_at
		returning asset_id, user_id, institution_id, asset_symbol, name, quantity,
			average_buy_price, thesis_id, skin_rating, total_contribution,
			position_value, is_up_to_date, created_at, updated_at`,
		asset.UserID, asset.InstitutionID, asset.AssetSymbol, asset.Name, asset.Quantity,
		asset.AverageBuyPrice, asset.ThesisID, asset.SkinRating, asset.TotalContribution,
		asset.PositionValue, now).
		Scan(&out.AssetID, &out.UserID, &out.InstitutionID, &out.AssetSymbol, &out.Name, &out.Quantity,
			&out.AverageBuyPrice, &out.ThesisID, &out.SkinRating, &out.TotalContribution,
			&out.PositionValue, &out.IsUpToDate, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting asset: %w", err)
	}
	return &out, nil
}

// Update refreshes the non-nil fields of a single asset identified by the
// composite key (user_id, asset_symbol, institution_id).
func (c *Conn) Update(ctx context.Context, userID int64, assetSymbol, institutionID string, data storage.UpdateAsset) error {
	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if data.Quantity != nil {
		add("quantity", *data.Quantity)
	}
	if data.AverageBuyPrice != nil {
		add("average_buy_price", *data.AverageBuyPrice)
	}
	if data.IsUpToDate != nil {
		add("is_up_to_date", *data.IsUpToDate)
	}

	args = append(args, userID, assetSymbol, institutionID)
	query := fmt.Sprintf(`
		update public.assets
		set %s
		where user_id = $%d and asset_symbol = $%d and institution_id = $%d`,
		strings.Join(sets, ", "), len(args)-2, len(args)-1, len(args))

	if _, err := c.q(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating asset: %w", err)
	}
	return nil
}

// ListByConnection returns every asset tracked for one (user, institution)
// pair — the "locally tracked assets" side of reconciliation (spec.md
// §4.5).
func (c *Conn) ListByConnection(ctx context.Context, userID int64, institutionID string) ([]storage.Asset, error) {
	rows, err := c.q(ctx).QueryContext(ctx, `
		select asset_id, user_id, institution_id, asset_symbol, name, quantity,
			average_buy_price, thesis_id, skin_rating, total_contribution,
			position_value, is_up_to_date, created_at, updated_at
		from public.assets
		where user_id = $1 and institution_id = $2`, userID, institutionID)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	var out []storage.Asset
	for rows.Next() {
		var a storage.Asset
		if err := rows.Scan(&a.AssetID, &a.UserID, &a.InstitutionID, &a.AssetSymbol, &a.Name, &a.Quantity,
			&a.AverageBuyPrice, &a.ThesisID, &a.SkinRating, &a.TotalContribution,
			&a.PositionValue, &a.IsUpToDate, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes either a single asset (AssetID set) or every asset for a
// whole connection (UserID+InstitutionID set), per spec.md §4.3.
func (c *Conn) Delete(ctx context.Context, filter storage.AssetDeleteFilter) error {
	if filter.AssetID != nil {
		_, err := c.q(ctx).ExecContext(ctx, `delete from public.assets where asset_id = $1`, *filter.AssetID)
		if err != nil {
			return fmt.Errorf("deleting asset: %w", err)
		}
		return nil
	}

	if filter.UserID != nil && filter.InstitutionID != nil {
		_, err := c.q(ctx).ExecContext(ctx, `
			delete from public.assets
			where user_id = $1 and institution_id = $2`, *filter.UserID, *filter.InstitutionID)
		if err != nil {
			return fmt.Errorf("deleting connection assets: %w", err)
		}
		return nil
	}

	return fmt.Errorf("Delete requires either AssetID or (UserID and InstitutionID)")
}
