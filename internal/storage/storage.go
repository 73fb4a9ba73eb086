// Package storage defines the repository interfaces and domain types shared
// by every backend. Grounded on dexidp-dex's storage/storage.go: interfaces
// and plain domain structs live here, backend implementations live in a
// sibling package (internal/storage/sqlstore).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by single-row lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// Institution is a supported brokerage, seeded once and treated as
// immutable thereafter.
type Institution struct {
	InstitutionID string
	Name          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Connection is a persisted link between one user and one institution.
// The *CT fields hold ciphertext produced by internal/cryptutil; nothing
// outside internal/institution ever sees the plaintext.
type Connection struct {
	ConnectionID     int64
	InstitutionID    string
	UserID           int64
	UsernameCT       *string
	PasswordCT       *string
	AccessTokenCT    *string
	RefreshTokenCT   *string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ConnectionWithInstitution joins a Connection with its institution's name,
// as returned by ConnectionStore.List.
type ConnectionWithInstitution struct {
	Connection
	InstitutionName string
}

// ConnectionFilter selects connections by any subset of its fields.
// Pointer-typed boolean fields are tri-state: nil means "any value",
// a non-nil pointer means "exactly this value" (spec.md §9 defect #5).
type ConnectionFilter struct {
	UserID          *int64
	InstitutionID   *string
	IsActive        *bool
	HasRefreshToken *bool
}

// ConnectionListOptions controls pagination and locking behavior for List.
type ConnectionListOptions struct {
	SkipLocked bool
	Page       int
	PageSize   int
}

// UpsertConnection is the payload for ConnectionStore.Upsert: insert by
// (user_id, institution_id), update the listed columns on conflict.
type UpsertConnection struct {
	UserID         int64
	InstitutionID  string
	UsernameCT     *string
	PasswordCT     *string
	AccessTokenCT  *string
	RefreshTokenCT *string
	IsActive       bool
}

// UpdateConnection updates only the non-nil fields of an existing
// connection, identified by ConnectionID.
type UpdateConnection struct {
	ConnectionID   int64
	AccessTokenCT  *string
	RefreshTokenCT *string
	UsernameCT     *string
	PasswordCT     *string
	IsActive       *bool
}

// Instrument is a cached (name, symbol) pair for a brokerage's opaque
// instrument identifier.
type Instrument struct {
	InstrumentID string
	Name         string
	Symbol       string
}

// Asset is a single per-user, per-institution holding.
type Asset struct {
	AssetID           int64
	UserID            int64
	InstitutionID     string
	AssetSymbol       string
	Name              string
	Quantity          decimal.Decimal
	AverageBuyPrice   *decimal.Decimal
	ThesisID          *string
	SkinRating        *int
	TotalContribution *decimal.Decimal
	PositionValue     *decimal.Decimal
	IsUpToDate        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UpsertAsset is the payload for AssetStore.Upsert: insert by (user_id,
// asset_symbol, institution_id), update position_value/quantity/
// average_buy_price/total_contribution on conflict.
type UpsertAsset struct {
	UserID            int64
	InstitutionID     string
	AssetSymbol       string
	Name              string
	Quantity          decimal.Decimal
	AverageBuyPrice   *decimal.Decimal
	ThesisID          *string
	SkinRating        *int
	TotalContribution *decimal.Decimal
	PositionValue     *decimal.Decimal
}

// UpdateAsset updates only the non-nil fields of an existing asset.
type UpdateAsset struct {
	Quantity        *decimal.Decimal
	AverageBuyPrice *decimal.Decimal
	IsUpToDate      *bool
}

// AssetDeleteFilter selects assets to delete either by a single AssetID or
// by the whole (UserID, InstitutionID) pair.
type AssetDeleteFilter struct {
	AssetID       *int64
	UserID        *int64
	InstitutionID *string
}

// InstitutionStore is the repository for supported institutions and the
// instrument name/symbol cache.
type InstitutionStore interface {
	ListInstitutions(ctx context.Context) ([]Institution, error)
	GetInstitution(ctx context.Context, institutionID string) (*Institution, error)

	GetInstruments(ctx context.Context, instrumentIDs []string) ([]Instrument, error)
	UpsertInstrument(ctx context.Context, instrument Instrument) error
}

// ConnectionStore is the repository for institution connections.
type ConnectionStore interface {
	Upsert(ctx context.Context, data UpsertConnection) (*Connection, error)
	Update(ctx context.Context, data UpdateConnection) error
	Get(ctx context.Context, filter ConnectionFilter) (*Connection, error)
	List(ctx context.Context, filter ConnectionFilter, opts ConnectionListOptions) ([]ConnectionWithInstitution, error)
	Delete(ctx context.Context, connectionID int64) error

	// WithClaimedPage claims one page of matching connections and holds that
	// claim for fn's entire duration, so a multi-replica sync pass can
	// partition work without two replicas processing the same connection
	// (spec.md §5).
	WithClaimedPage(ctx context.Context, filter ConnectionFilter, opts ConnectionListOptions, fn func(ctx context.Context, conns []ConnectionWithInstitution) error) error
}

// AssetStore is the repository for per-user brokerage holdings.
type AssetStore interface {
	Upsert(ctx context.Context, asset UpsertAsset) (*Asset, error)
	Update(ctx context.Context, userID int64, assetSymbol, institutionID string, data UpdateAsset) error
	ListByConnection(ctx context.Context, userID int64, institutionID string) ([]Asset, error)
	Delete(ctx context.Context, filter AssetDeleteFilter) error
}
