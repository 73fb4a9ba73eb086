package institution

import (
	"context"
	"time"

	"github.com/pelleum/account-connections/internal/storage"
)

// fakeConnectionStore is an in-memory storage.ConnectionStore for tests that
// exercise institution service logic without a database.
type fakeConnectionStore struct {
	nextID      int64
	byID        map[int64]*storage.Connection
	deactivated []int64
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{byID: make(map[int64]*storage.Connection)}
}

func (f *fakeConnectionStore) Upsert(ctx context.Context, data storage.UpsertConnection) (*storage.Connection, error) {
	for _, c := range f.byID {
		if c.UserID == data.UserID && c.InstitutionID == data.InstitutionID {
			if data.UsernameCT != nil {
				c.UsernameCT = data.UsernameCT
			}
			if data.PasswordCT != nil {
				c.PasswordCT = data.PasswordCT
			}
			if data.AccessTokenCT != nil {
				c.AccessTokenCT = data.AccessTokenCT
			}
			if data.RefreshTokenCT != nil {
				c.RefreshTokenCT = data.RefreshTokenCT
			}
			c.IsActive = data.IsActive
			c.UpdatedAt = time.Now().UTC()
			return c, nil
		}
	}

	f.nextID++
	c := &storage.Connection{
		ConnectionID:   f.nextID,
		UserID:         data.UserID,
		InstitutionID:  data.InstitutionID,
		UsernameCT:     data.UsernameCT,
		PasswordCT:     data.PasswordCT,
		AccessTokenCT:  data.AccessTokenCT,
		RefreshTokenCT: data.RefreshTokenCT,
		IsActive:       data.IsActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	f.byID[c.ConnectionID] = c
	return c, nil
}

func (f *fakeConnectionStore) Update(ctx context.Context, data storage.UpdateConnection) error {
	c, ok := f.byID[data.ConnectionID]
	if !ok {
		return storage.ErrNotFound
	}
	if data.AccessTokenCT != nil {
		c.AccessTokenCT = data.AccessTokenCT
	}
	if data.RefreshTokenCT != nil {
		c.RefreshTokenCT = data.RefreshTokenCT
	}
	if data.UsernameCT != nil {
		c.UsernameCT = data.UsernameCT
	}
	if data.PasswordCT != nil {
		c.PasswordCT = data.PasswordCT
	}
	if data.IsActive != nil {
		if !*data.IsActive {
			f.deactivated = append(f.deactivated, data.ConnectionID)
		}
		c.IsActive = *data.IsActive
	}
	return nil
}

func (f *fakeConnectionStore) Get(ctx context.Context, filter storage.ConnectionFilter) (*storage.Connection, error) {
	for _, c := range f.byID {
		if filter.UserID != nil && c.UserID != *filter.UserID {
			continue
		}
		if filter.InstitutionID != nil && c.InstitutionID != *filter.InstitutionID {
			continue
		}
		if filter.IsActive != nil && c.IsActive != *filter.IsActive {
			continue
		}
		if filter.HasRefreshToken != nil {
			has := c.RefreshTokenCT != nil
			if has != *filter.HasRefreshToken {
				continue
			}
		}
		return c, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeConnectionStore) List(ctx context.Context, filter storage.ConnectionFilter, opts storage.ConnectionListOptions) ([]storage.ConnectionWithInstitution, error) {
	var out []storage.ConnectionWithInstitution
	for _, c := range f.byID {
		if filter.IsActive != nil && c.IsActive != *filter.IsActive {
			continue
		}
		if filter.HasRefreshToken != nil {
			has := c.RefreshTokenCT != nil
			if has != *filter.HasRefreshToken {
				continue
			}
		}
		out = append(out, storage.ConnectionWithInstitution{Connection: *c})
	}
	return out, nil
}

func (f *fakeConnectionStore) Delete(ctx context.Context, connectionID int64) error {
	delete(f.byID, connectionID)
	return nil
}

func (f *fakeConnectionStore) WithClaimedPage(ctx context.Context, filter storage.ConnectionFilter, opts storage.ConnectionListOptions, fn func(ctx context.Context, conns []storage.ConnectionWithInstitution) error) error {
	conns, err := f.List(ctx, filter, opts)
	if err != nil {
		return err
	}
	return fn(ctx, conns)
}

// fakeAssetStore is an in-memory storage.AssetStore.
type fakeAssetStore struct {
	nextID int64
	byID   map[int64]*storage.Asset
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{byID: make(map[int64]*storage.Asset)}
}

func (f *fakeAssetStore) Upsert(ctx context.Context, asset storage.UpsertAsset) (*storage.Asset, error) {
	for _, a := range f.byID {
		if a.UserID == asset.UserID && a.AssetSymbol == asset.AssetSymbol && a.InstitutionID == asset.InstitutionID {
			a.Quantity = asset.Quantity
			a.AverageBuyPrice = asset.AverageBuyPrice
			return a, nil
		}
	}
	f.nextID++
	a := &storage.Asset{
		AssetID:         f.nextID,
		UserID:          asset.UserID,
		InstitutionID:   asset.InstitutionID,
		AssetSymbol:     asset.AssetSymbol,
		Name:            asset.Name,
		Quantity:        asset.Quantity,
		AverageBuyPrice: asset.AverageBuyPrice,
		IsUpToDate:      true,
	}
	f.byID[a.AssetID] = a
	return a, nil
}

func (f *fakeAssetStore) Update(ctx context.Context, userID int64, assetSymbol, institutionID string, data storage.UpdateAsset) error {
	for _, a := range f.byID {
		if a.UserID == userID && a.AssetSymbol == assetSymbol && a.InstitutionID == institutionID {
			if data.Quantity != nil {
				a.Quantity = *data.Quantity
			}
			if data.AverageBuyPrice != nil {
				a.AverageBuyPrice = data.AverageBuyPrice
			}
			if data.IsUpToDate != nil {
				a.IsUpToDate = *data.IsUpToDate
			}
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeAssetStore) ListByConnection(ctx context.Context, userID int64, institutionID string) ([]storage.Asset, error) {
	var out []storage.Asset
	for _, a := range f.byID {
		if a.UserID == userID && a.InstitutionID == institutionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAssetStore) Delete(ctx context.Context, filter storage.AssetDeleteFilter) error {
	if filter.AssetID != nil {
		delete(f.byID, *filter.AssetID)
		return nil
	}
	for id, a := range f.byID {
		if filter.UserID != nil && a.UserID == *filter.UserID &&
			filter.InstitutionID != nil && a.InstitutionID == *filter.InstitutionID {
			delete(f.byID, id)
		}
	}
	return nil
}

// fakeInstitutionStore is an in-memory storage.InstitutionStore.
type fakeInstitutionStore struct {
	instruments map[string]storage.Instrument
}

func newFakeInstitutionStore() *fakeInstitutionStore {
	return &fakeInstitutionStore{instruments: make(map[string]storage.Instrument)}
}

func (f *fakeInstitutionStore) ListInstitutions(ctx context.Context) ([]storage.Institution, error) {
	return nil, nil
}

func (f *fakeInstitutionStore) GetInstitution(ctx context.Context, institutionID string) (*storage.Institution, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeInstitutionStore) GetInstruments(ctx context.Context, instrumentIDs []string) ([]storage.Instrument, error) {
	var out []storage.Instrument
	for _, id := range instrumentIDs {
		if inst, ok := f.instruments[id]; ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeInstitutionStore) UpsertInstrument(ctx context.Context, instrument storage.Instrument) error {
	f.instruments[instrument.InstrumentID] = instrument
	return nil
}
