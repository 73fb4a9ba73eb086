package syncjobs

import (
	"context"
	"io"
	"log/slog"

	"github.com/pelleum/account-connections/internal/institution"
	"github.com/pelleum/account-connections/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConnectionStore is a minimal in-memory storage.ConnectionStore; List
// returns a fixed page once, matching how the real skip-locked query
// partitions a bounded unit of work per loop iteration.
type fakeConnectionStore struct {
	conns       []storage.ConnectionWithInstitution
	updates     []storage.UpdateConnection
	listFilters []storage.ConnectionFilter
}

func (f *fakeConnectionStore) Upsert(ctx context.Context, data storage.UpsertConnection) (*storage.Connection, error) {
	return nil, nil
}

func (f *fakeConnectionStore) Update(ctx context.Context, data storage.UpdateConnection) error {
	f.updates = append(f.updates, data)
	for i := range f.conns {
		if f.conns[i].ConnectionID == data.ConnectionID {
			if data.IsActive != nil {
				f.conns[i].IsActive = *data.IsActive
			}
			if data.AccessTokenCT != nil {
				f.conns[i].AccessTokenCT = data.AccessTokenCT
			}
			if data.RefreshTokenCT != nil {
				f.conns[i].RefreshTokenCT = data.RefreshTokenCT
			}
		}
	}
	return nil
}

func (f *fakeConnectionStore) Get(ctx context.Context, filter storage.ConnectionFilter) (*storage.Connection, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeConnectionStore) List(ctx context.Context, filter storage.ConnectionFilter, opts storage.ConnectionListOptions) ([]storage.ConnectionWithInstitution, error) {
	f.listFilters = append(f.listFilters, filter)
	if opts.Page > 1 {
		return nil, nil
	}
	return f.conns, nil
}

func (f *fakeConnectionStore) Delete(ctx context.Context, connectionID int64) error {
	return nil
}

func (f *fakeConnectionStore) WithClaimedPage(ctx context.Context, filter storage.ConnectionFilter, opts storage.ConnectionListOptions, fn func(ctx context.Context, conns []storage.ConnectionWithInstitution) error) error {
	conns, err := f.List(ctx, filter, opts)
	if err != nil {
		return err
	}
	return fn(ctx, conns)
}

// fakeAssetStore is a minimal in-memory storage.AssetStore.
type fakeAssetStore struct {
	tracked  map[int64][]storage.Asset
	upserted []storage.UpsertAsset
	deleted  []storage.AssetDeleteFilter
	updated  []storage.UpdateAsset
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{tracked: make(map[int64][]storage.Asset)}
}

func (f *fakeAssetStore) Upsert(ctx context.Context, asset storage.UpsertAsset) (*storage.Asset, error) {
	f.upserted = append(f.upserted, asset)
	return &storage.Asset{UserID: asset.UserID, InstitutionID: asset.InstitutionID, AssetSymbol: asset.AssetSymbol, Quantity: asset.Quantity}, nil
}

func (f *fakeAssetStore) Update(ctx context.Context, userID int64, assetSymbol, institutionID string, data storage.UpdateAsset) error {
	f.updated = append(f.updated, data)
	return nil
}

func (f *fakeAssetStore) ListByConnection(ctx context.Context, userID int64, institutionID string) ([]storage.Asset, error) {
	return f.tracked[userID], nil
}

func (f *fakeAssetStore) Delete(ctx context.Context, filter storage.AssetDeleteFilter) error {
	f.deleted = append(f.deleted, filter)
	return nil
}

// fakeInstitutionService is a test double for institution.Service.
type fakeInstitutionService struct {
	id  string
	cfg map[string]*fakeOutcome

	holdings    *institution.Holdings
	holdingsErr error
	refreshed   *institution.RefreshedTokens
	refreshErr  error

	holdingsCalls    int
	refreshTokenCall int
}

// fakeOutcome lets a test key a per-token success/failure outcome, so a
// single fakeInstitutionService can represent several connections that
// behave differently (one failing, one succeeding) within one sync pass.
type fakeOutcome struct {
	holdings    *institution.Holdings
	holdingsErr error
	refreshed   *institution.RefreshedTokens
	refreshErr  error
}

func (s *fakeInstitutionService) InstitutionID() string { return s.id }

func (s *fakeInstitutionService) Login(ctx context.Context, userID int64, credentials institution.UserCredentials) (*institution.LoginResult, error) {
	return nil, nil
}

func (s *fakeInstitutionService) VerifyMFA(ctx context.Context, userID int64, proof institution.MFAProof) (*institution.Holdings, error) {
	return nil, nil
}

func (s *fakeInstitutionService) GetRecentHoldings(ctx context.Context, encryptedAccessToken string) (*institution.Holdings, error) {
	s.holdingsCalls++
	if outcome, ok := s.cfg[encryptedAccessToken]; ok {
		return outcome.holdings, outcome.holdingsErr
	}
	if s.holdingsErr != nil {
		return nil, s.holdingsErr
	}
	return s.holdings, nil
}

func (s *fakeInstitutionService) RefreshToken(ctx context.Context, encryptedRefreshToken string) (*institution.RefreshedTokens, error) {
	s.refreshTokenCall++
	if outcome, ok := s.cfg[encryptedRefreshToken]; ok {
		return outcome.refreshed, outcome.refreshErr
	}
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.refreshed, nil
}

var _ institution.Service = (*fakeInstitutionService)(nil)
