package httpapi

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

type fakeInstitutionStore struct {
	institutions []storage.Institution
}

func (f *fakeInstitutionStore) ListInstitutions(ctx context.Context) ([]storage.Institution, error) {
	return f.institutions, nil
}

func (f *fakeInstitutionStore) GetInstitution(ctx context.Context, institutionID string) (*storage.Institution, error) {
	for _, inst := range f.institutions {
		if inst.InstitutionID == institutionID {
			return &inst, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeInstitutionStore) GetInstruments(ctx context.Context, instrumentIDs []string) ([]storage.Instrument, error) {
	return nil, nil
}

func (f *fakeInstitutionStore) UpsertInstrument(ctx context.Context, instrument storage.Instrument) error {
	return nil
}

type fakeConnectionStore struct {
	conns     []storage.ConnectionWithInstitution
	deletedID int64
}

func (f *fakeConnectionStore) Upsert(ctx context.Context, data storage.UpsertConnection) (*storage.Connection, error) {
	return nil, nil
}

func (f *fakeConnectionStore) Update(ctx context.Context, data storage.UpdateConnection) error {
	return nil
}

func (f *fakeConnectionStore) Get(ctx context.Context, filter storage.ConnectionFilter) (*storage.Connection, error) {
	for _, c := range f.conns {
		if filter.UserID != nil && c.UserID != *filter.UserID {
			continue
		}
		if filter.InstitutionID != nil && c.InstitutionID != *filter.InstitutionID {
			continue
		}
		conn := c.Connection
		return &conn, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeConnectionStore) List(ctx context.Context, filter storage.ConnectionFilter, opts storage.ConnectionListOptions) ([]storage.ConnectionWithInstitution, error) {
	return f.conns, nil
}

func (f *fakeConnectionStore) Delete(ctx context.Context, connectionID int64) error {
	f.deletedID = connectionID
	return nil
}

func (f *fakeConnectionStore) WithClaimedPage(ctx context.Context, filter storage.ConnectionFilter, opts storage.ConnectionListOptions, fn func(ctx context.Context, conns []storage.ConnectionWithInstitution) error) error {
	conns, err := f.List(ctx, filter, opts)
	if err != nil {
		return err
	}
	return fn(ctx, conns)
}

type fakeAssetStore struct {
	deletedFilter storage.AssetDeleteFilter
}

func (f *fakeAssetStore) Upsert(ctx context.Context, asset storage.UpsertAsset) (*storage.Asset, error) {
	return nil, nil
}

func (f *fakeAssetStore) Update(ctx context.Context, userID int64, assetSymbol, institutionID string, data storage.UpdateAsset) error {
	return nil
}

func (f *fakeAssetStore) ListByConnection(ctx context.Context, userID int64, institutionID string) ([]storage.Asset, error) {
	return nil, nil
}

func (f *fakeAssetStore) Delete(ctx context.Context, filter storage.AssetDeleteFilter) error {
	f.deletedFilter = filter
	return nil
}

type fakeInstitutionService struct {
	id          string
	loginResult *institution.LoginResult
	loginErr    error
	holdings    *institution.Holdings
	verifyErr   error
}

func (s *fakeInstitutionService) InstitutionID() string { return s.id }

func (s *fakeInstitutionService) Login(ctx context.Context, userID int64, credentials institution.UserCredentials) (*institution.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *fakeInstitutionService) VerifyMFA(ctx context.Context, userID int64, proof institution.MFAProof) (*institution.Holdings, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.holdings, nil
}

func (s *fakeInstitutionService) GetRecentHoldings(ctx context.Context, encryptedAccessToken string) (*institution.Holdings, error) {
	return s.holdings, nil
}

func (s *fakeInstitutionService) RefreshToken(ctx context.Context, encryptedRefreshToken string) (*institution.RefreshedTokens, error) {
	return nil, nil
}
