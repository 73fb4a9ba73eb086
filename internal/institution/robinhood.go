package institution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pelleum/account-connections/internal/cryptutil"
	"github.com/pelleum/account-connections/internal/robinhood"
	"github.com/pelleum/account-connections/internal/storage"
)

const robinhoodInstitutionID = "robinhood"

// RobinhoodConfig carries the two brokerage-issued identifiers every
// Robinhood login payload must include (spec.md §6 configuration).
type RobinhoodConfig struct {
	ClientID    string
	DeviceToken string
}

// robinhoodService is the Robinhood Service implementation. Ported from
// _examples/original_source/app/usecases/services/robinhood.py's
// RobinhoodService, generalized behind the Service interface.
type robinhoodService struct {
	client      *robinhood.Client
	connections storage.ConnectionStore
	assets      storage.AssetStore
	institution storage.InstitutionStore
	crypto      *cryptutil.Service
	cfg         RobinhoodConfig
}

// NewRobinhoodService builds the Robinhood Service.
func NewRobinhoodService(
	client *robinhood.Client,
	connections storage.ConnectionStore,
	assets storage.AssetStore,
	institution storage.InstitutionStore,
	crypto *cryptutil.Service,
	cfg RobinhoodConfig,
) Service {
	return &robinhoodService{
		client:      client,
		connections: connections,
		assets:      assets,
		institution: institution,
		crypto:      crypto,
		cfg:         cfg,
	}
}

func (s *robinhoodService) InstitutionID() string {
	return robinhoodInstitutionID
}

func (s *robinhoodService) payload(username, password, mfaCode, refreshToken, grantType string) robinhood.LoginPayload {
	return robinhood.LoginPayload{
		ClientID:      s.cfg.ClientID,
		ExpiresIn:     86400,
		GrantType:     grantType,
		Username:      username,
		Password:      password,
		Scope:         "internal",
		ChallengeType: "sms",
		DeviceToken:   s.cfg.DeviceToken,
		RefreshToken:  refreshToken,
		MFACode:       mfaCode,
	}
}

// Login implements spec.md §4.4.1.
func (s *robinhoodService) Login(ctx context.Context, userID int64, credentials UserCredentials) (*LoginResult, error) {
	previous, err := s.existingConnection(ctx, userID)
	if err != nil {
		return nil, err
	}
	if previous != nil && previous.IsActive {
		return nil, &AlreadyLinkedError{UserID: userID, InstitutionID: robinhoodInstitutionID}
	}

	payload := s.payload(credentials.Username, credentials.Password, "", "", "password")
	resp, err := s.client.Login(ctx, payload, "")
	if err != nil {
		return nil, err
	}

	usernameCT, err := s.crypto.Encrypt(credentials.Username)
	if err != nil {
		return nil, err
	}
	passwordCT, err := s.crypto.Encrypt(credentials.Password)
	if err != nil {
		return nil, err
	}

	if resp.HasAccessToken() {
		accessCT, refreshCT, err := s.encryptTokens(resp)
		if err != nil {
			return nil, err
		}

		connection, err := s.connections.Upsert(ctx, storage.UpsertConnection{
			UserID:         userID,
			InstitutionID:  robinhoodInstitutionID,
			UsernameCT:     &usernameCT,
			PasswordCT:     &passwordCT,
			AccessTokenCT:  &accessCT,
			RefreshTokenCT: &refreshCT,
			IsActive:       true,
		})
		if err != nil {
			return nil, err
		}

		holdings, err := s.GetRecentHoldings(ctx, *connection.AccessTokenCT)
		if err != nil {
			return nil, err
		}
		if err := s.upsertHoldings(ctx, userID, holdings); err != nil {
			return nil, err
		}
		return &LoginResult{Holdings: holdings}, nil
	}

	// Challenge-required or bare-MFA-required: persist credentials only,
	// leave tokens unset and the connection inactive, pass the raw envelope
	// back to the caller (spec.md §4.4.1).
	if _, err := s.connections.Upsert(ctx, storage.UpsertConnection{
		UserID:        userID,
		InstitutionID: robinhoodInstitutionID,
		UsernameCT:    &usernameCT,
		PasswordCT:    &passwordCT,
		IsActive:      false,
	}); err != nil {
		return nil, err
	}
	return &LoginResult{Passthrough: resp}, nil
}

// VerifyMFA implements spec.md §4.4.2.
func (s *robinhoodService) VerifyMFA(ctx context.Context, userID int64, proof MFAProof) (*Holdings, error) {
	if err := ValidateProof(proof); err != nil {
		return nil, err
	}

	previous, err := s.existingConnection(ctx, userID)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, &NotLinkedError{UserID: userID, InstitutionID: robinhoodInstitutionID}
	}
	if previous.IsActive {
		return nil, &AlreadyLinkedError{UserID: userID, InstitutionID: robinhoodInstitutionID}
	}
	if previous.UsernameCT == nil || previous.PasswordCT == nil {
		return nil, &NotLinkedError{UserID: userID, InstitutionID: robinhoodInstitutionID}
	}

	username, err := s.crypto.Decrypt(*previous.UsernameCT)
	if err != nil {
		return nil, err
	}
	password, err := s.crypto.Decrypt(*previous.PasswordCT)
	if err != nil {
		return nil, err
	}

	payload := s.payload(username, password, proof.SMSCode(), "", "password")

	var resp robinhood.LoginResponse
	if proof.WithChallenge != nil {
		if err := s.client.RespondToChallenge(ctx, proof.WithChallenge.SMSCode, proof.WithChallenge.ChallengeID); err != nil {
			return nil, err
		}
		resp, err = s.client.Login(ctx, payload, proof.WithChallenge.ChallengeID)
	} else {
		resp, err = s.client.Login(ctx, payload, "")
	}
	if err != nil {
		return nil, err
	}
	if !resp.HasAccessToken() {
		return nil, &robinhood.TransportError{Status: 200, Body: "mfa verification did not return a token envelope"}
	}

	accessCT, refreshCT, err := s.encryptTokens(resp)
	if err != nil {
		return nil, err
	}

	isActive := true
	if err := s.connections.Update(ctx, storage.UpdateConnection{
		ConnectionID:   previous.ConnectionID,
		AccessTokenCT:  &accessCT,
		RefreshTokenCT: &refreshCT,
		IsActive:       &isActive,
	}); err != nil {
		return nil, err
	}

	holdings, err := s.GetRecentHoldings(ctx, accessCT)
	if err != nil {
		return nil, err
	}
	if err := s.upsertHoldings(ctx, userID, holdings); err != nil {
		return nil, err
	}
	return holdings, nil
}

// GetRecentHoldings implements spec.md §4.4.3.
func (s *robinhoodService) GetRecentHoldings(ctx context.Context, encryptedAccessToken string) (*Holdings, error) {
	accessToken, err := s.crypto.Decrypt(encryptedAccessToken)
	if err != nil {
		return nil, err
	}

	positions, err := s.client.GetPositions(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	instrumentIDs := make([]string, 0, len(positions))
	for _, p := range positions {
		instrumentIDs = append(instrumentIDs, instrumentIDFromURL(p.InstrumentURL))
	}

	cached, err := s.institution.GetInstruments(ctx, instrumentIDs)
	if err != nil {
		return nil, err
	}
	cacheByID := make(map[string]storage.Instrument, len(cached))
	for _, inst := range cached {
		cacheByID[inst.InstrumentID] = inst
	}

	holdings := make([]Holding, 0, len(positions))
	for _, p := range positions {
		instrumentID := instrumentIDFromURL(p.InstrumentURL)

		quantity, err := decimal.NewFromString(p.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parsing position quantity %q: %w", p.Quantity, err)
		}
		averageBuyPrice, err := decimal.NewFromString(p.AverageBuyPrice)
		if err != nil {
			return nil, fmt.Errorf("parsing position average_buy_price %q: %w", p.AverageBuyPrice, err)
		}

		if tracked, ok := cacheByID[instrumentID]; ok {
			holdings = append(holdings, Holding{
				AssetSymbol:     tracked.Symbol,
				AssetName:       tracked.Name,
				Quantity:        quantity,
				AverageBuyPrice: averageBuyPrice,
			})
			continue
		}

		symbol, err := s.client.GetInstrumentByURL(ctx, p.InstrumentURL, accessToken)
		if err != nil {
			return nil, err
		}
		name, err := s.client.GetNameBySymbol(ctx, symbol, accessToken)
		if err != nil {
			return nil, err
		}

		if err := s.institution.UpsertInstrument(ctx, storage.Instrument{
			InstrumentID: instrumentID,
			Name:         name,
			Symbol:       symbol,
		}); err != nil {
			return nil, err
		}

		holdings = append(holdings, Holding{
			AssetSymbol:     symbol,
			AssetName:       name,
			Quantity:        quantity,
			AverageBuyPrice: averageBuyPrice,
		})
	}

	return &Holdings{InstitutionName: "Robinhood", Holdings: holdings}, nil
}

// RefreshToken implements spec.md §4.4.4.
func (s *robinhoodService) RefreshToken(ctx context.Context, encryptedRefreshToken string) (*RefreshedTokens, error) {
	refreshToken, err := s.crypto.Decrypt(encryptedRefreshToken)
	if err != nil {
		return nil, err
	}

	payload := s.payload("", "", "", refreshToken, "refresh_token")
	resp, err := s.client.Login(ctx, payload, "")
	if err != nil {
		return nil, err
	}
	if !resp.HasAccessToken() {
		return nil, &robinhood.TransportError{Status: 200, Body: "refresh did not return a token envelope"}
	}

	accessCT, refreshCT, err := s.encryptTokens(resp)
	if err != nil {
		return nil, err
	}
	return &RefreshedTokens{AccessTokenCT: accessCT, RefreshTokenCT: refreshCT}, nil
}

func (s *robinhoodService) encryptTokens(resp robinhood.LoginResponse) (accessCT, refreshCT string, err error) {
	accessCT, err = s.crypto.Encrypt(resp.AccessToken())
	if err != nil {
		return "", "", err
	}
	refreshCT, err = s.crypto.Encrypt(resp.RefreshToken())
	if err != nil {
		return "", "", err
	}
	return accessCT, refreshCT, nil
}

func (s *robinhoodService) existingConnection(ctx context.Context, userID int64) (*storage.Connection, error) {
	institutionID := robinhoodInstitutionID
	conn, err := s.connections.Get(ctx, storage.ConnectionFilter{UserID: &userID, InstitutionID: &institutionID})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *robinhoodService) upsertHoldings(ctx context.Context, userID int64, holdings *Holdings) error {
	for _, h := range holdings.Holdings {
		quantity := h.Quantity
		averageBuyPrice := h.AverageBuyPrice
		if _, err := s.assets.Upsert(ctx, storage.UpsertAsset{
			UserID:          userID,
			InstitutionID:   robinhoodInstitutionID,
			AssetSymbol:     h.AssetSymbol,
			Name:            h.AssetName,
			Quantity:        quantity,
			AverageBuyPrice: &averageBuyPrice,
		}); err != nil {
			return err
		}
	}
	return nil
}

// instrumentIDFromURL extracts the trailing path segment of a Robinhood
// instrument URL, which is the cache key used throughout spec.md §4.4.3
// (e.g. ".../instruments/i1/" -> "i1").
func instrumentIDFromURL(instrumentURL string) string {
	trimmed := strings.TrimSuffix(instrumentURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 {
		return trimmed
	}
	return trimmed[idx+1:]
}
