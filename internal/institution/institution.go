// Package institution implements the per-brokerage login/MFA/holdings/
// token-refresh capability set behind a single Service interface, plus the
// registry that maps an institution_id to its concrete implementation and
// the reconciliation algorithm used by the holdings sync loop.
//
// Grounded on
// _examples/original_source/app/usecases/services/robinhood.py for the
// control flow (login/send_multifactor_auth_code/get_recent_holdings are
// carried over near step-for-step — this is the one package where the
// spec's "WHAT" *is* its "HOW"). The interface-plus-registry shape, used in
// place of the original's class inheritance and runtime attribute lookup,
// follows dexidp-dex's connector.Connector interface
// (connector/connector.go) and its registration-by-string-key pattern in
// server/server.go's openConnector.
package institution

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// UserCredentials carries a brokerage username/password in plaintext; it
// never crosses a service boundary except into Login, where it is
// immediately encrypted before being persisted (spec.md §4.4).
type UserCredentials struct {
	Username string
	Password string
}

// ChallengeProof is the WithChallenge branch of MFAProof: an SMS code paired
// with the challenge_id issued by a prior login attempt.
type ChallengeProof struct {
	SMSCode     string
	ChallengeID string
}

// NoChallengeProof is the WithoutChallenge branch of MFAProof: a bare SMS
// code, used when the brokerage asked for MFA without a challenge envelope.
type NoChallengeProof struct {
	SMSCode string
}

// MFAProof is a tagged union: exactly one of WithChallenge or
// WithoutChallenge must be set. ValidateProof enforces this; construction
// alone does not (spec.md §9 "Tagged MFA proof").
type MFAProof struct {
	WithChallenge    *ChallengeProof
	WithoutChallenge *NoChallengeProof
}

// SMSCode returns the proof's code regardless of which branch is set. Only
// valid after ValidateProof has succeeded.
func (p MFAProof) SMSCode() string {
	if p.WithChallenge != nil {
		return p.WithChallenge.SMSCode
	}
	if p.WithoutChallenge != nil {
		return p.WithoutChallenge.SMSCode
	}
	return ""
}

// ValidateProof rejects a proof with zero or both branches set.
func ValidateProof(p MFAProof) error {
	set := 0
	if p.WithChallenge != nil {
		set++
	}
	if p.WithoutChallenge != nil {
		set++
	}
	if set != 1 {
		return &BadRequestError{Reason: "exactly one of with_challenge or without_challenge is required"}
	}
	return nil
}

// Holding is a single resolved position returned by GetRecentHoldings.
type Holding struct {
	AssetSymbol     string
	AssetName       string
	Quantity        decimal.Decimal
	AverageBuyPrice decimal.Decimal
}

// Holdings is the aggregated result of GetRecentHoldings.
type Holdings struct {
	InstitutionName string
	Holdings        []Holding
}

// LoginResult is the outcome of Login. Exactly one of Holdings or Passthrough
// is set: Holdings on immediate success, Passthrough (the brokerage's raw
// response body) when a challenge or bare MFA step is required next
// (spec.md §4.4.1).
type LoginResult struct {
	Holdings    *Holdings
	Passthrough map[string]interface{}
}

// RefreshedTokens is the pair of newly issued, re-encrypted tokens returned
// by RefreshToken for the caller to persist (spec.md §4.4.4).
type RefreshedTokens struct {
	AccessTokenCT  string
	RefreshTokenCT string
}

// Service is the capability set one brokerage integration must implement:
// login, MFA verification, holdings retrieval, and token refresh (spec.md
// §4.4, §9 "Polymorphism over institutions").
type Service interface {
	InstitutionID() string
	Login(ctx context.Context, userID int64, credentials UserCredentials) (*LoginResult, error)
	VerifyMFA(ctx context.Context, userID int64, proof MFAProof) (*Holdings, error)
	GetRecentHoldings(ctx context.Context, encryptedAccessToken string) (*Holdings, error)
	RefreshToken(ctx context.Context, encryptedRefreshToken string) (*RefreshedTokens, error)
}

// Registry maps an institution_id to its Service implementation. Built once
// at process startup and shared read-only by the HTTP boundary and both
// background loops.
type Registry map[string]Service

// Get returns the Service registered for institutionID, or NotFoundError.
func (r Registry) Get(institutionID string) (Service, error) {
	svc, ok := r[institutionID]
	if !ok {
		return nil, &NotFoundError{Kind: "institution", ID: institutionID}
	}
	return svc, nil
}

// NewRegistry builds a Registry from a list of services, keyed by their own
// InstitutionID.
func NewRegistry(services ...Service) Registry {
	r := make(Registry, len(services))
	for _, svc := range services {
		r[svc.InstitutionID()] = svc
	}
	return r
}

// AlreadyLinkedError is raised by Login/VerifyMFA when the user already has
// an active connection for this institution (spec.md §4.4.1, §7).
type AlreadyLinkedError struct {
	UserID        int64
	InstitutionID string
}

func (e *AlreadyLinkedError) Error() string {
	return fmt.Sprintf("institution: user %d already has an active connection to %s", e.UserID, e.InstitutionID)
}

// NotLinkedError is raised by VerifyMFA when no connection exists to verify
// against (spec.md §4.4.2, §7).
type NotLinkedError struct {
	UserID        int64
	InstitutionID string
}

func (e *NotLinkedError) Error() string {
	return fmt.Sprintf("institution: user %d has no connection to %s", e.UserID, e.InstitutionID)
}

// BadRequestError is raised by ValidateProof and surfaces as HTTP 400
// (spec.md §7).
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("institution: bad request: %s", e.Reason)
}

// NotFoundError is raised for an unknown institution_id or a delete against
// a nonexistent connection (spec.md §7).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("institution: %s %q not found", e.Kind, e.ID)
}

// IsAlreadyLinked, IsNotLinked, IsBadRequest, IsNotFound are errors.As
// convenience wrappers for callers that only need the boolean.
// internal/httpapi's status-code mapping calls errors.As directly instead.
func IsAlreadyLinked(err error) bool {
	var target *AlreadyLinkedError
	return errors.As(err, &target)
}

func IsNotLinked(err error) bool {
	var target *NotLinkedError
	return errors.As(err, &target)
}

func IsBadRequest(err error) bool {
	var target *BadRequestError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
