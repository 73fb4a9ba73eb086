// Package robinhood implements a typed client over Robinhood's brokerage
// REST API: login, MFA challenge response, and the handful of read
// operations needed to resolve a position into a tradable symbol and name.
//
// Grounded on the original service's
// app/infrastructure/clients/robinhood.py and
// app/usecases/interfaces/clients/robinhood.py for the operation set and
// response-handling rules; Go client structuring (a single typed client over
// a shared *http.Client, one method per endpoint) follows the pattern used
// throughout dexidp-dex's connector/* packages.
package robinhood

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	baseURL = "https://api.robinhood.com"

	challengeHeader = "X-ROBINHOOD-CHALLENGE-RESPONSE-ID"

	// callTimeout bounds every brokerage call (spec.md §5 SHOULD, promoted
	// to MUST by SPEC_FULL.md §4.2).
	callTimeout = 30 * time.Second
)

// Client talks to Robinhood's REST API over a shared, keep-alive HTTP
// client. TLS verification is always enabled — spec.md §9 documents the
// original service disabling it as a defect; this implementation never
// does.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client. Pass nil to use a default *http.Client with the
// standard transport (TLS verification on, keep-alives enabled).
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// NewWithBaseURL builds a Client against a non-default base URL, for tests
// and sandbox environments.
func NewWithBaseURL(httpClient *http.Client, base string) *Client {
	c := New(httpClient)
	c.baseURL = base
	return c
}

// LoginPayload is the body sent to POST /oauth2/token/.
type LoginPayload struct {
	ClientID      string `json:"client_id"`
	ExpiresIn     int    `json:"expires_in"`
	GrantType     string `json:"grant_type"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	Scope         string `json:"scope"`
	ChallengeType string `json:"challenge_type"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	DeviceToken   string `json:"device_token"`
	MFACode       string `json:"mfa_code,omitempty"`
}

// LoginResponse is the raw JSON object returned by a login call. It is kept
// as a map because the same endpoint returns three structurally different
// envelopes: a successful token grant, a challenge request, or an MFA
// request (spec.md §4.4.1).
type LoginResponse map[string]interface{}

// HasAccessToken reports whether resp is an immediate-success login
// envelope.
func (r LoginResponse) HasAccessToken() bool {
	_, hasAccess := r["access_token"]
	_, hasRefresh := r["refresh_token"]
	return hasAccess || hasRefresh
}

// IsChallenge reports whether resp is a challenge-required envelope.
func (r LoginResponse) IsChallenge() bool {
	_, ok := r["challenge"]
	return ok
}

// AccessToken extracts the access token from a successful login envelope.
func (r LoginResponse) AccessToken() string {
	s, _ := r["access_token"].(string)
	return s
}

// RefreshToken extracts the refresh token from a successful login envelope.
func (r LoginResponse) RefreshToken() string {
	s, _ := r["refresh_token"].(string)
	return s
}

// Login issues POST /oauth2/token/. When challengeID is non-empty it is
// attached as the X-ROBINHOOD-CHALLENGE-RESPONSE-ID header (spec.md §4.2).
func (c *Client) Login(ctx context.Context, payload LoginPayload, challengeID string) (LoginResponse, error) {
	headers := map[string]string{}
	if challengeID != "" {
		headers[challengeHeader] = challengeID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling login payload: %w", err)
	}

	var resp LoginResponse
	if err := c.call(ctx, http.MethodPost, "/oauth2/token/", headers, body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RespondToChallenge posts the SMS code back to Robinhood's challenge
// endpoint (spec.md §4.2).
func (c *Client) RespondToChallenge(ctx context.Context, challengeCode, challengeID string) error {
	body, err := json.Marshal(map[string]string{"response": challengeCode})
	if err != nil {
		return fmt.Errorf("marshaling challenge response: %w", err)
	}

	var resp map[string]interface{}
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/challenge/%s/respond/", challengeID), nil, body, &resp)
}

// Position is a single non-zero holding as returned by GET /positions/.
type Position struct {
	InstrumentURL   string `json:"instrument"`
	AverageBuyPrice string `json:"average_buy_price"`
	Quantity        string `json:"quantity"`
}

type positionsResponse struct {
	Results []Position `json:"results"`
}

// GetPositions returns every non-zero position for the authenticated user.
func (c *Client) GetPositions(ctx context.Context, accessToken string) ([]Position, error) {
	headers := bearerHeader(accessToken)

	var resp positionsResponse
	if err := c.call(ctx, http.MethodGet, "/positions/?nonzero=true", headers, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type instrumentResponse struct {
	Symbol string `json:"symbol"`
}

// GetInstrumentByURL resolves an opaque instrument URL to its ticker
// symbol. The URL is decomposed to its path portion before being re-issued
// against this client's base URL (spec.md §4.2).
func (c *Client) GetInstrumentByURL(ctx context.Context, instrumentURL, accessToken string) (string, error) {
	path, err := pathOf(instrumentURL)
	if err != nil {
		return "", err
	}

	var resp instrumentResponse
	if err := c.call(ctx, http.MethodGet, path, bearerHeader(accessToken), nil, &resp); err != nil {
		return "", err
	}
	return resp.Symbol, nil
}

type nameResult struct {
	Name string `json:"name"`
}

type nameResponse struct {
	Results []nameResult `json:"results"`
}

// GetNameBySymbol resolves a ticker symbol to its display name, returning
// the first entry of the results list (spec.md §4.2).
func (c *Client) GetNameBySymbol(ctx context.Context, symbol, accessToken string) (string, error) {
	var resp nameResponse
	path := fmt.Sprintf("/instruments/?symbol=%s", symbol)
	if err := c.call(ctx, http.MethodGet, path, bearerHeader(accessToken), nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", &TransportError{Status: http.StatusOK, Body: "empty results for name lookup"}
	}
	return resp.Results[0].Name, nil
}

func bearerHeader(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + accessToken}
}

// call performs one HTTP round trip and applies spec.md §4.2's uniform
// response-handling rules:
//
//  1. A body that doesn't parse as JSON raises TransportError.
//  2. status >= 300: 401 -> Unauthorized; body has "challenge" -> returned
//     as-is (not an error); body parses as {detail} -> ApiError; otherwise
//     -> TransportError.
//  3. A success body that doesn't fit `out` raises TransportError.
func (c *Client) call(ctx context.Context, method, path string, headers map[string]string, body []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Some successful responses are JSON arrays/objects that don't
		// unmarshal into a map (none of ours are), so this branch is only
		// reached on genuinely malformed bodies.
		return &TransportError{Status: resp.StatusCode, Body: string(raw)}
	}

	if resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		if _, ok := parsed["challenge"]; ok {
			return decodeInto(raw, out)
		}
		if detail, ok := parsed["detail"].(string); ok {
			return &APIError{Status: resp.StatusCode, Detail: detail}
		}
		return &TransportError{Status: resp.StatusCode, Body: string(raw)}
	}

	if err := decodeInto(raw, out); err != nil {
		return &TransportError{Status: resp.StatusCode, Body: string(raw)}
	}
	return nil
}

func decodeInto(raw []byte, out interface{}) error {
	return json.Unmarshal(raw, out)
}

func pathOf(rawURL string) (string, error) {
	const prefix = baseURL
	if len(rawURL) > len(prefix) && rawURL[:len(prefix)] == prefix {
		return rawURL[len(prefix):], nil
	}
	// Fall back to a generic URL parse for any absolute URL outside our
	// base (defensive; Robinhood always returns same-host instrument URLs).
	return genericPath(rawURL)
}
