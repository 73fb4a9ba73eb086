package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pelleum/account-connections/internal/institution"
	"github.com/pelleum/account-connections/internal/storage"
)

func newTestServer(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/institutions", h.listInstitutions).Methods(http.MethodGet)
	r.HandleFunc("/institutions/connections", h.listConnections).Methods(http.MethodGet)
	r.HandleFunc("/institutions/{institution_id}", h.deleteConnection).Methods(http.MethodDelete)
	r.HandleFunc("/institutions/login/{institution_id}", h.login).Methods(http.MethodPost)
	r.HandleFunc("/institutions/login/{institution_id}/verify", h.verify).Methods(http.MethodPost)
	return r
}

func withUser(req *http.Request, userID int64) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), userIDKey{}, userID))
}

func TestListInstitutions(t *testing.T) {
	h := &Handlers{
		Institutions: &fakeInstitutionStore{institutions: []storage.Institution{{InstitutionID: "robinhood", Name: "Robinhood"}}},
		Logger:       testLogger(),
	}
	router := newTestServer(h)

	req := httptest.NewRequest(http.MethodGet, "/institutions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body supportedInstitutionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records.SupportedInstitutions, 1)
	require.Equal(t, "robinhood", body.Records.SupportedInstitutions[0].InstitutionID)
}

func TestListConnections_RequiresAuth(t *testing.T) {
	h := &Handlers{Connections: &fakeConnectionStore{}, Logger: testLogger()}
	router := newTestServer(h)

	req := httptest.NewRequest(http.MethodGet, "/institutions/connections", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListConnections_ReturnsActiveConnections(t *testing.T) {
	conns := &fakeConnectionStore{conns: []storage.ConnectionWithInstitution{
		{Connection: storage.Connection{ConnectionID: 1, UserID: 7, InstitutionID: "robinhood", IsActive: true}, InstitutionName: "Robinhood"},
	}}
	h := &Handlers{Connections: conns, Logger: testLogger()}
	router := newTestServer(h)

	req := withUser(httptest.NewRequest(http.MethodGet, "/institutions/connections", nil), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body userActiveConnectionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Records.ActiveConnections, 1)
	require.Equal(t, "Robinhood", body.Records.ActiveConnections[0].InstitutionName)
}

func TestDeleteConnection_NotLinked(t *testing.T) {
	h := &Handlers{Connections: &fakeConnectionStore{}, Logger: testLogger()}
	router := newTestServer(h)

	req := withUser(httptest.NewRequest(http.MethodDelete, "/institutions/robinhood", nil), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConnection_Success(t *testing.T) {
	conns := &fakeConnectionStore{conns: []storage.ConnectionWithInstitution{
		{Connection: storage.Connection{ConnectionID: 9, UserID: 7, InstitutionID: "robinhood"}},
	}}
	assets := &fakeAssetStore{}
	h := &Handlers{Connections: conns, Assets: assets, Logger: testLogger()}
	router := newTestServer(h)

	req := withUser(httptest.NewRequest(http.MethodDelete, "/institutions/robinhood", nil), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(9), conns.deletedID)
	require.NotNil(t, assets.deletedFilter.UserID)
	require.Equal(t, int64(7), *assets.deletedFilter.UserID)
	require.NotNil(t, assets.deletedFilter.InstitutionID)
	require.Equal(t, "robinhood", *assets.deletedFilter.InstitutionID)
}

func TestLogin_ImmediateSuccess(t *testing.T) {
	svc := &fakeInstitutionService{
		id: "robinhood",
		loginResult: &institution.LoginResult{
			Holdings: &institution.Holdings{InstitutionName: "Robinhood"},
		},
	}
	h := &Handlers{Registry: institution.NewRegistry(svc), Logger: testLogger()}
	router := newTestServer(h)

	body, _ := json.Marshal(LoginRequest{Username: "alice", Password: "hunter2"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/institutions/login/robinhood", bytes.NewReader(body)), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp successfulConnectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "connected", resp.AccountConnectionStatus)
}

func TestLogin_PassthroughOnChallenge(t *testing.T) {
	svc := &fakeInstitutionService{
		id: "robinhood",
		loginResult: &institution.LoginResult{
			Passthrough: map[string]interface{}{"challenge": map[string]interface{}{"id": "c1"}},
		},
	}
	h := &Handlers{Registry: institution.NewRegistry(svc), Logger: testLogger()}
	router := newTestServer(h)

	body, _ := json.Marshal(LoginRequest{Username: "alice", Password: "hunter2"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/institutions/login/robinhood", bytes.NewReader(body)), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "challenge")
}

func TestLogin_MalformedBody(t *testing.T) {
	h := &Handlers{Registry: institution.NewRegistry(&fakeInstitutionService{id: "robinhood"}), Logger: testLogger()}
	router := newTestServer(h)

	req := withUser(httptest.NewRequest(http.MethodPost, "/institutions/login/robinhood", bytes.NewReader([]byte(`{"username":""}`))), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_UnknownInstitution(t *testing.T) {
	h := &Handlers{Registry: institution.NewRegistry(), Logger: testLogger()}
	router := newTestServer(h)

	body, _ := json.Marshal(LoginRequest{Username: "alice", Password: "hunter2"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/institutions/login/schwab", bytes.NewReader(body)), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogin_AlreadyLinked(t *testing.T) {
	svc := &fakeInstitutionService{id: "robinhood", loginErr: &institution.AlreadyLinkedError{UserID: 7, InstitutionID: "robinhood"}}
	h := &Handlers{Registry: institution.NewRegistry(svc), Logger: testLogger()}
	router := newTestServer(h)

	body, _ := json.Marshal(LoginRequest{Username: "alice", Password: "hunter2"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/institutions/login/robinhood", bytes.NewReader(body)), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

// TestVerify_AmbiguousProof_Rejected covers the scenario where a caller
// supplies neither or both MFA proof branches: the request must be rejected
// before the brokerage service is ever consulted.
func TestVerify_AmbiguousProof_Rejected(t *testing.T) {
	svc := &fakeInstitutionService{id: "robinhood"}
	h := &Handlers{Registry: institution.NewRegistry(svc), Logger: testLogger()}
	router := newTestServer(h)

	for _, reqBody := range []string{
		`{}`,
		`{"with_challenge":{"sms_code":"1","challenge_id":"c"},"without_challenge":{"sms_code":"1"}}`,
	} {
		req := withUser(httptest.NewRequest(http.MethodPost, "/institutions/login/robinhood/verify", bytes.NewReader([]byte(reqBody))), 7)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestVerify_Success(t *testing.T) {
	svc := &fakeInstitutionService{id: "robinhood", holdings: &institution.Holdings{InstitutionName: "Robinhood"}}
	h := &Handlers{Registry: institution.NewRegistry(svc), Logger: testLogger()}
	router := newTestServer(h)

	reqBody, _ := json.Marshal(VerifyRequest{WithoutChallenge: &NoChallengeProofRequest{SMSCode: "123456"}})
	req := withUser(httptest.NewRequest(http.MethodPost, "/institutions/login/robinhood/verify", bytes.NewReader(reqBody)), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestVerify_NotLinked(t *testing.T) {
	svc := &fakeInstitutionService{id: "robinhood", verifyErr: &institution.NotLinkedError{UserID: 7, InstitutionID: "robinhood"}}
	h := &Handlers{Registry: institution.NewRegistry(svc), Logger: testLogger()}
	router := newTestServer(h)

	reqBody, _ := json.Marshal(VerifyRequest{WithoutChallenge: &NoChallengeProofRequest{SMSCode: "123456"}})
	req := withUser(httptest.NewRequest(http.MethodPost, "/institutions/login/robinhood/verify", bytes.NewReader(reqBody)), 7)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
