package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pelleum/account-connections/internal/institution"
	"github.com/pelleum/account-connections/internal/storage"
)

// Handlers holds the dependencies every route needs: the repositories for
// institutions/connections/assets and the per-brokerage service registry.
// Grounded on dexidp-dex's Server struct, which plays the same role for the
// OIDC endpoints (server/server.go).
type Handlers struct {
	Institutions storage.InstitutionStore
	Connections  storage.ConnectionStore
	Assets       storage.AssetStore
	Registry     institution.Registry
	Logger       *slog.Logger
}

// listInstitutions handles GET /institutions (spec.md §4.7).
func (h *Handlers) listInstitutions(w http.ResponseWriter, r *http.Request) {
	institutions, err := h.Institutions.ListInstitutions(r.Context())
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "list institutions", "error", err)
		writeError(w, err)
		return
	}

	resp := supportedInstitutionsResponse{}
	resp.Records.SupportedInstitutions = make([]institutionRecord, 0, len(institutions))
	for _, inst := range institutions {
		resp.Records.SupportedInstitutions = append(resp.Records.SupportedInstitutions, institutionRecord{
			InstitutionID: inst.InstitutionID,
			Name:          inst.Name,
			CreatedAt:     inst.CreatedAt,
			UpdatedAt:     inst.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// listConnections handles GET /institutions/connections (spec.md §4.7).
func (h *Handlers) listConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, &unauthenticatedError{})
		return
	}

	isActive := true
	filter := storage.ConnectionFilter{UserID: &userID, IsActive: &isActive}
	rows, err := h.Connections.List(r.Context(), filter, storage.ConnectionListOptions{PageSize: 0})
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "list connections", "error", err)
		writeError(w, err)
		return
	}

	resp := userActiveConnectionsResponse{}
	resp.Records.ActiveConnections = make([]connectionRecord, 0, len(rows))
	for _, row := range rows {
		resp.Records.ActiveConnections = append(resp.Records.ActiveConnections, connectionRecord{
			ConnectionID:    row.ConnectionID,
			InstitutionID:   row.InstitutionID,
			UserID:          row.UserID,
			IsActive:        row.IsActive,
			InstitutionName: row.InstitutionName,
			CreatedAt:       row.CreatedAt,
			UpdatedAt:       row.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// deleteConnection handles DELETE /institutions/{institution_id} (spec.md
// §4.7): it unlinks the caller's connection to the named institution.
func (h *Handlers) deleteConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, &unauthenticatedError{})
		return
	}
	institutionID := mux.Vars(r)["institution_id"]

	conn, err := h.Connections.Get(r.Context(), storage.ConnectionFilter{UserID: &userID, InstitutionID: &institutionID})
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, &institution.NotFoundError{Kind: "connection", ID: institutionID})
			return
		}
		h.Logger.ErrorContext(r.Context(), "get connection for delete", "error", err)
		writeError(w, err)
		return
	}

	if err := h.Connections.Delete(r.Context(), conn.ConnectionID); err != nil {
		h.Logger.ErrorContext(r.Context(), "delete connection", "error", err)
		writeError(w, err)
		return
	}

	if err := h.Assets.Delete(r.Context(), storage.AssetDeleteFilter{UserID: &userID, InstitutionID: &institutionID}); err != nil {
		h.Logger.ErrorContext(r.Context(), "delete connection assets", "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// login handles POST /institutions/login/{institution_id} (spec.md §4.4.1).
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, &unauthenticatedError{})
		return
	}
	institutionID := mux.Vars(r)["institution_id"]

	var body LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeError(w, errMalformedBody)
		return
	}

	svc, err := h.Registry.Get(institutionID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := svc.Login(r.Context(), userID, institution.UserCredentials{Username: body.Username, Password: body.Password})
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "login", "institution_id", institutionID, "error", err)
		writeError(w, err)
		return
	}

	if result.Holdings != nil {
		writeJSON(w, http.StatusOK, successfulConnectionResponse{
			AccountConnectionStatus: "connected",
			ConnectedAt:             time.Now().UTC(),
		})
		return
	}

	// The brokerage demanded MFA: pass its challenge payload straight
	// through so the caller can complete verifyMFA.
	writeJSON(w, http.StatusOK, result.Passthrough)
}

// verify handles POST /institutions/login/{institution_id}/verify (spec.md
// §4.4.2).
func (h *Handlers) verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, &unauthenticatedError{})
		return
	}
	institutionID := mux.Vars(r)["institution_id"]

	var body VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errMalformedBody)
		return
	}

	proof := institution.MFAProof{}
	if body.WithChallenge != nil {
		proof.WithChallenge = &institution.ChallengeProof{SMSCode: body.WithChallenge.SMSCode, ChallengeID: body.WithChallenge.ChallengeID}
	}
	if body.WithoutChallenge != nil {
		proof.WithoutChallenge = &institution.NoChallengeProof{SMSCode: body.WithoutChallenge.SMSCode}
	}
	if err := institution.ValidateProof(proof); err != nil {
		writeError(w, err)
		return
	}

	svc, err := h.Registry.Get(institutionID)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := svc.VerifyMFA(r.Context(), userID, proof); err != nil {
		h.Logger.ErrorContext(r.Context(), "verify mfa", "institution_id", institutionID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, successfulConnectionResponse{
		AccountConnectionStatus: "connected",
		ConnectedAt:             time.Now().UTC(),
	})
}
