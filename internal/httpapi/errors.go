package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pelleum/account-connections/internal/cryptutil"
	"github.com/pelleum/account-connections/internal/institution"
	"github.com/pelleum/account-connections/internal/robinhood"
)

// writeError maps a handler error to a status code and a JSON {"detail": ...}
// body, the same shape dex's token endpoint writes for OAuth2 failures.
func writeError(w http.ResponseWriter, err error) {
	status, detail := classify(err)
	writeJSON(w, status, errorResponse{Detail: detail})
}

func classify(err error) (int, string) {
	var unauth *unauthenticatedError
	if errors.As(err, &unauth) {
		return http.StatusUnauthorized, unauth.Error()
	}

	var already *institution.AlreadyLinkedError
	if errors.As(err, &already) {
		return http.StatusConflict, already.Error()
	}

	var notLinked *institution.NotLinkedError
	if errors.As(err, &notLinked) {
		return http.StatusNotFound, notLinked.Error()
	}

	var badRequest *institution.BadRequestError
	if errors.As(err, &badRequest) {
		return http.StatusBadRequest, badRequest.Error()
	}

	var notFound *institution.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, notFound.Error()
	}

	if errors.Is(err, robinhood.ErrUnauthorized) {
		return http.StatusBadRequest, "brokerage rejected the stored credentials; reconnect this institution"
	}

	var apiErr *robinhood.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadRequest, apiErr.Error()
	}

	var transportErr *robinhood.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadRequest, "could not reach the brokerage; try again shortly"
	}

	var decryptErr *cryptutil.DecryptError
	if errors.As(err, &decryptErr) {
		return http.StatusInternalServerError, "stored credentials could not be read"
	}

	if errors.Is(err, errMalformedBody) {
		return http.StatusBadRequest, errMalformedBody.Error()
	}

	return http.StatusInternalServerError, "internal error"
}

// writeJSON encodes v as the response body, logging (but not retrying) any
// encode failure: the headers are already committed by then.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response body", "error", err)
	}
}

var errMalformedBody = errors.New("request body is malformed or missing required fields")
