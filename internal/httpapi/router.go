package httpapi

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/pelleum/account-connections/internal/institution"
	"github.com/pelleum/account-connections/internal/logging"
	"github.com/pelleum/account-connections/internal/storage"
)

// Config carries the JWT verification parameters used by the Authenticate
// middleware.
type Config struct {
	JWTSecret    string
	JWTAlgorithm string
}

// NewRouter builds the institutions API's http.Handler: gorilla/mux routes
// behind request logging and bearer-auth middleware, the same layering dex
// uses for its OAuth2 endpoints (server/server.go's handleFunc wrapping).
func NewRouter(cfg Config, institutions storage.InstitutionStore, connections storage.ConnectionStore, assets storage.AssetStore, registry institution.Registry, logger *slog.Logger) http.Handler {
	h := &Handlers{
		Institutions: institutions,
		Connections:  connections,
		Assets:       assets,
		Registry:     registry,
		Logger:       logger,
	}

	r := mux.NewRouter().SkipClean(true)
	auth := Authenticate(cfg.JWTSecret, cfg.JWTAlgorithm)

	r.Handle("/institutions", auth(http.HandlerFunc(h.listInstitutions))).Methods(http.MethodGet)
	r.Handle("/institutions/connections", auth(http.HandlerFunc(h.listConnections))).Methods(http.MethodGet)
	r.Handle("/institutions/{institution_id}", auth(http.HandlerFunc(h.deleteConnection))).Methods(http.MethodDelete)
	r.Handle("/institutions/login/{institution_id}", auth(http.HandlerFunc(h.login))).Methods(http.MethodPost)
	r.Handle("/institutions/login/{institution_id}/verify", auth(http.HandlerFunc(h.verify))).Methods(http.MethodPost)

	return withRequestID(handlers.LoggingHandler(os.Stdout, r))
}

// withRequestID stamps every request with a fresh UUID, carried into the
// context for handlers and background calls to attach to log records
// (dex's server.WithRequestID does the same with uuid.NewString).
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
