package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type userIDKey struct{}

// UserIDFromContext returns the authenticated user's ID, set by Authenticate.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok
}

// claims mirrors the minimal shape this service needs out of the bearer
// token: a numeric subject identifying the user. Everything else about
// issuing and rotating tokens is an external collaborator's concern
// (spec.md §1).
type claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticate is a thin bearer-token verifying middleware: it does not
// issue or refresh tokens, only validates the signature and algorithm and
// carries the subject's user ID into the request context for handlers.
func Authenticate(secret, algorithm string) func(http.Handler) http.Handler {
	method := jwt.GetSigningMethod(algorithm)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				writeError(w, &unauthenticatedError{})
				return
			}

			var parsed claims
			_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (interface{}, error) {
				if t.Method != method {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || parsed.UserID == 0 {
				writeError(w, &unauthenticatedError{})
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, parsed.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type unauthenticatedError struct{}

func (e *unauthenticatedError) Error() string { return "missing or invalid bearer token" }
