package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/campaign-engine/internal/pkg/apperr"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
)

// Authenticator decides whether a request may reach the /api routes.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

var (
	errAuthNotConfigured = errors.New("API authentication is not configured")
	errBadToken          = errors.New("missing or invalid bearer token")
)

// StaticToken accepts requests carrying "Authorization: Bearer <token>".
// An empty token rejects everything.
type StaticToken string

func (t StaticToken) Authenticate(r *http.Request) error {
	if t == "" {
		return errAuthNotConfigured
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(t)) != 1 {
		return errBadToken
	}
	return nil
}

// RequireAuth answers 401 for requests auth rejects.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.Authenticate(r); err != nil {
				httputil.WriteError(w, apperr.Auth(err.Error()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBearer is RequireAuth with a StaticToken.
func RequireBearer(token string) func(http.Handler) http.Handler {
	return RequireAuth(StaticToken(token))
}
