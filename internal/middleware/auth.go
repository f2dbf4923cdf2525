package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/domain/credential"
	"github.com/Strob0t/reactor/internal/domain/principal"
)

type credentialCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":            true,
	"/api/v1/headwaiter": true,
}

// Authenticator resolves a raw bearer token to the credential it proves.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*credential.Credential, error)
}

// Auth returns middleware that requires an access token in the
// Authorization header and stores the resolved credential in the context.
func Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader || token == "" {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}

			cred, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, domain.ErrPrincipalRequired) {
					slog.Error("authenticate request", "error", err)
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
					return
				}
				http.Error(w, `{"error":"invalid access token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), cred)))
		})
	}
}

// WithCredential returns ctx carrying cred.
func WithCredential(ctx context.Context, cred *credential.Credential) context.Context {
	return context.WithValue(ctx, credentialCtxKey{}, cred)
}

// CredentialFromContext returns the authenticated credential, or nil.
func CredentialFromContext(ctx context.Context) *credential.Credential {
	c, _ := ctx.Value(credentialCtxKey{}).(*credential.Credential)
	return c
}

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *principal.Principal {
	c := CredentialFromContext(ctx)
	if c == nil {
		return nil
	}
	p := c.Principal
	return &p
}
