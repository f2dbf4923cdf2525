// Package credential defines access tokens and the credentials sessions are
// built from.
package credential

import (
	"time"

	"github.com/Strob0t/reactor/internal/domain/principal"
)

// AccessToken is a durable bearer token issued to a principal. Token holds
// the plaintext only in memory; the store keeps TokenHash.
type AccessToken struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Token       string    `json:"token,omitempty"`
	TokenHash   string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Credential pairs a principal identity with the token that proves it.
type Credential struct {
	Principal principal.Principal `json:"principal"`
	Token     AccessToken         `json:"access_token"`
}

// Valid reports whether the credential carries a token for its own
// principal that has not expired.
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.Principal.ID == "" || c.Token.Token == "" {
		return false
	}
	if c.Token.PrincipalID != c.Principal.ID {
		return false
	}
	return !c.Token.Expired(now)
}
