// Package platform defines the messaging platform ports the reactor consumes:
// principal lookup, access-token issuance and authenticated sessions.
package platform

import (
	"context"

	"github.com/Strob0t/reactor/internal/domain/credential"
	"github.com/Strob0t/reactor/internal/domain/message"
	"github.com/Strob0t/reactor/internal/domain/principal"
)

// MessageHandler receives a message delivered to a subscription.
type MessageHandler func(ctx context.Context, m message.Message)

// Directory resolves principals.
type Directory interface {
	FindPrincipals(ctx context.Context, q principal.Query) ([]principal.Principal, error)
}

// TokenIssuer finds or creates a durable access token for a principal.
type TokenIssuer interface {
	FindOrCreateToken(ctx context.Context, p principal.Principal) (*credential.AccessToken, error)
}

// Session is an authenticated handle acting as one principal.
// A Session is owned by exactly one agent execution.
type Session interface {
	// Principal returns the identity this session acts as.
	Principal() principal.Principal

	// Credential returns the credential the session was built from.
	Credential() credential.Credential

	// Impersonate returns a new session acting as principalID. Only
	// sessions of the service principal may impersonate.
	Impersonate(ctx context.Context, principalID string) (Session, error)

	// FindPrincipals resolves principals visible to this session.
	FindPrincipals(ctx context.Context, q principal.Query) ([]principal.Principal, error)

	// SaveMessage persists m and delivers it to matching subscriptions.
	SaveMessage(ctx context.Context, m *message.Message) error

	// Subscribe delivers messages matching filter to handler until the
	// returned cancel is called or ctx is done.
	Subscribe(ctx context.Context, filter message.Filter, handler MessageHandler) (cancel func(), err error)
}

// SessionFactory builds sessions from credentials.
type SessionFactory interface {
	NewSession(ctx context.Context, cred credential.Credential) (Session, error)
}
