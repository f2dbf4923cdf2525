// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/reactor/internal/domain/agent"
	"github.com/Strob0t/reactor/internal/domain/credential"
	"github.com/Strob0t/reactor/internal/domain/message"
	"github.com/Strob0t/reactor/internal/domain/principal"
)

// AgentStore persists agent definitions.
type AgentStore interface {
	CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgents(ctx context.Context, filter agent.Filter, opts agent.ListOptions) ([]agent.Agent, error)
	UpdateAgent(ctx context.Context, id string, req agent.UpdateRequest) error
}

// PrincipalStore persists principals.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *principal.Principal) error
	FindPrincipals(ctx context.Context, q principal.Query) ([]principal.Principal, error)
}

// MessageStore persists messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *message.Message) error
}

// TokenStore persists access tokens by hash.
type TokenStore interface {
	CreateAccessToken(ctx context.Context, t *credential.AccessToken) error
	GetAccessTokenByHash(ctx context.Context, hash string) (*credential.AccessToken, error)
	DeleteExpiredAccessTokens(ctx context.Context, principalID string) error
}

// Store is the port interface for all database operations.
type Store interface {
	AgentStore
	PrincipalStore
	MessageStore
	TokenStore
}
