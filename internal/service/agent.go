package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/domain/agent"
	"github.com/Strob0t/reactor/internal/domain/principal"
	"github.com/Strob0t/reactor/internal/port/database"
)

// AgentService handles agent CRUD on behalf of an authenticated principal.
type AgentService struct {
	store   database.AgentStore
	service *principal.Principal
}

// NewAgentService creates a new AgentService. service is the distinguished
// service principal; it may be nil, in which case nobody bypasses ownership.
func NewAgentService(store database.AgentStore, service *principal.Principal) *AgentService {
	return &AgentService{store: store, service: service}
}

// Create persists a new agent. ExecuteAs is forced to the creator unless the
// creator is the service principal, who may create agents for anyone.
func (s *AgentService) Create(ctx context.Context, p *principal.Principal, req agent.CreateRequest) (*agent.Agent, error) {
	if p == nil {
		return nil, domain.ErrPrincipalRequired
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if !isServicePrincipal(s.service, p) || req.ExecuteAs == "" {
		req.ExecuteAs = p.ID
	}

	a, err := s.store.CreateAgent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

// Find returns the agents matching filter that p may see.
func (s *AgentService) Find(ctx context.Context, p *principal.Principal, filter agent.Filter, opts agent.ListOptions) ([]agent.Agent, error) {
	if p == nil {
		return nil, domain.ErrPrincipalRequired
	}
	agents, err := s.store.ListAgents(ctx, filterForPrincipal(s.service, p, filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find agents: %w", err)
	}
	return agents, nil
}

// FindByID returns the agent with the given id. Ownership is strict here:
// the agent must execute as p, even when p is the service principal.
func (s *AgentService) FindByID(ctx context.Context, p *principal.Principal, id string) (*agent.Agent, error) {
	if p == nil {
		return nil, domain.ErrPrincipalRequired
	}
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find agent %s: %w", id, err)
	}
	if a.ExecuteAs != p.ID {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrAuthorization)
	}
	return a, nil
}

// Update applies a partial update to an agent owned by p and returns the
// refreshed record.
func (s *AgentService) Update(ctx context.Context, p *principal.Principal, id string, req agent.UpdateRequest) (*agent.Agent, error) {
	current, err := s.FindByID(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if req.IsEmpty() {
		return current, nil
	}

	if err := s.store.UpdateAgent(ctx, id, req); err != nil {
		return nil, fmt.Errorf("update agent %s: %w", id, err)
	}

	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload agent %s: %w", id, err)
	}
	return a, nil
}
