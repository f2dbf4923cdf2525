package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/reactor/internal/adapter/otel"
	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/domain/credential"
	"github.com/Strob0t/reactor/internal/domain/principal"
	"github.com/Strob0t/reactor/internal/port/database"
	"github.com/Strob0t/reactor/internal/port/messagequeue"
	"github.com/Strob0t/reactor/internal/port/platform"
	"github.com/Strob0t/reactor/internal/resilience"
)

// impersonationTTL bounds the tokens minted for impersonated sessions.
const impersonationTTL = time.Hour

// EnsureServicePrincipal returns the service principal called name,
// creating it on first boot.
func EnsureServicePrincipal(ctx context.Context, store database.PrincipalStore, name string) (*principal.Principal, error) {
	if name == "" {
		return nil, domain.ErrServicePrincipalUnavailable
	}
	found, err := store.FindPrincipals(ctx, principal.Query{Type: principal.TypeService, Name: name})
	if err != nil {
		return nil, fmt.Errorf("find service principal: %w", err)
	}
	if len(found) > 0 {
		return &found[0], nil
	}

	p := &principal.Principal{Type: principal.TypeService, Name: name}
	if err := store.CreatePrincipal(ctx, p); err != nil {
		return nil, fmt.Errorf("create service principal: %w", err)
	}
	slog.Info("service principal created", "principal_id", p.ID, "name", name)
	return p, nil
}

// PlatformService is the in-process messaging platform: it resolves
// principals, builds sessions from credentials and delivers saved messages
// through the queue.
type PlatformService struct {
	store   database.Store
	queue   messagequeue.Queue
	tokens  *AccessTokenService
	breaker *resilience.Breaker
	service *principal.Principal
	metrics *otel.Metrics
	now     func() time.Time
}

var (
	_ platform.Directory      = (*PlatformService)(nil)
	_ platform.SessionFactory = (*PlatformService)(nil)
)

// NewPlatformService creates a PlatformService. breaker and service may be nil.
func NewPlatformService(store database.Store, queue messagequeue.Queue, tokens *AccessTokenService, breaker *resilience.Breaker, service *principal.Principal) *PlatformService {
	return &PlatformService{
		store:   store,
		queue:   queue,
		tokens:  tokens,
		breaker: breaker,
		service: service,
		now:     time.Now,
	}
}

// SetMetrics attaches metric instruments.
func (s *PlatformService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// FindPrincipals resolves principals without visibility restrictions.
func (s *PlatformService) FindPrincipals(ctx context.Context, q principal.Query) ([]principal.Principal, error) {
	found, err := s.store.FindPrincipals(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLookup, err)
	}
	return found, nil
}

// NewSession builds a session for cred after verifying its token.
func (s *PlatformService) NewSession(ctx context.Context, cred credential.Credential) (platform.Session, error) {
	if !cred.Valid(s.now()) {
		return nil, fmt.Errorf("invalid credential for %s: %w", cred.Principal.ID, domain.ErrAuthorization)
	}
	if err := s.tokens.Verify(ctx, cred.Token); err != nil {
		return nil, fmt.Errorf("verify credential for %s: %w", cred.Principal.ID, err)
	}
	return &Session{platform: s, cred: cred}, nil
}

// publish runs fn behind the circuit breaker when one is configured.
func (s *PlatformService) publish(ctx context.Context, subject string, data []byte) error {
	if s.breaker == nil {
		return s.queue.Publish(ctx, subject, data)
	}
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.queue.Publish(ctx, subject, data)
	})
}
