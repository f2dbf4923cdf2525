package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/reactor/internal/adapter/otel"
	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/domain/credential"
	"github.com/Strob0t/reactor/internal/domain/message"
	"github.com/Strob0t/reactor/internal/domain/principal"
	"github.com/Strob0t/reactor/internal/port/messagequeue"
	"github.com/Strob0t/reactor/internal/port/platform"
)

// Session acts as one principal on the platform.
//
// The service principal sees every principal and message. Any other
// principal sees itself, its owner and the devices it owns, and only
// messages sent from or to itself.
type Session struct {
	platform *PlatformService
	cred     credential.Credential
}

var _ platform.Session = (*Session)(nil)

func (s *Session) Principal() principal.Principal { return s.cred.Principal }

func (s *Session) Credential() credential.Credential { return s.cred }

func (s *Session) isService() bool {
	return isServicePrincipal(s.platform.service, &s.cred.Principal)
}

// Impersonate returns a session acting as principalID, backed by a freshly
// issued short-lived token.
func (s *Session) Impersonate(ctx context.Context, principalID string) (platform.Session, error) {
	if !s.isService() {
		return nil, fmt.Errorf("%w: %s may not impersonate: %w", domain.ErrImpersonation, s.cred.Principal.ID, domain.ErrAuthorization)
	}
	found, err := s.platform.FindPrincipals(ctx, principal.Query{ID: principalID})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrImpersonation, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: principal %s: %w", domain.ErrImpersonation, principalID, domain.ErrNotFound)
	}

	tok, err := s.platform.tokens.Issue(ctx, found[0], impersonationTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrImpersonation, err)
	}
	sess, err := s.platform.NewSession(ctx, credential.Credential{Principal: found[0], Token: *tok})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrImpersonation, err)
	}
	return sess, nil
}

func (s *Session) FindPrincipals(ctx context.Context, q principal.Query) ([]principal.Principal, error) {
	found, err := s.platform.FindPrincipals(ctx, q)
	if err != nil {
		return nil, err
	}
	if s.isService() {
		return found, nil
	}
	visible := found[:0:0]
	for i := range found {
		if s.canSeePrincipal(&found[i]) {
			visible = append(visible, found[i])
		}
	}
	return visible, nil
}

func (s *Session) canSeePrincipal(p *principal.Principal) bool {
	me := &s.cred.Principal
	return p.ID == me.ID || p.Owner == me.ID || (me.Owner != "" && p.ID == me.Owner)
}

func (s *Session) canSeeMessage(m *message.Message) bool {
	if s.isService() {
		return true
	}
	me := s.cred.Principal.ID
	return m.From == me || m.To == me
}

// SaveMessage persists m and publishes it on its type's subject. An empty
// From defaults to the session principal. Non-service sessions may only send
// as themselves or as a device they own.
func (s *Session) SaveMessage(ctx context.Context, m *message.Message) error {
	if m.From == "" {
		m.From = s.cred.Principal.ID
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if err := s.authorizeSender(ctx, m.From); err != nil {
		return err
	}

	ctx, span := otel.StartMessageSpan(ctx, m.Type, m.From)
	defer span.End()

	if err := s.platform.store.CreateMessage(ctx, m); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if s.platform.metrics != nil {
		s.platform.metrics.MessagesSaved.Add(ctx, 1)
	}

	data, err := json.Marshal(messagequeue.MessagePayload{
		ID:        m.ID,
		Type:      m.Type,
		From:      m.From,
		To:        m.To,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.platform.publish(ctx, messagequeue.MessageSubject(m.Type), data); err != nil {
		return fmt.Errorf("publish message %s: %w", m.ID, err)
	}
	return nil
}

func (s *Session) authorizeSender(ctx context.Context, from string) error {
	if s.isService() || from == s.cred.Principal.ID {
		return nil
	}
	found, err := s.platform.FindPrincipals(ctx, principal.Query{ID: from})
	if err != nil {
		return err
	}
	if len(found) == 1 && found[0].IsDevice() && found[0].Owner == s.cred.Principal.ID {
		return nil
	}
	return fmt.Errorf("send as %s: %w", from, domain.ErrAuthorization)
}

// Subscribe delivers saved messages matching filter and visible to this
// session to handler.
func (s *Session) Subscribe(ctx context.Context, filter message.Filter, handler platform.MessageHandler) (func(), error) {
	subject := messagequeue.MessageSubject(filter.Type)
	cancel, err := s.platform.queue.Subscribe(ctx, subject, func(ctx context.Context, _ string, data []byte) error {
		var p messagequeue.MessagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		m := message.Message{
			ID:        p.ID,
			Type:      p.Type,
			From:      p.From,
			To:        p.To,
			Body:      p.Body,
			CreatedAt: p.CreatedAt,
		}
		if !filter.Matches(&m) || !s.canSeeMessage(&m) {
			return nil
		}
		handler(ctx, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	slog.Debug("session subscribed", "principal_id", s.cred.Principal.ID, "subject", subject)
	return cancel, nil
}
