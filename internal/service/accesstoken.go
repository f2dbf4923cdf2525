package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/domain/credential"
	"github.com/Strob0t/reactor/internal/domain/principal"
	"github.com/Strob0t/reactor/internal/port/cache"
	"github.com/Strob0t/reactor/internal/port/database"
)

// tokenStore is the slice of database.Store the token service needs.
type tokenStore interface {
	database.TokenStore
	database.PrincipalStore
}

// AccessTokenService issues and verifies principal access tokens. Only the
// SHA-256 hash of a token is persisted; the plaintext of a principal's
// durable token is kept in the cache so it can be reused.
type AccessTokenService struct {
	store tokenStore
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewAccessTokenService creates an AccessTokenService. c may be nil.
func NewAccessTokenService(store tokenStore, c cache.Cache, ttl time.Duration) *AccessTokenService {
	return &AccessTokenService{store: store, cache: c, ttl: ttl, now: time.Now}
}

func tokenCacheKey(principalID string) string {
	return "token." + principalID
}

// FindOrCreateToken returns p's cached durable token, issuing a new one when
// none is cached or the cached one has expired.
func (s *AccessTokenService) FindOrCreateToken(ctx context.Context, p principal.Principal) (*credential.AccessToken, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, tokenCacheKey(p.ID)); err == nil && ok {
			var tok credential.AccessToken
			if err := json.Unmarshal(data, &tok); err == nil && tok.Token != "" && !tok.Expired(s.now()) {
				return &tok, nil
			}
		}
	}

	tok, err := s.Issue(ctx, p, s.ttl)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(tok); err == nil {
			if err := s.cache.Set(ctx, tokenCacheKey(p.ID), data, s.ttl); err != nil {
				slog.Warn("token cache set failed", "principal_id", p.ID, "error", err)
			}
		}
	}
	return tok, nil
}

// Issue creates a new token for p valid for ttl. Expired tokens of p are
// removed first.
func (s *AccessTokenService) Issue(ctx context.Context, p principal.Principal, ttl time.Duration) (*credential.AccessToken, error) {
	if p.ID == "" {
		return nil, domain.ErrPrincipalRequired
	}
	if err := s.store.DeleteExpiredAccessTokens(ctx, p.ID); err != nil {
		slog.Warn("expired token cleanup failed", "principal_id", p.ID, "error", err)
	}

	raw, err := generateRandomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	tok := &credential.AccessToken{
		PrincipalID: p.ID,
		Token:       raw,
		TokenHash:   hashSHA256(raw),
	}
	if ttl > 0 {
		tok.ExpiresAt = s.now().Add(ttl).UTC()
	}
	if err := s.store.CreateAccessToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	return tok, nil
}

// Verify checks that tok was issued to principalID and is unexpired.
func (s *AccessTokenService) Verify(ctx context.Context, tok credential.AccessToken) error {
	stored, err := s.lookup(ctx, tok.Token)
	if err != nil {
		return err
	}
	if stored.PrincipalID != tok.PrincipalID {
		return fmt.Errorf("token principal mismatch: %w", domain.ErrAuthorization)
	}
	return nil
}

// Authenticate resolves a raw bearer token to the credential it proves.
func (s *AccessTokenService) Authenticate(ctx context.Context, raw string) (*credential.Credential, error) {
	stored, err := s.lookup(ctx, raw)
	if err != nil {
		return nil, err
	}
	found, err := s.store.FindPrincipals(ctx, principal.Query{ID: stored.PrincipalID})
	if err != nil {
		return nil, fmt.Errorf("resolve token principal: %w", err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("token principal %s: %w", stored.PrincipalID, domain.ErrPrincipalRequired)
	}
	stored.Token = raw
	return &credential.Credential{Principal: found[0], Token: *stored}, nil
}

func (s *AccessTokenService) lookup(ctx context.Context, raw string) (*credential.AccessToken, error) {
	if raw == "" {
		return nil, domain.ErrPrincipalRequired
	}
	stored, err := s.store.GetAccessTokenByHash(ctx, hashSHA256(raw))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("invalid access token: %w", domain.ErrPrincipalRequired)
		}
		return nil, fmt.Errorf("lookup access token: %w", err)
	}
	if stored.Expired(s.now()) {
		return nil, fmt.Errorf("access token expired: %w", domain.ErrPrincipalRequired)
	}
	return stored, nil
}

func hashSHA256(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

func generateRandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
