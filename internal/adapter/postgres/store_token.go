package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/reactor/internal/domain/credential"
)

func (s *Store) CreateAccessToken(ctx context.Context, t *credential.AccessToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_tokens (id, principal_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.PrincipalID, t.TokenHash, nullTime(t.ExpiresAt), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create access token: %w", err)
	}
	return nil
}

func (s *Store) GetAccessTokenByHash(ctx context.Context, hash string) (*credential.AccessToken, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, principal_id, token_hash, expires_at, created_at
		FROM access_tokens WHERE token_hash = $1`, hash)

	var t credential.AccessToken
	var expiresAt sql.NullTime
	if err := row.Scan(&t.ID, &t.PrincipalID, &t.TokenHash, &expiresAt, &t.CreatedAt); err != nil {
		return nil, notFoundWrap(err, "get access token")
	}
	if expiresAt.Valid {
		t.ExpiresAt = expiresAt.Time
	}
	return &t, nil
}

// DeleteExpiredAccessTokens removes a principal's tokens whose expiry has passed.
func (s *Store) DeleteExpiredAccessTokens(ctx context.Context, principalID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM access_tokens
		WHERE principal_id = $1 AND expires_at IS NOT NULL AND expires_at < now()`, principalID)
	if err != nil {
		return fmt.Errorf("delete expired access tokens: %w", err)
	}
	return nil
}
