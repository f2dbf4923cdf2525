package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/reactor/internal/domain/message"
)

func (s *Store) CreateMessage(ctx context.Context, m *message.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	body := m.Body
	if body == nil {
		body = map[string]any{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message body: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, message_type, from_id, to_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Type, m.From, nullIfEmpty(m.To), raw, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}
