package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/reactor/internal/domain/principal"
)

const principalColumns = `id, principal_type, name, last_ip, owner, created_at, updated_at`

func (s *Store) CreatePrincipal(ctx context.Context, p *principal.Principal) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, string(p.Type), p.Name, p.LastIP, nullIfEmpty(p.Owner), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create principal: %w", err)
	}
	return nil
}

func (s *Store) FindPrincipals(ctx context.Context, q principal.Query) ([]principal.Principal, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if q.ID != "" {
		add("id = $%d", q.ID)
	}
	if q.LastIP != "" {
		add("last_ip = $%d", q.LastIP)
	}
	if q.Type != "" {
		add("principal_type = $%d", string(q.Type))
	}
	if q.Name != "" {
		add("name = $%d", q.Name)
	}

	query := `SELECT ` + principalColumns + ` FROM principals`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find principals: %w", err)
	}
	defer rows.Close()

	var out []principal.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		out = append(out, p)
	}
	return orEmpty(out), rows.Err()
}

func scanPrincipal(row scannable) (principal.Principal, error) {
	var p principal.Principal
	var typ string
	var owner *string
	err := row.Scan(&p.ID, &typ, &p.Name, &p.LastIP, &owner, &p.CreatedAt, &p.UpdatedAt)
	p.Type = principal.Type(typ)
	p.Owner = derefString(owner)
	return p, err
}
