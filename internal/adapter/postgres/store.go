package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/reactor/internal/domain/agent"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Agents ---

const agentColumns = `id, name, action, enabled, execute_as, params, created_at, updated_at`

func (s *Store) CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	now := time.Now().UTC()
	a := agent.Agent{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Action:    req.Action,
		Enabled:   req.Enabled,
		ExecuteAs: req.ExecuteAs,
		Params:    req.Params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Name, a.Action, a.Enabled, a.ExecuteAs, nullJSON(a.Params), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create agent %s: %w", req.Name, err)
	}
	return &a, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context, filter agent.Filter, opts agent.ListOptions) ([]agent.Agent, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.ID != "" {
		add("id = $%d", filter.ID)
	}
	if filter.Name != "" {
		add("name = $%d", filter.Name)
	}
	if filter.ExecuteAs != "" {
		add("execute_as = $%d", filter.ExecuteAs)
	}
	if filter.Owner != "" {
		add("execute_as = $%d", filter.Owner)
	}
	if filter.Enabled != nil {
		add("enabled = $%d", *filter.Enabled)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + agentColumns + ` FROM agents`)
	if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderColumn(opts.Sort))
	if opts.Descending {
		sb.WriteString(" DESC")
	}
	sb.WriteString(", id")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return orEmpty(agents), rows.Err()
}

// UpdateAgent applies the set fields of req. execute_as is never written.
func (s *Store) UpdateAgent(ctx context.Context, id string, req agent.UpdateRequest) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET
			name       = COALESCE($2, name),
			action     = COALESCE($3, action),
			enabled    = COALESCE($4, enabled),
			params     = COALESCE($5, params),
			updated_at = now()
		WHERE id = $1`,
		id, req.Name, req.Action, req.Enabled, nullJSON(req.Params),
	)
	return execExpectOne(tag, err, "update agent %s", id)
}

// orderColumn maps a sort option to a column; unknown values fall back to created_at.
func orderColumn(sort string) string {
	switch sort {
	case agent.SortName:
		return "name"
	default:
		return "created_at"
	}
}

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	var params []byte
	err := row.Scan(&a.ID, &a.Name, &a.Action, &a.Enabled, &a.ExecuteAs, &params, &a.CreatedAt, &a.UpdatedAt)
	if len(params) > 0 {
		a.Params = params
	}
	return a, err
}
