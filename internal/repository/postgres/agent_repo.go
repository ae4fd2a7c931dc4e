package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
)

// GetAgent возвращает агента по ID. (nil, nil) — агент не зарегистрирован:
// движок в этом случае присвоит ему самый низкий уровень зрелости.
func (s *Store) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := `SELECT id, name, maturity, created_at, updated_at FROM agents WHERE id = $1`

	a := &domain.Agent{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Name, &a.Maturity, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get agent: %w", err)
	}
	return a, nil
}

// RegisterAgent — upsert: повторная регистрация обновляет имя, но не
// трогает уровень зрелости (его меняет только SetAgentMaturity).
func (s *Store) RegisterAgent(ctx context.Context, a *domain.Agent) error {
	query := `
		INSERT INTO agents (id, name, maturity, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, a.ID, a.Name, a.Maturity)
	if err != nil {
		return fmt.Errorf("postgres: failed to register agent: %w", err)
	}
	return nil
}

// SetAgentMaturity меняет уровень зрелости агента.
func (s *Store) SetAgentMaturity(ctx context.Context, id string, maturity domain.MaturityLevel) error {
	query := `UPDATE agents SET maturity = $1, updated_at = NOW() WHERE id = $2`

	ct, err := s.pool.Exec(ctx, query, maturity, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update maturity: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: agent %s not found", id)
	}
	return nil
}

// ListAgents — весь реестр агентов для консоли.
func (s *Store) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, maturity, created_at, updated_at FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query agents: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Agent, 0)
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Maturity, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan agent: %w", err)
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
