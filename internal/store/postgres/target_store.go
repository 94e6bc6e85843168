package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// TargetStore implements domain.TargetStore using PostgreSQL.
type TargetStore struct {
	pool *pgxpool.Pool
}

// NewTargetStore creates a store backed by the given connection pool.
func NewTargetStore(pool *pgxpool.Pool) *TargetStore {
	return &TargetStore{pool: pool}
}

const targetCols = `id, entity_id, title, game_id, price, quantity, status, created_at, updated_at`

// Upsert inserts or refreshes a target record keyed by the upstream target
// ID. The status and price follow whatever the boundary last reported.
func (s *TargetStore) Upsert(ctx context.Context, t domain.Target) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO targets (id, entity_id, title, game_id, price, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		t.ID, t.EntityID, t.Title, t.GameID, t.Price, t.Quantity, string(t.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert target %s: %w", t.ID, err)
	}
	return nil
}

// Get returns one target by ID, or domain.ErrNotFound.
func (s *TargetStore) Get(ctx context.Context, id string) (domain.Target, error) {
	var t domain.Target
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT `+targetCols+` FROM targets WHERE id = $1`, id,
	).Scan(
		&t.ID, &t.EntityID, &t.Title, &t.GameID,
		&t.Price, &t.Quantity, &status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Target{}, domain.ErrNotFound
		}
		return domain.Target{}, fmt.Errorf("postgres: get target %s: %w", id, err)
	}
	t.Status = domain.TargetStatus(status)
	return t, nil
}

// ListByStatus returns targets in the given status, most recently updated
// first.
func (s *TargetStore) ListByStatus(ctx context.Context, status domain.TargetStatus, limit int) ([]domain.Target, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+targetCols+` FROM targets
		 WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list targets by status %s: %w", status, err)
	}
	defer rows.Close()

	var targets []domain.Target
	for rows.Next() {
		var t domain.Target
		var st string
		if err := rows.Scan(
			&t.ID, &t.EntityID, &t.Title, &t.GameID,
			&t.Price, &t.Quantity, &st, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		t.Status = domain.TargetStatus(st)
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// Compile-time interface check.
var _ domain.TargetStore = (*TargetStore)(nil)
