package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore using PostgreSQL.
type PriceHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPriceHistoryStore creates a store backed by the given connection pool.
func NewPriceHistoryStore(pool *pgxpool.Pool) *PriceHistoryStore {
	return &PriceHistoryStore{pool: pool}
}

const priceHistoryCols = `id, entity_id, title, game_id, kind,
	old_price, new_price, old_qty, new_qty, percent, detected_at`

func scanPriceChangeRows(rows pgx.Rows) ([]domain.PriceChange, error) {
	var changes []domain.PriceChange
	for rows.Next() {
		var c domain.PriceChange
		var kind string
		if err := rows.Scan(
			&c.ID, &c.EntityID, &c.Title, &c.GameID, &kind,
			&c.OldPrice, &c.NewPrice, &c.OldQty, &c.NewQty,
			&c.Percent, &c.DetectedAt,
		); err != nil {
			return nil, err
		}
		c.Kind = domain.ChangeKind(kind)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// InsertBatch inserts detected changes using a pgx batch. Replayed events
// (same id) are skipped via ON CONFLICT DO NOTHING.
func (s *PriceHistoryStore) InsertBatch(ctx context.Context, changes []domain.PriceChange) error {
	if len(changes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO price_history (
			id, entity_id, title, game_id, kind,
			old_price, new_price, old_qty, new_qty, percent, detected_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	for _, c := range changes {
		batch.Queue(query,
			c.ID, c.EntityID, c.Title, c.GameID, string(c.Kind),
			c.OldPrice, c.NewPrice, c.OldQty, c.NewQty,
			c.Percent, c.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range changes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert price change batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByEntity returns the most recent changes for one entity, newest first.
func (s *PriceHistoryStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]domain.PriceChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+priceHistoryCols+` FROM price_history
		 WHERE entity_id = $1 ORDER BY detected_at DESC LIMIT $2`,
		entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price history for %s: %w", entityID, err)
	}
	defer rows.Close()
	return scanPriceChangeRows(rows)
}

// ListBefore returns every change detected before the cutoff, oldest first.
// Used by the archiver to stream aged rows to cold storage.
func (s *PriceHistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PriceChange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+priceHistoryCols+` FROM price_history
		 WHERE detected_at < $1 ORDER BY detected_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price history before %s: %w", before, err)
	}
	defer rows.Close()
	return scanPriceChangeRows(rows)
}

// DeleteBefore removes changes older than the cutoff and reports how many
// rows went away.
func (s *PriceHistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM price_history WHERE detected_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete price history before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)
