package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a store backed by the given connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityCols = `id, entity_id, title, game_id,
	buy_price, sell_price, fee_percent, net_profit, profit_pct, detected_at`

func scanOpportunityRows(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		if err := rows.Scan(
			&o.ID, &o.EntityID, &o.Title, &o.GameID,
			&o.BuyPrice, &o.SellPrice, &o.FeePercent,
			&o.NetProfit, &o.ProfitPct, &o.DetectedAt,
		); err != nil {
			return nil, err
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// Insert records one detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (
			id, entity_id, title, game_id,
			buy_price, sell_price, fee_percent, net_profit, profit_pct, detected_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10
		) ON CONFLICT (id) DO NOTHING`,
		opp.ID, opp.EntityID, opp.Title, opp.GameID,
		opp.BuyPrice, opp.SellPrice, opp.FeePercent,
		opp.NetProfit, opp.ProfitPct, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the newest opportunities, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityCols+` FROM opportunities
		 ORDER BY detected_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()
	return scanOpportunityRows(rows)
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityCols+` FROM opportunities
		 WHERE detected_at < $1 ORDER BY detected_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	defer rows.Close()
	return scanOpportunityRows(rows)
}

// DeleteBefore removes opportunities older than the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM opportunities WHERE detected_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
