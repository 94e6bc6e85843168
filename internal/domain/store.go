package domain

import (
	"context"
	"io"
	"time"
)

// PriceHistoryStore persists detected price changes.
type PriceHistoryStore interface {
	InsertBatch(ctx context.Context, changes []PriceChange) error
	ListByEntity(ctx context.Context, entityID string, limit int) ([]PriceChange, error)
	ListBefore(ctx context.Context, before time.Time) ([]PriceChange, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// OpportunityStore persists detected arbitrage opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TargetStore persists buy-order target records.
type TargetStore interface {
	Upsert(ctx context.Context, target Target) error
	Get(ctx context.Context, id string) (Target, error)
	ListByStatus(ctx context.Context, status TargetStatus, limit int) ([]Target, error)
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged records from the primary store to cold storage.
type Archiver interface {
	ArchivePriceHistory(ctx context.Context, before time.Time) (int64, error)
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
}
