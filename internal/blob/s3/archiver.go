package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

// Narrow read interfaces for the archiver: only the time-ranged queries it
// actually runs, satisfied implicitly by the Postgres stores.

// PriceHistoryArchiveStore provides read access to aged price changes.
type PriceHistoryArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.PriceChange, error)
}

// OpportunityArchiveStore provides read access to aged opportunities.
type OpportunityArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// Archiver implements domain.Archiver: aged records are read from the
// primary store, serialised to JSONL, and uploaded to object storage.
// Deleting the archived rows from Postgres is a separate explicit step, run
// only after the upload succeeded.
type Archiver struct {
	writer        domain.BlobWriter
	history       PriceHistoryArchiveStore
	opportunities OpportunityArchiveStore
}

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(writer domain.BlobWriter, history PriceHistoryArchiveStore, opportunities OpportunityArchiveStore) *Archiver {
	return &Archiver{
		writer:        writer,
		history:       history,
		opportunities: opportunities,
	}
}

// ArchivePriceHistory uploads every change detected before the cutoff to
// archive/price_history/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchivePriceHistory(ctx context.Context, before time.Time) (int64, error) {
	changes, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history query: %w", err)
	}
	if len(changes) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(changes)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history marshal: %w", err)
	}

	path := archivePath("price_history", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive price history upload: %w", err)
	}
	return int64(len(changes)), nil
}

// ArchiveOpportunities uploads every opportunity detected before the cutoff
// to archive/opportunities/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opportunities.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath("opportunities", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}
	return int64(len(opps)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/price_history/2025-06.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
