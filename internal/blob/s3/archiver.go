package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
)

// archivedMarket is one JSONL record in a market archive: the terminal
// market state together with its payout table.
type archivedMarket struct {
	MarketID   string                     `json:"market_id"`
	Outcome    bool                       `json:"outcome"`
	PoolYes    domain.Amount              `json:"pool_yes"`
	PoolNo     domain.Amount              `json:"pool_no"`
	OracleKind domain.OracleKind          `json:"oracle_kind"`
	ResolvedAt *time.Time                 `json:"resolved_at"`
	Positions  map[string]domain.Position `json:"positions"`
	Payouts    map[string]domain.Amount   `json:"payouts"`
	Reserve    domain.Amount              `json:"reserve"`
	Total      domain.Amount              `json:"total"`
}

// Archiver implements domain.Archiver by exporting resolved markets and
// their payout tables as JSONL to blob storage. Deletion from the primary
// store is intentionally not performed here; that is a separate explicit
// step after the archive has been verified.
type Archiver struct {
	writer  domain.BlobWriter
	markets domain.MarketStore
	payouts domain.PayoutStore
	audit   domain.AuditStore
}

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(
	writer domain.BlobWriter,
	markets domain.MarketStore,
	payouts domain.PayoutStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:  writer,
		markets: markets,
		payouts: payouts,
		audit:   audit,
	}
}

// ArchiveResolved exports every market resolved at or before the cutoff to
// archive/markets/YYYY-MM.jsonl and returns the number of archived markets.
// The archival event is recorded in the audit log.
func (a *Archiver) ArchiveResolved(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive resolved query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	records := make([]archivedMarket, 0, len(markets))
	for _, m := range markets {
		rec := archivedMarket{
			MarketID:   m.ID,
			Outcome:    m.Outcome,
			PoolYes:    m.PoolYes,
			PoolNo:     m.PoolNo,
			OracleKind: m.Oracle.Kind,
			ResolvedAt: m.ResolvedAt,
			Positions:  m.Positions,
		}

		table, err := a.payouts.GetByMarket(ctx, m.ID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return 0, fmt.Errorf("s3blob: archive payout table %s: %w", m.ID, err)
			}
		} else {
			rec.Payouts = table.Payouts
			rec.Reserve = table.Reserve
			rec.Total = table.Total
		}
		records = append(records, rec)
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive resolved marshal: %w", err)
	}

	path := archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive resolved upload: %w", err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive.markets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive resolved audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
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
