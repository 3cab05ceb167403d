package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists market settlement state, including pools, positions,
// and the per-sender replay ledger.
type MarketStore interface {
	Create(ctx context.Context, m *Market) error
	Save(ctx context.Context, m *Market) error
	GetByID(ctx context.Context, id string) (*Market, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]*Market, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]*Market, error)
	UpdateOracle(ctx context.Context, id string, oracle OracleConfig) error
}

// PayoutStore persists terminal payout tables for claim lookups.
type PayoutStore interface {
	Save(ctx context.Context, table PayoutTable) error
	GetByMarket(ctx context.Context, marketID string) (PayoutTable, error)
	// Claim returns the payout owed to a sender on a resolved market, or
	// ErrNotFound when the sender holds no winning stake.
	Claim(ctx context.Context, marketID, sender string) (Amount, error)
}

// VoteStore retains committee votes, including minority votes, for audit.
type VoteStore interface {
	Insert(ctx context.Context, vote CommitteeVote) error
	ListByMarket(ctx context.Context, marketID string) ([]CommitteeVote, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// StreamMessage is one durable message read from a bus stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// MessageBus is the cross-unit messaging layer: durable ordered streams for
// settlement traffic plus pub/sub channels for ephemeral signals. Delivery is
// at least once; consumers must be idempotent.
type MessageBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locks guarding the single-writer invariant
// on a market when multiple processes host dispatchers.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// OddsSnapshot is the cached odds view of one market.
type OddsSnapshot struct {
	MarketID  string    `json:"market_id"`
	YesOdds   float64   `json:"yes_odds"`
	NoOdds    float64   `json:"no_odds"`
	PoolYes   Amount    `json:"pool_yes"`
	PoolNo    Amount    `json:"pool_no"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OddsCache stores the latest odds snapshot per market for cheap reads
// outside the settlement path.
type OddsCache interface {
	Set(ctx context.Context, snap OddsSnapshot) error
	Get(ctx context.Context, marketID string) (OddsSnapshot, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports terminal market state to blob storage.
type Archiver interface {
	ArchiveResolved(ctx context.Context, before time.Time) (int64, error)
}
