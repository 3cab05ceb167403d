package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddstream/oddsd/internal/domain"
)

// OddsCache implements domain.OddsCache by storing the latest odds snapshot
// per market as JSON. Readers outside the settlement path (monitoring,
// registries, SDK backends) get odds without touching the market store.
type OddsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOddsCache creates an OddsCache. A zero ttl means snapshots never expire.
func NewOddsCache(c *Client, ttl time.Duration) *OddsCache {
	return &OddsCache{rdb: c.rdb, ttl: ttl}
}

func oddsKey(marketID string) string {
	return "odds:" + marketID
}

// Set stores the snapshot for its market.
func (oc *OddsCache) Set(ctx context.Context, snap domain.OddsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal odds %s: %w", snap.MarketID, err)
	}
	if err := oc.rdb.Set(ctx, oddsKey(snap.MarketID), data, oc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set odds %s: %w", snap.MarketID, err)
	}
	return nil
}

// Get returns the stored snapshot or domain.ErrNotFound.
func (oc *OddsCache) Get(ctx context.Context, marketID string) (domain.OddsSnapshot, error) {
	data, err := oc.rdb.Get(ctx, oddsKey(marketID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.OddsSnapshot{}, domain.ErrNotFound
		}
		return domain.OddsSnapshot{}, fmt.Errorf("redis: get odds %s: %w", marketID, err)
	}

	var snap domain.OddsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OddsSnapshot{}, fmt.Errorf("redis: unmarshal odds %s: %w", marketID, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.OddsCache = (*OddsCache)(nil)
