package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddstream/oddsd/internal/domain"
)

// PayoutStore implements domain.PayoutStore. Tables are written once at
// resolution and read by claim lookups afterwards.
type PayoutStore struct {
	pool *pgxpool.Pool
}

// NewPayoutStore creates a PayoutStore backed by the given connection pool.
func NewPayoutStore(pool *pgxpool.Pool) *PayoutStore {
	return &PayoutStore{pool: pool}
}

// Save persists a payout table and its per-sender entries in one transaction.
// Saving the same table again is a no-op upsert, so resolution redelivery
// stays idempotent through the persistence layer.
func (s *PayoutStore) Save(ctx context.Context, table domain.PayoutTable) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin payout save %s: %w", table.MarketID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsertTable = `
		INSERT INTO payout_tables (market_id, outcome, reserve, total)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			reserve = EXCLUDED.reserve,
			total   = EXCLUDED.total`
	if _, err := tx.Exec(ctx, upsertTable,
		table.MarketID, table.Outcome, int64(table.Reserve), int64(table.Total)); err != nil {
		return fmt.Errorf("postgres: save payout table %s: %w", table.MarketID, err)
	}

	batch := &pgx.Batch{}
	for sender, amount := range table.Payouts {
		batch.Queue(`
			INSERT INTO payouts (market_id, sender, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (market_id, sender) DO UPDATE SET
				amount = EXCLUDED.amount`,
			table.MarketID, sender, int64(amount))
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: save payout %s item %d: %w", table.MarketID, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: save payouts %s: %w", table.MarketID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit payout save %s: %w", table.MarketID, err)
	}
	return nil
}

// GetByMarket returns the full payout table for a resolved market.
func (s *PayoutStore) GetByMarket(ctx context.Context, marketID string) (domain.PayoutTable, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT market_id, outcome, reserve, total FROM payout_tables WHERE market_id = $1`,
		marketID)

	table := domain.PayoutTable{Payouts: make(map[string]domain.Amount)}
	var reserve, total int64
	if err := row.Scan(&table.MarketID, &table.Outcome, &reserve, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PayoutTable{}, domain.ErrNotFound
		}
		return domain.PayoutTable{}, fmt.Errorf("postgres: get payout table %s: %w", marketID, err)
	}
	table.Reserve = domain.Amount(reserve)
	table.Total = domain.Amount(total)

	rows, err := s.pool.Query(ctx,
		`SELECT sender, amount FROM payouts WHERE market_id = $1`, marketID)
	if err != nil {
		return domain.PayoutTable{}, fmt.Errorf("postgres: list payouts %s: %w", marketID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var sender string
		var amount int64
		if err := rows.Scan(&sender, &amount); err != nil {
			return domain.PayoutTable{}, fmt.Errorf("postgres: scan payout %s: %w", marketID, err)
		}
		table.Payouts[sender] = domain.Amount(amount)
	}
	if err := rows.Err(); err != nil {
		return domain.PayoutTable{}, fmt.Errorf("postgres: list payouts %s rows: %w", marketID, err)
	}
	return table, nil
}

// Claim marks a sender's payout claimed and returns the amount. The first
// claim wins; a second claim for the same sender returns ErrNotFound.
func (s *PayoutStore) Claim(ctx context.Context, marketID, sender string) (domain.Amount, error) {
	const query = `
		UPDATE payouts SET claimed = TRUE, claimed_at = NOW()
		WHERE market_id = $1 AND sender = $2 AND claimed = FALSE
		RETURNING amount`

	var amount int64
	err := s.pool.QueryRow(ctx, query, marketID, sender).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: claim payout %s/%s: %w", marketID, sender, err)
	}
	return domain.Amount(amount), nil
}

// Compile-time interface check.
var _ domain.PayoutStore = (*PayoutStore)(nil)
