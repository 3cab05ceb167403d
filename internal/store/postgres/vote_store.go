package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddstream/oddsd/internal/domain"
)

// VoteStore implements domain.VoteStore. Every vote is retained, including
// minority votes after finalization, so the full adjudication record can be
// audited later.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore creates a VoteStore backed by the given connection pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

// Insert records one committee vote. A second vote from the same voter on
// the same market returns domain.ErrDuplicateVote.
func (s *VoteStore) Insert(ctx context.Context, vote domain.CommitteeVote) error {
	const query = `
		INSERT INTO committee_votes (market_id, voter, outcome, ts, signature, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, voter) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		vote.MarketID, vote.Voter, vote.Outcome, vote.Timestamp, vote.Signature, vote.CastAt)
	if err != nil {
		return fmt.Errorf("postgres: insert vote %s/%s: %w", vote.MarketID, vote.Voter, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateVote
	}
	return nil
}

// ListByMarket returns all votes cast on a market in cast order.
func (s *VoteStore) ListByMarket(ctx context.Context, marketID string) ([]domain.CommitteeVote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, voter, outcome, ts, signature, cast_at
		FROM committee_votes WHERE market_id = $1 ORDER BY id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes %s: %w", marketID, err)
	}
	defer rows.Close()

	var votes []domain.CommitteeVote
	for rows.Next() {
		var v domain.CommitteeVote
		if err := rows.Scan(&v.MarketID, &v.Voter, &v.Outcome, &v.Timestamp, &v.Signature, &v.CastAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vote %s: %w", marketID, err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list votes %s rows: %w", marketID, err)
	}
	return votes, nil
}

// Compile-time interface check.
var _ domain.VoteStore = (*VoteStore)(nil)
