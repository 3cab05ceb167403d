package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddstream/oddsd/internal/domain"
)

// MarketStore implements domain.MarketStore. A market's pools, positions,
// and replay ledger are written together in one transaction so that a crash
// between writes can never make a nonce observable without its stake.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, description, event_source, status, outcome, pool_yes, pool_no,
	yes_odds, no_odds, oracle_kind, tee_address, committee_size,
	committee_members, resolution_time, created_at, resolved_at, updated_at`

const upsertMarket = `
	INSERT INTO markets (
		id, description, event_source, status, outcome, pool_yes, pool_no,
		yes_odds, no_odds, oracle_kind, tee_address, committee_size,
		committee_members, resolution_time, created_at, resolved_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12,
		$13, $14, $15, $16, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		status      = EXCLUDED.status,
		outcome     = EXCLUDED.outcome,
		pool_yes    = EXCLUDED.pool_yes,
		pool_no     = EXCLUDED.pool_no,
		yes_odds    = EXCLUDED.yes_odds,
		no_odds     = EXCLUDED.no_odds,
		resolved_at = EXCLUDED.resolved_at,
		updated_at  = NOW()`

// Create inserts a new market. Returns domain.ErrAlreadyExists when the id
// is taken.
func (s *MarketStore) Create(ctx context.Context, m *domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, description, event_source, status, outcome, pool_yes, pool_no,
			yes_odds, no_odds, oracle_kind, tee_address, committee_size,
			committee_members, resolution_time, created_at, resolved_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, NOW()
		)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, marketArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Save persists the full settlement state of a market: the market row plus
// every position and replay-ledger entry, in one transaction.
func (s *MarketStore) Save(ctx context.Context, m *domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save %s: %w", m.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsertMarket, marketArgs(m)...); err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, err)
	}

	batch := &pgx.Batch{}
	for sender, pos := range m.Positions {
		batch.Queue(`
			INSERT INTO positions (market_id, sender, yes_stake, no_stake)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (market_id, sender) DO UPDATE SET
				yes_stake = EXCLUDED.yes_stake,
				no_stake  = EXCLUDED.no_stake`,
			m.ID, sender, int64(pos.YesStake), int64(pos.NoStake))
	}
	for sender, nonce := range m.LastNonce {
		batch.Queue(`
			INSERT INTO replay_ledger (market_id, sender, last_nonce)
			VALUES ($1, $2, $3)
			ON CONFLICT (market_id, sender) DO UPDATE SET
				last_nonce = EXCLUDED.last_nonce`,
			m.ID, sender, int64(nonce))
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: save market %s state item %d: %w", m.ID, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: save market %s state: %w", m.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market with its positions and replay ledger.
func (s *MarketStore) GetByID(ctx context.Context, id string) (*domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get market %s: %w", id, err)
	}

	if err := s.loadPositions(ctx, m); err != nil {
		return nil, err
	}
	if err := s.loadReplayLedger(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListOpen returns open markets ordered by creation time.
func (s *MarketStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]*domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = 'open' ORDER BY created_at`
	args := []any{}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return s.list(ctx, query, args...)
}

// ListResolvedBefore returns markets resolved at or before the cutoff. Used
// by the archiver to select terminal state for export.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]*domain.Market, error) {
	const query = `SELECT ` + marketCols + ` FROM markets
		WHERE status = 'resolved' AND resolved_at <= $1
		ORDER BY resolved_at`
	return s.list(ctx, query, before)
}

// UpdateOracle replaces the oracle configuration of an open market.
func (s *MarketStore) UpdateOracle(ctx context.Context, id string, oracle domain.OracleConfig) error {
	const query = `
		UPDATE markets SET
			oracle_kind       = $2,
			tee_address       = $3,
			committee_size    = $4,
			committee_members = $5,
			updated_at        = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query,
		id, string(oracle.Kind), oracle.TeeAddress,
		oracle.CommitteeSize, oracle.CommitteeMembers)
	if err != nil {
		return fmt.Errorf("postgres: update oracle %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MarketStore) list(ctx context.Context, query string, args ...any) ([]*domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []*domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}

	for _, m := range markets {
		if err := s.loadPositions(ctx, m); err != nil {
			return nil, err
		}
		if err := s.loadReplayLedger(ctx, m); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

func (s *MarketStore) loadPositions(ctx context.Context, m *domain.Market) error {
	rows, err := s.pool.Query(ctx,
		`SELECT sender, yes_stake, no_stake FROM positions WHERE market_id = $1`, m.ID)
	if err != nil {
		return fmt.Errorf("postgres: load positions %s: %w", m.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var sender string
		var yes, no int64
		if err := rows.Scan(&sender, &yes, &no); err != nil {
			return fmt.Errorf("postgres: scan position %s: %w", m.ID, err)
		}
		m.Positions[sender] = domain.Position{YesStake: domain.Amount(yes), NoStake: domain.Amount(no)}
	}
	return rows.Err()
}

func (s *MarketStore) loadReplayLedger(ctx context.Context, m *domain.Market) error {
	rows, err := s.pool.Query(ctx,
		`SELECT sender, last_nonce FROM replay_ledger WHERE market_id = $1`, m.ID)
	if err != nil {
		return fmt.Errorf("postgres: load replay ledger %s: %w", m.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var sender string
		var nonce int64
		if err := rows.Scan(&sender, &nonce); err != nil {
			return fmt.Errorf("postgres: scan replay entry %s: %w", m.ID, err)
		}
		m.LastNonce[sender] = uint64(nonce)
	}
	return rows.Err()
}

func marketArgs(m *domain.Market) []any {
	return []any{
		m.ID, m.Description, m.EventSource, string(m.Status), m.Outcome,
		int64(m.PoolYes), int64(m.PoolNo),
		m.YesOdds, m.NoOdds,
		string(m.Oracle.Kind), m.Oracle.TeeAddress,
		m.Oracle.CommitteeSize, m.Oracle.CommitteeMembers,
		m.ResolutionTime, m.CreatedAt, m.ResolvedAt,
	}
}

func scanMarket(row pgx.Row) (*domain.Market, error) {
	m := &domain.Market{
		Positions: make(map[string]domain.Position),
		LastNonce: make(map[string]uint64),
	}
	var status, kind string
	var poolYes, poolNo int64
	err := row.Scan(
		&m.ID, &m.Description, &m.EventSource, &status, &m.Outcome, &poolYes, &poolNo,
		&m.YesOdds, &m.NoOdds, &kind, &m.Oracle.TeeAddress,
		&m.Oracle.CommitteeSize, &m.Oracle.CommitteeMembers,
		&m.ResolutionTime, &m.CreatedAt, &m.ResolvedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = domain.MarketStatus(status)
	m.Oracle.Kind = domain.OracleKind(kind)
	m.PoolYes = domain.Amount(poolYes)
	m.PoolNo = domain.Amount(poolNo)
	return m, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
