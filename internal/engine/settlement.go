// Package engine implements pari-mutuel settlement for a single market:
// sequential order-batch pricing, nonce-based replay protection, and the
// one-way Open -> Resolved transition with exact payout accounting.
//
// The engine has no internal concurrency. Each market is driven by exactly
// one dispatcher goroutine, so every method mutates state atomically with
// respect to other messages addressed to the same market.
package engine

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
)

// ResolutionVerifier checks a resolution proof against a market's configured
// oracle. Implementations must be pure from the engine's point of view: no
// settlement state, no network calls.
type ResolutionVerifier interface {
	Verify(market *domain.Market, res domain.Resolution) error
}

// Settlement owns the mutable settlement state of one market.
type Settlement struct {
	market   *domain.Market
	verifier ResolutionVerifier
	payout   *domain.PayoutTable // set exactly once, at resolution
	logger   *slog.Logger
}

// New creates a Settlement around an existing market state.
func New(market *domain.Market, verifier ResolutionVerifier, logger *slog.Logger) *Settlement {
	if market.Positions == nil {
		market.Positions = make(map[string]domain.Position)
	}
	if market.LastNonce == nil {
		market.LastNonce = make(map[string]uint64)
	}
	return &Settlement{
		market:   market,
		verifier: verifier,
		logger:   logger.With(slog.String("component", "engine"), slog.String("market", market.ID)),
	}
}

// Market returns the underlying market state. Callers must not mutate it.
func (s *Settlement) Market() *domain.Market {
	return s.market
}

// Payout returns the payout table once the market is resolved, or false.
func (s *Settlement) Payout() (domain.PayoutTable, bool) {
	if s.payout == nil {
		return domain.PayoutTable{}, false
	}
	return *s.payout, true
}

// SetPayout restores a previously persisted payout table when rehydrating a
// resolved market from the store.
func (s *Settlement) SetPayout(t domain.PayoutTable) {
	s.payout = &t
}

// ApplyOrderBatch prices and applies every order in the batch in sequence.
//
// Pricing is path-dependent: each order pays the odds as of its position in
// the sequence, and odds are recomputed after every order. Earlier orders on
// a side therefore get strictly better prices than later ones in the same
// batch. This is the pari-mutuel mechanism, not a bug; it is also an
// ordering-sensitivity surface for callers batching on behalf of others.
//
// The batch is atomic: validation failures (closed market, stale nonce, bad
// order) reject the whole batch with no state change.
func (s *Settlement) ApplyOrderBatch(batch domain.OrderBatch, now time.Time) (domain.BatchReceipt, error) {
	if s.market.Status != domain.MarketStatusOpen {
		return domain.BatchReceipt{}, fmt.Errorf("engine: batch from %s: %w", batch.Sender, domain.ErrMarketClosed)
	}
	if batch.Nonce <= s.market.LastNonce[batch.Sender] {
		return domain.BatchReceipt{}, fmt.Errorf("engine: batch from %s nonce %d (last %d): %w",
			batch.Sender, batch.Nonce, s.market.LastNonce[batch.Sender], domain.ErrReplayRejected)
	}
	if err := validateOrders(batch.Orders); err != nil {
		return domain.BatchReceipt{}, err
	}

	var totalCost domain.Amount
	orderIDs := make([]string, 0, len(batch.Orders))
	pos := s.market.Positions[batch.Sender]

	for _, order := range batch.Orders {
		cost := s.priceOrder(order)
		totalCost += cost

		switch order.Side {
		case domain.OrderSideBuyYes:
			s.market.PoolYes += order.Amount
			pos.YesStake += order.Amount
		case domain.OrderSideBuyNo:
			s.market.PoolNo += order.Amount
			pos.NoStake += order.Amount
		}
		orderIDs = append(orderIDs, order.ID)

		s.updateOdds()
	}

	s.market.Positions[batch.Sender] = pos
	s.market.LastNonce[batch.Sender] = batch.Nonce
	s.market.UpdatedAt = now

	s.logger.Debug("batch applied",
		slog.String("sender", batch.Sender),
		slog.Uint64("nonce", batch.Nonce),
		slog.Int("orders", len(orderIDs)),
		slog.Int64("total_cost", int64(totalCost)),
	)

	return domain.BatchReceipt{
		Sender:    batch.Sender,
		OrderIDs:  orderIDs,
		TotalCost: totalCost,
		PoolYes:   s.market.PoolYes,
		PoolNo:    s.market.PoolNo,
		YesOdds:   s.market.YesOdds,
		NoOdds:    s.market.NoOdds,
	}, nil
}

// ApplyResolution verifies the proof and performs the Open -> Resolved
// transition, computing the payout table. The transition happens at most
// once: a resolution delivered to an already resolved market returns
// applied=false with no error, making at-least-once delivery safe.
func (s *Settlement) ApplyResolution(res domain.Resolution, now time.Time) (domain.PayoutTable, bool, error) {
	if s.market.Status == domain.MarketStatusResolved {
		if s.payout != nil {
			return *s.payout, false, nil
		}
		return domain.PayoutTable{}, false, nil
	}

	if err := s.verifier.Verify(s.market, res); err != nil {
		return domain.PayoutTable{}, false, fmt.Errorf("engine: resolution for %s: %w", s.market.ID, err)
	}

	table, err := computePayouts(s.market, res.Outcome)
	if err != nil {
		return domain.PayoutTable{}, false, err
	}

	s.market.Status = domain.MarketStatusResolved
	s.market.Outcome = res.Outcome
	resolvedAt := now
	s.market.ResolvedAt = &resolvedAt
	s.market.UpdatedAt = now
	s.payout = &table

	s.logger.Info("market resolved",
		slog.Bool("outcome", res.Outcome),
		slog.String("oracle", string(res.Kind)),
		slog.Int64("total_pool", int64(table.Total)),
		slog.Int64("reserve", int64(table.Reserve)),
	)

	return table, true, nil
}

// priceOrder computes the cost of one order at the current odds, in integer
// micro-units. With empty pools both sides price at even odds (amount/2);
// otherwise cost = amount * opposing_pool / total, the integer form of
// amount * odds.
func (s *Settlement) priceOrder(order domain.Order) domain.Amount {
	total := s.market.TotalPool()
	if total == 0 {
		return order.Amount / 2
	}

	var opposing domain.Amount
	switch order.Side {
	case domain.OrderSideBuyYes:
		opposing = s.market.PoolNo
	case domain.OrderSideBuyNo:
		opposing = s.market.PoolYes
	}
	return mulDiv(order.Amount, opposing, total)
}

// updateOdds recomputes the derived odds from the pools. Odds keep their
// previous values while both pools are empty.
func (s *Settlement) updateOdds() {
	total := s.market.TotalPool()
	if total == 0 {
		return
	}
	s.market.YesOdds = float64(s.market.PoolNo) / float64(total)
	s.market.NoOdds = float64(s.market.PoolYes) / float64(total)
}

// computePayouts builds the payout table for a resolved outcome. Each winning
// stake receives floor(stake * total / winning_pool); the division remainder
// is credited to the reserve account so the table conserves the combined pool
// exactly. If nothing was staked on the winning side the whole pool goes to
// the reserve.
func computePayouts(m *domain.Market, outcome bool) (domain.PayoutTable, error) {
	total := m.TotalPool()
	winningPool := m.PoolNo
	if outcome {
		winningPool = m.PoolYes
	}

	table := domain.PayoutTable{
		MarketID: m.ID,
		Outcome:  outcome,
		Payouts:  make(map[string]domain.Amount),
		Total:    total,
	}

	if winningPool == 0 {
		table.Reserve = total
		return table, nil
	}

	// Iterate in sorted order so remainder assignment is deterministic.
	senders := make([]string, 0, len(m.Positions))
	for sender := range m.Positions {
		senders = append(senders, sender)
	}
	sort.Strings(senders)

	var paid domain.Amount
	for _, sender := range senders {
		pos := m.Positions[sender]
		stake := pos.NoStake
		if outcome {
			stake = pos.YesStake
		}
		if stake == 0 {
			continue
		}
		share := mulDiv(stake, total, winningPool)
		table.Payouts[sender] = share
		paid += share
	}

	table.Reserve = total - paid
	if table.Reserve < 0 || paid+table.Reserve != total {
		return domain.PayoutTable{}, fmt.Errorf("engine: market %s paid %d of %d: %w",
			m.ID, paid, total, domain.ErrAccountingInvariant)
	}
	return table, nil
}

// validateOrders rejects empty batches, non-positive amounts, unknown sides,
// and duplicate order IDs within the batch.
func validateOrders(orders []domain.Order) error {
	if len(orders) == 0 {
		return fmt.Errorf("engine: empty batch: %w", domain.ErrInvalidOrder)
	}
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if o.Amount <= 0 {
			return fmt.Errorf("engine: order %s amount %d: %w", o.ID, o.Amount, domain.ErrInvalidOrder)
		}
		if o.Side != domain.OrderSideBuyYes && o.Side != domain.OrderSideBuyNo {
			return fmt.Errorf("engine: order %s side %q: %w", o.ID, o.Side, domain.ErrInvalidOrder)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("engine: duplicate order id %s: %w", o.ID, domain.ErrInvalidOrder)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}

// mulDiv returns floor(a * b / c) without intermediate overflow.
func mulDiv(a, b, c domain.Amount) domain.Amount {
	prod := new(big.Int).Mul(big.NewInt(int64(a)), big.NewInt(int64(b)))
	prod.Quo(prod, big.NewInt(int64(c)))
	return domain.Amount(prod.Int64())
}
