package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
	"github.com/oddstream/oddsd/internal/engine"
)

const (
	// defaultPollInterval is how long the dispatcher idles when the market's
	// inbox is empty.
	defaultPollInterval = 200 * time.Millisecond

	// readBatchSize bounds how many envelopes are pulled per stream read.
	readBatchSize = 64

	// resolveLockTTL bounds the distributed lock taken around the
	// Open -> Resolved transition.
	resolveLockTTL = 30 * time.Second
)

// Dispatcher drives one market's settlement: it reads the market's inbox
// stream and applies each envelope to the engine strictly in sequence. There
// is exactly one dispatcher per market, which is what makes message
// application atomic with respect to other messages for the same market.
//
// The stream cursor is held in memory and starts from the beginning on
// restart; replayed envelopes are rejected by the nonce ledger or absorbed by
// the terminal state, so redelivery is harmless by construction.
type Dispatcher struct {
	marketID string
	settle   *engine.Settlement
	bus      domain.MessageBus
	markets  domain.MarketStore
	payouts  domain.PayoutStore
	audit    domain.AuditStore
	odds     domain.OddsCache
	locks    domain.LockManager
	logger   *slog.Logger

	pollInterval time.Duration
	lastID       string

	// pending tracks batches the engine has applied whose durable effects
	// (store write, payment pull, confirmation) have not all succeeded yet,
	// keyed by sender:nonce. A redelivered envelope whose nonce the ledger
	// now rejects is looked up here so the effects can be completed instead
	// of answering replay_rejected for a batch that actually applied.
	pending map[string]domain.BatchReceipt
}

// NewDispatcher creates a dispatcher for one market.
func NewDispatcher(
	settle *engine.Settlement,
	bus domain.MessageBus,
	markets domain.MarketStore,
	payouts domain.PayoutStore,
	audit domain.AuditStore,
	odds domain.OddsCache,
	locks domain.LockManager,
	logger *slog.Logger,
) *Dispatcher {
	marketID := settle.Market().ID
	return &Dispatcher{
		marketID:     marketID,
		settle:       settle,
		bus:          bus,
		markets:      markets,
		payouts:      payouts,
		audit:        audit,
		odds:         odds,
		locks:        locks,
		logger:       logger.With(slog.String("component", "dispatcher"), slog.String("market", marketID)),
		pollInterval: defaultPollInterval,
		lastID:       "0",
		pending:      make(map[string]domain.BatchReceipt),
	}
}

// Run polls the market inbox until the context is cancelled. A message that
// fails to process (store unavailable, lock held elsewhere) is retried on the
// next iteration; the cursor advances only past fully handled envelopes.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := d.bus.StreamRead(ctx, MarketInbox(d.marketID), d.lastID, readBatchSize)
		if err != nil {
			d.logger.Warn("inbox read failed", slog.String("error", err.Error()))
			msgs = nil
		}

		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.pollInterval):
			}
			continue
		}

		for _, msg := range msgs {
			if err := d.handle(ctx, msg.Payload); err != nil {
				d.logger.Warn("envelope retained for retry",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()),
				)
				break
			}
			d.lastID = msg.ID
		}
	}
}

// handle applies one envelope. Rejections addressed to the sender (bad
// nonce, closed market, invalid proof) are terminal for the envelope and
// return nil; only infrastructure failures return an error so the envelope
// is redelivered.
func (d *Dispatcher) handle(ctx context.Context, payload []byte) error {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		d.logger.Warn("dropping undecodable envelope", slog.String("error", err.Error()))
		return nil
	}

	switch env.Type {
	case domain.MsgBatchedOrders:
		return d.handleBatch(ctx, env)
	case domain.MsgResolution:
		return d.handleResolution(ctx, env)
	default:
		// Transfers and confirmations are outbound only; anything else in a
		// market inbox is a stray.
		d.logger.Debug("ignoring envelope", slog.String("type", string(env.Type)))
		return nil
	}
}

func (d *Dispatcher) handleBatch(ctx context.Context, env domain.Envelope) error {
	batch, err := DecodeBatch(env)
	if err != nil {
		d.logger.Warn("dropping undecodable batch", slog.String("error", err.Error()))
		return nil
	}

	key := batchKey(batch.Sender, batch.Nonce)
	receipt, err := d.settle.ApplyOrderBatch(batch, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrReplayRejected) {
			// The ledger rejects the nonce, but if this very batch is the
			// one that advanced it and its effects never became durable,
			// this is a redelivery after an infra failure: finish the
			// effects instead of rejecting.
			if rc, ok := d.pending[key]; ok {
				return d.commitBatch(ctx, key, batch, rc)
			}
		}
		switch {
		case errors.Is(err, domain.ErrReplayRejected),
			errors.Is(err, domain.ErrMarketClosed),
			errors.Is(err, domain.ErrInvalidOrder):
			return d.sendRejection(ctx, batch, err)
		default:
			return err
		}
	}

	d.pending[key] = receipt
	return d.commitBatch(ctx, key, batch, receipt)
}

// commitBatch makes an applied batch durable and emits its outbound effects.
// Any failure returns an error so the envelope is redelivered and the commit
// retried; the store upserts and outbound messages are idempotent or
// at-least-once by contract, so re-running a partially completed commit is
// safe.
func (d *Dispatcher) commitBatch(ctx context.Context, key string, batch domain.OrderBatch, receipt domain.BatchReceipt) error {
	if err := d.markets.Save(ctx, d.settle.Market()); err != nil {
		return fmt.Errorf("messaging: persist market %s: %w", d.marketID, err)
	}

	// Payment pull for the batch cost, then the confirmation.
	if err := d.sendToSender(ctx, domain.MsgTransfer, batch.Sender, domain.TransferMsg{
		From:   batch.Sender,
		To:     d.marketID,
		Amount: receipt.TotalCost,
	}); err != nil {
		return err
	}
	if err := d.sendToSender(ctx, domain.MsgBatchConfirmed, batch.Sender, domain.BatchConfirmedMsg{
		Sender:    batch.Sender,
		OrderIDs:  receipt.OrderIDs,
		TotalCost: receipt.TotalCost,
	}); err != nil {
		return err
	}

	d.publishOdds(ctx, receipt)

	if err := d.audit.Log(ctx, "batch_applied", map[string]any{
		"market_id":  d.marketID,
		"sender":     batch.Sender,
		"nonce":      batch.Nonce,
		"orders":     len(receipt.OrderIDs),
		"total_cost": int64(receipt.TotalCost),
	}); err != nil {
		d.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}

	delete(d.pending, key)
	return nil
}

func batchKey(sender string, nonce uint64) string {
	return fmt.Sprintf("%s:%d", sender, nonce)
}

func (d *Dispatcher) handleResolution(ctx context.Context, env domain.Envelope) error {
	res, err := DecodeResolution(env)
	if err != nil {
		d.logger.Warn("dropping undecodable resolution", slog.String("error", err.Error()))
		return nil
	}

	// Single-writer guard for the terminal transition. If another process is
	// resolving this market the envelope stays in the inbox and is retried;
	// by then the market is resolved and the engine absorbs the replay.
	unlock, err := d.locks.Acquire(ctx, "resolve:"+d.marketID, resolveLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("messaging: market %s resolution: %w", d.marketID, err)
		}
		return err
	}
	defer unlock()

	table, applied, err := d.settle.ApplyResolution(res, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidProof) {
			d.logger.Warn("resolution rejected",
				slog.String("oracle", string(res.Kind)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return err
	}

	// Persist on redelivery as well as on first application: applied=false
	// can mean an earlier Save failed after the in-memory transition, in
	// which case the store still shows the market open. The upserts are
	// idempotent, so reconciling an already consistent store is harmless.
	if err := d.markets.Save(ctx, d.settle.Market()); err != nil {
		return fmt.Errorf("messaging: persist resolved market %s: %w", d.marketID, err)
	}
	if table.MarketID != "" {
		if err := d.payouts.Save(ctx, table); err != nil {
			return fmt.Errorf("messaging: persist payouts %s: %w", d.marketID, err)
		}
	}
	if !applied {
		return nil
	}

	if err := d.audit.Log(ctx, "market_resolved", map[string]any{
		"market_id": d.marketID,
		"outcome":   res.Outcome,
		"oracle":    string(res.Kind),
		"total":     int64(table.Total),
		"reserve":   int64(table.Reserve),
		"winners":   len(table.Payouts),
	}); err != nil {
		d.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
	return nil
}

// sendRejection reports a typed failure reason back to the sender. The
// envelope is considered handled; the sender decides whether to retry.
func (d *Dispatcher) sendRejection(ctx context.Context, batch domain.OrderBatch, cause error) error {
	d.logger.Info("batch rejected",
		slog.String("sender", batch.Sender),
		slog.Uint64("nonce", batch.Nonce),
		slog.String("reason", cause.Error()),
	)
	reason := "invalid_order"
	switch {
	case errors.Is(cause, domain.ErrReplayRejected):
		reason = "replay_rejected"
	case errors.Is(cause, domain.ErrMarketClosed):
		reason = "market_closed"
	}
	return d.sendToSender(ctx, domain.MsgBatchRejected, batch.Sender, domain.BatchRejectedMsg{
		Sender: batch.Sender,
		Nonce:  batch.Nonce,
		Reason: reason,
	})
}

func (d *Dispatcher) sendToSender(ctx context.Context, typ domain.MessageType, sender string, body any) error {
	env, err := domain.NewEnvelope(typ, d.marketID, body)
	if err != nil {
		return fmt.Errorf("messaging: encode %s: %w", typ, err)
	}
	payload, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	if err := d.bus.StreamAppend(ctx, UserInbox(sender), payload); err != nil {
		return fmt.Errorf("messaging: send %s to %s: %w", typ, sender, err)
	}
	return nil
}

// publishOdds refreshes the odds cache and announces the new snapshot on the
// odds channel. Both are best effort; settlement state is already durable.
func (d *Dispatcher) publishOdds(ctx context.Context, receipt domain.BatchReceipt) {
	snap := domain.OddsSnapshot{
		MarketID:  d.marketID,
		YesOdds:   receipt.YesOdds,
		NoOdds:    receipt.NoOdds,
		PoolYes:   receipt.PoolYes,
		PoolNo:    receipt.PoolNo,
		UpdatedAt: time.Now().UTC(),
	}
	if err := d.odds.Set(ctx, snap); err != nil {
		d.logger.Warn("odds cache update failed", slog.String("error", err.Error()))
	}
	if payload, err := marshalSnapshot(snap); err == nil {
		if err := d.bus.Publish(ctx, OddsChannel, payload); err != nil {
			d.logger.Debug("odds publish failed", slog.String("error", err.Error()))
		}
	}
}
