package oracle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
)

// defaultWatchInterval is how often the watcher scans for due markets.
const defaultWatchInterval = 30 * time.Second

// Watcher triggers adjudication for open markets. It scans the market store
// for markets past their resolution time, and can also be fed settlement
// notices from the event stream to resolve a market the moment its
// underlying event settles.
type Watcher struct {
	markets     domain.MarketStore
	adjudicator *Adjudicator
	logger      *slog.Logger
	interval    time.Duration

	mu        sync.Mutex
	requested map[string]struct{}
}

// NewWatcher creates a Watcher scanning at the given interval. A zero
// interval selects the default.
func NewWatcher(markets domain.MarketStore, adjudicator *Adjudicator, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &Watcher{
		markets:     markets,
		adjudicator: adjudicator,
		logger:      logger.With(slog.String("component", "oracle_watcher")),
		interval:    interval,
		requested:   make(map[string]struct{}),
	}
}

// Run scans until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("oracle watcher started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// HandleSettled resolves every open market bound to the given event
// descriptor. Called by the event feed when a settlement notice arrives.
func (w *Watcher) HandleSettled(ctx context.Context, eventSource string) {
	markets, err := w.markets.ListOpen(ctx, domain.ListOpts{})
	if err != nil {
		w.logger.Warn("list open markets failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range markets {
		if m.EventSource != eventSource {
			continue
		}
		w.resolve(ctx, m)
	}
}

func (w *Watcher) scan(ctx context.Context) {
	markets, err := w.markets.ListOpen(ctx, domain.ListOpts{})
	if err != nil {
		w.logger.Warn("list open markets failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, m := range markets {
		if m.ResolutionTime.After(now) {
			continue
		}
		w.resolve(ctx, m)
	}
}

// resolve issues the resolution requests for one market. Hybrid markets get
// both paths: the TEE attempt plus committee vote collection, and whichever
// proof lands first settles the market. A market that already had a
// successful TEE request is not re-requested; failed attempts stay eligible
// for the next trigger.
func (w *Watcher) resolve(ctx context.Context, m *domain.Market) {
	kinds := []domain.OracleKind{m.Oracle.Kind}
	if m.Oracle.Kind == domain.OracleHybrid {
		kinds = []domain.OracleKind{domain.OracleFastTee, domain.OracleCommittee}
	}

	for _, kind := range kinds {
		key := m.ID + ":" + string(kind)
		w.mu.Lock()
		_, done := w.requested[key]
		w.mu.Unlock()
		if done {
			continue
		}

		req := domain.ResolutionRequest{
			MarketID:         m.ID,
			EventSource:      m.EventSource,
			Kind:             kind,
			TeeAddress:       m.Oracle.TeeAddress,
			CommitteeSize:    m.Oracle.CommitteeSize,
			CommitteeMembers: m.Oracle.CommitteeMembers,
		}
		if err := w.adjudicator.Resolve(ctx, req); err != nil {
			w.logger.Warn("resolution attempt failed",
				slog.String("market", m.ID),
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			continue
		}

		w.mu.Lock()
		w.requested[key] = struct{}{}
		w.mu.Unlock()
	}
}
