package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddstream/oddsd/internal/crypto"
	"github.com/oddstream/oddsd/internal/domain"
	"github.com/oddstream/oddsd/internal/engine"
	"github.com/oddstream/oddsd/internal/feed"
	"github.com/oddstream/oddsd/internal/messaging"
	"github.com/oddstream/oddsd/internal/oracle"
	"github.com/oddstream/oddsd/internal/platform/eventdata"
	"github.com/oddstream/oddsd/internal/platform/teeservice"
)

// marketScanInterval is how often the settle mode looks for newly created
// markets that need a dispatcher.
const marketScanInterval = 10 * time.Second

// SettleMode runs a dispatcher per market plus the archive loop.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	g, ctx := errgroup.WithContext(ctx)
	a.settleTasks(ctx, g, deps)
	return g.Wait()
}

// OracleMode runs adjudication: the watcher, the vote listener, and the
// event settlement feed.
func (a *App) OracleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting oracle mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.oracleTasks(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs settlement and adjudication in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.settleTasks(ctx, g, deps)
	if err := a.oracleTasks(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// settleTasks registers the settlement goroutines: a supervisor that spawns
// one dispatcher per market, and the archive loop when enabled.
func (a *App) settleTasks(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return a.superviseDispatchers(ctx, g, deps)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps.Archiver)
		})
	}
}

// superviseDispatchers scans for open markets and starts a dispatcher for
// every market that does not have one yet. Dispatchers keep running after
// their market resolves so that late replays are still absorbed.
func (a *App) superviseDispatchers(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	var mu sync.Mutex
	running := make(map[string]struct{})

	ticker := time.NewTicker(marketScanInterval)
	defer ticker.Stop()

	for {
		markets, err := deps.MarketStore.ListOpen(ctx, domain.ListOpts{})
		if err != nil {
			a.logger.Warn("market scan failed", slog.String("error", err.Error()))
		}

		for _, m := range markets {
			mu.Lock()
			_, ok := running[m.ID]
			if !ok {
				running[m.ID] = struct{}{}
			}
			mu.Unlock()
			if ok {
				continue
			}

			settle := engine.New(m, oracle.NewProofVerifier(), a.logger)
			dispatcher := messaging.NewDispatcher(
				settle,
				deps.Bus,
				deps.MarketStore,
				deps.PayoutStore,
				deps.AuditStore,
				deps.OddsCache,
				deps.LockManager,
				a.logger,
			)
			marketID := m.ID
			g.Go(func() error {
				err := dispatcher.Run(ctx)
				mu.Lock()
				delete(running, marketID)
				mu.Unlock()
				if errors.Is(err, context.Canceled) {
					return err
				}
				a.logger.Error("dispatcher exited",
					slog.String("market", marketID),
					slog.String("error", err.Error()),
				)
				return err
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// archiveLoop periodically exports resolved markets older than the retention
// window to blob storage.
func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			count, err := archiver.ArchiveResolved(ctx, cutoff)
			if err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				a.logger.Info("archive run complete", slog.Int64("markets", count))
			}
		}
	}
}

// oracleTasks registers the adjudication goroutines.
func (a *App) oracleTasks(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	ocfg := a.cfg.Oracle

	events := eventdata.New(ocfg.EventSourceURL, 0, ocfg.FetchRetries, ocfg.FetchBackoff.Duration)
	attestor := teeservice.New(ocfg.TeeServiceURL, 0)
	verifier := oracle.NewAttestationVerifier(ocfg.AttestationURL, 0)
	committee := oracle.NewCommitteeResolver(deps.VoteStore, a.logger)
	publisher := messaging.NewPublisher(deps.Bus)

	adjudicator := oracle.NewAdjudicator(events, attestor, verifier, committee, publisher, a.logger)

	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    ocfg.PrivateKey,
		EncryptedKeyPath: ocfg.EncryptedKeyPath,
		KeyPassword:      ocfg.KeyPassword,
	})
	if err != nil {
		return err
	}
	adjudicator.SetSigner(signer)
	a.logger.Info("oracle signer loaded", slog.String("address", signer.Address().Hex()))

	watcher := oracle.NewWatcher(deps.MarketStore, adjudicator, 0, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	voteListener := messaging.NewVoteListener(deps.Bus, adjudicator, a.logger)
	g.Go(func() error {
		return voteListener.Run(ctx)
	})

	if ocfg.EventWSURL != "" && len(ocfg.WatchEvents) > 0 {
		wsFeed := feed.NewEventWSFeed(
			ocfg.EventWSURL,
			ocfg.WatchEvents,
			func(ctx context.Context, notice feed.SettlementNotice) {
				watcher.HandleSettled(ctx, notice.Event)
			},
			a.logger,
		)
		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
	}

	return nil
}
