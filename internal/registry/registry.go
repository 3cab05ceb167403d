// Package registry is the control surface for market lifecycle outside the
// settlement path: creating markets, registering participants, and amending
// oracle configuration before resolution.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oddstream/oddsd/internal/domain"
)

// Service manages the market registry. Settlement state is never mutated
// here; the dispatcher owns that. The registry only creates markets and
// adjusts configuration that settlement later reads.
type Service struct {
	markets domain.MarketStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewService creates a registry service.
func NewService(markets domain.MarketStore, audit domain.AuditStore, logger *slog.Logger) *Service {
	return &Service{
		markets: markets,
		audit:   audit,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// CreateMarketParams describes a new market.
type CreateMarketParams struct {
	Description    string
	EventSource    string
	Oracle         domain.OracleConfig
	ResolutionTime time.Time
}

// CreateMarket validates the oracle configuration, allocates an id, and
// persists a fresh open market with empty pools and even odds.
func (s *Service) CreateMarket(ctx context.Context, p CreateMarketParams) (*domain.Market, error) {
	if err := validateOracle(p.Oracle); err != nil {
		return nil, err
	}
	if p.ResolutionTime.IsZero() {
		return nil, fmt.Errorf("registry: resolution time is required")
	}

	m := domain.NewMarket(uuid.New().String(), p.Description, p.Oracle, p.ResolutionTime, time.Now().UTC())
	m.EventSource = p.EventSource
	if err := s.markets.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("registry: create market: %w", err)
	}

	s.logger.Info("market created",
		slog.String("market", m.ID),
		slog.String("oracle", string(m.Oracle.Kind)),
	)
	if err := s.audit.Log(ctx, "market_created", map[string]any{
		"market_id":       m.ID,
		"oracle_kind":     string(m.Oracle.Kind),
		"resolution_time": p.ResolutionTime.Format(time.RFC3339),
	}); err != nil {
		s.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
	return m, nil
}

// UpdateOracle replaces the oracle configuration of an open market. Resolved
// markets are immutable.
func (s *Service) UpdateOracle(ctx context.Context, marketID string, oracle domain.OracleConfig) error {
	if err := validateOracle(oracle); err != nil {
		return err
	}
	if err := s.markets.UpdateOracle(ctx, marketID, oracle); err != nil {
		return fmt.Errorf("registry: update oracle %s: %w", marketID, err)
	}
	if err := s.audit.Log(ctx, "oracle_updated", map[string]any{
		"market_id":   marketID,
		"oracle_kind": string(oracle.Kind),
	}); err != nil {
		s.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
	return nil
}

// GetMarket returns a market by id.
func (s *Service) GetMarket(ctx context.Context, marketID string) (*domain.Market, error) {
	return s.markets.GetByID(ctx, marketID)
}

// ListOpen returns open markets.
func (s *Service) ListOpen(ctx context.Context, opts domain.ListOpts) ([]*domain.Market, error) {
	return s.markets.ListOpen(ctx, opts)
}

func validateOracle(cfg domain.OracleConfig) error {
	switch cfg.Kind {
	case domain.OracleFastTee:
		if strings.TrimSpace(cfg.TeeAddress) == "" {
			return fmt.Errorf("registry: fast_tee oracle requires a tee address")
		}
	case domain.OracleCommittee:
		if err := validateCommittee(cfg); err != nil {
			return err
		}
	case domain.OracleHybrid:
		if strings.TrimSpace(cfg.TeeAddress) == "" {
			return fmt.Errorf("registry: hybrid oracle requires a tee address")
		}
		if err := validateCommittee(cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("registry: unknown oracle kind %q", cfg.Kind)
	}
	return nil
}

func validateCommittee(cfg domain.OracleConfig) error {
	if cfg.CommitteeSize < 1 {
		return fmt.Errorf("registry: committee size must be at least 1")
	}
	if len(cfg.CommitteeMembers) != cfg.CommitteeSize {
		return fmt.Errorf("registry: committee has %d members, size says %d",
			len(cfg.CommitteeMembers), cfg.CommitteeSize)
	}
	seen := make(map[string]struct{}, len(cfg.CommitteeMembers))
	for _, m := range cfg.CommitteeMembers {
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("registry: duplicate committee member %s", m)
		}
		seen[key] = struct{}{}
	}
	return nil
}
