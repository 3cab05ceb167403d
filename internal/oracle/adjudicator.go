package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddstream/oddsd/internal/crypto"
	"github.com/oddstream/oddsd/internal/domain"
)

// EventSource fetches a real-world binary outcome for an event descriptor.
// Implementations are fallible; retries with backoff are the caller's
// responsibility, not this package's.
type EventSource interface {
	FetchOutcome(ctx context.Context, descriptor string) (bool, error)
}

// AttestationClient requests a quote and signature from the trusted-execution
// service over the (market_id, outcome, timestamp) payload.
type AttestationClient interface {
	RequestAttestation(ctx context.Context, marketID string, outcome bool, timestamp int64) (quote, signature []byte, err error)
}

// ResolutionSink receives verified resolutions, typically the messaging
// layer's publisher addressed at the market's settlement unit.
type ResolutionSink interface {
	SendResolution(ctx context.Context, res domain.Resolution) error
}

// Adjudicator drives a ResolutionRequest down one of the two oracle paths.
// The FastTee path is synchronous within a single Resolve call; the committee
// path only opens vote collection, and finalization happens later through
// SubmitVote as votes arrive.
type Adjudicator struct {
	events    EventSource
	attestor  AttestationClient
	verifier  *AttestationVerifier
	committee *CommitteeResolver
	sink      ResolutionSink
	signer    *crypto.Signer
	logger    *slog.Logger
	now       func() time.Time
}

// NewAdjudicator creates an Adjudicator with all collaborators.
func NewAdjudicator(
	events EventSource,
	attestor AttestationClient,
	verifier *AttestationVerifier,
	committee *CommitteeResolver,
	sink ResolutionSink,
	logger *slog.Logger,
) *Adjudicator {
	return &Adjudicator{
		events:    events,
		attestor:  attestor,
		verifier:  verifier,
		committee: committee,
		sink:      sink,
		logger:    logger.With(slog.String("component", "adjudicator")),
		now:       time.Now,
	}
}

// SetSigner installs the node's own oracle key. When set, the node also acts
// as a committee member: after opening vote collection it fetches the
// outcome itself and casts its own signed vote.
func (a *Adjudicator) SetSigner(s *crypto.Signer) {
	a.signer = s
}

// Resolve dispatches the request by oracle kind. Hybrid markets receive
// requests of a concrete kind (whichever the operator chose to trigger), so
// Hybrid itself never reaches this switch.
func (a *Adjudicator) Resolve(ctx context.Context, req domain.ResolutionRequest) error {
	switch req.Kind {
	case domain.OracleFastTee:
		return a.resolveFastTee(ctx, req)
	case domain.OracleCommittee:
		a.committee.Open(req.MarketID, domain.OracleConfig{
			Kind:             domain.OracleCommittee,
			CommitteeSize:    req.CommitteeSize,
			CommitteeMembers: req.CommitteeMembers,
		})
		a.logger.Info("committee vote collection opened",
			slog.String("market", req.MarketID),
			slog.Int("committee_size", req.CommitteeSize),
		)
		if a.signer != nil {
			if err := a.castOwnVote(ctx, req); err != nil {
				a.logger.Warn("own vote not cast",
					slog.String("market", req.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	default:
		return fmt.Errorf("oracle: resolution request kind %q: %w", req.Kind, domain.ErrInvalidProof)
	}
}

// resolveFastTee fetches the outcome, obtains an attestation over it, and
// verifies the attestation before emitting a Resolution. A market is never
// resolved on unverified data: any failure drops the request and leaves the
// market open for a retry.
func (a *Adjudicator) resolveFastTee(ctx context.Context, req domain.ResolutionRequest) error {
	outcome, err := a.events.FetchOutcome(ctx, req.EventSource)
	if err != nil {
		return fmt.Errorf("oracle: fetch outcome for %s: %w", req.MarketID, err)
	}

	timestamp := a.now().Unix()
	quote, signature, err := a.attestor.RequestAttestation(ctx, req.MarketID, outcome, timestamp)
	if err != nil {
		return fmt.Errorf("oracle: request attestation for %s: %w", req.MarketID, err)
	}

	if err := a.verifier.Verify(ctx, quote, signature, req.MarketID, outcome, timestamp, req.TeeAddress); err != nil {
		a.logger.Warn("attestation rejected, dropping resolution",
			slog.String("market", req.MarketID),
			slog.String("error", err.Error()),
		)
		return err
	}

	res := domain.Resolution{
		MarketID:   req.MarketID,
		Outcome:    outcome,
		Timestamp:  timestamp,
		Kind:       domain.OracleFastTee,
		Signatures: [][]byte{signature},
	}
	if err := a.sink.SendResolution(ctx, res); err != nil {
		return fmt.Errorf("oracle: send resolution for %s: %w", req.MarketID, err)
	}

	a.logger.Info("tee resolution emitted",
		slog.String("market", req.MarketID),
		slog.Bool("outcome", outcome),
	)
	return nil
}

// castOwnVote fetches the outcome and submits the node's own signed vote.
// Membership is enforced by the resolver; a node whose address is not in the
// committee simply has its vote rejected.
func (a *Adjudicator) castOwnVote(ctx context.Context, req domain.ResolutionRequest) error {
	outcome, err := a.events.FetchOutcome(ctx, req.EventSource)
	if err != nil {
		return fmt.Errorf("oracle: fetch outcome for own vote on %s: %w", req.MarketID, err)
	}

	sig, err := a.signer.SignVote(req.MarketID, outcome)
	if err != nil {
		return fmt.Errorf("oracle: sign own vote on %s: %w", req.MarketID, err)
	}

	return a.SubmitVote(ctx, domain.CommitteeVote{
		MarketID:  req.MarketID,
		Voter:     a.signer.Address().Hex(),
		Outcome:   outcome,
		Timestamp: a.now().Unix(),
		Signature: sig,
	})
}

// SubmitVote forwards a committee vote to the resolver and, on finalization,
// emits the aggregated Resolution to the sink.
func (a *Adjudicator) SubmitVote(ctx context.Context, vote domain.CommitteeVote) error {
	res, finalized, err := a.committee.SubmitVote(ctx, vote)
	if err != nil {
		return err
	}
	if !finalized {
		return nil
	}
	if err := a.sink.SendResolution(ctx, res); err != nil {
		return fmt.Errorf("oracle: send committee resolution for %s: %w", res.MarketID, err)
	}
	return nil
}
