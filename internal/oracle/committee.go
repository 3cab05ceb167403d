package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oddstream/oddsd/internal/crypto"
	"github.com/oddstream/oddsd/internal/domain"
)

// CommitteeResolver accumulates signed outcome votes per market and finalizes
// once any outcome reaches a strict majority of the configured committee.
// Minority votes are kept in the vote store for audit but never block
// finalization. Safe for concurrent use.
type CommitteeResolver struct {
	votes  domain.VoteStore
	logger *slog.Logger

	mu      sync.Mutex
	tallies map[string]*tally // market ID -> open tally
}

// tally is the in-flight vote state for one market.
type tally struct {
	cfg       domain.OracleConfig
	byVoter   map[common.Address]bool            // voter -> claimed outcome
	sigs      map[bool]map[common.Address][]byte // outcome -> voter -> signature
	finalized bool
}

// NewCommitteeResolver creates a CommitteeResolver backed by the given vote
// store for audit retention.
func NewCommitteeResolver(votes domain.VoteStore, logger *slog.Logger) *CommitteeResolver {
	return &CommitteeResolver{
		votes:   votes,
		logger:  logger.With(slog.String("component", "committee")),
		tallies: make(map[string]*tally),
	}
}

// Open registers a market for vote collection with its oracle configuration.
// Calling Open twice for the same market is a no-op.
func (r *CommitteeResolver) Open(marketID string, cfg domain.OracleConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tallies[marketID]; ok {
		return
	}
	r.tallies[marketID] = &tally{
		cfg:     cfg,
		byVoter: make(map[common.Address]bool),
		sigs: map[bool]map[common.Address][]byte{
			true:  make(map[common.Address][]byte),
			false: make(map[common.Address][]byte),
		},
	}
}

// SubmitVote records one committee member's signed outcome claim. The voter
// identity is the address recovered from the signature; the Voter field of
// the vote is informational only and never trusted. Duplicate votes from the
// same voter and votes after finalization are rejected without effect.
//
// When a vote pushes an outcome past the threshold, SubmitVote returns the
// finalized Resolution carrying the agreeing signature set and true.
func (r *CommitteeResolver) SubmitVote(ctx context.Context, vote domain.CommitteeVote) (domain.Resolution, bool, error) {
	r.mu.Lock()
	t, ok := r.tallies[vote.MarketID]
	if !ok {
		r.mu.Unlock()
		return domain.Resolution{}, false, fmt.Errorf("committee: market %s: %w", vote.MarketID, domain.ErrNotFound)
	}
	if t.finalized {
		r.mu.Unlock()
		return domain.Resolution{}, false, fmt.Errorf("committee: market %s: %w", vote.MarketID, domain.ErrVotingClosed)
	}

	digest := crypto.VoteDigest(vote.MarketID, vote.Outcome)
	voter, err := crypto.RecoverSigner(digest, vote.Signature)
	if err != nil {
		r.mu.Unlock()
		return domain.Resolution{}, false, fmt.Errorf("committee: market %s: %w", vote.MarketID, domain.ErrInvalidProof)
	}
	if !t.isMember(voter) {
		r.mu.Unlock()
		return domain.Resolution{}, false, fmt.Errorf("committee: %s is not a member for %s: %w",
			voter.Hex(), vote.MarketID, domain.ErrInvalidProof)
	}
	if _, voted := t.byVoter[voter]; voted {
		r.mu.Unlock()
		return domain.Resolution{}, false, fmt.Errorf("committee: %s on %s: %w",
			voter.Hex(), vote.MarketID, domain.ErrDuplicateVote)
	}

	t.byVoter[voter] = vote.Outcome
	t.sigs[vote.Outcome][voter] = vote.Signature

	finalized := len(t.sigs[vote.Outcome]) >= t.cfg.Threshold()
	if finalized {
		t.finalized = true
	}
	agreeing := make([][]byte, 0, len(t.sigs[vote.Outcome]))
	for _, sig := range t.sigs[vote.Outcome] {
		agreeing = append(agreeing, sig)
	}
	r.mu.Unlock()

	vote.Voter = voter.Hex()
	vote.CastAt = time.Now().UTC()
	if err := r.votes.Insert(ctx, vote); err != nil {
		r.logger.Warn("vote audit insert failed",
			slog.String("market", vote.MarketID),
			slog.String("voter", vote.Voter),
			slog.String("error", err.Error()),
		)
	}

	if !finalized {
		r.logger.Debug("vote recorded",
			slog.String("market", vote.MarketID),
			slog.String("voter", vote.Voter),
			slog.Bool("outcome", vote.Outcome),
		)
		return domain.Resolution{}, false, nil
	}

	r.logger.Info("committee finalized",
		slog.String("market", vote.MarketID),
		slog.Bool("outcome", vote.Outcome),
		slog.Int("signatures", len(agreeing)),
	)

	return domain.Resolution{
		MarketID:   vote.MarketID,
		Outcome:    vote.Outcome,
		Timestamp:  vote.Timestamp,
		Kind:       domain.OracleCommittee,
		Signatures: agreeing,
	}, true, nil
}

// isMember reports whether addr belongs to the committee. An empty member
// list admits any distinct signer (size-only configuration).
func (t *tally) isMember(addr common.Address) bool {
	if len(t.cfg.CommitteeMembers) == 0 {
		return true
	}
	for _, m := range t.cfg.CommitteeMembers {
		if common.HexToAddress(m) == addr {
			return true
		}
	}
	return false
}
