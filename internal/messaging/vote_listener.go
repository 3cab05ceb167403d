package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
)

// VoteHandler consumes one committee vote, typically the oracle adjudicator.
type VoteHandler interface {
	SubmitVote(ctx context.Context, vote domain.CommitteeVote) error
}

// VoteListener polls the oracle vote stream and forwards each vote to the
// handler. Duplicate and late votes are rejected by the handler; delivery
// errors keep the cursor in place so the vote is retried.
type VoteListener struct {
	bus     domain.MessageBus
	handler VoteHandler
	logger  *slog.Logger

	pollInterval time.Duration
	lastID       string
}

// NewVoteListener creates a listener over the given bus and handler.
func NewVoteListener(bus domain.MessageBus, handler VoteHandler, logger *slog.Logger) *VoteListener {
	return &VoteListener{
		bus:          bus,
		handler:      handler,
		logger:       logger.With(slog.String("component", "vote_listener")),
		pollInterval: defaultPollInterval,
		lastID:       "0",
	}
}

// Run polls until the context is cancelled.
func (l *VoteListener) Run(ctx context.Context) error {
	l.logger.Info("vote listener started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := l.bus.StreamRead(ctx, VotesStream, l.lastID, readBatchSize)
		if err != nil {
			l.logger.Warn("vote stream read failed", slog.String("error", err.Error()))
			msgs = nil
		}

		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.pollInterval):
			}
			continue
		}

		for _, msg := range msgs {
			if err := l.handle(ctx, msg.Payload); err != nil {
				l.logger.Warn("vote retained for retry",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()),
				)
				break
			}
			l.lastID = msg.ID
		}
	}
}

func (l *VoteListener) handle(ctx context.Context, payload []byte) error {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		l.logger.Warn("dropping undecodable vote envelope", slog.String("error", err.Error()))
		return nil
	}
	if env.Type != domain.MsgCommitteeVote {
		return nil
	}

	vote, err := DecodeVote(env)
	if err != nil {
		l.logger.Warn("dropping undecodable vote", slog.String("error", err.Error()))
		return nil
	}

	err = l.handler.SubmitVote(ctx, vote)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrDuplicateVote),
		errors.Is(err, domain.ErrVotingClosed),
		errors.Is(err, domain.ErrInvalidProof):
		l.logger.Info("vote rejected",
			slog.String("market", vote.MarketID),
			slog.String("voter", vote.Voter),
			slog.String("reason", err.Error()),
		)
		return nil
	default:
		// ErrNotFound lands here on purpose: the durable stream can replay
		// a vote before the market's tally has been opened (process restart,
		// or a vote racing the watcher's first scan). Holding the cursor
		// keeps the vote alive until Open runs.
		return err
	}
}
