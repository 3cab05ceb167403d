package messaging

import (
	"context"
	"fmt"

	"github.com/oddstream/oddsd/internal/domain"
)

// Publisher writes envelopes onto unit inbox streams. It is the outbound
// half of the messaging layer, used by the oracle adjudicator to deliver
// resolutions and by participant-facing surfaces to submit order batches.
type Publisher struct {
	bus domain.MessageBus
}

// NewPublisher creates a Publisher on the given bus.
func NewPublisher(bus domain.MessageBus) *Publisher {
	return &Publisher{bus: bus}
}

// SendBatch appends an order batch to the market's inbox.
func (p *Publisher) SendBatch(ctx context.Context, marketID string, batch domain.OrderBatch) error {
	payload, err := EncodeBatch(marketID, batch)
	if err != nil {
		return err
	}
	if err := p.bus.StreamAppend(ctx, MarketInbox(marketID), payload); err != nil {
		return fmt.Errorf("messaging: send batch to %s: %w", marketID, err)
	}
	return nil
}

// SendVote appends a committee vote to the oracle's vote stream.
func (p *Publisher) SendVote(ctx context.Context, vote domain.CommitteeVote) error {
	payload, err := EncodeVote(vote)
	if err != nil {
		return err
	}
	if err := p.bus.StreamAppend(ctx, VotesStream, payload); err != nil {
		return fmt.Errorf("messaging: send vote for %s: %w", vote.MarketID, err)
	}
	return nil
}

// SendResolution appends a resolution to the market's inbox. Implements the
// oracle adjudicator's ResolutionSink.
func (p *Publisher) SendResolution(ctx context.Context, res domain.Resolution) error {
	payload, err := EncodeResolution(res)
	if err != nil {
		return err
	}
	if err := p.bus.StreamAppend(ctx, MarketInbox(res.MarketID), payload); err != nil {
		return fmt.Errorf("messaging: send resolution to %s: %w", res.MarketID, err)
	}
	return nil
}
