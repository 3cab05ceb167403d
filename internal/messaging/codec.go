// Package messaging is the cross-unit messaging layer: JSON envelopes over
// durable bus streams, one inbox stream per market unit and one per
// participant unit. Delivery is at least once and ordered per sender; the
// settlement engine's nonce ledger and terminal-state checks make
// re-delivery harmless.
package messaging

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/oddstream/oddsd/internal/domain"
)

// MarketInbox returns the stream name for messages addressed to a market.
func MarketInbox(marketID string) string {
	return "unit:market:" + marketID + ":inbox"
}

// UserInbox returns the stream name for messages addressed to a participant.
func UserInbox(sender string) string {
	return "unit:user:" + sender + ":inbox"
}

// OddsChannel is the pub/sub channel carrying odds snapshots after each
// applied batch.
const OddsChannel = "odds"

// VotesStream is the stream carrying committee votes to the oracle unit.
const VotesStream = "unit:oracle:votes"

// EncodeBatch wraps an order batch in an envelope for a market's inbox.
func EncodeBatch(marketID string, batch domain.OrderBatch) ([]byte, error) {
	orders := make([]domain.OrderMsg, len(batch.Orders))
	for i, o := range batch.Orders {
		orders[i] = domain.OrderMsg{ID: o.ID, Side: o.Side, Amount: o.Amount}
	}
	env, err := domain.NewEnvelope(domain.MsgBatchedOrders, marketID, domain.BatchedOrdersMsg{
		Sender: batch.Sender,
		Orders: orders,
		Nonce:  batch.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: encode batch: %w", err)
	}
	return json.Marshal(env)
}

// EncodeResolution wraps a resolution in an envelope for a market's inbox.
func EncodeResolution(res domain.Resolution) ([]byte, error) {
	sigs := make([]string, len(res.Signatures))
	for i, s := range res.Signatures {
		sigs[i] = hex.EncodeToString(s)
	}
	env, err := domain.NewEnvelope(domain.MsgResolution, res.MarketID, domain.ResolutionMsg{
		Outcome:    res.Outcome,
		Timestamp:  res.Timestamp,
		OracleKind: res.Kind,
		Signatures: sigs,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: encode resolution: %w", err)
	}
	return json.Marshal(env)
}

// EncodeVote wraps a committee vote in an envelope for the oracle's vote
// stream.
func EncodeVote(vote domain.CommitteeVote) ([]byte, error) {
	env, err := domain.NewEnvelope(domain.MsgCommitteeVote, vote.MarketID, domain.VoteMsg{
		Voter:     vote.Voter,
		Outcome:   vote.Outcome,
		Timestamp: vote.Timestamp,
		Signature: hex.EncodeToString(vote.Signature),
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: encode vote: %w", err)
	}
	return json.Marshal(env)
}

// DecodeVote extracts a committee vote from a committee_vote envelope.
func DecodeVote(env domain.Envelope) (domain.CommitteeVote, error) {
	var msg domain.VoteMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return domain.CommitteeVote{}, fmt.Errorf("messaging: decode vote payload: %w", err)
	}
	sig, err := hex.DecodeString(msg.Signature)
	if err != nil {
		return domain.CommitteeVote{}, fmt.Errorf("messaging: vote signature hex: %w", err)
	}
	return domain.CommitteeVote{
		MarketID:  env.MarketID,
		Voter:     msg.Voter,
		Outcome:   msg.Outcome,
		Timestamp: msg.Timestamp,
		Signature: sig,
	}, nil
}

// marshalEnvelope serializes an envelope for stream append.
func marshalEnvelope(env domain.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal envelope: %w", err)
	}
	return data, nil
}

// marshalSnapshot serializes an odds snapshot for the odds channel.
func marshalSnapshot(snap domain.OddsSnapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("messaging: marshal odds snapshot: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an envelope from raw stream payload.
func DecodeEnvelope(payload []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("messaging: decode envelope: %w", err)
	}
	return env, nil
}

// DecodeBatch extracts an order batch from a batched_orders envelope.
func DecodeBatch(env domain.Envelope) (domain.OrderBatch, error) {
	var msg domain.BatchedOrdersMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return domain.OrderBatch{}, fmt.Errorf("messaging: decode batch payload: %w", err)
	}
	orders := make([]domain.Order, len(msg.Orders))
	for i, o := range msg.Orders {
		orders[i] = domain.Order{ID: o.ID, Side: o.Side, Amount: o.Amount}
	}
	return domain.OrderBatch{Sender: msg.Sender, Orders: orders, Nonce: msg.Nonce}, nil
}

// DecodeResolution extracts a resolution from a resolution envelope.
func DecodeResolution(env domain.Envelope) (domain.Resolution, error) {
	var msg domain.ResolutionMsg
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return domain.Resolution{}, fmt.Errorf("messaging: decode resolution payload: %w", err)
	}
	sigs := make([][]byte, len(msg.Signatures))
	for i, s := range msg.Signatures {
		sig, err := hex.DecodeString(s)
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("messaging: signature %d hex: %w", i, err)
		}
		sigs[i] = sig
	}
	return domain.Resolution{
		MarketID:   env.MarketID,
		Outcome:    msg.Outcome,
		Timestamp:  msg.Timestamp,
		Kind:       msg.OracleKind,
		Signatures: sigs,
	}, nil
}
