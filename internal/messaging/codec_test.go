package messaging

import (
	"bytes"
	"testing"

	"github.com/oddstream/oddsd/internal/domain"
)

func TestStreamNames(t *testing.T) {
	if got := MarketInbox("mkt-1"); got != "unit:market:mkt-1:inbox" {
		t.Errorf("MarketInbox = %q", got)
	}
	if got := UserInbox("0xabc"); got != "unit:user:0xabc:inbox" {
		t.Errorf("UserInbox = %q", got)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	batch := domain.OrderBatch{
		Sender: "alice",
		Orders: []domain.Order{
			{ID: "o1", Side: domain.OrderSideBuyYes, Amount: 1_000_000},
			{ID: "o2", Side: domain.OrderSideBuyNo, Amount: 250_000},
		},
		Nonce: 7,
	}

	raw, err := EncodeBatch("mkt-1", batch)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != domain.MsgBatchedOrders {
		t.Errorf("envelope type = %q", env.Type)
	}
	if env.MarketID != "mkt-1" {
		t.Errorf("envelope market = %q", env.MarketID)
	}

	got, err := DecodeBatch(env)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if got.Sender != "alice" || got.Nonce != 7 {
		t.Errorf("decoded batch header = %s/%d", got.Sender, got.Nonce)
	}
	if len(got.Orders) != 2 {
		t.Fatalf("decoded %d orders, want 2", len(got.Orders))
	}
	if got.Orders[1].Side != domain.OrderSideBuyNo || got.Orders[1].Amount != 250_000 {
		t.Errorf("order 2 = %+v", got.Orders[1])
	}
}

func TestResolutionRoundTrip(t *testing.T) {
	sig := bytes.Repeat([]byte{0xab}, 65)
	res := domain.Resolution{
		MarketID:   "mkt-1",
		Outcome:    true,
		Timestamp:  1700000000,
		Kind:       domain.OracleFastTee,
		Signatures: [][]byte{sig},
	}

	raw, err := EncodeResolution(res)
	if err != nil {
		t.Fatalf("EncodeResolution: %v", err)
	}
	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != domain.MsgResolution {
		t.Errorf("envelope type = %q", env.Type)
	}

	got, err := DecodeResolution(env)
	if err != nil {
		t.Fatalf("DecodeResolution: %v", err)
	}
	if got.MarketID != res.MarketID || got.Outcome != res.Outcome ||
		got.Timestamp != res.Timestamp || got.Kind != res.Kind {
		t.Errorf("decoded resolution = %+v", got)
	}
	if len(got.Signatures) != 1 || !bytes.Equal(got.Signatures[0], sig) {
		t.Errorf("signature did not survive the hex round trip")
	}
}

func TestVoteRoundTrip(t *testing.T) {
	vote := domain.CommitteeVote{
		MarketID:  "mkt-1",
		Voter:     "0x1111111111111111111111111111111111111111",
		Outcome:   false,
		Timestamp: 1700000000,
		Signature: bytes.Repeat([]byte{0x07}, 65),
	}

	raw, err := EncodeVote(vote)
	if err != nil {
		t.Fatalf("EncodeVote: %v", err)
	}
	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != domain.MsgCommitteeVote {
		t.Errorf("envelope type = %q", env.Type)
	}

	got, err := DecodeVote(env)
	if err != nil {
		t.Fatalf("DecodeVote: %v", err)
	}
	if got.Voter != vote.Voter || got.Outcome != vote.Outcome || got.Timestamp != vote.Timestamp {
		t.Errorf("decoded vote = %+v", got)
	}
	if !bytes.Equal(got.Signature, vote.Signature) {
		t.Errorf("signature did not survive the hex round trip")
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("{not json")); err == nil {
		t.Error("DecodeEnvelope accepted malformed JSON")
	}

	env, err := domain.NewEnvelope(domain.MsgCommitteeVote, "mkt-1", domain.VoteMsg{
		Signature: "zzzz", // not hex
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if _, err := DecodeVote(env); err == nil {
		t.Error("DecodeVote accepted a non-hex signature")
	}

	env, err = domain.NewEnvelope(domain.MsgResolution, "mkt-1", domain.ResolutionMsg{
		Signatures: []string{"zzzz"},
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if _, err := DecodeResolution(env); err == nil {
		t.Error("DecodeResolution accepted a non-hex signature")
	}
}
