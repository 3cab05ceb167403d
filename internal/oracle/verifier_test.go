package oracle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/oddstream/oddsd/internal/crypto"
	"github.com/oddstream/oddsd/internal/domain"
)

// testSigner creates a deterministic signer from a one-byte seed.
func testSigner(t *testing.T, seed byte) *crypto.Signer {
	t.Helper()
	key := fmt.Sprintf("%062x%02x", 0, seed)
	s, err := crypto.NewSigner(key)
	if err != nil {
		t.Fatalf("test signer %d: %v", seed, err)
	}
	return s
}

func teeMarket(t *testing.T, teeAddr string) *domain.Market {
	t.Helper()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return domain.NewMarket("mkt-1", "test", domain.OracleConfig{
		Kind:       domain.OracleFastTee,
		TeeAddress: teeAddr,
	}, now.Add(time.Hour), now)
}

func committeeMarket(t *testing.T, kind domain.OracleKind, members []string) *domain.Market {
	t.Helper()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return domain.NewMarket("mkt-1", "test", domain.OracleConfig{
		Kind:             kind,
		CommitteeSize:    len(members),
		CommitteeMembers: members,
	}, now.Add(time.Hour), now)
}

func TestVerifyTeeProof(t *testing.T) {
	tee := testSigner(t, 1)
	stranger := testSigner(t, 2)
	market := teeMarket(t, tee.Address().Hex())
	v := NewProofVerifier()

	sign := func(s *crypto.Signer, outcome bool, ts int64) []byte {
		sig, err := s.SignResolution("mkt-1", outcome, ts)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return sig
	}

	good := domain.Resolution{
		MarketID: "mkt-1", Outcome: true, Timestamp: 1700000000,
		Kind:       domain.OracleFastTee,
		Signatures: [][]byte{sign(tee, true, 1700000000)},
	}
	if err := v.Verify(market, good); err != nil {
		t.Errorf("valid tee proof rejected: %v", err)
	}

	tests := []struct {
		name string
		res  domain.Resolution
	}{
		{"wrong signer", domain.Resolution{
			MarketID: "mkt-1", Outcome: true, Timestamp: 1700000000,
			Kind:       domain.OracleFastTee,
			Signatures: [][]byte{sign(stranger, true, 1700000000)},
		}},
		{"outcome flipped after signing", domain.Resolution{
			MarketID: "mkt-1", Outcome: false, Timestamp: 1700000000,
			Kind:       domain.OracleFastTee,
			Signatures: [][]byte{sign(tee, true, 1700000000)},
		}},
		{"timestamp mismatch", domain.Resolution{
			MarketID: "mkt-1", Outcome: true, Timestamp: 1700000001,
			Kind:       domain.OracleFastTee,
			Signatures: [][]byte{sign(tee, true, 1700000000)},
		}},
		{"no signatures", domain.Resolution{
			MarketID: "mkt-1", Outcome: true, Timestamp: 1700000000,
			Kind: domain.OracleFastTee,
		}},
		{"too many signatures", domain.Resolution{
			MarketID: "mkt-1", Outcome: true, Timestamp: 1700000000,
			Kind:       domain.OracleFastTee,
			Signatures: [][]byte{sign(tee, true, 1700000000), sign(tee, true, 1700000000)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Verify(market, tt.res); !errors.Is(err, domain.ErrInvalidProof) {
				t.Errorf("err = %v, want ErrInvalidProof", err)
			}
		})
	}
}

func TestVerifyCommitteeProof(t *testing.T) {
	signers := make([]*crypto.Signer, 5)
	members := make([]string, 5)
	for i := range signers {
		signers[i] = testSigner(t, byte(10+i))
		members[i] = signers[i].Address().Hex()
	}
	outsider := testSigner(t, 99)

	market := committeeMarket(t, domain.OracleCommittee, members)
	v := NewProofVerifier()

	voteSig := func(s *crypto.Signer, outcome bool) []byte {
		sig, err := s.SignVote("mkt-1", outcome)
		if err != nil {
			t.Fatalf("sign vote: %v", err)
		}
		return sig
	}

	// 3 of 5 is the strict majority.
	majority := domain.Resolution{
		MarketID: "mkt-1", Outcome: true, Kind: domain.OracleCommittee,
		Signatures: [][]byte{
			voteSig(signers[0], true),
			voteSig(signers[1], true),
			voteSig(signers[2], true),
		},
	}
	if err := v.Verify(market, majority); err != nil {
		t.Errorf("majority proof rejected: %v", err)
	}

	below := domain.Resolution{
		MarketID: "mkt-1", Outcome: true, Kind: domain.OracleCommittee,
		Signatures: [][]byte{
			voteSig(signers[0], true),
			voteSig(signers[1], true),
		},
	}
	if err := v.Verify(market, below); !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("below-threshold err = %v, want ErrInvalidProof", err)
	}

	// Duplicated and non-member signatures do not count toward the threshold.
	padded := domain.Resolution{
		MarketID: "mkt-1", Outcome: true, Kind: domain.OracleCommittee,
		Signatures: [][]byte{
			voteSig(signers[0], true),
			voteSig(signers[0], true),
			voteSig(signers[1], true),
			voteSig(outsider, true),
		},
	}
	if err := v.Verify(market, padded); !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("padded err = %v, want ErrInvalidProof", err)
	}

	// Signatures over the opposite outcome recover to different addresses
	// and so never collide with the claimed outcome's signer set as members.
	disagreeing := domain.Resolution{
		MarketID: "mkt-1", Outcome: true, Kind: domain.OracleCommittee,
		Signatures: [][]byte{
			voteSig(signers[0], true),
			voteSig(signers[1], true),
			voteSig(signers[2], false),
		},
	}
	if err := v.Verify(market, disagreeing); !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("disagreeing err = %v, want ErrInvalidProof", err)
	}
}

func TestVerifyKindAdmissibility(t *testing.T) {
	tee := testSigner(t, 1)
	v := NewProofVerifier()

	sig, err := tee.SignResolution("mkt-1", true, 100)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	teeRes := domain.Resolution{
		MarketID: "mkt-1", Outcome: true, Timestamp: 100,
		Kind:       domain.OracleFastTee,
		Signatures: [][]byte{sig},
	}

	committeeOnly := committeeMarket(t, domain.OracleCommittee, []string{tee.Address().Hex()})
	if err := v.Verify(committeeOnly, teeRes); !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("tee proof on committee market: err = %v, want ErrInvalidProof", err)
	}

	hybrid := teeMarket(t, tee.Address().Hex())
	hybrid.Oracle.Kind = domain.OracleHybrid
	if err := v.Verify(hybrid, teeRes); err != nil {
		t.Errorf("tee proof on hybrid market rejected: %v", err)
	}

	voteSig, err := tee.SignVote("mkt-1", true)
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}
	hybrid.Oracle.CommitteeSize = 1
	hybrid.Oracle.CommitteeMembers = []string{tee.Address().Hex()}
	committeeRes := domain.Resolution{
		MarketID: "mkt-1", Outcome: true, Kind: domain.OracleCommittee,
		Signatures: [][]byte{voteSig},
	}
	if err := v.Verify(hybrid, committeeRes); err != nil {
		t.Errorf("committee proof on hybrid market rejected: %v", err)
	}

	unknown := domain.Resolution{MarketID: "mkt-1", Kind: "augur"}
	if err := v.Verify(hybrid, unknown); !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("unknown kind err = %v, want ErrInvalidProof", err)
	}
}
