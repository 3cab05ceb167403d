package oracle

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/oddstream/oddsd/internal/crypto"
	"github.com/oddstream/oddsd/internal/domain"
)

// fakeVoteStore records inserted votes in memory.
type fakeVoteStore struct {
	inserted []domain.CommitteeVote
	err      error
}

func (f *fakeVoteStore) Insert(_ context.Context, vote domain.CommitteeVote) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, vote)
	return nil
}

func (f *fakeVoteStore) ListByMarket(_ context.Context, marketID string) ([]domain.CommitteeVote, error) {
	var out []domain.CommitteeVote
	for _, v := range f.inserted {
		if v.MarketID == marketID {
			out = append(out, v)
		}
	}
	return out, nil
}

func committeeFixture(t *testing.T, size int) (*CommitteeResolver, *fakeVoteStore, []*crypto.Signer) {
	t.Helper()
	store := &fakeVoteStore{}
	resolver := NewCommitteeResolver(store, slog.Default())

	signers := make([]*crypto.Signer, size)
	members := make([]string, size)
	for i := range signers {
		signers[i] = testSigner(t, byte(20+i))
		members[i] = signers[i].Address().Hex()
	}
	resolver.Open("mkt-1", domain.OracleConfig{
		Kind:             domain.OracleCommittee,
		CommitteeSize:    size,
		CommitteeMembers: members,
	})
	return resolver, store, signers
}

func signedVote(t *testing.T, s *crypto.Signer, marketID string, outcome bool) domain.CommitteeVote {
	t.Helper()
	sig, err := s.SignVote(marketID, outcome)
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}
	return domain.CommitteeVote{
		MarketID:  marketID,
		Outcome:   outcome,
		Timestamp: 1700000000,
		Signature: sig,
	}
}

func TestSubmitVoteFinalizesAtMajority(t *testing.T) {
	resolver, store, signers := committeeFixture(t, 5)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, done, err := resolver.SubmitVote(ctx, signedVote(t, signers[i], "mkt-1", true))
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if done {
			t.Fatalf("finalized after %d votes, threshold is 3", i+1)
		}
		if res.MarketID != "" {
			t.Errorf("non-final vote returned a resolution")
		}
	}

	// A minority vote on the other outcome is recorded but does not block.
	if _, done, err := resolver.SubmitVote(ctx, signedVote(t, signers[4], "mkt-1", false)); err != nil || done {
		t.Fatalf("minority vote: done=%v err=%v", done, err)
	}

	res, done, err := resolver.SubmitVote(ctx, signedVote(t, signers[2], "mkt-1", true))
	if err != nil {
		t.Fatalf("finalizing vote: %v", err)
	}
	if !done {
		t.Fatal("third agreeing vote did not finalize")
	}
	if res.Kind != domain.OracleCommittee || res.Outcome != true {
		t.Errorf("resolution = %+v, want committee/true", res)
	}
	if len(res.Signatures) != 3 {
		t.Errorf("got %d signatures, want the 3 agreeing ones", len(res.Signatures))
	}

	// All four votes, minority included, reached the audit store.
	if len(store.inserted) != 4 {
		t.Errorf("audit store holds %d votes, want 4", len(store.inserted))
	}
}

func TestSubmitVoteRejectsDuplicateVoter(t *testing.T) {
	resolver, _, signers := committeeFixture(t, 5)
	ctx := context.Background()

	if _, _, err := resolver.SubmitVote(ctx, signedVote(t, signers[0], "mkt-1", true)); err != nil {
		t.Fatalf("first vote: %v", err)
	}

	// Same voter again, even switching outcome.
	_, _, err := resolver.SubmitVote(ctx, signedVote(t, signers[0], "mkt-1", false))
	if !errors.Is(err, domain.ErrDuplicateVote) {
		t.Errorf("err = %v, want ErrDuplicateVote", err)
	}
}

func TestSubmitVoteAfterFinalization(t *testing.T) {
	resolver, _, signers := committeeFixture(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := resolver.SubmitVote(ctx, signedVote(t, signers[i], "mkt-1", true)); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}

	_, _, err := resolver.SubmitVote(ctx, signedVote(t, signers[2], "mkt-1", true))
	if !errors.Is(err, domain.ErrVotingClosed) {
		t.Errorf("post-finalize err = %v, want ErrVotingClosed", err)
	}
}

func TestSubmitVoteUnknownMarket(t *testing.T) {
	resolver, _, signers := committeeFixture(t, 3)
	_, _, err := resolver.SubmitVote(context.Background(), signedVote(t, signers[0], "mkt-unknown", true))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSubmitVoteRejectsNonMember(t *testing.T) {
	resolver, _, _ := committeeFixture(t, 3)
	outsider := testSigner(t, 99)
	_, _, err := resolver.SubmitVote(context.Background(), signedVote(t, outsider, "mkt-1", true))
	if !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("err = %v, want ErrInvalidProof", err)
	}
}

func TestSubmitVoteIgnoresClaimedVoterField(t *testing.T) {
	resolver, store, signers := committeeFixture(t, 5)

	vote := signedVote(t, signers[0], "mkt-1", true)
	vote.Voter = signers[1].Address().Hex() // lie about identity

	if _, _, err := resolver.SubmitVote(context.Background(), vote); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if got := store.inserted[0].Voter; got != signers[0].Address().Hex() {
		t.Errorf("recorded voter %s, want recovered signer %s", got, signers[0].Address().Hex())
	}

	// The real signer's vote slot is consumed, not the claimed one's.
	if _, _, err := resolver.SubmitVote(context.Background(), signedVote(t, signers[0], "mkt-1", true)); !errors.Is(err, domain.ErrDuplicateVote) {
		t.Errorf("err = %v, want ErrDuplicateVote for real signer", err)
	}
	if _, _, err := resolver.SubmitVote(context.Background(), signedVote(t, signers[1], "mkt-1", true)); err != nil {
		t.Errorf("claimed voter's own vote rejected: %v", err)
	}
}

func TestSubmitVoteRejectsGarbageSignature(t *testing.T) {
	resolver, _, _ := committeeFixture(t, 3)
	_, _, err := resolver.SubmitVote(context.Background(), domain.CommitteeVote{
		MarketID:  "mkt-1",
		Outcome:   true,
		Signature: make([]byte, 65),
	})
	if !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("err = %v, want ErrInvalidProof", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	resolver, _, signers := committeeFixture(t, 3)
	ctx := context.Background()

	if _, _, err := resolver.SubmitVote(ctx, signedVote(t, signers[0], "mkt-1", true)); err != nil {
		t.Fatalf("vote: %v", err)
	}

	// Re-opening must not wipe the in-flight tally.
	resolver.Open("mkt-1", domain.OracleConfig{
		Kind:          domain.OracleCommittee,
		CommitteeSize: 3,
	})
	if _, _, err := resolver.SubmitVote(ctx, signedVote(t, signers[0], "mkt-1", true)); !errors.Is(err, domain.ErrDuplicateVote) {
		t.Errorf("tally reset by second Open: err = %v, want ErrDuplicateVote", err)
	}
}
