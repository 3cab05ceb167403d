package domain

import "time"

// Resolution is the message that closes a market. Proof carries one TEE
// signature or a set of committee signatures over the resolution digest,
// depending on OracleKind. Re-delivery of a resolution to an already
// resolved market is a no-op.
type Resolution struct {
	MarketID  string
	Outcome   bool
	Timestamp int64 // unix seconds, part of the signed digest
	Kind      OracleKind
	// Signatures holds 65-byte secp256k1 signatures (r||s||v). Exactly one
	// for fast_tee, at least Threshold() agreeing ones for committee.
	Signatures [][]byte
}

// ResolutionRequest asks the oracle adjudicator to resolve a market. Exactly
// one of the two path configurations is meaningful, selected by Kind.
type ResolutionRequest struct {
	MarketID    string
	EventSource string // descriptor handed to the event-data collaborator
	Kind        OracleKind
	// TeeAddress is the expected attestation signing address (fast_tee path).
	TeeAddress string
	// CommitteeSize is the configured committee size (committee path).
	CommitteeSize int
	// CommitteeMembers is the admitted signer set (committee path).
	CommitteeMembers []string
}

// CommitteeVote is one signed outcome claim from a committee member. The
// voter identity is the address recovered from the signature; Voter is kept
// alongside for auditing.
type CommitteeVote struct {
	MarketID  string
	Voter     string
	Outcome   bool
	Timestamp int64
	Signature []byte
	CastAt    time.Time
}

// PayoutTable is the terminal accounting of a resolved market: each winning
// stake unit receives a pro-rata share of the combined pool. The integer
// division remainder is assigned to the reserve account so that the sum of
// all entries equals the combined pool exactly.
type PayoutTable struct {
	MarketID string
	Outcome  bool
	// Payouts maps sender identity to payout amount.
	Payouts map[string]Amount
	// Reserve is the rounding remainder credited to the protocol account.
	Reserve Amount
	// Total is PoolYes + PoolNo at resolution; invariant:
	// sum(Payouts) + Reserve == Total.
	Total Amount
}
