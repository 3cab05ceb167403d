package domain

import "time"

// Amount is a fixed-point money/stake value in micro-units (value * 1e6).
// All pool arithmetic is integer arithmetic on Amounts; floats appear only in
// derived display values such as odds.
type Amount int64

// Float returns the display value of the amount.
func (a Amount) Float() float64 {
	return float64(a) / 1e6
}

// AmountFromFloat converts a display value into micro-units.
func AmountFromFloat(v float64) Amount {
	return Amount(v * 1e6)
}

// MarketStatus represents the lifecycle state of a market. A market is Open
// until exactly one valid resolution is applied, after which it is Resolved
// forever. There is no third state and no way back.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// OracleKind selects the resolution protocol configured for a market.
type OracleKind string

const (
	// OracleFastTee resolves through a single trusted-execution attestation.
	OracleFastTee OracleKind = "fast_tee"
	// OracleCommittee resolves through a majority of independent signers.
	OracleCommittee OracleKind = "committee"
	// OracleHybrid accepts whichever of the two proofs arrives first.
	OracleHybrid OracleKind = "hybrid"
)

// OracleConfig is the tagged oracle variant attached to a market at creation.
// TeeAddress is the secp256k1 address the TEE signing key recovers to;
// CommitteeSize and CommitteeMembers configure the vote path. For Hybrid
// markets all fields may be populated.
type OracleConfig struct {
	Kind             OracleKind
	TeeAddress       string
	CommitteeSize    int
	CommitteeMembers []string
}

// Threshold returns the number of distinct agreeing votes required to
// finalize a committee resolution: a strict majority of the committee.
func (c OracleConfig) Threshold() int {
	return c.CommitteeSize/2 + 1
}

// Market is the settlement state of one prediction market. Pools, positions,
// and the replay ledger are mutated only by the settlement engine, strictly
// one message at a time.
type Market struct {
	ID          string
	Description string

	// EventSource is the real-world event descriptor handed to the oracle
	// when this market is adjudicated.
	EventSource    string
	Status         MarketStatus
	Outcome        bool // meaningful only when Status == MarketStatusResolved
	PoolYes        Amount
	PoolNo         Amount
	YesOdds        float64
	NoOdds         float64
	Oracle         OracleConfig
	ResolutionTime time.Time

	// Positions accumulates per-sender stakes, keyed by sender identity.
	// Retained after resolution for payout claims.
	Positions map[string]Position

	// LastNonce is the replay ledger: the last accepted batch nonce per
	// sender. A batch is accepted only with a strictly greater nonce.
	LastNonce map[string]uint64

	CreatedAt  time.Time
	ResolvedAt *time.Time
	UpdatedAt  time.Time
}

// Position is one sender's accumulated stake on each side of a market.
type Position struct {
	YesStake Amount `json:"yes_stake"`
	NoStake  Amount `json:"no_stake"`
}

// NewMarket returns an Open market with empty pools and even odds.
func NewMarket(id, description string, oracle OracleConfig, resolutionTime time.Time, now time.Time) *Market {
	return &Market{
		ID:             id,
		Description:    description,
		Status:         MarketStatusOpen,
		PoolYes:        0,
		PoolNo:         0,
		YesOdds:        0.5,
		NoOdds:         0.5,
		Oracle:         oracle,
		ResolutionTime: resolutionTime,
		Positions:      make(map[string]Position),
		LastNonce:      make(map[string]uint64),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TotalPool returns the combined stake on both sides.
func (m *Market) TotalPool() Amount {
	return m.PoolYes + m.PoolNo
}
