// Package oracle implements the dual-path resolution protocol: a low-latency
// trusted-execution attestation path and a committee vote path, plus the
// adjudicator that drives them and the proof verifier the settlement engine
// dispatches on.
package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/oddstream/oddsd/internal/crypto"
	"github.com/oddstream/oddsd/internal/domain"
)

// ProofVerifier validates resolution proofs against a market's oracle
// configuration. It performs only local signature recovery; the remote
// attestation check happens earlier, in the adjudicator, before a Resolution
// is ever emitted.
type ProofVerifier struct{}

// NewProofVerifier creates a ProofVerifier.
func NewProofVerifier() *ProofVerifier {
	return &ProofVerifier{}
}

// Verify checks that the proof kind is admissible for the market's oracle and
// that the signatures authenticate the claimed outcome. Hybrid markets accept
// either proof kind; otherwise the kinds must match.
func (v *ProofVerifier) Verify(market *domain.Market, res domain.Resolution) error {
	cfg := market.Oracle
	if cfg.Kind != domain.OracleHybrid && cfg.Kind != res.Kind {
		return fmt.Errorf("oracle: %s proof on %s market: %w", res.Kind, cfg.Kind, domain.ErrInvalidProof)
	}

	switch res.Kind {
	case domain.OracleFastTee:
		return verifyTeeProof(market.ID, cfg, res)
	case domain.OracleCommittee:
		return verifyCommitteeProof(market.ID, cfg, res)
	default:
		return fmt.Errorf("oracle: unknown proof kind %q: %w", res.Kind, domain.ErrInvalidProof)
	}
}

func verifyTeeProof(marketID string, cfg domain.OracleConfig, res domain.Resolution) error {
	if len(res.Signatures) != 1 {
		return fmt.Errorf("oracle: tee proof needs exactly one signature, got %d: %w",
			len(res.Signatures), domain.ErrInvalidProof)
	}
	digest := crypto.ResolutionDigest(marketID, res.Outcome, res.Timestamp)
	if !crypto.VerifyDigest(digest, res.Signatures[0], cfg.TeeAddress) {
		return fmt.Errorf("oracle: tee signature does not recover to %s: %w",
			cfg.TeeAddress, domain.ErrInvalidProof)
	}
	return nil
}

func verifyCommitteeProof(marketID string, cfg domain.OracleConfig, res domain.Resolution) error {
	digest := crypto.VoteDigest(marketID, res.Outcome)
	members := make(map[common.Address]bool, len(cfg.CommitteeMembers))
	for _, m := range cfg.CommitteeMembers {
		members[common.HexToAddress(m)] = true
	}

	agreed := make(map[common.Address]struct{})
	for _, sig := range res.Signatures {
		addr, err := crypto.RecoverSigner(digest, sig)
		if err != nil {
			continue
		}
		if len(members) > 0 && !members[addr] {
			continue
		}
		agreed[addr] = struct{}{}
	}

	if len(agreed) < cfg.Threshold() {
		return fmt.Errorf("oracle: %d distinct committee signatures, need %d of %d: %w",
			len(agreed), cfg.Threshold(), cfg.CommitteeSize, domain.ErrInvalidProof)
	}
	return nil
}
