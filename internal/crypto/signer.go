// Package crypto provides oracle key management and secp256k1 signing and
// recovery for resolution proofs and committee votes.
package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain-separation prefixes baked into every digest so a resolution
// signature can never be replayed as a vote and vice versa.
var (
	resolutionPrefix = []byte("oddstream/resolution/v1")
	votePrefix       = []byte("oddstream/vote/v1")
)

// ResolutionDigest returns the 32-byte keccak256 digest a TEE or committee
// member signs to attest an outcome: prefix || market_id || outcome ||
// timestamp (big-endian seconds).
func ResolutionDigest(marketID string, outcome bool, timestamp int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			resolutionPrefix,
			[]byte(marketID),
			boolByte(outcome),
			uint64To8Bytes(uint64(timestamp)),
		),
	)
}

// VoteDigest returns the digest a committee member signs when casting a
// vote. It deliberately omits a timestamp so that every member attesting the
// same outcome signs the same digest, which lets the finalized signature set
// be verified without carrying per-vote metadata.
func VoteDigest(marketID string, outcome bool) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			votePrefix,
			[]byte(marketID),
			boolByte(outcome),
		),
	)
}

// Signer signs resolution digests and committee votes with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignResolution signs a resolution digest and returns the 65-byte signature
// (r || s || v).
func (s *Signer) SignResolution(marketID string, outcome bool, timestamp int64) ([]byte, error) {
	return s.signDigest(ResolutionDigest(marketID, outcome, timestamp))
}

// SignVote signs a committee vote digest.
func (s *Signer) SignVote(marketID string, outcome bool) ([]byte, error) {
	return s.signDigest(VoteDigest(marketID, outcome))
}

func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	return sig, nil
}

// RecoverSigner recovers the address that produced sig over digest. It
// accepts v in {0,1} as well as the legacy {27,28} encoding.
func RecoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyDigest reports whether sig over digest recovers to the expected
// address (hex, case-insensitive).
func VerifyDigest(digest, sig []byte, expected string) bool {
	addr, err := RecoverSigner(digest, sig)
	if err != nil {
		return false
	}
	return addr == common.HexToAddress(expected)
}

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

func uint64To8Bytes(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
