package crypto

import (
	"bytes"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe512961708279c1f1cfa23c3c6e3a7b"

func TestNewSignerAcceptsOxPrefix(t *testing.T) {
	plain, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	prefixed, err := NewSigner("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner with prefix: %v", err)
	}
	if plain.Address() != prefixed.Address() {
		t.Errorf("addresses differ: %s vs %s", plain.Address(), prefixed.Address())
	}
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	if _, err := NewSigner("not-a-key"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignResolutionRoundTrip(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	sig, err := signer.SignResolution("mkt-1", true, 1700000000)
	if err != nil {
		t.Fatalf("SignResolution: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length %d, want 65", len(sig))
	}

	digest := ResolutionDigest("mkt-1", true, 1700000000)
	addr, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if addr != signer.Address() {
		t.Errorf("recovered %s, want %s", addr, signer.Address())
	}
}

func TestVerifyDigest(t *testing.T) {
	signer, _ := NewSigner(testKeyHex)
	digest := VoteDigest("mkt-1", false)
	sig, err := signer.SignVote("mkt-1", false)
	if err != nil {
		t.Fatalf("SignVote: %v", err)
	}

	if !VerifyDigest(digest, sig, signer.Address().Hex()) {
		t.Error("valid signature rejected")
	}
	if !VerifyDigest(digest, sig, strings.ToLower(signer.Address().Hex())) {
		t.Error("address comparison should be case-insensitive")
	}
	if VerifyDigest(digest, sig, "0x0000000000000000000000000000000000000001") {
		t.Error("signature verified against the wrong address")
	}

	tampered := make([]byte, len(sig))
	copy(tampered, sig)
	tampered[10] ^= 0xff
	if VerifyDigest(digest, tampered, signer.Address().Hex()) {
		t.Error("tampered signature verified")
	}
}

func TestRecoverSignerNormalizesLegacyV(t *testing.T) {
	signer, _ := NewSigner(testKeyHex)
	digest := ResolutionDigest("mkt-1", true, 42)
	sig, err := signer.SignResolution("mkt-1", true, 42)
	if err != nil {
		t.Fatalf("SignResolution: %v", err)
	}

	legacy := make([]byte, 65)
	copy(legacy, sig)
	legacy[64] += 27

	addr, err := RecoverSigner(digest, legacy)
	if err != nil {
		t.Fatalf("RecoverSigner legacy v: %v", err)
	}
	if addr != signer.Address() {
		t.Errorf("legacy-v recovery got %s, want %s", addr, signer.Address())
	}
}

func TestRecoverSignerRejectsBadLength(t *testing.T) {
	if _, err := RecoverSigner(make([]byte, 32), make([]byte, 64)); err == nil {
		t.Error("expected error for 64-byte signature")
	}
}

func TestDigestDomainSeparation(t *testing.T) {
	res := ResolutionDigest("mkt-1", true, 0)
	vote := VoteDigest("mkt-1", true)
	if bytes.Equal(res, vote) {
		t.Error("resolution and vote digests must differ for the same payload")
	}
	if len(res) != 32 || len(vote) != 32 {
		t.Errorf("digest lengths %d/%d, want 32", len(res), len(vote))
	}
}

func TestDigestSensitivity(t *testing.T) {
	base := ResolutionDigest("mkt-1", true, 100)
	if bytes.Equal(base, ResolutionDigest("mkt-2", true, 100)) {
		t.Error("digest ignores market id")
	}
	if bytes.Equal(base, ResolutionDigest("mkt-1", false, 100)) {
		t.Error("digest ignores outcome")
	}
	if bytes.Equal(base, ResolutionDigest("mkt-1", true, 101)) {
		t.Error("digest ignores timestamp")
	}

	// Votes on the same outcome are digest-identical regardless of when they
	// were cast, so agreeing members produce verifiable signature sets.
	if !bytes.Equal(VoteDigest("mkt-1", true), VoteDigest("mkt-1", true)) {
		t.Error("vote digest is not deterministic")
	}
}

func TestSignerAddressMatchesKey(t *testing.T) {
	signer, _ := NewSigner(testKeyHex)
	pk, err := ethcrypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	if signer.Address() != ethcrypto.PubkeyToAddress(pk.PublicKey) {
		t.Errorf("Address() does not match key-derived address")
	}
}
