package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
)

func attestationServer(t *testing.T, verdict func(req attestationRequest) attestationResult) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req attestationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(verdict(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAttestationVerifyAccepts(t *testing.T) {
	tee := testSigner(t, 1)
	quote := []byte("sgx-quote-bytes")

	srv := attestationServer(t, func(req attestationRequest) attestationResult {
		if req.Quote != hex.EncodeToString(quote) {
			t.Errorf("service received quote %q", req.Quote)
		}
		if req.PublicKey != tee.Address().Hex() {
			t.Errorf("service received public key %q", req.PublicKey)
		}
		return attestationResult{IsValid: true}
	})

	sig, err := tee.SignResolution("mkt-1", true, 1700000000)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := NewAttestationVerifier(srv.URL, time.Second)
	if err := v.Verify(context.Background(), quote, sig, "mkt-1", true, 1700000000, tee.Address().Hex()); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestAttestationVerifyRejectedQuote(t *testing.T) {
	tee := testSigner(t, 1)
	srv := attestationServer(t, func(attestationRequest) attestationResult {
		return attestationResult{IsValid: false, Message: "measurement mismatch"}
	})

	sig, _ := tee.SignResolution("mkt-1", true, 1700000000)
	v := NewAttestationVerifier(srv.URL, time.Second)
	err := v.Verify(context.Background(), []byte("quote"), sig, "mkt-1", true, 1700000000, tee.Address().Hex())
	if !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("err = %v, want ErrInvalidProof", err)
	}
}

func TestAttestationVerifyValidQuoteBadSignature(t *testing.T) {
	tee := testSigner(t, 1)
	imposter := testSigner(t, 2)
	srv := attestationServer(t, func(attestationRequest) attestationResult {
		return attestationResult{IsValid: true}
	})

	// The quote check passing is not enough; the event signature must also
	// recover to the attested address.
	sig, _ := imposter.SignResolution("mkt-1", true, 1700000000)
	v := NewAttestationVerifier(srv.URL, time.Second)
	err := v.Verify(context.Background(), []byte("quote"), sig, "mkt-1", true, 1700000000, tee.Address().Hex())
	if !errors.Is(err, domain.ErrInvalidProof) {
		t.Errorf("err = %v, want ErrInvalidProof", err)
	}
}

func TestAttestationVerifyServiceUnreachable(t *testing.T) {
	tee := testSigner(t, 1)
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	sig, _ := tee.SignResolution("mkt-1", true, 1700000000)
	v := NewAttestationVerifier(srv.URL, time.Second)
	err := v.Verify(context.Background(), []byte("quote"), sig, "mkt-1", true, 1700000000, tee.Address().Hex())
	if !errors.Is(err, domain.ErrTransientIO) {
		t.Errorf("err = %v, want ErrTransientIO", err)
	}
}

func TestAttestationVerifyServiceError(t *testing.T) {
	tee := testSigner(t, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	sig, _ := tee.SignResolution("mkt-1", true, 1700000000)
	v := NewAttestationVerifier(srv.URL, time.Second)
	err := v.Verify(context.Background(), []byte("quote"), sig, "mkt-1", true, 1700000000, tee.Address().Hex())
	if !errors.Is(err, domain.ErrTransientIO) {
		t.Errorf("err = %v, want ErrTransientIO", err)
	}
}
