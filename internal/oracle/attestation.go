package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oddstream/oddsd/internal/crypto"
	"github.com/oddstream/oddsd/internal/domain"
)

// defaultAttestationTimeout bounds the remote quote verification call.
const defaultAttestationTimeout = 10 * time.Second

// AttestationVerifier validates a trusted-execution quote against a remote
// attestation service and checks the accompanying signature over the event
// data. It retains no state between calls; from the caller's perspective it
// is a pure verification function that happens to perform I/O.
type AttestationVerifier struct {
	serviceURL string
	httpClient *http.Client
}

// NewAttestationVerifier creates a verifier pointed at an attestation
// service endpoint (Intel SGX DCAP or compatible).
func NewAttestationVerifier(serviceURL string, timeout time.Duration) *AttestationVerifier {
	if timeout <= 0 {
		timeout = defaultAttestationTimeout
	}
	return &AttestationVerifier{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// attestationRequest is the wire format sent to the attestation service.
type attestationRequest struct {
	Quote     string `json:"quote"`
	PublicKey string `json:"public_key"`
}

// attestationResult is the service's verdict on a quote.
type attestationResult struct {
	IsValid bool   `json:"is_valid"`
	Message string `json:"message,omitempty"`
}

// Verify returns nil only when (a) the attestation service confirms the quote
// was issued by a recognized TEE for teeAddress, and (b) signature is a valid
// secp256k1 signature over the (market_id, outcome, timestamp) event payload
// recovering to teeAddress. Both checks are conjunctive. A transport failure
// is reported as a wrapped ErrTransientIO so the caller can retry, but it is
// never treated as success.
func (a *AttestationVerifier) Verify(ctx context.Context, quote, signature []byte, marketID string, outcome bool, timestamp int64, teeAddress string) error {
	if err := a.verifyQuote(ctx, quote, teeAddress); err != nil {
		return err
	}

	digest := crypto.ResolutionDigest(marketID, outcome, timestamp)
	if !crypto.VerifyDigest(digest, signature, teeAddress) {
		return fmt.Errorf("oracle: event signature does not recover to %s: %w", teeAddress, domain.ErrInvalidProof)
	}
	return nil
}

func (a *AttestationVerifier) verifyQuote(ctx context.Context, quote []byte, teeAddress string) error {
	body, err := json.Marshal(attestationRequest{
		Quote:     hex.EncodeToString(quote),
		PublicKey: teeAddress,
	})
	if err != nil {
		return fmt.Errorf("oracle: marshal attestation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serviceURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("oracle: build attestation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oracle: attestation service unreachable: %w (%v)", domain.ErrTransientIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle: attestation service status %d: %w", resp.StatusCode, domain.ErrTransientIO)
	}

	var result attestationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("oracle: decode attestation result: %w (%v)", domain.ErrTransientIO, err)
	}
	if !result.IsValid {
		return fmt.Errorf("oracle: quote rejected (%s): %w", result.Message, domain.ErrInvalidProof)
	}
	return nil
}
