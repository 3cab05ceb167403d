// Package teeservice is the client for the trusted-execution attestation
// service that produces quotes and resolution signatures inside the enclave.
package teeservice

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
)

const defaultTimeout = 15 * time.Second

// Client requests attestations over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a TEE service client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// attestRequest asks the enclave to attest an outcome for a market.
type attestRequest struct {
	MarketID  string `json:"market_id"`
	Outcome   bool   `json:"outcome"`
	Timestamp int64  `json:"timestamp"`
}

// attestResponse carries the quote and the enclave's signature over the
// (market_id, outcome, timestamp) payload, both hex-encoded.
type attestResponse struct {
	Quote     string `json:"quote"`
	Signature string `json:"signature"`
}

// RequestAttestation returns the quote and signature for the given payload.
// Network failures are wrapped as ErrTransientIO so callers can retry.
func (c *Client) RequestAttestation(ctx context.Context, marketID string, outcome bool, timestamp int64) ([]byte, []byte, error) {
	body, err := json.Marshal(attestRequest{
		MarketID:  marketID,
		Outcome:   outcome,
		Timestamp: timestamp,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("teeservice: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/attest", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("teeservice: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("teeservice: %w (%v)", domain.ErrTransientIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("teeservice: status %d: %w", resp.StatusCode, domain.ErrTransientIO)
	}

	var out attestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("teeservice: decode response: %w", err)
	}

	quote, err := hex.DecodeString(out.Quote)
	if err != nil {
		return nil, nil, fmt.Errorf("teeservice: invalid quote hex: %w", err)
	}
	signature, err := hex.DecodeString(out.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("teeservice: invalid signature hex: %w", err)
	}
	return quote, signature, nil
}
