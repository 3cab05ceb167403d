// Package eventdata is the client for the external event-data source the
// oracle consults for real-world outcomes.
package eventdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
	maxBackoff         = 8 * time.Second
)

// Client fetches event outcomes over HTTP with bounded retry and exponential
// backoff. Transient failures surface as wrapped ErrTransientIO once the
// retry budget is exhausted.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// New creates an event-data client for the given base URL. Zero values
// select the defaults.
func New(baseURL string, timeout time.Duration, maxRetries int, backoff time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		baseBackoff: backoff,
	}
}

// outcomeResponse is the event source's answer for a settled event.
type outcomeResponse struct {
	Settled bool `json:"settled"`
	Outcome bool `json:"outcome"`
}

// FetchOutcome returns the binary outcome for an event descriptor. An event
// that has not settled yet is a transient condition: the caller retries the
// whole resolution request later.
func (c *Client) FetchOutcome(ctx context.Context, descriptor string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/outcome?event=%s", c.baseURL, url.QueryEscape(descriptor))

	var lastErr error
	backoff := c.baseBackoff
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		outcome, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
	}
	return false, fmt.Errorf("eventdata: %s after %d attempts: %w (%v)",
		descriptor, c.maxRetries, domain.ErrTransientIO, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("eventdata: status %d", resp.StatusCode)
	}

	var out outcomeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	if !out.Settled {
		return false, fmt.Errorf("eventdata: event not settled")
	}
	return out.Outcome, nil
}
