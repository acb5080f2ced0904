// Package client is the Go SDK for collectors that talk to warden-d
// over HTTP instead of linking the governor in-process. Admit is
// fail-closed: if the daemon cannot be reached the answer is a denial,
// never a silent pass.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ilg-ai/warden/pkg/api"
	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/store"
)

// Client talks to a warden-d instance.
type Client struct {
	endpoint string
	http     *http.Client
	retry    BackoffStrategy
	attempts int
}

// NewClient creates a new client. endpoint defaults to
// "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry:    DefaultBackoff(),
		attempts: 3,
	}
}

// Admit asks the daemon whether one call to provider may proceed.
// Transient daemon failures (network, 5xx) are retried with backoff and
// then returned as a denial.
func (c *Client) Admit(ctx context.Context, provider string) (governor.Decision, error) {
	if provider == "" {
		return governor.Decision{}, fmt.Errorf("provider is required")
	}

	body, err := json.Marshal(api.AdmitRequest{Provider: provider})
	if err != nil {
		return governor.Decision{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		dec, retryable, err := c.admitOnce(ctx, provider, body)
		if err == nil {
			return dec, nil
		}
		if !retryable || attempt >= c.attempts-1 {
			return failClosed(provider), nil
		}
		select {
		case <-time.After(c.retry.Next(attempt)):
		case <-ctx.Done():
			return failClosed(provider), ctx.Err()
		}
	}
}

func (c *Client) admitOnce(ctx context.Context, provider string, body []byte) (governor.Decision, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/admit", bytes.NewReader(body))
	if err != nil {
		return governor.Decision{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return governor.Decision{}, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return governor.Decision{}, true, fmt.Errorf("daemon returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return governor.Decision{}, false, fmt.Errorf("unknown provider %q", provider)
	case resp.StatusCode != http.StatusOK:
		return governor.Decision{}, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var dec governor.Decision
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		return governor.Decision{}, false, fmt.Errorf("failed to decode decision: %w", err)
	}
	return dec, false, nil
}

// Record reports a completed call to the daemon.
func (c *Client) Record(ctx context.Context, provider string, outcome store.Outcome, authSource string, quotaRejected bool) error {
	body, err := json.Marshal(api.RecordRequest{
		Provider:      provider,
		Outcome:       string(outcome),
		AuthSource:    authSource,
		QuotaRejected: quotaRejected,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/record", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("record returned status %d", resp.StatusCode)
	}
	return nil
}

// Status fetches the full provider table state.
func (c *Client) Status(ctx context.Context) ([]governor.ProviderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/status", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status returned %d", resp.StatusCode)
	}

	var statuses []governor.ProviderStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Usage fetches recent ledger records, newest first.
func (c *Client) Usage(ctx context.Context, provider string, limit int) ([]*store.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	url := fmt.Sprintf("%s/v1/usage?limit=%d", c.endpoint, limit)
	if provider != "" {
		url += "&provider=" + provider
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage returned %d", resp.StatusCode)
	}

	var records []*store.UsageRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// Ping checks daemon health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	return nil
}

// failClosed denies when the daemon's answer cannot be obtained. The
// quota budget cannot be verified, so the call must not go out.
func failClosed(provider string) governor.Decision {
	return governor.Decision{
		Provider: provider,
		Allowed:  false,
		Reason:   governor.DenyReason("daemon_unreachable"),
	}
}
