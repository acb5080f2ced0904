// Package twitter searches recent tweets through the X API v2 read
// endpoints. The monthly read cap is the tightest quota in the whole
// system, so every call that reaches the API is recorded, success or
// failure.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ilg-ai/warden/pkg/auth"
	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/provider"
	"github.com/ilg-ai/warden/pkg/store"
)

const defaultBaseURL = "https://api.x.com/2"

// Tweet is one search result.
type Tweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Client struct {
	gov     provider.Governed
	http    *http.Client
	baseURL string
	log     zerolog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(gov provider.Governed, opts ...Option) *Client {
	c := &Client{
		gov:     gov,
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultBaseURL,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchRecent returns recent tweets matching the query.
func (c *Client) SearchRecent(ctx context.Context, query string, maxResults int) ([]Tweet, error) {
	dec, err := c.gov.WaitUntilAllowed(ctx, provider.Twitter)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, dec.Err()
	}

	token, err := auth.ResolveCredential(dec.AuthSource.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve twitter credential: %w", err)
	}

	q := url.Values{}
	q.Set("query", query)
	if maxResults > 0 {
		q.Set("max_results", strconv.Itoa(maxResults))
	}
	q.Set("tweet.fields", "author_id,created_at")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/tweets/search/recent?%s", c.baseURL, q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		// The request may have reached the API before failing, so it
		// is counted against the window.
		if recErr := c.gov.Record(ctx, provider.Twitter, governor.CallResult{
			Outcome:    store.OutcomeFailure,
			AuthSource: dec.AuthSource.Name,
		}); recErr != nil {
			return nil, recErr
		}
		return nil, fmt.Errorf("twitter search request failed: %w", err)
	}
	defer resp.Body.Close()

	outcome, quotaRejected := provider.ClassifyStatus(resp.StatusCode)
	if recErr := c.gov.Record(ctx, provider.Twitter, governor.CallResult{
		Outcome:       outcome,
		AuthSource:    dec.AuthSource.Name,
		QuotaRejected: quotaRejected,
	}); recErr != nil {
		return nil, recErr
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("twitter search returned status %d", resp.StatusCode)
	}

	var body struct {
		Data []Tweet `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode twitter response: %w", err)
	}

	c.log.Info().Int("results", len(body.Data)).Str("query", query).Msg("twitter search complete")
	return body.Data, nil
}
