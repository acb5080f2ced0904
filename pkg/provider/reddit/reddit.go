// Package reddit searches subreddits through the OAuth API. Reddit is
// the most forgiving provider in the table but carries a throttle
// sub-window, so callers should expect the governor to pace them well
// below the nominal rate.
package reddit

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

const (
	defaultBaseURL   = "https://oauth.reddit.com"
	defaultUserAgent = "warden-collector/1.0"
)

// Post is one search hit.
type Post struct {
	ID        string  `json:"id"`
	Subreddit string  `json:"subreddit"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Score     int     `json:"score"`
	CreatedAt float64 `json:"created_utc"`
	Permalink string  `json:"permalink"`
}

type Client struct {
	gov       provider.Governed
	http      *http.Client
	baseURL   string
	userAgent string
	log       zerolog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(gov provider.Governed, opts ...Option) *Client {
	c := &Client{
		gov:       gov,
		http:      &http.Client{Timeout: 30 * time.Second},
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchSubreddit runs a restricted search inside one subreddit.
func (c *Client) SearchSubreddit(ctx context.Context, subreddit, query string, limit int) ([]Post, error) {
	dec, err := c.gov.WaitUntilAllowed(ctx, provider.Reddit)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, dec.Err()
	}

	token, err := auth.ResolveCredential(dec.AuthSource.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reddit credential: %w", err)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("restrict_sr", "1")
	q.Set("sort", "new")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/r/%s/search?%s", c.baseURL, url.PathEscape(subreddit), q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if recErr := c.gov.Record(ctx, provider.Reddit, governor.CallResult{
			Outcome:    store.OutcomeFailure,
			AuthSource: dec.AuthSource.Name,
		}); recErr != nil {
			return nil, recErr
		}
		return nil, fmt.Errorf("reddit search request failed: %w", err)
	}
	defer resp.Body.Close()

	outcome, quotaRejected := provider.ClassifyStatus(resp.StatusCode)
	if recErr := c.gov.Record(ctx, provider.Reddit, governor.CallResult{
		Outcome:       outcome,
		AuthSource:    dec.AuthSource.Name,
		QuotaRejected: quotaRejected,
	}); recErr != nil {
		return nil, recErr
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit search returned status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Children []struct {
				Data Post `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode reddit response: %w", err)
	}

	posts := make([]Post, 0, len(body.Data.Children))
	for _, child := range body.Data.Children {
		posts = append(posts, child.Data)
	}

	c.log.Info().
		Str("subreddit", subreddit).
		Int("results", len(posts)).
		Msg("reddit search complete")
	return posts, nil
}
