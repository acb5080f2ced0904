// Package linkedin resolves LinkedIn profiles. The primary path goes
// through the Proxycurl enrichment API; when the governor falls back to
// the scraper auth source the lookup is routed through the self-hosted
// scraper bridge instead. Both paths consume the same daily quota.
package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/ilg-ai/warden/pkg/auth"
	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/provider"
	"github.com/ilg-ai/warden/pkg/store"
)

const (
	defaultProxycurlURL = "https://nubela.co/proxycurl/api/v2/linkedin"
	defaultScraperURL   = "http://127.0.0.1:8841/v1/profile"

	// Auth source names from the provider table. The client switches
	// transport based on which source the governor handed out.
	sourceProxycurl = "proxycurl"
	sourceScraper   = "scraper"
)

// Profile is the normalized profile shape shared by both transports.
type Profile struct {
	PublicID   string `json:"public_identifier"`
	FullName   string `json:"full_name"`
	Headline   string `json:"headline"`
	Company    string `json:"company"`
	Location   string `json:"location"`
	FetchedVia string `json:"fetched_via"`
}

type Client struct {
	gov          provider.Governed
	http         *http.Client
	proxycurlURL string
	scraperURL   string
	log          zerolog.Logger
}

type Option func(*Client)

func WithProxycurlURL(u string) Option {
	return func(c *Client) { c.proxycurlURL = u }
}

func WithScraperURL(u string) Option {
	return func(c *Client) { c.scraperURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(gov provider.Governed, opts ...Option) *Client {
	c := &Client{
		gov:          gov,
		http:         &http.Client{Timeout: 60 * time.Second},
		proxycurlURL: defaultProxycurlURL,
		scraperURL:   defaultScraperURL,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetProfile fetches one profile by its public LinkedIn URL. The
// governor decides which auth source serves the call; the client only
// routes accordingly.
func (c *Client) GetProfile(ctx context.Context, profileURL string) (*Profile, error) {
	dec, err := c.gov.WaitUntilAllowed(ctx, provider.LinkedIn)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, dec.Err()
	}

	cred, err := auth.ResolveCredential(dec.AuthSource.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve linkedin credential: %w", err)
	}

	var req *http.Request
	switch dec.AuthSource.Name {
	case sourceScraper:
		req, err = c.scraperRequest(ctx, profileURL, cred)
	default:
		req, err = c.proxycurlRequest(ctx, profileURL, cred)
	}
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The upstream may have seen the request even though the
		// response never arrived, so the call still counts.
		if recErr := c.gov.Record(ctx, provider.LinkedIn, governor.CallResult{
			Outcome:    store.OutcomeFailure,
			AuthSource: dec.AuthSource.Name,
		}); recErr != nil {
			return nil, recErr
		}
		return nil, fmt.Errorf("linkedin profile request failed: %w", err)
	}
	defer resp.Body.Close()

	outcome, quotaRejected := provider.ClassifyStatus(resp.StatusCode)
	if recErr := c.gov.Record(ctx, provider.LinkedIn, governor.CallResult{
		Outcome:       outcome,
		AuthSource:    dec.AuthSource.Name,
		QuotaRejected: quotaRejected,
	}); recErr != nil {
		return nil, recErr
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("linkedin lookup via %s returned status %d",
			dec.AuthSource.Name, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode linkedin profile: %w", err)
	}
	p.FetchedVia = dec.AuthSource.Name

	c.log.Info().
		Str("profile", profileURL).
		Str("via", dec.AuthSource.Name).
		Msg("linkedin profile fetched")
	return &p, nil
}

func (c *Client) proxycurlRequest(ctx context.Context, profileURL, apiKey string) (*http.Request, error) {
	q := url.Values{}
	q.Set("linkedin_profile_url", profileURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s?%s", c.proxycurlURL, q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

func (c *Client) scraperRequest(ctx context.Context, profileURL, sessionCookie string) (*http.Request, error) {
	q := url.Values{}
	q.Set("url", profileURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s?%s", c.scraperURL, q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", "li_at="+sessionCookie)
	return req, nil
}
