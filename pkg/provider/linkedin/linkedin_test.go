package linkedin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ilg-ai/warden/pkg/auth"
	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/store"
)

type stubGov struct {
	source   auth.Source
	recorded []governor.CallResult
}

func (s *stubGov) WaitUntilAllowed(ctx context.Context, p string) (governor.Decision, error) {
	return governor.Decision{Provider: p, Allowed: true, AuthSource: s.source}, nil
}

func (s *stubGov) Record(ctx context.Context, p string, res governor.CallResult) error {
	s.recorded = append(s.recorded, res)
	return nil
}

func TestGetProfileViaProxycurl(t *testing.T) {
	t.Setenv("PROXYCURL_API_KEY", "pc-key")

	proxycurl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer pc-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("linkedin_profile_url"); got != "https://linkedin.com/in/jdoe" {
			t.Errorf("linkedin_profile_url = %q", got)
		}
		w.Write([]byte(`{"public_identifier":"jdoe","full_name":"J. Doe","headline":"VP Eng"}`))
	}))
	defer proxycurl.Close()

	gov := &stubGov{source: auth.Source{Name: "proxycurl", CredentialRef: "env:PROXYCURL_API_KEY", Priority: 1}}
	c := NewClient(gov, WithProxycurlURL(proxycurl.URL))

	p, err := c.GetProfile(context.Background(), "https://linkedin.com/in/jdoe")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.PublicID != "jdoe" || p.FetchedVia != "proxycurl" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if len(gov.recorded) != 1 || gov.recorded[0].Outcome != store.OutcomeSuccess {
		t.Fatalf("unexpected records: %+v", gov.recorded)
	}
}

func TestGetProfileRoutesToScraperSource(t *testing.T) {
	// When the selector falls back to the scraper source the same
	// lookup must go to the scraper bridge with the session cookie,
	// not to Proxycurl.
	t.Setenv("LINKEDIN_SESSION_COOKIE", "sess-abc")

	proxycurlHit := false
	proxycurl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxycurlHit = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer proxycurl.Close()

	scraper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); got != "li_at=sess-abc" {
			t.Errorf("Cookie = %q", got)
		}
		w.Write([]byte(`{"public_identifier":"jdoe","full_name":"J. Doe"}`))
	}))
	defer scraper.Close()

	gov := &stubGov{source: auth.Source{Name: "scraper", CredentialRef: "env:LINKEDIN_SESSION_COOKIE", Priority: 2}}
	c := NewClient(gov, WithProxycurlURL(proxycurl.URL), WithScraperURL(scraper.URL))

	p, err := c.GetProfile(context.Background(), "https://linkedin.com/in/jdoe")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if proxycurlHit {
		t.Fatal("proxycurl endpoint was hit for a scraper-sourced call")
	}
	if p.FetchedVia != "scraper" {
		t.Fatalf("FetchedVia = %q", p.FetchedVia)
	}
}

func TestGetProfileQuotaRejectionRecorded(t *testing.T) {
	t.Setenv("PROXYCURL_API_KEY", "pc-key")

	proxycurl := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer proxycurl.Close()

	gov := &stubGov{source: auth.Source{Name: "proxycurl", CredentialRef: "env:PROXYCURL_API_KEY"}}
	c := NewClient(gov, WithProxycurlURL(proxycurl.URL))

	if _, err := c.GetProfile(context.Background(), "https://linkedin.com/in/jdoe"); err == nil {
		t.Fatal("expected error on 403")
	}
	if len(gov.recorded) != 1 {
		t.Fatalf("expected 1 record, got %d", len(gov.recorded))
	}
	if !gov.recorded[0].QuotaRejected {
		t.Fatal("403 should be recorded as a quota rejection")
	}
}
