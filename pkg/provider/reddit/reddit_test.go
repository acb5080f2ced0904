package reddit

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

func TestSearchSubreddit(t *testing.T) {
	t.Setenv("REDDIT_CLIENT_SECRET", "rd-secret")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer rd-secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != defaultUserAgent {
			t.Errorf("User-Agent = %q", got)
		}
		if got := r.URL.Path; got != "/r/sales/search" {
			t.Errorf("path = %q", got)
		}
		if got := r.URL.Query().Get("restrict_sr"); got != "1" {
			t.Errorf("restrict_sr = %q", got)
		}
		w.Write([]byte(`{"data":{"children":[{"data":{"id":"p1","subreddit":"sales","title":"intro tools","author":"u1","score":12}}]}}`))
	}))
	defer srv.Close()

	gov := &stubGov{source: auth.Source{Name: "oauth-script", CredentialRef: "env:REDDIT_CLIENT_SECRET"}}
	c := NewClient(gov, WithBaseURL(srv.URL))

	posts, err := c.SearchSubreddit(context.Background(), "sales", "intro tools", 25)
	if err != nil {
		t.Fatalf("SearchSubreddit: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "p1" || posts[0].Score != 12 {
		t.Fatalf("unexpected posts: %+v", posts)
	}
	if len(gov.recorded) != 1 || gov.recorded[0].Outcome != store.OutcomeSuccess {
		t.Fatalf("unexpected records: %+v", gov.recorded)
	}
}

func TestSearchSubredditRateLimited(t *testing.T) {
	t.Setenv("REDDIT_CLIENT_SECRET", "rd-secret")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gov := &stubGov{source: auth.Source{Name: "oauth-script", CredentialRef: "env:REDDIT_CLIENT_SECRET"}}
	c := NewClient(gov, WithBaseURL(srv.URL))

	if _, err := c.SearchSubreddit(context.Background(), "sales", "intro", 25); err == nil {
		t.Fatal("expected error on 429")
	}
	if len(gov.recorded) != 1 || !gov.recorded[0].QuotaRejected {
		t.Fatalf("429 should record a quota rejection: %+v", gov.recorded)
	}
}
