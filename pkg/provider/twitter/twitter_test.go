package twitter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ilg-ai/warden/pkg/auth"
	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/store"
)

// stubGov admits every call and remembers what got recorded.
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

func TestSearchRecentRecordsSuccess(t *testing.T) {
	t.Setenv("TWITTER_BEARER_TOKEN", "tok-123")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("query"); got != "golang" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(`{"data":[{"id":"1","text":"hi","author_id":"a"}]}`))
	}))
	defer srv.Close()

	gov := &stubGov{source: auth.Source{Name: "bearer", CredentialRef: "env:TWITTER_BEARER_TOKEN"}}
	c := NewClient(gov, WithBaseURL(srv.URL))

	tweets, err := c.SearchRecent(context.Background(), "golang", 10)
	if err != nil {
		t.Fatalf("SearchRecent: %v", err)
	}
	if len(tweets) != 1 || tweets[0].ID != "1" {
		t.Fatalf("unexpected tweets: %+v", tweets)
	}

	if len(gov.recorded) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(gov.recorded))
	}
	rec := gov.recorded[0]
	if rec.Outcome != store.OutcomeSuccess || rec.QuotaRejected {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.AuthSource != "bearer" {
		t.Fatalf("auth source = %q", rec.AuthSource)
	}
}

func TestSearchRecentRecordsQuotaRejection(t *testing.T) {
	// A 429 from the platform must be recorded as a failure with the
	// quota-rejected flag set so the governor exhausts the source.
	t.Setenv("TWITTER_BEARER_TOKEN", "tok-123")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gov := &stubGov{source: auth.Source{Name: "bearer", CredentialRef: "env:TWITTER_BEARER_TOKEN"}}
	c := NewClient(gov, WithBaseURL(srv.URL))

	if _, err := c.SearchRecent(context.Background(), "golang", 10); err == nil {
		t.Fatal("expected error on 429")
	}

	if len(gov.recorded) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(gov.recorded))
	}
	rec := gov.recorded[0]
	if rec.Outcome != store.OutcomeFailure || !rec.QuotaRejected {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestSearchRecentDeniedDecision(t *testing.T) {
	gov := &deniedGov{}
	c := NewClient(gov)

	_, err := c.SearchRecent(context.Background(), "golang", 10)
	if err == nil {
		t.Fatal("expected denial error")
	}
	var denied *governor.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %T: %v", err, err)
	}
}

type deniedGov struct{}

func (d *deniedGov) WaitUntilAllowed(ctx context.Context, p string) (governor.Decision, error) {
	return governor.Decision{Provider: p, Allowed: false, Reason: governor.DenyHardStopReached}, nil
}

func (d *deniedGov) Record(ctx context.Context, p string, res governor.CallResult) error {
	return nil
}
