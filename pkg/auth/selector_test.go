package auth

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestSelectHighestPriorityUsable(t *testing.T) {
	s := NewSelector()
	s.Register("linkedin", []Source{
		{Name: "scraper", CredentialRef: "env:LINKEDIN_COOKIE", Priority: 2},
		{Name: "proxycurl", CredentialRef: "env:PROXYCURL_API_KEY", Priority: 1},
	})

	src, err := s.Select("linkedin")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if src.Name != "proxycurl" {
		t.Errorf("expected primary source proxycurl, got %s", src.Name)
	}
}

func TestFallbackAfterExhaustion(t *testing.T) {
	s := NewSelector()
	s.Register("linkedin", []Source{
		{Name: "proxycurl", Priority: 1},
		{Name: "scraper", Priority: 2},
	})

	// A quota-rejected outcome against the primary must route the next
	// Select to the fallback.
	s.MarkExhausted("linkedin", "proxycurl", time.Now().Add(time.Hour))

	src, err := s.Select("linkedin")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if src.Name != "scraper" {
		t.Errorf("expected fallback scraper, got %s", src.Name)
	}

	// Once the fallback is exhausted too, nothing is available.
	s.MarkExhausted("linkedin", "scraper", time.Now().Add(time.Hour))
	_, err = s.Select("linkedin")
	if !errors.Is(err, ErrNoneAvailable) {
		t.Errorf("expected ErrNoneAvailable, got %v", err)
	}
}

func TestLazyReenableAfterWindowReset(t *testing.T) {
	s := NewSelector()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	s.Register("twitter", []Source{{Name: "bearer", Priority: 1}})
	s.MarkExhausted("twitter", "bearer", base.Add(24*time.Hour))

	if _, err := s.Select("twitter"); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable while exhausted, got %v", err)
	}

	// Crossing the window end restores the source without any timer.
	now = base.Add(24*time.Hour + time.Second)
	src, err := s.Select("twitter")
	if err != nil {
		t.Fatalf("expected source usable after window reset: %v", err)
	}
	if src.Name != "bearer" {
		t.Errorf("expected bearer, got %s", src.Name)
	}
}

func TestNextUsableAt(t *testing.T) {
	s := NewSelector()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Register("reddit", []Source{
		{Name: "oauth-a", Priority: 1},
		{Name: "oauth-b", Priority: 2},
	})

	if got := s.NextUsableAt("reddit"); !got.IsZero() {
		t.Errorf("expected zero time while sources usable, got %v", got)
	}

	s.MarkExhausted("reddit", "oauth-a", base.Add(2*time.Hour))
	s.MarkExhausted("reddit", "oauth-b", base.Add(1*time.Hour))

	want := base.Add(1 * time.Hour)
	if got := s.NextUsableAt("reddit"); !got.Equal(want) {
		t.Errorf("expected earliest reset %v, got %v", want, got)
	}
}

func TestResolveCredentialEnv(t *testing.T) {
	os.Setenv("WARDEN_TEST_SECRET", "hunter2")
	defer os.Unsetenv("WARDEN_TEST_SECRET")

	secret, err := ResolveCredential("env:WARDEN_TEST_SECRET")
	if err != nil {
		t.Fatalf("ResolveCredential failed: %v", err)
	}
	if secret != "hunter2" {
		t.Errorf("expected hunter2, got %q", secret)
	}

	if _, err := ResolveCredential("env:WARDEN_TEST_UNSET"); err == nil {
		t.Error("expected error for unset env var")
	}
	if _, err := ResolveCredential("plainref"); err == nil {
		t.Error("expected error for malformed ref")
	}
	if _, err := ResolveCredential("vault:secret/foo"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}
