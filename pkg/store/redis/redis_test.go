package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ilg-ai/warden/pkg/store"
)

func newTestLedger(t *testing.T) *RedisLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLedger(client)
}

func TestRedisAppendAndCount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		rec := &store.UsageRecord{
			Provider:  "twitter",
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Outcome:   store.OutcomeSuccess,
		}
		if err := l.AppendUsage(ctx, rec); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	count, err := l.CountSince(ctx, "twitter", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if count != 4 {
		t.Errorf("expected count 4, got %d", count)
	}

	// Records before the window start must be excluded.
	count, err = l.CountSince(ctx, "twitter", now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2 with later window start, got %d", count)
	}
}

func TestRedisRefusedExcludedFromCount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, o := range []store.Outcome{store.OutcomeSuccess, store.OutcomeRefused} {
		rec := &store.UsageRecord{
			Provider:  "linkedin",
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Outcome:   o,
		}
		if err := l.AppendUsage(ctx, rec); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	count, err := l.CountSince(ctx, "linkedin", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected refused attempt excluded from count, got %d", count)
	}

	// The audit trail still has both.
	records, err := l.QueryUsage(ctx, store.UsageFilter{Provider: "linkedin"})
	if err != nil {
		t.Fatalf("QueryUsage failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 audit records, got %d", len(records))
	}
}

func TestRedisLastRecord(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.LastRecord(ctx, "reddit")
	if err != nil {
		t.Fatalf("LastRecord failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for unused provider, got %+v", rec)
	}

	now := time.Now().UTC()
	if err := l.AppendUsage(ctx, &store.UsageRecord{Provider: "reddit", Timestamp: now, Outcome: store.OutcomeSuccess, AuthSource: "oauth"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := l.AppendUsage(ctx, &store.UsageRecord{Provider: "reddit", Timestamp: now.Add(time.Second), Outcome: store.OutcomeFailure, AuthSource: "oauth"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	rec, err = l.LastRecord(ctx, "reddit")
	if err != nil {
		t.Fatalf("LastRecord failed: %v", err)
	}
	if rec == nil || rec.Outcome != store.OutcomeFailure {
		t.Errorf("expected most recent record, got %+v", rec)
	}
}
