package store

import (
	"context"
	"time"
)

// Outcome classifies a single call attempt against an external provider.
type Outcome string

const (
	// OutcomeSuccess means the external call completed and returned data.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means the call reached the provider but failed
	// (network error, 5xx, parse error). It still consumed quota.
	OutcomeFailure Outcome = "failure"
	// OutcomeRefused means the governor denied the call before it was
	// sent. Logged for audit only; refused attempts consume no quota.
	OutcomeRefused Outcome = "refused"
)

// UsageRecord is one immutable entry in the append-only usage ledger.
// Records are never updated or deleted; window counts are always
// recomputed from the raw records so they survive crash/restart.
type UsageRecord struct {
	RecordID   string    `json:"record_id"`
	Provider   string    `json:"provider"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"outcome"`
	AuthSource string    `json:"auth_source"`
}

// UsageFilter bounds a ledger range query.
type UsageFilter struct {
	Provider string
	From     time.Time
	To       time.Time
	Limit    int
}

// Ledger is the persistence contract for call attempts. Implementations
// must be durable and safe for concurrent writers; CountSince must be
// answered from the persisted record set, never a cached counter.
type Ledger interface {
	// AppendUsage durably writes one record. Concurrent appends must
	// not lose records or double-count.
	AppendUsage(ctx context.Context, rec *UsageRecord) error

	// CountSince returns how many quota-consuming records (success or
	// failure) exist for provider at or after since.
	CountSince(ctx context.Context, provider string, since time.Time) (int, error)

	// LastRecord returns the most recent record for provider, or nil
	// if the provider has never been used.
	LastRecord(ctx context.Context, provider string) (*UsageRecord, error)

	// QueryUsage returns records matching the filter, newest first.
	QueryUsage(ctx context.Context, filter UsageFilter) ([]*UsageRecord, error)
}
