// Package redis provides a Redis-backed usage ledger for deployments
// where several collector processes share one persistent store. Records
// live in per-provider sorted sets scored by timestamp, so window counts
// are range queries against the true persisted set, same as SQLite.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ilg-ai/warden/pkg/store"
)

type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

// usageKey holds quota-consuming attempts (success/failure) only, so
// counts are a single ZCOUNT. auditKey holds every record including
// refused attempts.
func usageKey(provider string) string {
	return fmt.Sprintf("warden:usage:%s", provider)
}

func auditKey(provider string) string {
	return fmt.Sprintf("warden:audit:%s", provider)
}

func (l *RedisLedger) AppendUsage(ctx context.Context, rec *store.UsageRecord) error {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	score := float64(rec.Timestamp.UnixNano())
	member := redis.Z{Score: score, Member: string(data)}

	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, auditKey(rec.Provider), member)
	if rec.Outcome != store.OutcomeRefused {
		pipe.ZAdd(ctx, usageKey(rec.Provider), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

func (l *RedisLedger) CountSince(ctx context.Context, provider string, since time.Time) (int, error) {
	min := fmt.Sprintf("%d", since.UTC().UnixNano())
	count, err := l.client.ZCount(ctx, usageKey(provider), min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count usage for %s: %w", provider, err)
	}
	return int(count), nil
}

func (l *RedisLedger) LastRecord(ctx context.Context, provider string) (*store.UsageRecord, error) {
	members, err := l.client.ZRevRangeByScore(ctx, auditKey(provider), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read last record for %s: %w", provider, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	var rec store.UsageRecord
	if err := json.Unmarshal([]byte(members[0]), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal usage record: %w", err)
	}
	return &rec, nil
}

func (l *RedisLedger) QueryUsage(ctx context.Context, filter store.UsageFilter) ([]*store.UsageRecord, error) {
	if filter.Provider == "" {
		return nil, fmt.Errorf("redis ledger requires a provider filter")
	}

	min, max := "-inf", "+inf"
	if !filter.From.IsZero() {
		min = fmt.Sprintf("%d", filter.From.UTC().UnixNano())
	}
	if !filter.To.IsZero() {
		max = fmt.Sprintf("(%d", filter.To.UTC().UnixNano())
	}

	limit := int64(filter.Limit)
	if limit <= 0 {
		limit = 100
	}

	members, err := l.client.ZRevRangeByScore(ctx, auditKey(filter.Provider), &redis.ZRangeBy{
		Min: min, Max: max, Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query usage for %s: %w", filter.Provider, err)
	}

	records := make([]*store.UsageRecord, 0, len(members))
	for _, m := range members {
		var rec store.UsageRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal usage record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}
