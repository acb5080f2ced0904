package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendUsage durably writes one usage record. The insert is a single
// statement, so concurrent writers cannot interleave partial rows; WAL
// mode guarantees the record is visible to every subsequent CountSince.
func (s *Store) AppendUsage(ctx context.Context, rec *UsageRecord) error {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Provider == "" {
		return errors.New("usage record missing provider")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_usage (record_id, provider, ts, outcome, auth_source)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RecordID, rec.Provider, rec.Timestamp.UTC().Format(time.RFC3339Nano),
		string(rec.Outcome), rec.AuthSource)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// CountSince counts quota-consuming attempts (success and failure) for
// provider at or after since. Refused attempts never reached the
// external API, so they do not count against the window.
func (s *Store) CountSince(ctx context.Context, provider string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_usage
		 WHERE provider = ? AND ts >= ? AND outcome != ?`,
		provider, since.UTC().Format(time.RFC3339Nano), string(OutcomeRefused),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage for %s: %w", provider, err)
	}
	return count, nil
}

// LastRecord returns the most recent record for provider, or nil if the
// provider has never been used.
func (s *Store) LastRecord(ctx context.Context, provider string) (*UsageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record_id, provider, ts, outcome, auth_source FROM api_usage
		 WHERE provider = ? ORDER BY ts DESC LIMIT 1`, provider)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last record for %s: %w", provider, err)
	}
	return rec, nil
}

// QueryUsage returns records matching the filter, newest first.
func (s *Store) QueryUsage(ctx context.Context, filter UsageFilter) ([]*UsageRecord, error) {
	query := `SELECT record_id, provider, ts, outcome, auth_source FROM api_usage WHERE 1=1`
	var args []interface{}

	if filter.Provider != "" {
		query += " AND provider = ?"
		args = append(args, filter.Provider)
	}
	if !filter.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if !filter.To.IsZero() {
		query += " AND ts < ?"
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}

	query += " ORDER BY ts DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*UsageRecord, error) {
	var rec UsageRecord
	var ts, outcome string
	var authSource sql.NullString

	if err := row.Scan(&rec.RecordID, &rec.Provider, &ts, &outcome, &authSource); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed
	rec.Outcome = Outcome(outcome)
	rec.AuthSource = authSource.String

	return &rec, nil
}
