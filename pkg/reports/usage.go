package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"
)

// UsageReport aggregates quota consumption per provider and UTC day.
type UsageReport struct {
	ledger Ledger
}

// NewUsageReport creates a new UsageReport generator.
func NewUsageReport(l Ledger) *UsageReport {
	return &UsageReport{ledger: l}
}

type usageKey struct {
	day      string
	provider string
}

type usageRow struct {
	success int
	failure int
	refused int
}

// Generate creates a CSV of daily call counts per provider. Refused
// attempts are reported in their own column; they never consumed quota.
func (r *UsageReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	records, err := r.ledger.QueryUsage(ctx, filterFor(params))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}

	rows := make(map[usageKey]*usageRow)
	for _, rec := range records {
		key := usageKey{
			day:      rec.Timestamp.UTC().Format("2006-01-02"),
			provider: rec.Provider,
		}
		row, ok := rows[key]
		if !ok {
			row = &usageRow{}
			rows[key] = row
		}
		switch rec.Outcome {
		case "success":
			row.success++
		case "failure":
			row.failure++
		case "refused":
			row.refused++
		}
	}

	keys := make([]usageKey, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].provider < keys[j].provider
	})

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	if err := writer.Write([]string{"day", "provider", "success", "failure", "refused", "quota_consumed"}); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}
	for _, key := range keys {
		row := rows[key]
		record := []string{
			key.day,
			key.provider,
			fmt.Sprintf("%d", row.success),
			fmt.Sprintf("%d", row.failure),
			fmt.Sprintf("%d", row.refused),
			fmt.Sprintf("%d", row.success+row.failure),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}
	return buf, nil
}

func defaultRange(params ReportParams) (time.Time, time.Time) {
	end := params.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := params.Start
	if start.IsZero() {
		start = end.AddDate(0, -1, 0)
	}
	return start, end
}
