package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/ilg-ai/warden/pkg/store"
)

// reportRecordCap bounds a single export. One month of the busiest
// provider table stays well under this.
const reportRecordCap = 100000

// CallLogReport exports the raw ledger, one row per call attempt.
type CallLogReport struct {
	ledger Ledger
}

// NewCallLogReport creates a new CallLogReport generator.
func NewCallLogReport(l Ledger) *CallLogReport {
	return &CallLogReport{ledger: l}
}

// Generate creates a CSV of individual call records, newest first.
func (r *CallLogReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	records, err := r.ledger.QueryUsage(ctx, filterFor(params))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	if err := writer.Write([]string{"timestamp", "provider", "outcome", "auth_source", "record_id"}); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Provider,
			string(rec.Outcome),
			rec.AuthSource,
			rec.RecordID,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}
	return buf, nil
}

func filterFor(params ReportParams) store.UsageFilter {
	start, end := defaultRange(params)
	return store.UsageFilter{
		Provider: params.Provider,
		From:     start,
		To:       end,
		Limit:    reportRecordCap,
	}
}
