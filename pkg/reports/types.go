// Package reports turns the raw usage ledger into operator-facing CSV
// exports: daily quota consumption per provider and the raw call log.
package reports

import (
	"context"
	"io"
	"time"

	"github.com/ilg-ai/warden/pkg/store"
)

type ReportType string

const (
	ReportTypeUsage   ReportType = "usage"
	ReportTypeCallLog ReportType = "call_log"
)

type ReportParams struct {
	Start    time.Time
	End      time.Time
	Provider string
}

// Generator produces a report as a stream.
type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}

// Ledger narrows the store surface reports read from.
type Ledger interface {
	QueryUsage(ctx context.Context, filter store.UsageFilter) ([]*store.UsageRecord, error)
}
