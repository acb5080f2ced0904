package reports

import "fmt"

// NewReportGenerator creates a report generator based on the report type.
func NewReportGenerator(reportType ReportType, l Ledger) (Generator, error) {
	switch reportType {
	case ReportTypeUsage:
		return NewUsageReport(l), nil
	case ReportTypeCallLog:
		return NewCallLogReport(l), nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
