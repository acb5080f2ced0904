package governor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// WardenUsage tracks the current in-window count per provider rule
	WardenUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_usage",
			Help: "Current in-window call count for a provider quota rule",
		},
		[]string{"provider", "window"},
	)

	// WardenRemaining tracks budget left before the hard stop
	WardenRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_remaining",
			Help: "Remaining budget before the hard stop for a provider quota rule",
		},
		[]string{"provider", "window"},
	)

	// WardenAdmitTotal counts admission decisions
	WardenAdmitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_admit_total",
			Help: "Total admission decisions by provider and outcome",
		},
		[]string{"provider", "decision"},
	)

	// WardenRecordTotal counts recorded call attempts
	WardenRecordTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_record_total",
			Help: "Total recorded call attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(WardenUsage)
	prometheus.MustRegister(WardenRemaining)
	prometheus.MustRegister(WardenAdmitTotal)
	prometheus.MustRegister(WardenRecordTotal)
}
