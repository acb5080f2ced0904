package governor

import (
	"fmt"
	"time"
)

// WindowKind selects how a quota rule's reset clock works. Providers
// document different reset semantics (Proxycurl resets daily, the
// Twitter read cap monthly, Reddit per minute) so the kind is explicit
// configuration, never assumed.
type WindowKind string

const (
	// WindowRollingMinute is a sliding 60s window recomputed on every
	// admission. Not a fixed bucket: bursts at a bucket boundary cannot
	// double the effective rate.
	WindowRollingMinute WindowKind = "rolling-minute"
	// WindowCalendarDay resets at a fixed UTC hour each day.
	WindowCalendarDay WindowKind = "calendar-day"
	// WindowCalendarMonth resets at the first instant of each month.
	WindowCalendarMonth WindowKind = "calendar-month"
)

// QuotaRule is one quota constraint for a provider. HardStop is the
// self-imposed ceiling, configured strictly below the provider's
// nominal limit so clock skew or off-by-one counting never breaches
// the true external limit.
type QuotaRule struct {
	Window     WindowKind `yaml:"window"`
	NominalMax int        `yaml:"nominal_max"`
	HardStop   int        `yaml:"hard_stop"`

	// ThrottlePerMinute caps calls inside a rolling-minute sub-window
	// below the nominal rate (e.g. 30/min inside a 100/min limit).
	// Zero disables the sub-window.
	ThrottlePerMinute int `yaml:"throttle_per_minute,omitempty"`

	// ResetHourUTC is the daily reset hour for calendar-day windows.
	// Default 0 (UTC midnight).
	ResetHourUTC int `yaml:"reset_hour_utc,omitempty"`
}

// Validate fails fast on misconfiguration; a rule that would only blow
// up at admission time is a config bug, not a runtime condition.
func (r QuotaRule) Validate() error {
	switch r.Window {
	case WindowRollingMinute, WindowCalendarDay, WindowCalendarMonth:
	default:
		return fmt.Errorf("unknown window kind %q", r.Window)
	}
	if r.NominalMax <= 0 {
		return fmt.Errorf("nominal_max must be positive, got %d", r.NominalMax)
	}
	if r.HardStop <= 0 {
		return fmt.Errorf("hard_stop must be positive, got %d", r.HardStop)
	}
	if r.HardStop >= r.NominalMax {
		return fmt.Errorf("hard_stop %d must be strictly below nominal_max %d", r.HardStop, r.NominalMax)
	}
	if r.ThrottlePerMinute < 0 {
		return fmt.Errorf("throttle_per_minute must not be negative, got %d", r.ThrottlePerMinute)
	}
	if r.ResetHourUTC < 0 || r.ResetHourUTC > 23 {
		return fmt.Errorf("reset_hour_utc must be 0-23, got %d", r.ResetHourUTC)
	}
	return nil
}

// CurrentWindow returns the window containing now. For rolling windows
// the end is the instant by which everything currently in the window
// has expired, which is the conservative retry-after bound.
func (r QuotaRule) CurrentWindow(now time.Time) (start, end time.Time) {
	now = now.UTC()
	switch r.Window {
	case WindowRollingMinute:
		return now.Add(-time.Minute), now.Add(time.Minute)
	case WindowCalendarDay:
		reset := time.Date(now.Year(), now.Month(), now.Day(), r.ResetHourUTC, 0, 0, 0, time.UTC)
		if now.Before(reset) {
			reset = reset.AddDate(0, 0, -1)
		}
		return reset, reset.AddDate(0, 0, 1)
	case WindowCalendarMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		// Validate rejects unknown kinds at load. Fall back to the
		// tightest window rather than admitting unbounded.
		return now.Add(-time.Minute), now.Add(time.Minute)
	}
}

// Remaining returns the budget left before the hard stop, floored at 0.
func (r QuotaRule) Remaining(count int) int {
	remaining := r.HardStop - count
	if remaining < 0 {
		return 0
	}
	return remaining
}
