package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/ilg-ai/warden/pkg/auth"
)

// RuleStatus is the point-in-time view of one quota rule.
type RuleStatus struct {
	Window      WindowKind `json:"window"`
	NominalMax  int        `json:"nominal_max"`
	HardStop    int        `json:"hard_stop"`
	Used        int        `json:"used"`
	Remaining   int        `json:"remaining"`
	State       RuleState  `json:"state"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
}

// ProviderStatus aggregates everything an operator needs to see for one
// provider: rule states with reset times, credential usability, and
// the backoff gate.
type ProviderStatus struct {
	Provider      string              `json:"provider"`
	State         RuleState           `json:"state"`
	Rules         []RuleStatus        `json:"rules"`
	AuthSources   []auth.SourceStatus `json:"auth_sources"`
	NextAllowedAt time.Time           `json:"next_allowed_at"`
	LastOutcome   string              `json:"last_outcome,omitempty"`
	LastCallAt    time.Time           `json:"last_call_at,omitempty"`
}

// Status recomputes the current state of every provider from the
// ledger. Like admission, it caches nothing.
func (g *Governor) Status(ctx context.Context) ([]ProviderStatus, error) {
	now := g.now()
	var statuses []ProviderStatus

	for _, provider := range g.Providers() {
		rules, _, err := g.providerRules(provider)
		if err != nil {
			return nil, err
		}

		ps := ProviderStatus{
			Provider:      provider,
			State:         StateOpen,
			AuthSources:   g.selector.Status(provider),
			NextAllowedAt: g.scheduler.NextAllowedAt(provider),
		}

		for _, rule := range rules {
			start, end := rule.CurrentWindow(now)
			count, err := g.ledger.CountSince(ctx, provider, start)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
			}
			remaining := rule.Remaining(count)
			state := stateFor(rule, remaining)
			ps.State = worseState(ps.State, state)
			ps.Rules = append(ps.Rules, RuleStatus{
				Window:      rule.Window,
				NominalMax:  rule.NominalMax,
				HardStop:    rule.HardStop,
				Used:        count,
				Remaining:   remaining,
				State:       state,
				WindowStart: start,
				WindowEnd:   end,
			})
		}

		if last, err := g.ledger.LastRecord(ctx, provider); err == nil && last != nil {
			ps.LastOutcome = string(last.Outcome)
			ps.LastCallAt = last.Timestamp
		}

		statuses = append(statuses, ps)
	}
	return statuses, nil
}
