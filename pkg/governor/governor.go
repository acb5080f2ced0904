// Package governor arbitrates every outbound call to an external data
// provider against its configured quota rules. It owns no counters of
// its own: usage is recomputed from the append-only ledger on each
// admission, so decisions survive process restarts and a crash between
// admit and record can never desynchronize a cached count from ledger
// truth.
package governor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ilg-ai/warden/pkg/auth"
	"github.com/ilg-ai/warden/pkg/backoff"
	"github.com/ilg-ai/warden/pkg/store"
)

// DenyReason explains a denial to the caller.
type DenyReason string

const (
	DenyHardStopReached    DenyReason = "hard_stop_reached"
	DenyNoUsableAuthSource DenyReason = "no_usable_auth_source"
)

// Decision is the outcome of an admission request. Quota and auth
// denials are returned as values, never raised as errors; callers are
// expected to check Allowed and act (skip, queue, alert).
type Decision struct {
	Provider   string      `json:"provider"`
	Allowed    bool        `json:"allowed"`
	Reason     DenyReason  `json:"reason,omitempty"`
	RetryAfter time.Time   `json:"retry_after,omitempty"`
	State      RuleState   `json:"state"`
	Remaining  int         `json:"remaining"`
	AuthSource auth.Source `json:"auth_source,omitempty"`
}

// Err converts a denial into the operator-facing error form. Returns
// nil for allowed decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Provider: d.Provider, Reason: d.Reason, RetryAfter: d.RetryAfter}
}

// CallResult describes a completed (or refused) call for Record.
type CallResult struct {
	Outcome    store.Outcome
	AuthSource string
	// QuotaRejected marks a provider-side rejection attributable to
	// quota or auth (401/403/429), as opposed to a transient network
	// failure. It exhausts the auth source until the window resets.
	QuotaRejected bool
}

// Governor combines the ledger, the window policy, the auth selector
// and the backoff scheduler for a fixed set of providers. Construct one
// at process start and pass it to every provider tool; there is no
// ambient instance.
type Governor struct {
	ledger    store.Ledger
	selector  *auth.Selector
	scheduler *backoff.Scheduler
	log       zerolog.Logger
	now       func() time.Time

	// auditRefusals logs denied attempts to the ledger as refused.
	auditRefusals bool

	mu    sync.Mutex
	rules map[string][]QuotaRule
	// admitMu serializes Admit per provider. The hard-stop buffer
	// would tolerate the read-snapshot race, but one in-process mutex
	// per provider is cheaper than reasoning about it.
	admitMu map[string]*sync.Mutex
}

// Option configures a Governor.
type Option func(*Governor)

// WithAuditRefusals logs denied admissions to the ledger as refused
// records for audit.
func WithAuditRefusals() Option {
	return func(g *Governor) { g.auditRefusals = true }
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Governor) { g.log = log }
}

func New(ledger store.Ledger, selector *auth.Selector, scheduler *backoff.Scheduler, opts ...Option) *Governor {
	g := &Governor{
		ledger:    ledger,
		selector:  selector,
		scheduler: scheduler,
		log:       zerolog.Nop(),
		now:       time.Now,
		rules:     make(map[string][]QuotaRule),
		admitMu:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddProvider registers the quota rules for a provider. Rules are
// validated here so misconfiguration fails at startup, not at runtime.
func (g *Governor) AddProvider(name string, rules []QuotaRule) error {
	if len(rules) == 0 {
		return fmt.Errorf("provider %s has no quota rules", name)
	}
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("provider %s rule %d: %w", name, i, err)
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules[name] = rules
	g.admitMu[name] = &sync.Mutex{}
	return nil
}

// Providers returns the registered provider names, sorted.
func (g *Governor) Providers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.rules))
	for name := range g.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Governor) providerRules(name string) ([]QuotaRule, *sync.Mutex, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rules, ok := g.rules[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown provider %q", name)
	}
	return rules, g.admitMu[name], nil
}

// Admit decides whether a call to provider may proceed now. Every
// configured rule is evaluated against the ledger; a single Closed rule
// denies regardless of the others, with RetryAfter set to the
// soonest-resetting violated rule's window end. A ledger read failure
// is returned as an error: the governor refuses to admit when it
// cannot trust its own history.
func (g *Governor) Admit(ctx context.Context, provider string) (Decision, error) {
	rules, mu, err := g.providerRules(provider)
	if err != nil {
		return Decision{}, err
	}
	mu.Lock()
	defer mu.Unlock()

	now := g.now()

	src, selErr := g.selector.Select(provider)
	if selErr != nil {
		dec := Decision{
			Provider:   provider,
			Allowed:    false,
			Reason:     DenyNoUsableAuthSource,
			RetryAfter: g.selector.NextUsableAt(provider),
			State:      StateClosed,
		}
		g.finishDeny(ctx, dec, "")
		return dec, nil
	}

	state := StateOpen
	minRemaining := -1
	var retryAfter time.Time
	denied := false

	for _, rule := range rules {
		start, end := rule.CurrentWindow(now)
		count, err := g.ledger.CountSince(ctx, provider, start)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}

		remaining := rule.Remaining(count)
		state = worseState(state, stateFor(rule, remaining))
		if minRemaining < 0 || remaining < minRemaining {
			minRemaining = remaining
		}

		WardenUsage.WithLabelValues(provider, string(rule.Window)).Set(float64(count))
		WardenRemaining.WithLabelValues(provider, string(rule.Window)).Set(float64(remaining))

		if remaining == 0 {
			denied = true
			if retryAfter.IsZero() || end.Before(retryAfter) {
				retryAfter = end
			}
			continue
		}

		// Sub-window throttle: a rolling-minute cap below the nominal
		// rate (e.g. 30/min inside 100/min).
		if rule.ThrottlePerMinute > 0 {
			subCount, err := g.ledger.CountSince(ctx, provider, now.Add(-time.Minute))
			if err != nil {
				return Decision{}, fmt.Errorf("%w: %w", ErrStorageFailure, err)
			}
			if subCount >= rule.ThrottlePerMinute {
				denied = true
				subEnd := now.Add(time.Minute)
				if retryAfter.IsZero() || subEnd.Before(retryAfter) {
					retryAfter = subEnd
				}
			}
		}
	}

	if denied {
		dec := Decision{
			Provider:   provider,
			Allowed:    false,
			Reason:     DenyHardStopReached,
			RetryAfter: retryAfter,
			State:      StateClosed,
			Remaining:  0,
		}
		g.finishDeny(ctx, dec, src.Name)
		return dec, nil
	}

	WardenAdmitTotal.WithLabelValues(provider, "allow").Inc()
	g.log.Debug().
		Str("provider", provider).
		Str("state", string(state)).
		Int("remaining", minRemaining).
		Msg("call admitted")

	return Decision{
		Provider:   provider,
		Allowed:    true,
		State:      state,
		Remaining:  minRemaining,
		AuthSource: src,
	}, nil
}

// finishDeny logs, counts and optionally audits a denial. Audit append
// failures are logged but do not mask the denial itself.
func (g *Governor) finishDeny(ctx context.Context, dec Decision, authSource string) {
	WardenAdmitTotal.WithLabelValues(dec.Provider, string(dec.Reason)).Inc()
	g.log.Warn().
		Str("provider", dec.Provider).
		Str("reason", string(dec.Reason)).
		Time("retry_after", dec.RetryAfter).
		Msg("call denied")

	if !g.auditRefusals {
		return
	}
	rec := &store.UsageRecord{
		Provider:   dec.Provider,
		Timestamp:  g.now().UTC(),
		Outcome:    store.OutcomeRefused,
		AuthSource: authSource,
	}
	if err := g.ledger.AppendUsage(ctx, rec); err != nil {
		g.log.Error().Err(err).Str("provider", dec.Provider).Msg("failed to audit refusal")
	}
}

// Record appends the result of a call attempt to the ledger. Calls that
// reached the external API must always be recorded, success or failure:
// undercounting risks exceeding a hard external limit the operator
// cannot reset. A quota-rejected result additionally exhausts the auth
// source until the provider's slowest window resets.
func (g *Governor) Record(ctx context.Context, provider string, res CallResult) error {
	rules, _, err := g.providerRules(provider)
	if err != nil {
		return err
	}

	now := g.now()
	rec := &store.UsageRecord{
		Provider:   provider,
		Timestamp:  now.UTC(),
		Outcome:    res.Outcome,
		AuthSource: res.AuthSource,
	}
	if err := g.ledger.AppendUsage(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	WardenRecordTotal.WithLabelValues(provider, string(res.Outcome)).Inc()

	if res.QuotaRejected && res.AuthSource != "" {
		// The rejection cannot be attributed to a single rule from the
		// outcome alone, so take the latest window end: conservative,
		// and exact for single-rule providers.
		var until time.Time
		for _, rule := range rules {
			_, end := rule.CurrentWindow(now)
			if end.After(until) {
				until = end
			}
		}
		g.selector.MarkExhausted(provider, res.AuthSource, until)
		g.log.Warn().
			Str("provider", provider).
			Str("auth_source", res.AuthSource).
			Time("exhausted_until", until).
			Msg("auth source exhausted by provider rejection")
	}

	return nil
}

// WaitUntilAllowed composes Admit with the backoff scheduler: it admits
// (waiting through a denial's retry-after when one is set), then
// suspends until the provider's randomized spacing has elapsed. Returns
// the final allowed decision, or the denial when waiting cannot help.
func (g *Governor) WaitUntilAllowed(ctx context.Context, provider string) (Decision, error) {
	for {
		dec, err := g.Admit(ctx, provider)
		if err != nil {
			return Decision{}, err
		}
		if dec.Allowed {
			if err := g.scheduler.WaitUntilAllowed(ctx, provider, time.Time{}); err != nil {
				return Decision{}, err
			}
			return dec, nil
		}
		if dec.RetryAfter.IsZero() || dec.RetryAfter.Sub(g.now()) <= 0 {
			// Nothing to wait for: no fallback credential exists, or
			// the window has already rolled over; re-admitting decides.
			if dec.Reason == DenyNoUsableAuthSource && dec.RetryAfter.IsZero() {
				return dec, nil
			}
			continue
		}
		if err := g.scheduler.WaitUntilAllowed(ctx, provider, dec.RetryAfter); err != nil {
			return Decision{}, err
		}
	}
}
