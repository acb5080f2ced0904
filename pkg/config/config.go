// Package config loads the static provider table: quota rules, ordered
// auth sources and backoff ranges per provider. Configuration is read
// once at process start and is immutable afterwards; anything invalid
// fails here, never at admission time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ilg-ai/warden/pkg/auth"
	"github.com/ilg-ai/warden/pkg/backoff"
	"github.com/ilg-ai/warden/pkg/governor"
)

// Duration parses "30s" / "2m" style YAML values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// BackoffConfig is the randomized inter-request delay range for one
// provider.
type BackoffConfig struct {
	MinDelay Duration `yaml:"min_delay"`
	MaxDelay Duration `yaml:"max_delay"`
}

// ProviderConfig is the full static configuration for one provider.
type ProviderConfig struct {
	Rules       []governor.QuotaRule `yaml:"rules"`
	AuthSources []auth.Source        `yaml:"auth_sources"`
	Backoff     BackoffConfig        `yaml:"backoff"`
}

// Config is the provider table plus governor-wide switches.
type Config struct {
	Providers     map[string]ProviderConfig `yaml:"providers"`
	AuditRefusals bool                      `yaml:"audit_refusals"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every provider entry. Rules carry their own
// invariants (hard_stop strictly below nominal_max among them); this
// adds the cross-field checks.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config defines no providers")
	}
	for name, pc := range c.Providers {
		if len(pc.Rules) == 0 {
			return fmt.Errorf("provider %s: no quota rules", name)
		}
		for i, rule := range pc.Rules {
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("provider %s rule %d: %w", name, i, err)
			}
		}
		if len(pc.AuthSources) == 0 {
			return fmt.Errorf("provider %s: no auth sources", name)
		}
		for _, src := range pc.AuthSources {
			if src.Name == "" || src.CredentialRef == "" {
				return fmt.Errorf("provider %s: auth source needs name and credential_ref", name)
			}
		}
		if pc.Backoff.MinDelay < 0 || pc.Backoff.MaxDelay < pc.Backoff.MinDelay {
			return fmt.Errorf("provider %s: backoff range %v-%v invalid",
				name, pc.Backoff.MinDelay.Std(), pc.Backoff.MaxDelay.Std())
		}
	}
	return nil
}

// Configure wires the loaded provider table into a governor, selector
// and scheduler. Called once from the daemon after construction.
func (c *Config) Configure(g *governor.Governor, selector *auth.Selector, scheduler *backoff.Scheduler) error {
	for name, pc := range c.Providers {
		if err := g.AddProvider(name, pc.Rules); err != nil {
			return err
		}
		selector.Register(name, pc.AuthSources)
		scheduler.Configure(name, backoff.Range{
			Min: pc.Backoff.MinDelay.Std(),
			Max: pc.Backoff.MaxDelay.Std(),
		})
	}
	return nil
}

// Default returns the provider table for the stock collection setup:
// LinkedIn lookups via Proxycurl (daily reset), Reddit search, and the
// Twitter/X read cap, the tightest quota in the system.
func Default() *Config {
	return &Config{
		AuditRefusals: true,
		Providers: map[string]ProviderConfig{
			"linkedin": {
				Rules: []governor.QuotaRule{
					{Window: governor.WindowCalendarDay, NominalMax: 50, HardStop: 45},
				},
				AuthSources: []auth.Source{
					{Name: "proxycurl", CredentialRef: "env:PROXYCURL_API_KEY", Priority: 1},
					{Name: "scraper", CredentialRef: "env:LINKEDIN_SESSION_COOKIE", Priority: 2},
				},
				Backoff: BackoffConfig{
					MinDelay: Duration(30 * time.Second),
					MaxDelay: Duration(120 * time.Second),
				},
			},
			"reddit": {
				Rules: []governor.QuotaRule{
					{Window: governor.WindowRollingMinute, NominalMax: 100, HardStop: 90, ThrottlePerMinute: 30},
				},
				AuthSources: []auth.Source{
					{Name: "oauth-script", CredentialRef: "env:REDDIT_CLIENT_SECRET", Priority: 1},
				},
				Backoff: BackoffConfig{
					MinDelay: Duration(2 * time.Second),
					MaxDelay: Duration(5 * time.Second),
				},
			},
			"twitter": {
				Rules: []governor.QuotaRule{
					{Window: governor.WindowCalendarMonth, NominalMax: 1500, HardStop: 1400},
				},
				AuthSources: []auth.Source{
					{Name: "bearer", CredentialRef: "env:TWITTER_BEARER_TOKEN", Priority: 1},
				},
				Backoff: BackoffConfig{
					MinDelay: Duration(10 * time.Second),
					MaxDelay: Duration(60 * time.Second),
				},
			},
		},
	}
}
