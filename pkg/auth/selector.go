// Package auth orders and falls back among the credential sources
// configured for a provider. A source that hard-stops or is rejected by
// the provider is marked unusable until its owning quota window resets;
// the selector never touches raw secret material, only opaque
// credential references.
package auth

import (
	"errors"
	"sync"
	"time"
)

// ErrNoneAvailable means every configured source for the provider is
// currently exhausted.
var ErrNoneAvailable = errors.New("auth: no usable source available")

// Source is one credential/strategy usable to reach a provider, e.g. a
// primary paid API key or a higher-risk scraper fallback.
type Source struct {
	Name          string `yaml:"name"`
	CredentialRef string `yaml:"credential_ref"`
	Priority      int    `yaml:"priority"`
}

type sourceState struct {
	source         Source
	usable         bool
	exhaustedUntil time.Time
}

// Selector tracks per-provider source usability. The usable flag is the
// only mutable derived state in the system; it is flipped on recorded
// quota/auth rejections and lazily restored once the exhaustion window
// has passed.
type Selector struct {
	mu        sync.Mutex
	providers map[string][]*sourceState
	now       func() time.Time
}

func NewSelector() *Selector {
	return &Selector{
		providers: make(map[string][]*sourceState),
		now:       time.Now,
	}
}

// Register installs the ordered source list for a provider. Sources are
// kept in priority order (lowest number first). Called once at startup;
// provider configuration is immutable thereafter.
func (s *Selector) Register(provider string, sources []Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]*sourceState, 0, len(sources))
	for _, src := range sources {
		states = append(states, &sourceState{source: src, usable: true})
	}
	// Insertion sort keeps config order stable for equal priorities.
	for i := 1; i < len(states); i++ {
		for j := i; j > 0 && states[j].source.Priority < states[j-1].source.Priority; j-- {
			states[j], states[j-1] = states[j-1], states[j]
		}
	}
	s.providers[provider] = states
}

// Select returns the highest-priority usable source for provider, or
// ErrNoneAvailable when all are exhausted. Exhausted sources whose
// window has passed are restored here, lazily, so there is no timer to
// keep synchronized.
func (s *Selector) Select(provider string) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, st := range s.providers[provider] {
		if !st.usable && !st.exhaustedUntil.IsZero() && !now.Before(st.exhaustedUntil) {
			st.usable = true
			st.exhaustedUntil = time.Time{}
		}
		if st.usable {
			return st.source, nil
		}
	}
	return Source{}, ErrNoneAvailable
}

// MarkExhausted clears the usable flag for the named source until the
// owning rule's window end. Called when a recorded outcome indicates a
// provider-side quota/auth rejection; transient network failures must
// not end up here.
func (s *Selector) MarkExhausted(provider, name string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.providers[provider] {
		if st.source.Name == name {
			st.usable = false
			st.exhaustedUntil = until
			return
		}
	}
}

// NextUsableAt returns the earliest time any source for provider
// becomes usable again. Zero time means a source is usable right now.
func (s *Selector) NextUsableAt(provider string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var earliest time.Time
	for _, st := range s.providers[provider] {
		if st.usable || (!st.exhaustedUntil.IsZero() && !now.Before(st.exhaustedUntil)) {
			return time.Time{}
		}
		if earliest.IsZero() || st.exhaustedUntil.Before(earliest) {
			earliest = st.exhaustedUntil
		}
	}
	return earliest
}

// SourceStatus is a point-in-time view for status surfaces.
type SourceStatus struct {
	Name           string    `json:"name"`
	Priority       int       `json:"priority"`
	Usable         bool      `json:"usable"`
	ExhaustedUntil time.Time `json:"exhausted_until,omitempty"`
}

// Status reports the current usability of every source for provider,
// in priority order.
func (s *Selector) Status(provider string) []SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	statuses := make([]SourceStatus, 0, len(s.providers[provider]))
	for _, st := range s.providers[provider] {
		usable := st.usable
		if !usable && !st.exhaustedUntil.IsZero() && !now.Before(st.exhaustedUntil) {
			usable = true
		}
		statuses = append(statuses, SourceStatus{
			Name:           st.source.Name,
			Priority:       st.source.Priority,
			Usable:         usable,
			ExhaustedUntil: st.exhaustedUntil,
		})
	}
	return statuses
}
