// Package backoff enforces randomized minimum spacing between
// successive admitted calls to the same provider. The randomized
// component avoids a detectable fixed-interval access pattern; the
// per-provider gate guarantees two concurrent callers are never
// released at the same instant, while independent providers proceed in
// parallel.
package backoff

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Range bounds the randomized inter-request delay for one provider.
type Range struct {
	Min time.Duration `yaml:"min_delay"`
	Max time.Duration `yaml:"max_delay"`
}

type gate struct {
	mu          sync.Mutex
	delay       Range
	nextAllowed time.Time
}

// Scheduler holds one gate per provider. Waiting blocks only the
// calling goroutine for that provider; the scheduler itself is never
// held locked across a sleep for other providers.
type Scheduler struct {
	mu    sync.Mutex
	gates map[string]*gate

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand
	rngMu sync.Mutex
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		gates: make(map[string]*gate),
		now:   time.Now,
		sleep: sleepContext,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Configure sets the delay range for a provider. Called once at
// startup from provider configuration.
func (s *Scheduler) Configure(provider string, r Range) {
	g := s.gateFor(provider)
	g.mu.Lock()
	g.delay = r
	g.mu.Unlock()
}

func (s *Scheduler) gateFor(provider string) *gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[provider]
	if !ok {
		g = &gate{}
		s.gates[provider] = g
	}
	return g
}

// NextAllowedAt returns the earliest instant the next call to provider
// may be released.
func (s *Scheduler) NextAllowedAt(provider string) time.Time {
	g := s.gateFor(provider)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nextAllowed.IsZero() {
		return s.now()
	}
	return g.nextAllowed
}

// WaitUntilAllowed suspends the caller until both the provider's
// randomized spacing and notBefore (the governor's retry-after, when
// set) have elapsed. The gate mutex is held for the duration of the
// wait, serializing same-provider callers so each gets its own release
// slot with fresh random spacing after it.
func (s *Scheduler) WaitUntilAllowed(ctx context.Context, provider string, notBefore time.Time) error {
	g := s.gateFor(provider)
	g.mu.Lock()
	defer g.mu.Unlock()

	release := s.now()
	if g.nextAllowed.After(release) {
		release = g.nextAllowed
	}
	if notBefore.After(release) {
		release = notBefore
	}

	if wait := release.Sub(s.now()); wait > 0 {
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}

	// Reserve the spacing for whoever comes next.
	g.nextAllowed = release.Add(s.randomDelay(g.delay))
	return nil
}

func (s *Scheduler) randomDelay(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return r.Min + time.Duration(s.rng.Int63n(int64(r.Max-r.Min)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
