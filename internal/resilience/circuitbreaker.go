// Package resilience keeps transcription running when a speech or completion
// backend degrades.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// fast-fails calls to a backend that keeps erroring instead of hammering it.
// [Chain] composes a primary backend with ordered fallbacks of the same type,
// one breaker per entry, so a tripped primary is bypassed in favour of a
// healthy fallback. [RecognizerFallback] and [LLMFallback] put chains behind
// the ordinary provider interfaces.
//
// All types are safe for concurrent use once configured.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] when the breaker is open and the
// reset timeout has not yet elapsed, or when the half-open probe budget is
// already spent.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Breaker defaults, used for zero-valued [BreakerConfig] fields.
const (
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	defaultProbeBudget  = 3
)

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call. This is the initial state.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrBreakerOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. If they
	// all succeed the breaker closes; a single failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tuning knobs for a [Breaker]. Zero values select
// the package defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages, usually the backend name.
	Name string

	// MaxFailures is the number of consecutive failures that trips the
	// breaker from closed to open. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing the
	// backend again. Default: 30s.
	ResetTimeout time.Duration

	// ProbeBudget is the number of half-open probe calls that must all
	// succeed before the breaker closes. Default: 3.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker. The zero value is not usable;
// construct with [NewBreaker].
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeBudget  int
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openUntil time.Time
	probes    int
	probeWins int
}

// NewBreaker returns a closed [Breaker] configured by cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probeBudget:  cfg.ProbeBudget,
		now:          time.Now,
	}
	if b.maxFailures <= 0 {
		b.maxFailures = defaultMaxFailures
	}
	if b.resetTimeout <= 0 {
		b.resetTimeout = defaultResetTimeout
	}
	if b.probeBudget <= 0 {
		b.probeBudget = defaultProbeBudget
	}
	return b
}

// Do runs fn if the breaker allows it. While open it returns [ErrBreakerOpen]
// without calling fn; while half-open only the probe budget's worth of calls
// get through. The error returned by fn passes through unchanged.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Before(b.openUntil) {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeWins = 0
		slog.Info("circuit breaker half-open, probing backend", "name", b.name)

	case StateHalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	// Probe admissions count even while the call is still in flight, so
	// concurrent callers cannot overrun the budget.
	probe := b.state == StateHalfOpen
	if probe {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probe)
	} else {
		b.onSuccess(probe)
	}
	return err
}

// onFailure updates state after a failed call. Caller holds b.mu.
func (b *Breaker) onFailure(probe bool) {
	if probe {
		// One failed probe is enough to re-open.
		b.state = StateOpen
		b.openUntil = b.now().Add(b.resetTimeout)
		slog.Warn("circuit breaker re-opened by failed probe", "name", b.name)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openUntil = b.now().Add(b.resetTimeout)
		slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess updates state after a successful call. Caller holds b.mu.
func (b *Breaker) onSuccess(probe bool) {
	if probe {
		b.probeWins++
		if b.probeWins >= b.probeBudget {
			b.state = StateClosed
			b.failures = 0
			slog.Info("circuit breaker closed after successful probes", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State returns the breaker's current state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen] even though the transition
// itself happens on the next [Breaker.Do] call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeWins = 0
	slog.Info("circuit breaker manually reset", "name", b.name)
}
