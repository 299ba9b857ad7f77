package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned by [TryResult] when every entry in a [Chain]
// failed or had an open breaker. The last backend error is wrapped alongside
// it for classification.
var ErrExhausted = errors.New("all fallbacks exhausted")

// link pairs one backend with its dedicated circuit breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain composes a primary backend with ordered fallbacks of the same type.
// Each entry gets its own [Breaker] built from the chain's config, so a
// tripped backend is skipped without probing it on every call.
//
// Build the chain fully before use; [Chain.Add] is not safe to call
// concurrently with [TryResult].
type Chain[T any] struct {
	entries    []link[T]
	breakerCfg BreakerConfig
}

// NewChain returns a [Chain] with primary as its first entry. Fallbacks are
// appended with [Chain.Add].
func NewChain[T any](name string, primary T, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{breakerCfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend. Entries are tried in insertion order.
func (c *Chain[T]) Add(name string, value T) {
	cfg := c.breakerCfg
	cfg.Name = name
	c.entries = append(c.entries, link[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Names returns the entry names in order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// TryResult runs fn against each chain entry in order until one succeeds.
// Entries with an open breaker are skipped. When ctx is done the remaining
// entries are not tried and the context error is returned, wrapping the last
// backend error if one was seen. When every entry fails, the result wraps
// [ErrExhausted] together with the last error.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func TryResult[T, R any](ctx context.Context, c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.entries {
		e := &c.entries[i]

		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last backend error: %w)", err, lastErr)
			}
			return zero, err
		}

		var result R
		err := e.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, circuit breaker open", "backend", e.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
