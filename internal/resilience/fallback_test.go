package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBackend struct {
	name  string
	calls int
	err   error
}

// try runs the chain with a fn that returns each backend's name on success.
func try(ctx context.Context, c *Chain[*fakeBackend]) (string, error) {
	return TryResult(ctx, c, func(b *fakeBackend) (string, error) {
		b.calls++
		if b.err != nil {
			return "", b.err
		}
		return b.name, nil
	})
}

func TestChainPrimarySuccess(t *testing.T) {
	primary := &fakeBackend{name: "primary"}
	secondary := &fakeBackend{name: "secondary"}
	c := NewChain("primary", primary, BreakerConfig{})
	c.Add("secondary", secondary)

	got, err := try(context.Background(), c)
	if err != nil {
		t.Fatalf("TryResult returned error: %v", err)
	}
	if got != "primary" {
		t.Errorf("result = %q, want %q", got, "primary")
	}
	if secondary.calls != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.calls)
	}
}

func TestChainFailover(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("primary down")}
	secondary := &fakeBackend{name: "secondary"}
	c := NewChain("primary", primary, BreakerConfig{})
	c.Add("secondary", secondary)

	got, err := try(context.Background(), c)
	if err != nil {
		t.Fatalf("TryResult returned error: %v", err)
	}
	if got != "secondary" {
		t.Errorf("result = %q, want %q", got, "secondary")
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, secondary.calls)
	}
}

func TestChainAllFail(t *testing.T) {
	errSecondary := errors.New("secondary down")
	primary := &fakeBackend{name: "primary", err: errors.New("primary down")}
	secondary := &fakeBackend{name: "secondary", err: errSecondary}
	c := NewChain("primary", primary, BreakerConfig{})
	c.Add("secondary", secondary)

	_, err := try(context.Background(), c)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, errSecondary) {
		t.Errorf("err = %v, want it to wrap the last backend error", err)
	}
}

func TestChainSkipsOpenBreaker(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("primary down")}
	secondary := &fakeBackend{name: "secondary"}
	c := NewChain("primary", primary, BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	c.Add("secondary", secondary)

	// First pass trips the primary's breaker.
	if _, err := try(context.Background(), c); err != nil {
		t.Fatalf("first pass returned error: %v", err)
	}
	// Second pass must skip the primary entirely.
	if _, err := try(context.Background(), c); err != nil {
		t.Fatalf("second pass returned error: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should skip it)", primary.calls)
	}
	if secondary.calls != 2 {
		t.Errorf("secondary called %d times, want 2", secondary.calls)
	}
}

func TestChainContextCancelledBeforeCall(t *testing.T) {
	primary := &fakeBackend{name: "primary"}
	c := NewChain("primary", primary, BreakerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := try(ctx, c)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if primary.calls != 0 {
		t.Errorf("primary called %d times, want 0", primary.calls)
	}
}

func TestChainCancellationStopsFailover(t *testing.T) {
	errPrimary := errors.New("primary down")
	ctx, cancel := context.WithCancel(context.Background())

	primary := &fakeBackend{name: "primary"}
	secondary := &fakeBackend{name: "secondary"}
	c := NewChain("primary", primary, BreakerConfig{})
	c.Add("secondary", secondary)

	_, err := TryResult(ctx, c, func(b *fakeBackend) (string, error) {
		b.calls++
		cancel()
		return "", errPrimary
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !errors.Is(err, errPrimary) {
		t.Errorf("err = %v, want it to wrap the primary's error", err)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary called %d times, want 0 after cancellation", secondary.calls)
	}
}

func TestChainNames(t *testing.T) {
	c := NewChain("a", &fakeBackend{name: "a"}, BreakerConfig{})
	c.Add("b", &fakeBackend{name: "b"})

	names := c.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
}
