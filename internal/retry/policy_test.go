package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	p := Fixed(5, time.Millisecond)
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	p := Fixed(3, time.Millisecond)
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	sentinel := errors.New("contract rejected")
	calls := 0
	p := Fixed(10, time.Millisecond)
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error retried: %d calls", calls)
	}
}

func TestDoRespectsTimeout(t *testing.T) {
	p := Policy{MaxAttempts: 100, Interval: 10 * time.Millisecond, Timeout: 25 * time.Millisecond}
	start := time.Now()
	err := p.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("not yet")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestDoRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Fixed(5, time.Millisecond)
	err := p.Do(ctx, func(ctx context.Context) error { return errors.New("x") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	p := Exponential(4, 10*time.Millisecond, 15*time.Millisecond)
	if p.Multiplier <= 1 {
		t.Fatal("exponential policy must have multiplier > 1")
	}
	var gaps []time.Duration
	last := time.Now()
	calls := 0
	_ = p.Do(context.Background(), func(ctx context.Context) error {
		now := time.Now()
		if calls > 0 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		calls++
		return errors.New("fail")
	})
	if len(gaps) != 3 {
		t.Fatalf("expected 3 gaps, got %d", len(gaps))
	}
	// Last gap should be capped near MaxInterval, not 40ms.
	if gaps[2] > 30*time.Millisecond {
		t.Fatalf("backoff exceeded cap: %s", gaps[2])
	}
}
