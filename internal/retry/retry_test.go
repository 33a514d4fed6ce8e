package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) policy(p Policy) Policy {
	p.Now = func() time.Time { return c.now }
	p.Sleep = func(_ context.Context, d time.Duration) error {
		c.sleeps = append(c.sleeps, d)
		c.now = c.now.Add(d)
		return nil
	}
	return p
}

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Unix(0, 0)}
	res := Do(context.Background(), c.policy(Policy{}), func(context.Context) (string, error) {
		return "ok", nil
	})
	if !res.OK() || res.Value != "ok" || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(c.sleeps) != 0 {
		t.Fatalf("unexpected sleeps: %v", c.sleeps)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	res := Do(context.Background(), c.policy(Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}),
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, HTTPError(503, "unavailable")
			}
			return 42, nil
		})
	if !res.OK() || res.Value != 42 || res.Attempts != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if fmt.Sprint(c.sleeps) != fmt.Sprint(want) {
		t.Fatalf("sleeps = %v, want %v", c.sleeps, want)
	}
}

func TestDoTotalBudgetStopsBeforeFirstRetry(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	res := Do(context.Background(), c.policy(Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxTotal: 50 * time.Millisecond}),
		func(context.Context) (struct{}, error) {
			calls++
			return struct{}{}, errors.New("connection reset")
		})
	if res.OK() {
		t.Fatal("expected failure")
	}
	if calls != 1 || res.Attempts != 1 {
		t.Fatalf("calls = %d attempts = %d, want exactly 1", calls, res.Attempts)
	}
	if res.Err.Kind != KindNetwork {
		t.Fatalf("Kind = %s, want network", res.Err.Kind)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Unix(0, 0)}
	for _, status := range []int{400, 401, 404, 422} {
		calls := 0
		res := Do(context.Background(), c.policy(Policy{MaxAttempts: 5}), func(context.Context) (int, error) {
			calls++
			return 0, HTTPError(status, "")
		})
		if calls != 1 || res.Err == nil || res.Err.Status != status {
			t.Fatalf("status %d: calls=%d res=%+v", status, calls, res)
		}
	}
}

func TestDoRetries429AndExhaustsAttempts(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	res := Do(context.Background(), c.policy(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}), func(context.Context) (int, error) {
		calls++
		return 0, HTTPError(429, "slow down")
	})
	if calls != 3 || res.Attempts != 3 || res.Err.Status != 429 {
		t.Fatalf("calls=%d res=%+v", calls, res)
	}
}

func TestDoNoRetryIsPermanent(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	res := Do(context.Background(), c.policy(Policy{MaxAttempts: 5}), func(context.Context) (int, error) {
		calls++
		return 0, NoRetry(errors.New("missing secret"))
	})
	if calls != 1 || !res.Err.Permanent {
		t.Fatalf("calls=%d res=%+v", calls, res.Err)
	}
}

func TestMaxAttemptsIsCapped(t *testing.T) {
	t.Parallel()
	c := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	Do(context.Background(), c.policy(Policy{MaxAttempts: 50, BaseDelay: time.Millisecond}), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if calls != MaxAttemptsCap {
		t.Fatalf("calls = %d, want %d", calls, MaxAttemptsCap)
	}
}

func TestDelayBackoffAndJitter(t *testing.T) {
	t.Parallel()
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}.withDefaults()
	p.Jitter = false
	for i, want := range []time.Duration{100, 200, 300, 300} {
		if got := p.delay(i + 1); got != want*time.Millisecond {
			t.Fatalf("delay(%d) = %v, want %v", i+1, got, want*time.Millisecond)
		}
	}

	p.Jitter = true
	p.Rand = func() float64 { return 0 }
	if got := p.delay(1); got != 50*time.Millisecond {
		t.Fatalf("min jitter delay = %v, want 50ms", got)
	}
	p.Rand = func() float64 { return 0.999 }
	if got := p.delay(1); got >= 150*time.Millisecond {
		t.Fatalf("max jitter delay = %v, want < 150ms", got)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	if got := Classify(context.DeadlineExceeded); got.Kind != KindTimeout {
		t.Fatalf("deadline Kind = %s", got.Kind)
	}
	wrapped := fmt.Errorf("post: %w", HTTPError(502, "bad gateway"))
	if got := Classify(wrapped); got.Kind != KindHTTP || got.Status != 502 {
		t.Fatalf("wrapped http = %+v", got)
	}
	if !DefaultRetryable(Classify(errors.New("dial tcp: refused"))) {
		t.Fatal("network errors should be retryable")
	}
}
