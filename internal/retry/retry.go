// Package retry runs a fallible operation with exponential backoff and jitter
// under an attempt budget and a wall-clock budget.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// MaxAttemptsCap bounds Policy.MaxAttempts.
const MaxAttemptsCap = 5

// Policy configures Do. Zero fields take defaults from DefaultPolicy.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxTotal bounds elapsed time plus the next delay. Zero disables the
	// wall-clock budget.
	MaxTotal time.Duration
	Jitter   bool

	IsRetryable func(*ClassifiedError) bool
	MapError    func(error) *ClassifiedError

	// Sleep and Now are injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
	Rand  func() float64
}

// DefaultPolicy is used for channel sends.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxTotal:    20 * time.Second,
		Jitter:      true,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MaxAttempts > MaxAttemptsCap {
		p.MaxAttempts = MaxAttemptsCap
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.IsRetryable == nil {
		p.IsRetryable = DefaultRetryable
	}
	if p.MapError == nil {
		p.MapError = Classify
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	return p
}

// Result carries the outcome of Do. Attempts is always >= 1 once Do ran the
// operation.
type Result[T any] struct {
	Value    T
	Err      *ClassifiedError
	Attempts int
}

func (r Result[T]) OK() bool { return r.Err == nil }

// Do invokes op until it succeeds, a failure is not retryable, or a budget is
// exhausted. The delay before retry i (1-based) is
// min(MaxDelay, BaseDelay*2^(i-1)), scaled by a [0.5,1.5) factor when Jitter
// is set. A retry whose delay would push elapsed time past MaxTotal is not
// attempted.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) Result[T] {
	p = p.withDefaults()
	start := p.Now()

	var res Result[T]
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		v, err := op(ctx)
		if err == nil {
			res.Value = v
			res.Err = nil
			return res
		}
		res.Err = p.MapError(err)
		if res.Err == nil {
			res.Err = Classify(err)
		}

		if attempt >= p.MaxAttempts || !p.IsRetryable(res.Err) {
			return res
		}
		if ctx.Err() != nil {
			return res
		}

		delay := p.delay(attempt)
		if p.MaxTotal > 0 && p.Now().Sub(start)+delay > p.MaxTotal {
			return res
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return res
		}
	}
}

// delay returns the wait before retry number i (1-based).
func (p Policy) delay(i int) time.Duration {
	d := p.BaseDelay
	for k := 1; k < i; k++ {
		d *= 2
		if d >= p.MaxDelay {
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.5 + p.Rand()))
	}
	if d < 0 {
		return 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
