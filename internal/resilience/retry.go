package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"reelsmith/internal/services"
)

// Backoff configures exponential delays with full jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64
}

// schedule returns the delays for one retry loop: a doubling ceiling capped
// at Max, each delay drawn uniformly below its ceiling, Stop after
// maxRetries delays.
func (b Backoff) schedule(maxRetries int) backoff.BackOff {
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	ceiling := time.Duration(math.MaxInt64)
	if b.Max > 0 {
		ceiling = b.Max
		base = min(base, b.Max)
	}
	random := b.Rand
	if random == nil {
		random = rand.Float64
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(base),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(ceiling),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithMaxRetries(&fullJitter{ceiling: exp, rand: random}, uint64(max(maxRetries, 0)))
}

type fullJitter struct {
	ceiling backoff.BackOff
	rand    func() float64
}

func (j *fullJitter) NextBackOff() time.Duration {
	next := j.ceiling.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	return time.Duration(j.rand() * float64(next))
}

func (j *fullJitter) Reset() {
	j.ceiling.Reset()
}

// RetryPolicy bounds a retry loop.
type RetryPolicy struct {
	MaxAttempts int
	// MaxElapsed caps total time spent including delays; zero means no cap.
	MaxElapsed time.Duration
	Backoff    Backoff
	// OnRetry is called before each delay.
	OnRetry func(attempt int, delay time.Duration, err error)
	Now     func() time.Time
	Sleep   func(context.Context, time.Duration) error
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. attempt passed to fn is 1-based. The last error is
// returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	now := policy.Now
	if now == nil {
		now = time.Now
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}
	start := now()
	schedule := policy.Backoff.schedule(policy.MaxAttempts - 1)
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !services.IsRetryable(err) || errors.Is(err, context.Canceled) {
			return err
		}
		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		if hint := retryAfterHint(err); hint > delay {
			delay = hint
		}
		if policy.MaxElapsed > 0 && now().Sub(start)+delay > policy.MaxElapsed {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

// retryAfterHint extracts a server-provided retry delay from a structured
// error, such as the one a rate limiter or an HTTP 429 produces.
func retryAfterHint(err error) time.Duration {
	var structured *services.Error
	if !errors.As(err, &structured) {
		return 0
	}
	if d, ok := structured.Details["retry_after"].(time.Duration); ok {
		return d
	}
	return 0
}

// SleepWithContext waits for d or until ctx ends.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
