package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"reelsmith/internal/services"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func noSleep(context.Context, time.Duration) error { return nil }

func TestBackoffScheduleDoublesAndCaps(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		retries int
		want    []time.Duration
	}{
		{
			name:    "ceiling",
			backoff: Backoff{Base: 100 * time.Millisecond, Max: time.Second, Rand: func() float64 { return 1 }},
			retries: 6,
			want:    []time.Duration{100, 200, 400, 800, 1000, 1000},
		},
		{
			name:    "full jitter",
			backoff: Backoff{Base: 1000 * time.Millisecond, Max: time.Minute, Rand: func() float64 { return 0.5 }},
			retries: 3,
			want:    []time.Duration{500, 1000, 2000},
		},
		{
			name:    "base above max",
			backoff: Backoff{Base: 5 * time.Second, Max: 2 * time.Second, Rand: func() float64 { return 1 }},
			retries: 2,
			want:    []time.Duration{2000, 2000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule := tt.backoff.schedule(tt.retries)
			for i, w := range tt.want {
				if got := schedule.NextBackOff(); got != w*time.Millisecond {
					t.Fatalf("retry %d: got %v want %v", i+1, got, w*time.Millisecond)
				}
			}
			if got := schedule.NextBackOff(); got != backoff.Stop {
				t.Fatalf("expected stop after %d retries, got %v", tt.retries, got)
			}
		})
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Sleep: noSleep}, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return services.Wrap(services.ErrTimeout, "", "op", "slow", nil)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got calls=%d err=%v", calls, err)
	}
}

func TestRetryDoesNotRetryTerminal(t *testing.T) {
	calls := 0
	terminal := services.Wrap(services.ErrContent, "", "op", "text detected", nil)
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, Sleep: noSleep}, func(context.Context, int) error {
		calls++
		return terminal
	})
	if calls != 1 || !errors.Is(err, services.ErrContent) {
		t.Fatalf("expected single call with terminal error, got calls=%d err=%v", calls, err)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	var delays []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     Backoff{Base: time.Millisecond, Rand: func() float64 { return 0.5 }},
		Sleep:       noSleep,
		OnRetry:     func(_ int, d time.Duration, _ error) { delays = append(delays, d) },
	}
	err := Retry(context.Background(), policy, func(context.Context, int) error {
		calls++
		return errors.New("connection reset")
	})
	if calls != 3 || err == nil {
		t.Fatalf("expected three calls and an error, got calls=%d err=%v", calls, err)
	}
	if len(delays) != 2 {
		t.Fatalf("expected two delays, got %v", delays)
	}
}

func TestRetryMaxElapsed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	calls := 0
	policy := RetryPolicy{
		MaxAttempts: 10,
		MaxElapsed:  time.Second,
		Backoff:     Backoff{Base: 600 * time.Millisecond, Rand: func() float64 { return 0.99 }},
		Now:         clock.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			clock.Advance(d)
			return nil
		},
	}
	_ = Retry(context.Background(), policy, func(context.Context, int) error {
		calls++
		return services.Wrap(services.ErrTransient, "", "op", "503", nil)
	})
	if calls != 2 {
		t.Fatalf("expected elapsed cap to stop after two calls, got %d", calls)
	}
}

func TestRetryHonoursRetryAfterHint(t *testing.T) {
	var delays []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 2,
		Backoff:     Backoff{Base: time.Millisecond, Rand: func() float64 { return 0 }},
		Sleep:       noSleep,
		OnRetry:     func(_ int, d time.Duration, _ error) { delays = append(delays, d) },
	}
	_ = Retry(context.Background(), policy, func(context.Context, int) error {
		return services.Wrap(services.ErrRateLimited, "", "op", "429", nil, services.WithDetail("retry_after", 3*time.Second))
	})
	if len(delays) != 1 || delays[0] != 3*time.Second {
		t.Fatalf("expected retry-after hint to set the delay, got %v", delays)
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 5, Sleep: noSleep}, func(context.Context, int) error {
		calls++
		cancel()
		return services.Wrap(services.ErrTransient, "", "op", "503", nil)
	})
	if calls != 1 || err == nil {
		t.Fatalf("expected one call after cancellation, got calls=%d err=%v", calls, err)
	}
}
