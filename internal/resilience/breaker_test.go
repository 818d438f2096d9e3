package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/services"
)

func transientErr() error {
	return services.Wrap(services.ErrTransient, "", "call", "upstream 503", nil)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("stt", 3, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, func(context.Context) error { return transientErr() }); err == nil {
			t.Fatal("expected failure to propagate")
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open breaker, got %s", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if called {
		t.Fatal("open breaker must not call the dependency")
	}
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient circuit-open error, got %v", err)
	}
	if !services.IsRetryable(err) {
		t.Fatal("circuit open must be retryable")
	}
}

func TestBreakerHalfOpenAdmitsOneCall(t *testing.T) {
	b := NewBreaker("ocr", 1, 20*time.Millisecond)
	ctx := context.Background()

	_ = b.Do(ctx, func(context.Context) error { return transientErr() })
	time.Sleep(30 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after cool-down, got %s", b.State())
	}

	release := make(chan struct{})
	trialStarted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()
	<-trialStarted
	if err := b.Do(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected second caller to be rejected while the half-open call runs, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("half-open call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after a successful half-open call, got %s", b.State())
	}
}

func TestBreakerFailedHalfOpenCallReopens(t *testing.T) {
	b := NewBreaker("vad", 1, 50*time.Millisecond)
	ctx := context.Background()

	_ = b.Do(ctx, func(context.Context) error { return transientErr() })
	time.Sleep(60 * time.Millisecond)
	if err := b.Do(ctx, func(context.Context) error { return transientErr() }); errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected the half-open call to reach the dependency")
	}
	if b.State() != StateOpen {
		t.Fatalf("expected re-opened breaker, got %s", b.State())
	}
	err := b.Do(ctx, func(context.Context) error { return nil })
	if desc := services.Describe(err); desc.Code != "circuit_open" || desc.Details["dependency"] != "vad" {
		t.Fatalf("expected circuit_open for vad during the fresh cool-down, got %+v", desc)
	}
}

func TestBreakerIgnoresTerminalAndCancelledErrors(t *testing.T) {
	b := NewBreaker("clips", 1, time.Minute)
	ctx := context.Background()

	notFound := services.Wrap(services.ErrNotFound, "", "search", "no such clip", nil)
	_ = b.Do(ctx, func(context.Context) error { return notFound })
	_ = b.Do(ctx, func(context.Context) error { return context.Canceled })
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := b.Do(cancelled, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the caller's cancellation back, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("terminal or cancelled errors must not trip the breaker, got %s", b.State())
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker("clips", 2, time.Minute)
	ctx := context.Background()
	_ = b.Do(ctx, func(context.Context) error { return transientErr() })
	_ = b.Do(ctx, func(context.Context) error { return nil })
	_ = b.Do(ctx, func(context.Context) error { return transientErr() })
	if b.State() != StateClosed {
		t.Fatalf("expected non-consecutive failures to leave breaker closed, got %s", b.State())
	}
}

func TestBreakersRegistry(t *testing.T) {
	reg := NewBreakers(config.Breaker{FailureThreshold: 1}, time.Minute)
	if reg.Get("stt") != reg.Get("stt") {
		t.Fatal("expected the same breaker for the same name")
	}
	_ = reg.Get("ocr").Do(context.Background(), func(context.Context) error { return transientErr() })
	if reg.Get("ocr").State() != StateOpen || reg.Get("stt").State() != StateClosed {
		t.Fatal("expected breakers to trip independently per dependency")
	}
}
