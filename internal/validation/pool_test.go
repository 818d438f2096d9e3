package validation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/media"
	"reelsmith/internal/validation"
)

type slowValidator struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (v *slowValidator) Validate(ctx context.Context, clip validation.Clip, _ media.Target) (validation.Result, error) {
	v.mu.Lock()
	v.active++
	if v.active > v.maxSeen {
		v.maxSeen = v.active
	}
	v.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	v.mu.Lock()
	v.active--
	v.mu.Unlock()
	return validation.Result{}, nil
}

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := &slowValidator{}
	pool := validation.NewPool(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pool.Validate(context.Background(), validation.Clip{}, target); err != nil {
				t.Errorf("Validate: %v", err)
			}
		}()
	}
	wg.Wait()
	if inner.maxSeen > 2 {
		t.Fatalf("expected at most 2 concurrent validations, saw %d", inner.maxSeen)
	}
}

func TestPoolHonoursCancellation(t *testing.T) {
	pool := validation.NewPool(&slowValidator{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Validate(ctx, validation.Clip{}, target); err == nil {
		t.Fatal("expected cancelled context to be reported")
	}
}
