package validation

import (
	"context"

	"golang.org/x/sync/semaphore"

	"reelsmith/internal/media"
)

// Validator is anything that validates one clip; *Engine satisfies it.
type Validator interface {
	Validate(ctx context.Context, clip Clip, target media.Target) (Result, error)
}

// Pool bounds how many clips are validated at once across every caller.
type Pool struct {
	inner Validator
	sem   *semaphore.Weighted
}

// NewPool admits at most workers concurrent validations of inner.
func NewPool(inner Validator, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{inner: inner, sem: semaphore.NewWeighted(int64(workers))}
}

// Validate waits for a free slot, then validates clip.
func (p *Pool) Validate(ctx context.Context, clip Clip, target media.Target) (Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer p.sem.Release(1)
	return p.inner.Validate(ctx, clip, target)
}
