package validation

import (
	"context"
	"sync"

	"reelsmith/internal/media"
	"reelsmith/internal/services/scorer"
)

// TextScorer reports text regions in one frame.
type TextScorer interface {
	Detect(ctx context.Context, frame media.Frame) ([]scorer.Detection, error)
}

// SerialScorer admits one Detect call at a time. Scorer backends are not
// assumed to be safe for concurrent use.
type SerialScorer struct {
	mu    sync.Mutex
	inner TextScorer
}

// NewSerialScorer wraps inner.
func NewSerialScorer(inner TextScorer) *SerialScorer {
	return &SerialScorer{inner: inner}
}

// Detect forwards to the wrapped scorer under the lock.
func (s *SerialScorer) Detect(ctx context.Context, frame media.Frame) ([]scorer.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Detect(ctx, frame)
}
