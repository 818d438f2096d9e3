package vad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

// Result is the outcome of a chain run.
type Result struct {
	Segments []media.Segment
	// Detector names the detector that produced Segments.
	Detector string
}

// Chain tries detectors in order until one can run.
type Chain struct {
	detectors []Detector
	logger    *slog.Logger
}

// NewChain builds a chain. Nil detectors are skipped.
func NewChain(logger *slog.Logger, detectors ...Detector) *Chain {
	kept := make([]Detector, 0, len(detectors))
	for _, d := range detectors {
		if d != nil {
			kept = append(kept, d)
		}
	}
	return &Chain{detectors: kept, logger: logging.NewComponentLogger(logger, "vad")}
}

// Names lists the detectors in preference order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.detectors))
	for i, d := range c.detectors {
		out[i] = d.Name()
	}
	return out
}

// Detect returns the segments of the first detector that runs. Any failure
// other than cancellation moves on to the next detector.
func (c *Chain) Detect(ctx context.Context, pcm media.PCM) (Result, error) {
	logger := logging.WithContext(ctx, c.logger)
	var errs []error
	for i, d := range c.detectors {
		segments, err := d.Detect(ctx, pcm)
		if err == nil {
			if i > 0 {
				logging.WarnWithContext(logger, "using fallback voice activity detector", "vad_fallback",
					logging.String("detector", d.Name()),
					logging.String(logging.FieldImpact, "caption timing may be less precise"),
					logging.String(logging.FieldErrorHint, "check the neural vad endpoint"),
				)
			}
			return Result{Segments: segments, Detector: d.Name()}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		logger.Info("voice activity detector unavailable",
			logging.String("detector", d.Name()),
			logging.String(logging.FieldErrorKind, services.KindName(err)),
			logging.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}
	return Result{}, services.Wrap(services.ErrTransient, "", "detect_speech", "no voice activity detector could run",
		errors.Join(append(errs, ErrUnavailable)...), services.WithCode("vad_unavailable"))
}
