package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"reelsmith/internal/fileutil"
	"reelsmith/internal/ledger"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/services"
	"reelsmith/internal/services/scorer"
	"reelsmith/internal/textutil"
)

// Rejection reasons recorded in the ledger.
const (
	ReasonTextDetected       = "text_detected"
	ReasonCorruptedNoFrames  = "corrupted_no_frames"
	ReasonCorruptedTruncated = "corrupted_truncated"
)

// Verdict is the outcome of one validation.
type Verdict string

const (
	Approved  Verdict = "approved"
	Rejected  Verdict = "rejected"
	Corrupted Verdict = "corrupted"
)

// Result is the tagged outcome of Validate. Reason is empty for Approved.
type Result struct {
	Verdict         Verdict
	Confidence      float64
	Reason          string
	FramesProcessed int
	// Text and Frame describe the detection that rejected the clip.
	Text  string
	Frame int
}

// Approved reports whether the clip may be used.
func (r Result) Approved() bool {
	return r.Verdict == Approved
}

// Clip identifies the file under validation.
type Clip struct {
	ID        string
	Path      string
	SourceURL string
	// Extra paths deleted together with Path on rejection.
	Related []string
}

// MediaTool is the subset of the media adapter the engine uses.
type MediaTool interface {
	CropScale(ctx context.Context, in, out string, target media.Target) error
	DecodeFrames(ctx context.Context, path string, width, height int, fn func(media.Frame) error) (int, error)
}

// Recorder stores rejections.
type Recorder interface {
	Record(ctx context.Context, entry ledger.Entry) (bool, error)
}

// Options tunes the engine.
type Options struct {
	ConfidenceFloor float64
	// ScratchDir holds the temporary canonical renderings. Defaults to the
	// clip's directory.
	ScratchDir string
	Now        func() time.Time
}

// Engine validates clips against the zero-tolerance text policy.
type Engine struct {
	tool   MediaTool
	scorer TextScorer
	ledger Recorder
	opts   Options
	logger *slog.Logger
}

// NewEngine builds an engine. The scorer is serialized internally.
func NewEngine(tool MediaTool, textScorer TextScorer, recorder Recorder, opts Options, logger *slog.Logger) *Engine {
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = 0.5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if _, ok := textScorer.(*SerialScorer); !ok {
		textScorer = NewSerialScorer(textScorer)
	}
	return &Engine{
		tool:   tool,
		scorer: textScorer,
		ledger: recorder,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "validation"),
	}
}

type textFound struct {
	detection scorer.Detection
	frame     int
}

// Validate scans every frame of the canonical rendering of clip. A non-nil
// error means no verdict could be reached (scorer down, timeout,
// cancellation) and the clip must not be treated as approved.
func (e *Engine) Validate(ctx context.Context, clip Clip, target media.Target) (Result, error) {
	if clip.ID == "" || clip.Path == "" {
		return Result{}, services.Errorf(services.ErrValidation, "", "validate", "clip id and path are required")
	}
	if _, err := os.Stat(clip.Path); err != nil {
		return Result{}, services.Wrap(services.ErrNotFound, "", "validate", "clip file missing", err,
			services.WithDetail(logging.FieldClipID, clip.ID))
	}
	ctx = services.WithClipID(ctx, clip.ID)
	logger := logging.WithContext(ctx, e.logger)
	start := e.opts.Now()

	render := e.renderPath(clip)
	defer os.Remove(render)

	if err := e.tool.CropScale(ctx, clip.Path, render, target); err != nil {
		if unreadable(ctx, err) {
			return e.reject(ctx, logger, clip, Result{Verdict: Corrupted, Reason: ReasonCorruptedNoFrames}, err)
		}
		return Result{}, err
	}

	var found *textFound
	frames, err := e.tool.DecodeFrames(ctx, render, target.Width, target.Height, func(frame media.Frame) error {
		detections, err := e.scorer.Detect(ctx, frame)
		if err != nil {
			return err
		}
		for _, d := range detections {
			if d.Confidence >= e.opts.ConfidenceFloor {
				found = &textFound{detection: d, frame: frame.Index}
				return ffmpeg.ErrStopDecoding
			}
		}
		return nil
	})

	switch {
	case found != nil:
		return e.reject(ctx, logger, clip, Result{
			Verdict:         Rejected,
			Reason:          ReasonTextDetected,
			Confidence:      found.detection.Confidence,
			FramesProcessed: frames + 1,
			Text:            found.detection.Text,
			Frame:           found.frame,
		}, nil)
	case err != nil && errors.Is(err, services.ErrCorrupted):
		reason := ReasonCorruptedTruncated
		if frames == 0 {
			reason = ReasonCorruptedNoFrames
		}
		return e.reject(ctx, logger, clip, Result{Verdict: Corrupted, Reason: reason, FramesProcessed: frames}, err)
	case err != nil:
		return Result{FramesProcessed: frames}, err
	case frames == 0:
		return e.reject(ctx, logger, clip, Result{Verdict: Corrupted, Reason: ReasonCorruptedNoFrames}, nil)
	}

	logger.Info("clip approved",
		logging.String(logging.FieldEventType, "clip_approved"),
		logging.Int("frames", frames),
		logging.Duration("elapsed", e.opts.Now().Sub(start)),
	)
	return Result{Verdict: Approved, FramesProcessed: frames}, nil
}

func (e *Engine) reject(ctx context.Context, logger *slog.Logger, clip Clip, result Result, cause error) (Result, error) {
	metadata := map[string]string{
		"verdict": string(result.Verdict),
		"frames":  strconv.Itoa(result.FramesProcessed),
	}
	if clip.SourceURL != "" {
		metadata["source_url"] = clip.SourceURL
	}
	if result.Text != "" {
		metadata["text"] = result.Text
		metadata["frame"] = strconv.Itoa(result.Frame)
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	if e.ledger != nil {
		if _, err := e.ledger.Record(ctx, ledger.Entry{
			ExternalID: clip.ID,
			Reason:     result.Reason,
			Confidence: result.Confidence,
			FirstSeen:  e.opts.Now(),
			Metadata:   metadata,
		}); err != nil {
			return result, fmt.Errorf("record rejection of %s: %w", clip.ID, err)
		}
	}
	if err := fileutil.RemoveFiles(append([]string{clip.Path}, clip.Related...)...); err != nil {
		logging.WarnWithContext(logger, "failed to delete rejected clip", "clip_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the file manually"),
			logging.String(logging.FieldImpact, "disk space is not reclaimed"),
		)
	}
	logger.Info("clip rejected",
		logging.String(logging.FieldEventType, "clip_rejected"),
		logging.String("reason", result.Reason),
		logging.Float64("confidence", result.Confidence),
		logging.Int("frames", result.FramesProcessed),
		logging.String("text", result.Text),
	)
	return result, nil
}

func (e *Engine) renderPath(clip Clip) string {
	dir := e.opts.ScratchDir
	if dir == "" {
		dir = filepath.Dir(clip.Path)
	}
	return filepath.Join(dir, "."+textutil.SanitizeToken(clip.ID)+".scan.mp4")
}

// unreadable reports whether a canonical render failed because of the input
// rather than the environment. Timeouts and cancellation are not verdicts.
func unreadable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, services.ErrCorrupted) {
		return true
	}
	var structured *services.Error
	if errors.As(err, &structured) && errors.Is(err, services.ErrExternalTool) {
		return structured.Code == "ffmpeg_failed" || structured.Code == "empty_output"
	}
	return false
}
