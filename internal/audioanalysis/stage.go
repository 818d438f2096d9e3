package audioanalysis

import (
	"context"
	"log/slog"
	"os"
	"time"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

const stageName = string(jobs.StageAnalyzeAudio)

// Prober measures a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Spec, error)
}

// Transcriber returns timed text for an audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) ([]media.TextSegment, error)
}

// Analyzer integrates narration analysis with the workflow manager.
type Analyzer struct {
	store       stage.Store
	prober      Prober
	transcriber Transcriber
	logger      *slog.Logger
}

// NewAnalyzer constructs the analyze_audio stage.
func NewAnalyzer(store stage.Store, prober Prober, transcriber Transcriber, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		store:       store,
		prober:      prober,
		transcriber: transcriber,
		logger:      logging.NewComponentLogger(logger, "audio-analysis"),
	}
}

// Prepare checks that the narration file exists.
func (a *Analyzer) Prepare(ctx context.Context, job *jobs.Job) error {
	if a == nil || a.prober == nil || a.transcriber == nil {
		return stage.NotConfigured(jobs.StageAnalyzeAudio, "audio analysis")
	}
	if _, err := os.Stat(job.Narration); err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "prepare", "narration file not found", err,
			services.WithCode("narration_missing"), services.WithDetail("path", job.Narration))
	}
	return stage.ReportProgress(ctx, a.store, job, job.Progress, "analyzing narration")
}

// Execute probes and transcribes the narration.
func (a *Analyzer) Execute(ctx context.Context, job *jobs.Job) error {
	if a == nil || a.prober == nil || a.transcriber == nil {
		return stage.NotConfigured(jobs.StageAnalyzeAudio, "audio analysis")
	}
	stageStart := time.Now()
	logger := logging.WithContext(ctx, a.logger)

	spec, err := a.prober.Probe(ctx, job.Narration)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "probe_narration", "probe narration", err)
	}
	if !spec.HasAudio {
		return services.Wrap(services.ErrCorrupted, stageName, "probe_narration", "narration has no audio stream", nil,
			services.WithCode("narration_no_audio"), services.WithDetail("path", job.Narration))
	}
	if spec.Duration <= 0 {
		return services.Wrap(services.ErrCorrupted, stageName, "probe_narration", "narration has no duration", nil,
			services.WithCode("narration_empty"), services.WithDetail("path", job.Narration))
	}
	job.Metadata.NarrationDuration = spec.Duration
	if err := stage.ReportProgress(ctx, a.store, job, job.Progress, "transcribing narration"); err != nil {
		return err
	}

	segments, err := a.transcriber.Transcribe(ctx, job.Narration)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "transcribe", "transcribe narration", err)
	}
	segments = clampTranscript(segments, spec.Duration)
	if len(segments) == 0 {
		return services.Wrap(services.ErrContent, stageName, "transcribe", "transcript is empty", nil,
			services.WithCode("transcript_empty"))
	}
	job.Metadata.Transcript = segments

	logger.Info("narration analyzed",
		logging.String(logging.FieldEventType, "narration_analyzed"),
		logging.Seconds("narration_seconds", spec.Duration),
		logging.Int("transcript_segments", len(segments)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return stage.ReportProgress(ctx, a.store, job, job.Progress, "narration transcribed")
}

// HealthCheck reports whether the stage has its collaborators.
func (a *Analyzer) HealthCheck(context.Context) stage.Health {
	if a == nil {
		return stage.Unhealthy(stageName, "audio analysis not configured")
	}
	return stage.Require(stageName,
		stage.Need("media prober", a.prober != nil),
		stage.Need("transcriber", a.transcriber != nil),
	)
}

// clampTranscript trims segments to the narration length and drops those
// that start past its end.
func clampTranscript(segments []media.TextSegment, duration float64) []media.TextSegment {
	out := make([]media.TextSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.Start >= duration {
			continue
		}
		seg.End = min(seg.End, duration)
		if seg.End <= seg.Start {
			continue
		}
		out = append(out, seg)
	}
	return out
}
