package captions

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

// FileName is the caption track name inside a job's work directory.
const FileName = "captions.srt"

// Stage runs caption synchronization for a job.
type Stage struct {
	store   stage.Store
	sync    *Synchronizer
	workDir func(jobID string) string
	logger  *slog.Logger
}

// NewStage constructs the synchronize_captions stage.
func NewStage(store stage.Store, sync *Synchronizer, workDir func(string) string, logger *slog.Logger) *Stage {
	return &Stage{store: store, sync: sync, workDir: workDir, logger: logging.NewComponentLogger(logger, "captions-stage")}
}

// Prepare resets progress for the stage.
func (s *Stage) Prepare(ctx context.Context, job *jobs.Job) error {
	if s == nil || s.sync == nil {
		return stage.NotConfigured(jobs.StageSynchronizeCaptions, "caption synchronizer")
	}
	return stage.ReportProgress(ctx, s.store, job, job.Progress, "synchronizing captions")
}

// Execute gates the transcript against detected speech and writes the SRT.
func (s *Stage) Execute(ctx context.Context, job *jobs.Job) error {
	if s == nil || s.sync == nil {
		return stage.NotConfigured(jobs.StageSynchronizeCaptions, "caption synchronizer")
	}
	if len(job.Metadata.Transcript) == 0 {
		return services.Wrap(services.ErrContent, string(jobs.StageSynchronizeCaptions), "execute",
			"job has no transcript", nil, services.WithCode("captions_empty"))
	}

	result, err := s.sync.Synchronize(ctx, job.Metadata.Transcript, job.Narration)
	if err != nil {
		return err
	}

	dir := s.workDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, string(jobs.StageSynchronizeCaptions), "execute",
			"create work directory", err)
	}
	path := filepath.Join(dir, FileName)
	if err := WriteSRT(path, result.Cues); err != nil {
		return services.Wrap(services.ErrTransient, string(jobs.StageSynchronizeCaptions), "write_srt",
			"write caption track", err)
	}

	job.Metadata.SpeechSegments = result.Speech
	job.Metadata.SpeechDetector = result.Detector
	job.Metadata.CaptionPath = path
	job.Metadata.CaptionCount = len(result.Cues)
	if job.Metadata.NarrationDuration <= 0 {
		job.Metadata.NarrationDuration = result.AudioDuration
	}
	logging.WithContext(ctx, s.logger).Info("caption track written",
		logging.String(logging.FieldEventType, "captions_written"),
		logging.String("path", path),
		logging.Int("cues", len(result.Cues)),
	)
	return stage.ReportProgress(ctx, s.store, job, job.Progress, "captions ready")
}

// HealthCheck reports whether the stage has its collaborators.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	if s == nil || s.sync == nil {
		return stage.Unhealthy(string(jobs.StageSynchronizeCaptions), "caption synchronizer not configured")
	}
	return stage.Healthy(string(jobs.StageSynchronizeCaptions))
}
