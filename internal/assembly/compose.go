package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"reelsmith/internal/captions"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/storage"
	"reelsmith/internal/textutil"
	"reelsmith/internal/validation"
)

const composeStage = string(jobs.StageCompose)

// ComposeStage produces the final video.
type ComposeStage struct {
	store     stage.Store
	validator Validator
	composer  Composer
	publisher storage.Publisher
	outputDir string
	opts      Options
	logger    *slog.Logger
}

// ComposeDeps groups the collaborators of the compose stage.
type ComposeDeps struct {
	Store     stage.Store
	Validator Validator
	Composer  Composer
	// Publisher may be nil or storage.Noop to keep outputs local.
	Publisher storage.Publisher
	OutputDir string
}

// NewComposeStage constructs the compose stage.
func NewComposeStage(deps ComposeDeps, opts Options, logger *slog.Logger) *ComposeStage {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = storage.Noop{}
	}
	return &ComposeStage{
		store:     deps.Store,
		validator: deps.Validator,
		composer:  deps.Composer,
		publisher: publisher,
		outputDir: deps.OutputDir,
		opts:      opts.withDefaults(),
		logger:    logging.NewComponentLogger(logger, "compose"),
	}
}

func (s *ComposeStage) configured() bool {
	return s != nil && s.validator != nil && s.composer != nil && s.outputDir != ""
}

// Prepare resets progress for the stage.
func (s *ComposeStage) Prepare(ctx context.Context, job *jobs.Job) error {
	if !s.configured() {
		return stage.NotConfigured(jobs.StageCompose, "composer")
	}
	return stage.ReportProgress(ctx, s.store, job, stage.Percent(jobs.StageCompose, 0), "revalidating clips")
}

// OutputPath returns where the composition of job is written.
func (s *ComposeStage) OutputPath(job *jobs.Job) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("%s-%s.mp4", job.ID, textutil.Slug(job.Query, 40)))
}

// Execute revalidates, checks captions, composes and publishes.
func (s *ComposeStage) Execute(ctx context.Context, job *jobs.Job) error {
	if !s.configured() {
		return stage.NotConfigured(jobs.StageCompose, "composer")
	}
	logger := logging.WithContext(ctx, s.logger)
	assembled := job.Metadata.AssembledPath
	if assembled == "" || !nonEmpty(assembled) {
		return services.Wrap(services.ErrNotFound, composeStage, "execute", "assembled video missing", nil,
			services.WithCode("assembled_missing"), services.WithDetail("path", assembled))
	}

	if err := s.revalidate(ctx, job); err != nil {
		return err
	}

	cues, err := captions.CountCues(job.Metadata.CaptionPath)
	if err != nil || cues == 0 {
		return services.Wrap(services.ErrContent, composeStage, "check_captions", "caption track is empty", err,
			services.WithCode("captions_empty"), services.WithDetail("path", job.Metadata.CaptionPath))
	}
	if err := stage.ReportProgress(ctx, s.store, job, stage.Percent(jobs.StageCompose, 0.3), "composing video"); err != nil {
		return err
	}

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, composeStage, "execute", "create output directory", err)
	}
	out := s.OutputPath(job)
	if job.Metadata.OutputPath == out && nonEmpty(out) {
		logger.Info("composition already rendered; skipping render", logging.String("path", out))
	} else {
		if err := s.composer.Compose(ctx, assembled, job.Narration, job.Metadata.CaptionPath, out, s.opts.Style, job.Target); err != nil {
			return services.Wrap(services.ErrExternalTool, composeStage, "compose", "compose final video", err)
		}
		job.Metadata.OutputPath = out
		if err := stage.Persist(ctx, s.store, job); err != nil {
			return err
		}
	}

	if s.publisher.Enabled() {
		if err := stage.ReportProgress(ctx, s.store, job, stage.Percent(jobs.StageCompose, 0.8), "publishing video"); err != nil {
			return err
		}
		url, err := s.publisher.Publish(ctx, job.ID, out)
		if err != nil {
			return services.Wrap(services.ErrTransient, composeStage, "publish", "publish composition", err)
		}
		job.Metadata.PublishedURL = url
	}
	logger.Info("composition finished",
		logging.String(logging.FieldEventType, "composition_finished"),
		logging.String("path", out),
		logging.String("published_url", job.Metadata.PublishedURL),
		logging.Int("captions", cues),
	)
	return nil
}

// revalidate rescans every clip that is part of the composition. A clip
// rejected at this point fails the job without retry.
func (s *ComposeStage) revalidate(ctx context.Context, job *jobs.Job) error {
	for i := range job.Metadata.Clips {
		clip := &job.Metadata.Clips[i]
		if clip.Verdict != jobs.VerdictApproved || clip.TrimmedPath == "" {
			continue
		}
		if err := stage.CheckCancelled(ctx, s.store, job); err != nil {
			return err
		}
		result, err := s.validator.Validate(ctx, validation.Clip{
			ID:        clip.ID,
			Path:      clip.LocalPath,
			SourceURL: clip.SourceURL,
			Related:   []string{clip.TrimmedPath},
		}, job.Target)
		if err != nil {
			return err
		}
		if result.Approved() {
			continue
		}
		if err := clip.SetVerdict(jobs.VerdictRejected, result.Reason, result.Confidence); err != nil {
			return err
		}
		clip.FramesProcessed = result.FramesProcessed
		return services.Wrap(services.ErrContent, composeStage, "revalidate", "clip failed revalidation", nil,
			services.WithCode("clip_rejected_revalidation"),
			services.WithDetail(logging.FieldClipID, clip.ID),
			services.WithDetail("reason", result.Reason),
			services.WithDetail("confidence", result.Confidence),
		)
	}
	return nil
}

// HealthCheck reports whether the stage has its collaborators.
func (s *ComposeStage) HealthCheck(context.Context) stage.Health {
	if !s.configured() {
		return stage.Unhealthy(composeStage, "composer not configured")
	}
	return stage.Healthy(composeStage)
}
