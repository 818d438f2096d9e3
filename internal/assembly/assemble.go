package assembly

import (
	"context"
	"log/slog"
	"path/filepath"

	"reelsmith/internal/compat"
	"reelsmith/internal/fileutil"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

const (
	assembleStage = string(jobs.StageAssemble)
	// AssembledName is the concatenated video inside a job's work directory.
	AssembledName = "assembled.mp4"
)

// AssembleStage reconciles the trimmed clips and concatenates them.
type AssembleStage struct {
	store      stage.Store
	reconciler Reconciler
	concat     Concatenator
	workDir    func(jobID string) string
	logger     *slog.Logger
}

// NewAssembleStage constructs the assemble stage.
func NewAssembleStage(store stage.Store, reconciler Reconciler, concat Concatenator, workDir func(string) string, logger *slog.Logger) *AssembleStage {
	return &AssembleStage{
		store:      store,
		reconciler: reconciler,
		concat:     concat,
		workDir:    workDir,
		logger:     logging.NewComponentLogger(logger, "assemble"),
	}
}

func (s *AssembleStage) configured() bool {
	return s != nil && s.reconciler != nil && s.concat != nil && s.workDir != nil
}

// Prepare resets progress for the stage.
func (s *AssembleStage) Prepare(ctx context.Context, job *jobs.Job) error {
	if !s.configured() {
		return stage.NotConfigured(jobs.StageAssemble, "assembler")
	}
	return stage.ReportProgress(ctx, s.store, job, stage.Percent(jobs.StageAssemble, 0), "assembling clips")
}

// TrimmedPaths lists the trimmed clip files in composition order.
func TrimmedPaths(job *jobs.Job) []string {
	var paths []string
	for _, c := range job.Metadata.ApprovedClips() {
		if c.TrimmedPath != "" {
			paths = append(paths, c.TrimmedPath)
		}
	}
	return paths
}

// Execute brings every trimmed clip to the target format and joins them.
func (s *AssembleStage) Execute(ctx context.Context, job *jobs.Job) error {
	if !s.configured() {
		return stage.NotConfigured(jobs.StageAssemble, "assembler")
	}
	paths := TrimmedPaths(job)
	if len(paths) == 0 {
		return services.Wrap(services.ErrValidation, assembleStage, "execute", "no trimmed clips to assemble", nil,
			services.WithCode("nothing_to_assemble"))
	}
	for _, p := range paths {
		if !nonEmpty(p) {
			return services.Wrap(services.ErrNotFound, assembleStage, "execute", "trimmed clip missing", nil,
				services.WithDetail("path", p))
		}
	}
	logger := logging.WithContext(ctx, s.logger)

	results, err := s.reconciler.ReconcileAll(ctx, paths)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, assembleStage, "reconcile", "reconcile clips to target", err)
	}
	changed := 0
	for _, r := range results {
		if r.Changed {
			changed++
		}
	}
	if err := stage.ReportProgress(ctx, s.store, job, stage.Percent(jobs.StageAssemble, 0.5), "concatenating clips"); err != nil {
		return err
	}

	out := filepath.Join(s.workDir(job.ID), AssembledName)
	if err := s.concat.Concat(ctx, paths, out); err != nil {
		return services.Wrap(services.ErrExternalTool, assembleStage, "concat", "concatenate clips", err)
	}
	job.Metadata.AssembledPath = out
	logger.Info("clips assembled",
		logging.String(logging.FieldEventType, "clips_assembled"),
		logging.Int("clips", len(paths)),
		logging.Int("reconciled", changed),
		logging.String("path", out),
	)
	return nil
}

// Compensate removes the partial concatenation and reconcile temp files.
func (s *AssembleStage) Compensate(_ context.Context, job *jobs.Job, _ error) error {
	if !s.configured() {
		return nil
	}
	stale := []string{filepath.Join(s.workDir(job.ID), AssembledName)}
	for _, p := range TrimmedPaths(job) {
		stale = append(stale, compat.TempPath(p))
	}
	job.Metadata.AssembledPath = ""
	return fileutil.RemoveFiles(stale...)
}

// HealthCheck reports whether the stage has its collaborators.
func (s *AssembleStage) HealthCheck(context.Context) stage.Health {
	if !s.configured() {
		return stage.Unhealthy(assembleStage, "assembler not configured")
	}
	return stage.Healthy(assembleStage)
}
