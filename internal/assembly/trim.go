package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"reelsmith/internal/checkpoint"
	"reelsmith/internal/fileutil"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/textutil"
)

const trimStage = string(jobs.StageTrim)

// Window is the part of a clip used in the composition.
type Window struct {
	ClipID   string
	Start    float64
	Duration float64
}

// Plan shares duration seconds out over clips in order. Each clip gives at
// most maxClip seconds (0 means unlimited) taken from its middle. The last
// window is shortened to end exactly at duration. It returns ok=false when
// the clips cannot cover duration.
func Plan(clips []jobs.Clip, duration, maxClip float64) ([]Window, bool) {
	var windows []Window
	remaining := duration
	for _, c := range clips {
		if remaining <= 0 {
			break
		}
		usable := c.Duration
		if maxClip > 0 {
			usable = min(usable, maxClip)
		}
		if usable <= 0 {
			continue
		}
		take := min(usable, remaining)
		windows = append(windows, Window{ClipID: c.ID, Start: (c.Duration - take) / 2, Duration: take})
		remaining -= take
	}
	return windows, remaining <= 1e-6
}

// TrimStage is the trim stage.
type TrimStage struct {
	store       stage.Store
	tool        Trimmer
	checkpoints *checkpoint.Store
	workDir     func(jobID string) string
	opts        Options
	logger      *slog.Logger
}

// NewTrimStage constructs the trim stage.
func NewTrimStage(store stage.Store, tool Trimmer, checkpoints *checkpoint.Store, workDir func(string) string, opts Options, logger *slog.Logger) *TrimStage {
	return &TrimStage{
		store:       store,
		tool:        tool,
		checkpoints: checkpoints,
		workDir:     workDir,
		opts:        opts.withDefaults(),
		logger:      logging.NewComponentLogger(logger, "trim"),
	}
}

func (s *TrimStage) configured() bool {
	return s != nil && s.tool != nil && s.checkpoints != nil && s.workDir != nil
}

// Prepare resets progress for the stage.
func (s *TrimStage) Prepare(ctx context.Context, job *jobs.Job) error {
	if !s.configured() {
		return stage.NotConfigured(jobs.StageTrim, "trimmer")
	}
	return stage.ReportProgress(ctx, s.store, job, stage.Percent(jobs.StageTrim, 0), "trimming clips")
}

func (s *TrimStage) trimDir(jobID string) string {
	return filepath.Join(s.workDir(jobID), "trimmed")
}

// Execute cuts every planned window.
func (s *TrimStage) Execute(ctx context.Context, job *jobs.Job) error {
	if !s.configured() {
		return stage.NotConfigured(jobs.StageTrim, "trimmer")
	}
	approved := job.Metadata.ApprovedClips()
	windows, ok := Plan(approved, job.Metadata.NarrationDuration, s.opts.MaxClipSeconds)
	if !ok {
		footage := 0.0
		for _, w := range windows {
			footage += w.Duration
		}
		return services.Wrap(services.ErrContent, trimStage, "plan", "approved clips are shorter than the narration", nil,
			services.WithCode("insufficient_footage"),
			services.WithDetail("footage_seconds", footage),
			services.WithDetail("narration_seconds", job.Metadata.NarrationDuration),
		)
	}
	if err := os.MkdirAll(s.trimDir(job.ID), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, trimStage, "execute", "create trim directory", err)
	}

	tracker := checkpoint.NewTracker(s.checkpoints, job.ID, trimStage, s.opts.CheckpointEvery)
	if _, err := tracker.Resume(ctx); err != nil {
		return err
	}
	if err := s.checkpoints.SetTotal(ctx, job.ID, trimStage, len(windows)); err != nil {
		return err
	}
	logger := logging.WithContext(ctx, s.logger)

	var mu sync.Mutex
	done := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, w := range windows {
		g.Go(func() error {
			if err := stage.CheckCancelled(gctx, s.store, job); err != nil {
				return err
			}
			mu.Lock()
			clip, _ := job.Metadata.ClipByID(w.ClipID)
			src := clip.LocalPath
			mu.Unlock()

			out := filepath.Join(s.trimDir(job.ID), fmt.Sprintf("%02d-%s.mp4", i, textutil.SanitizeToken(w.ClipID)))
			if !(tracker.Completed(w.ClipID) && nonEmpty(out)) {
				if err := s.tool.Trim(gctx, src, out, w.Start, w.Duration, job.Target); err != nil {
					return services.Wrap(services.ErrExternalTool, trimStage, "trim", "trim clip", err,
						services.WithDetail(logging.FieldClipID, w.ClipID))
				}
			}
			if err := tracker.Done(gctx, w.ClipID); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			clip, _ = job.Metadata.ClipByID(w.ClipID)
			clip.TrimStart, clip.TrimDuration, clip.TrimmedPath = w.Start, w.Duration, out
			done++
			return stage.ReportProgress(gctx, s.store, job, stage.Percent(jobs.StageTrim, float64(done)/float64(len(windows))),
				fmt.Sprintf("trimmed %d/%d clips", done, len(windows)))
		})
	}
	runErr := g.Wait()
	flushErr := tracker.Flush(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	if flushErr != nil {
		return flushErr
	}
	// Clips beyond the plan are not part of the composition.
	planned := make(map[string]struct{}, len(windows))
	for _, w := range windows {
		planned[w.ClipID] = struct{}{}
	}
	for i := range job.Metadata.Clips {
		if _, ok := planned[job.Metadata.Clips[i].ID]; !ok {
			job.Metadata.Clips[i].TrimmedPath = ""
		}
	}
	logger.Info("clips trimmed",
		logging.String(logging.FieldEventType, "clips_trimmed"),
		logging.Int("windows", len(windows)),
		logging.Seconds("narration_seconds", job.Metadata.NarrationDuration),
	)
	return nil
}

// Compensate removes trims that were not checkpointed.
func (s *TrimStage) Compensate(ctx context.Context, job *jobs.Job, _ error) error {
	if !s.configured() {
		return nil
	}
	rec, err := s.checkpoints.Load(ctx, job.ID, trimStage)
	if err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(s.trimDir(job.ID), "*"))
	if err != nil {
		return err
	}
	keep := make(map[string]struct{})
	for _, c := range job.Metadata.Clips {
		if c.TrimmedPath != "" && rec.Has(c.ID) {
			keep[c.TrimmedPath] = struct{}{}
		}
	}
	var stale []string
	for _, m := range matches {
		if _, ok := keep[m]; !ok {
			stale = append(stale, m)
		}
	}
	return fileutil.RemoveFiles(stale...)
}

// HealthCheck reports whether the stage has its collaborators.
func (s *TrimStage) HealthCheck(context.Context) stage.Health {
	if !s.configured() {
		return stage.Unhealthy(trimStage, "trimmer not configured")
	}
	return stage.Healthy(trimStage)
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
