package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/resilience"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

// processJob runs job from its current stage until it completes, fails, is
// cancelled or the manager shuts down.
func (m *Manager) processJob(ctx context.Context, workerLogger *slog.Logger, owner string, job *jobs.Job) {
	jobCtx := services.WithRequestID(services.WithJobID(ctx, job.ID), uuid.NewString())
	logger, closeLog := m.jobLogger(jobCtx, workerLogger, job)
	defer closeLog()

	m.setLastJob(job)
	m.onJobStarted(jobCtx, logger, job)
	started := time.Now()

	runCtx, lose := context.WithCancelCause(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(runCtx, &hbWG, job.ID, owner, lose)
	defer hbWG.Wait()
	defer lose(nil)

	for job.Stage != jobs.StageDone {
		stg, ok := m.stageFor(job.Stage)
		if !ok {
			err := services.Errorf(services.ErrConfiguration, string(job.Stage), "run_stage", "no handler registered for stage %q", job.Stage)
			m.handleStageFailure(jobCtx, logger, owner, job, err)
			return
		}
		stageCtx := services.WithStage(runCtx, string(stg.name))
		stageLogger := logging.WithContext(stageCtx, logger)
		if err := m.executeStage(stageCtx, stageLogger, stg, job); err != nil {
			if runCtx.Err() != nil && jobCtx.Err() == nil {
				if cause := context.Cause(runCtx); cause != nil {
					err = cause
				}
			}
			m.handleStageFailure(jobCtx, stageLogger, owner, job, err)
			return
		}

		finished := job.Stage
		job.Advance()
		if job.Stage == jobs.StageDone {
			break
		}
		job.SetProgress(stage.Percent(job.Stage, 0), string(job.Stage)+" pending")
		if err := stage.Persist(runCtx, m.store, job); err != nil {
			m.handleStageFailure(jobCtx, stageLogger, owner, job, err)
			return
		}
		m.setLastJob(job)
		m.notify(jobCtx, logger, notifications.EventStageCompleted, notifications.Payload{
			"job_id": job.ID,
			"stage":  string(finished),
			"next":   string(job.Stage),
		})
	}
	m.completeJob(jobCtx, logger, owner, job, time.Since(started))
}

// executeStage runs one stage with the intra-stage retry policy.
func (m *Manager) executeStage(ctx context.Context, logger *slog.Logger, stg pipelineStage, job *jobs.Job) error {
	stageStart := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int(logging.FieldAttempt, job.Attempt+1),
	)

	previous := job.Attempt
	policy := resilience.RetryPolicy{
		MaxAttempts: max(m.maxAttempts-previous, 1),
		Backoff:     m.backoff,
		Sleep:       m.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			desc := services.Describe(err)
			logging.WarnWithContext(logger, "stage attempt failed; retrying", "stage_retry",
				logging.Int(logging.FieldAttempt, previous+attempt),
				logging.Duration("delay", delay),
				logging.String(logging.FieldErrorKind, desc.Kind),
				logging.String(logging.FieldErrorCode, desc.Code),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "transient failure; the stage runs again after the delay"),
				logging.String(logging.FieldImpact, "stage completion is delayed"),
			)
		},
	}
	err := resilience.Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		job.Attempt = previous + attempt
		return m.attemptStage(ctx, logger, stg, job)
	})
	if err != nil {
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int(logging.FieldAttempt, job.Attempt),
		logging.Float64("progress", job.Progress),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return nil
}

func (m *Manager) attemptStage(ctx context.Context, logger *slog.Logger, stg pipelineStage, job *jobs.Job) error {
	if err := stage.CheckCancelled(ctx, m.store, job); err != nil {
		return err
	}
	err := stg.handler.Prepare(ctx, job)
	if err == nil {
		err = stg.handler.Execute(ctx, job)
	}
	if err != nil {
		m.compensate(ctx, logger, stg, job, err)
	}
	return err
}

// compensate undoes partial stage effects. It runs even when ctx has been
// cancelled.
func (m *Manager) compensate(ctx context.Context, logger *slog.Logger, stg pipelineStage, job *jobs.Job, cause error) {
	comp, ok := stg.handler.(stage.Compensator)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := comp.Compensate(cctx, job, cause); err != nil {
		logging.WarnWithContext(logger, "stage compensation failed", "stage_compensation_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove leftover files from the job work directory"),
			logging.String(logging.FieldImpact, "partial outputs may remain on disk"),
		)
		return
	}
	logger.Debug("stage compensated", logging.String("cause", cause.Error()))
}

func (m *Manager) completeJob(ctx context.Context, logger *slog.Logger, owner string, job *jobs.Job, elapsed time.Duration) {
	saveCtx := context.WithoutCancel(ctx)
	finished, err := m.store.Finish(saveCtx, job, owner)
	if err != nil {
		if stage.IsCancellation(err) {
			m.handleCancelled(ctx, logger, job, err)
			return
		}
		m.setLastError(err)
		logger.Error("failed to persist job completion",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_persist_failed"),
			logging.String(logging.FieldErrorHint, "check redis connectivity; the job resumes at compose"),
		)
		return
	}
	if m.checkpoints != nil {
		if err := m.checkpoints.ClearJob(saveCtx, job.ID); err != nil {
			logger.Debug("checkpoint cleanup failed", logging.Error(err))
		}
	}
	m.setLastJob(finished)
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.String("output_path", finished.Metadata.OutputPath),
		logging.String("published_url", finished.Metadata.PublishedURL),
		logging.Duration("job_duration", elapsed),
	)
	m.notify(ctx, logger, notifications.EventJobCompleted, notifications.Payload{
		"job_id":        finished.ID,
		"query":         finished.Query,
		"output_path":   finished.Metadata.OutputPath,
		"published_url": finished.Metadata.PublishedURL,
		"duration":      elapsed,
	})
	m.checkQueueCompletion(ctx, logger)
}

// jobLogger returns the logger for one job run and a function that closes
// the job log file.
func (m *Manager) jobLogger(ctx context.Context, base *slog.Logger, job *jobs.Job) (*slog.Logger, func()) {
	logger := logging.WithContext(ctx, base)
	if !m.jobLogs.Enabled() {
		return logger, func() {}
	}
	path, err := m.jobLogs.Ensure(job)
	if err != nil {
		logger.Warn("job log unavailable", logging.Error(err))
		return logger, func() {}
	}
	handler, closer, err := m.jobLogs.Open(path)
	if err != nil {
		logger.Warn("failed to open job log", logging.Error(err))
		return logger, func() {}
	}
	teed := slog.New(logging.Tee(base.Handler(), handler))
	return logging.WithContext(ctx, teed), func() { closeQuietly(closer) }
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
