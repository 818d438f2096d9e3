package workflow

import (
	"context"
	"errors"
	"log/slog"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

// handleStageFailure settles a job whose stage returned err. ctx is the job
// context, which is only done when the manager shuts down.
func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, owner string, job *jobs.Job, stageErr error) {
	switch {
	case ctx.Err() != nil:
		m.releaseJob(ctx, logger, owner, job)
		return
	case stage.IsCancellation(stageErr) || errors.Is(stageErr, context.Canceled):
		m.handleCancelled(ctx, logger, job, stageErr)
		return
	}

	failure := jobs.FailureFromError(stageErr, job.Stage, job.Attempt, m.now())
	job.Fail(failure)

	desc := services.Describe(stageErr)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, desc.Kind),
		logging.String(logging.FieldErrorCode, desc.Code),
		logging.String(logging.FieldErrorOperation, desc.Operation),
		logging.Bool(logging.FieldRetryable, desc.Retryable),
		logging.Int(logging.FieldAttempt, job.Attempt),
		logging.String(logging.FieldErrorHint, failureHint(desc)),
	}
	if desc.Cause != nil {
		attrs = append(attrs, logging.Error(desc.Cause))
	} else {
		attrs = append(attrs, logging.Error(stageErr))
	}
	logger.Error("stage failed", logging.Args(attrs...)...)

	if _, err := m.store.Finish(context.WithoutCancel(ctx), job, owner); err != nil {
		if stage.IsCancellation(err) {
			m.handleCancelled(ctx, logger, job, err)
			return
		}
		logger.Error("failed to persist stage failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_persist_failed"),
			logging.String(logging.FieldErrorHint, "check redis connectivity; the job is reclaimed after its heartbeat expires"),
		)
	}

	m.setLastError(stageErr)
	m.setLastJob(job)
	m.notify(ctx, logger, notifications.EventJobFailed, notifications.Payload{
		"job_id":    job.ID,
		"stage":     failure.Stage,
		"code":      failure.Code,
		"kind":      failure.Kind,
		"retryable": failure.Retryable,
		"error":     stageErr,
	})
	m.checkQueueCompletion(ctx, logger)
}

// handleCancelled records that the job was cancelled or taken over. Nothing
// is written: the stored record already says so.
func (m *Manager) handleCancelled(ctx context.Context, logger *slog.Logger, job *jobs.Job, cause error) {
	if services.Describe(cause).Code == "lease_lost" {
		logging.WarnWithContext(logger, "job taken over by another worker; abandoning", "job_lease_lost",
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "heartbeat_timeout may be too short for this stage"),
			logging.String(logging.FieldImpact, "the other worker resumes the job"),
		)
		return
	}
	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.String("stage_at_cancel", string(job.Stage)),
	)
	m.setLastJob(job)
	m.notify(ctx, logger, notifications.EventJobCancelled, notifications.Payload{
		"job_id": job.ID,
		"stage":  string(job.Stage),
	})
	m.checkQueueCompletion(ctx, logger)
}

// releaseJob hands an interrupted job back to the pool at its current stage.
func (m *Manager) releaseJob(ctx context.Context, logger *slog.Logger, owner string, job *jobs.Job) {
	if err := m.store.Release(context.WithoutCancel(ctx), job.ID, owner); err != nil {
		logger.Warn("failed to release interrupted job",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_release_failed"),
			logging.String(logging.FieldErrorHint, "the job is reclaimed after its heartbeat expires"),
		)
		return
	}
	logger.Info("job interrupted by shutdown; released for resume",
		logging.String(logging.FieldEventType, "job_released"),
		logging.String("resume_stage", string(job.Stage)),
	)
}

func failureHint(desc services.Description) string {
	switch desc.Kind {
	case "content":
		return "content rejected; submit the job with different clip keywords or narration"
	case "corrupted":
		return "input media is damaged; replace the file and retry"
	case "configuration":
		return "fix the configuration and retry the job"
	case "not_found":
		return "a required input is missing; check paths and retry"
	default:
		if desc.Retryable {
			return "retries exhausted; retry the job once the dependency recovers"
		}
		return "check the job log for details"
	}
}
