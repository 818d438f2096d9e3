package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
)

func (m *Manager) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not send notification", logging.String("event", string(event)))
			return
		}
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

func (m *Manager) onJobStarted(ctx context.Context, logger *slog.Logger, job *jobs.Job) {
	m.notify(ctx, logger, notifications.EventJobStarted, notifications.Payload{
		"job_id": job.ID,
		"query":  job.Query,
		"stage":  string(job.Stage),
	})

	m.mu.Lock()
	if m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = true
	m.queueStart = time.Now()
	m.mu.Unlock()

	counts, err := m.store.Counts(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(logger, "job counts unavailable for start notification; notification skipped", "job_counts_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check redis connectivity"),
				logging.String(logging.FieldImpact, "queue start notification will not be sent"),
			)
		}
		return
	}
	m.notify(ctx, logger, notifications.EventQueueStarted, notifications.Payload{"count": countActiveJobs(counts)})
}

func (m *Manager) checkQueueCompletion(ctx context.Context, logger *slog.Logger) {
	counts, err := m.store.Counts(context.WithoutCancel(ctx))
	if err != nil {
		logging.WarnWithContext(logger, "job counts unavailable for completion notification; notification skipped", "job_counts_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check redis connectivity"),
			logging.String(logging.FieldImpact, "queue completion notification will not be sent"),
		)
		return
	}
	if countActiveJobs(counts) > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	duration := time.Duration(0)
	if !start.IsZero() {
		duration = time.Since(start)
	}
	m.notify(ctx, logger, notifications.EventQueueCompleted, notifications.Payload{
		"completed": counts[jobs.StatusCompleted],
		"failed":    counts[jobs.StatusFailed],
		"cancelled": counts[jobs.StatusCancelled],
		"duration":  duration,
	})
}

func countActiveJobs(counts map[jobs.Status]int) int {
	return counts[jobs.StatusPending] + counts[jobs.StatusRunning]
}
