package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"reelsmith/internal/logging"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.missingStages(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers + 1)
	m.mu.Unlock()

	for i := range m.workers {
		go m.runWorker(runCtx, i)
	}
	go m.runMaintenance(runCtx)

	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.String("owner", m.owner),
		logging.Int("workers", m.workers),
	)
	return nil
}

// Stop terminates background processing and waits for completion. Jobs that
// were interrupted are released so another instance resumes them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	owner := m.workerOwner(index)
	logger := m.logger.With(
		logging.String(logging.FieldComponent, "workflow-worker"),
		logging.String("owner", owner),
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.Claim(ctx, owner, m.heartbeat.heartbeatTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}
		m.processJob(ctx, logger, owner, job)
	}
}

// runMaintenance reclaims jobs with dead heartbeats and prunes expired
// records.
func (m *Manager) runMaintenance(ctx context.Context) {
	defer m.wg.Done()
	interval := m.heartbeat.heartbeatInterval
	if interval <= 0 {
		interval = m.pollInterval
	}
	if interval <= 0 {
		return
	}
	logger := m.logger.With(logging.String(logging.FieldComponent, "workflow-maintenance"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.heartbeat.ReclaimStaleJobs(ctx, logger); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(logger, "reclaim stale jobs failed; stuck jobs may remain", "heartbeat_reclaim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check redis connectivity"),
			)
		}
		m.prune(ctx, logger)
	}
}

func (m *Manager) prune(ctx context.Context, logger *slog.Logger) {
	ttl := m.cfg.JobTTL()
	if ttl <= 0 {
		return
	}
	removed, err := m.store.Prune(ctx, m.now().Add(-ttl))
	if err != nil {
		if ctx.Err() == nil {
			logger.Debug("job prune failed", logging.Error(err))
		}
		return
	}
	if removed > 0 {
		logger.Info("pruned expired jobs",
			logging.Int("count", removed),
			logging.String(logging.FieldEventType, "jobs_pruned"),
		)
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "job_claim_failed"),
		logging.String(logging.FieldErrorHint, "check redis connectivity"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.errorRetryInterval):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
