package workflow

import (
	"context"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Owner       string
	Workers     int
	LastError   string
	LastJob     *jobs.Job
	JobCounts   map[jobs.Status]int
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	var lastJob *jobs.Job
	if m.lastJob != nil {
		lastJob = m.lastJob.Clone()
	}
	stages := append([]pipelineStage(nil), m.stages...)
	m.mu.RUnlock()

	counts, err := m.store.Counts(ctx)
	if err != nil {
		m.logger.Warn("failed to read job counts", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(stages))
	for _, stg := range stages {
		if stg.handler == nil {
			health[string(stg.name)] = stage.Unhealthy(string(stg.name), "no handler registered")
			continue
		}
		health[string(stg.name)] = stg.handler.HealthCheck(ctx)
	}

	summary := StatusSummary{
		Running:     running,
		Owner:       m.owner,
		Workers:     m.workers,
		LastJob:     lastJob,
		JobCounts:   counts,
		StageHealth: health,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *jobs.Job) {
	var snapshot *jobs.Job
	if job != nil {
		snapshot = job.Clone()
	}
	m.mu.Lock()
	m.lastJob = snapshot
	m.mu.Unlock()
}
