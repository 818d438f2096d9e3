package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/checkpoint"
	"reelsmith/internal/config"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/resilience"
)

const compensateTimeout = 2 * time.Minute

// Manager coordinates job processing using registered stage handlers.
type Manager struct {
	cfg         *config.Config
	store       *jobs.Store
	logger      *slog.Logger
	notifier    notifications.Service
	checkpoints *checkpoint.Store
	owner       string

	workers            int
	pollInterval       time.Duration
	errorRetryInterval time.Duration
	maxAttempts        int
	backoff            resilience.Backoff
	sleep              func(context.Context, time.Duration) error
	now                func() time.Time

	heartbeat *HeartbeatMonitor
	jobLogs   *JobLogger

	stages []pipelineStage

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *jobs.Job

	queueActive bool
	queueStart  time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier sets the lifecycle event sink.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithCheckpoints lets the manager drop the checkpoints of completed jobs.
func WithCheckpoints(store *checkpoint.Store) ManagerOption {
	return func(m *Manager) { m.checkpoints = store }
}

// WithOwner sets the instance id used to claim jobs. Worker ids derive from it.
func WithOwner(owner string) ManagerOption {
	return func(m *Manager) {
		if owner != "" {
			m.owner = owner
		}
	}
}

// WithSleep replaces the backoff sleep. Intended for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) ManagerOption {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *jobs.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	wf := cfg.Workflow
	m := &Manager{
		cfg:                cfg,
		store:              store,
		logger:             logger,
		notifier:           notifications.Noop{},
		owner:              defaultOwner(),
		workers:            max(wf.Workers, 1),
		pollInterval:       time.Duration(wf.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(wf.ErrorRetryInterval) * time.Second,
		maxAttempts:        max(wf.StageMaxAttempts, 1),
		backoff: resilience.Backoff{
			Base: time.Duration(wf.BackoffBaseMillis) * time.Millisecond,
			Max:  time.Duration(wf.BackoffMaxSeconds) * time.Second,
		},
		sleep: resilience.SleepWithContext,
		now:   time.Now,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(wf.HeartbeatInterval)*time.Second,
			time.Duration(wf.HeartbeatTimeout)*time.Second,
		),
		jobLogs: NewJobLogger(cfg),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Owner returns the instance id of the manager.
func (m *Manager) Owner() string {
	return m.owner
}

func (m *Manager) workerOwner(index int) string {
	return fmt.Sprintf("%s/%d", m.owner, index)
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "reelsmith"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
