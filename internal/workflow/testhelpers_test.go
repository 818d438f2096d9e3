package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/notifications"
	"reelsmith/internal/redisconn"
	"reelsmith/internal/stage"
	"reelsmith/internal/testsupport"
)

// fakeStage is a scripted stage handler. errs[i] is returned by the i-th
// Execute call; later calls succeed unless block is set.
type fakeStage struct {
	name  jobs.Stage
	trace *trace

	mu          sync.Mutex
	calls       int
	compensated int
	errs        []error
	execute     func(ctx context.Context, job *jobs.Job) error
}

func (f *fakeStage) Prepare(context.Context, *jobs.Job) error { return nil }

func (f *fakeStage) Execute(ctx context.Context, job *jobs.Job) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	f.trace.add(string(f.name))
	if f.execute != nil {
		return f.execute(ctx, job)
	}
	if call <= len(f.errs) {
		return f.errs[call-1]
	}
	return nil
}

func (f *fakeStage) Compensate(context.Context, *jobs.Job, error) error {
	f.mu.Lock()
	f.compensated++
	f.mu.Unlock()
	return nil
}

func (f *fakeStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(f.name))
}

func (f *fakeStage) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.compensated
}

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) list() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...)
}

func (r *recordingNotifier) count(event notifications.Event) int {
	n := 0
	for _, e := range r.list() {
		if e == event {
			n++
		}
	}
	return n
}

type harness struct {
	t        *testing.T
	cfg      *config.Config
	store    *jobs.Store
	manager  *Manager
	stages   map[jobs.Stage]*fakeStage
	trace    *trace
	notifier *recordingNotifier
	delays   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Workflow.PollInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 30
	cfg.Workflow.StageMaxAttempts = 3

	client, _ := testsupport.NewRedisClient(t)
	store := jobs.NewStore(client, redisconn.NewKeys("test"), time.Hour, time.Second)

	h := &harness{
		t:        t,
		cfg:      &cfg,
		store:    store,
		stages:   make(map[jobs.Stage]*fakeStage),
		trace:    &trace{},
		notifier: &recordingNotifier{},
	}
	h.manager = NewManager(&cfg, store, logging.NewNop(),
		WithNotifier(h.notifier),
		WithOwner("test"),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return nil
		}),
	)
	var set StageSet
	for _, name := range jobs.Stages() {
		h.stages[name] = &fakeStage{name: name, trace: h.trace}
	}
	set.FetchCandidates = h.stages[jobs.StageFetchCandidates]
	set.Select = h.stages[jobs.StageSelect]
	set.Download = h.stages[jobs.StageDownload]
	set.AnalyzeAudio = h.stages[jobs.StageAnalyzeAudio]
	set.SynchronizeCaptions = h.stages[jobs.StageSynchronizeCaptions]
	set.Trim = h.stages[jobs.StageTrim]
	set.Assemble = h.stages[jobs.StageAssemble]
	set.Compose = h.stages[jobs.StageCompose]
	h.manager.ConfigureStages(set)
	return h
}

func (h *harness) createJob() *jobs.Job {
	h.t.Helper()
	job := jobs.New("/tmp/narration.wav", "city rain", media.Target{Width: 1080, Height: 1920})
	if err := h.store.Create(context.Background(), job); err != nil {
		h.t.Fatalf("Create: %v", err)
	}
	return job
}

// runOnce claims the next job and processes it on the calling goroutine.
func (h *harness) runOnce(ctx context.Context) *jobs.Job {
	h.t.Helper()
	owner := h.manager.workerOwner(0)
	job, err := h.store.Claim(ctx, owner, time.Minute)
	if err != nil || job == nil {
		h.t.Fatalf("Claim: %v %v", job, err)
	}
	h.manager.processJob(ctx, h.manager.logger, owner, job)
	return job
}

func (h *harness) stored(id string) *jobs.Job {
	h.t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		h.t.Fatalf("Get: %v", err)
	}
	return job
}
