package workflow

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"reelsmith/internal/jobs"
	"reelsmith/internal/notifications"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

func stageNames() []string {
	var names []string
	for _, s := range jobs.Stages() {
		names = append(names, string(s))
	}
	return names
}

func TestProcessJobRunsStagesInOrder(t *testing.T) {
	h := newHarness(t)
	job := h.createJob()

	h.runOnce(context.Background())

	if got := h.trace.list(); !slices.Equal(got, stageNames()) {
		t.Fatalf("stage order = %v, want %v", got, stageNames())
	}
	stored := h.stored(job.ID)
	if stored.Status != jobs.StatusCompleted || stored.Stage != jobs.StageDone || stored.Progress != 100 {
		t.Fatalf("unexpected final job %+v", stored)
	}
	if stored.Owner != "" || stored.Heartbeat != nil {
		t.Fatalf("completed job still holds a lease: %+v", stored)
	}

	events := h.notifier.list()
	if events[0] != notifications.EventJobStarted || events[1] != notifications.EventQueueStarted {
		t.Fatalf("unexpected leading events %v", events)
	}
	if n := h.notifier.count(notifications.EventStageCompleted); n != len(jobs.Stages())-1 {
		t.Fatalf("expected %d stage events, got %d", len(jobs.Stages())-1, n)
	}
	if events[len(events)-2] != notifications.EventJobCompleted || events[len(events)-1] != notifications.EventQueueCompleted {
		t.Fatalf("unexpected trailing events %v", events)
	}

	if stored.LogPath == "" {
		t.Fatal("expected a job log path")
	}
	content, err := os.ReadFile(stored.LogPath)
	if err != nil {
		t.Fatalf("read job log: %v", err)
	}
	if !strings.Contains(string(content), "stage_complete") || !strings.Contains(string(content), job.ID) {
		t.Fatalf("job log lacks stage records: %s", content)
	}
}

func TestRetryableFailureIsRetriedWithBackoff(t *testing.T) {
	h := newHarness(t)
	transient := services.Errorf(services.ErrTransient, "download", "fetch", "connection reset")
	h.stages[jobs.StageDownload].errs = []error{transient, transient}
	job := h.createJob()

	h.runOnce(context.Background())

	calls, compensated := h.stages[jobs.StageDownload].counts()
	if calls != 3 || compensated != 2 {
		t.Fatalf("expected 3 attempts and 2 compensations, got %d/%d", calls, compensated)
	}
	if len(h.delays) != 2 {
		t.Fatalf("expected two backoff sleeps, got %v", h.delays)
	}
	if stored := h.stored(job.ID); stored.Status != jobs.StatusCompleted {
		t.Fatalf("expected completion after retries, got %s", stored.Status)
	}
}

func TestTerminalFailureFailsJobWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.stages[jobs.StageSelect].errs = []error{
		services.Wrap(services.ErrContent, "select", "select", "fewer clips than required", nil,
			services.WithCode("not_enough_candidates"), services.WithDetail("available", 1)),
	}
	job := h.createJob()

	h.runOnce(context.Background())

	calls, compensated := h.stages[jobs.StageSelect].counts()
	if calls != 1 || compensated != 1 {
		t.Fatalf("terminal failure must run once and compensate once, got %d/%d", calls, compensated)
	}
	if downloads, _ := h.stages[jobs.StageDownload].counts(); downloads != 0 {
		t.Fatal("no stage may run after a failed one")
	}
	stored := h.stored(job.ID)
	if stored.Status != jobs.StatusFailed || stored.Stage != jobs.StageSelect {
		t.Fatalf("unexpected failed job %+v", stored)
	}
	f := stored.Failure
	if f == nil || f.Code != "not_enough_candidates" || f.Kind != "content" || f.Retryable || f.Stage != "select" || f.Attempts != 1 {
		t.Fatalf("unexpected failure record %+v", f)
	}
	if h.notifier.count(notifications.EventJobFailed) != 1 {
		t.Fatalf("expected a job_failed event, got %v", h.notifier.list())
	}
	if len(h.delays) != 0 {
		t.Fatalf("terminal failures must not back off, got %v", h.delays)
	}
}

func TestRetriesExhaustedRecordsRetryableFailure(t *testing.T) {
	h := newHarness(t)
	timeout := services.Errorf(services.ErrTimeout, "trim", "trim", "ffmpeg timed out")
	h.stages[jobs.StageTrim].errs = []error{timeout, timeout, timeout, timeout}
	job := h.createJob()

	h.runOnce(context.Background())

	if calls, _ := h.stages[jobs.StageTrim].counts(); calls != 3 {
		t.Fatalf("expected stage_max_attempts=3 attempts, got %d", calls)
	}
	stored := h.stored(job.ID)
	if stored.Status != jobs.StatusFailed || stored.Failure == nil || !stored.Failure.Retryable || stored.Failure.Attempts != 3 {
		t.Fatalf("unexpected job after exhausted retries %+v", stored.Failure)
	}

	// An operator retry resumes at the failed stage.
	if _, err := h.store.Retry(context.Background(), job.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	h.stages[jobs.StageTrim].errs = nil
	before := len(h.trace.list())
	h.runOnce(context.Background())
	resumed := h.trace.list()[before:]
	if resumed[0] != string(jobs.StageTrim) {
		t.Fatalf("expected resume at trim, got %v", resumed)
	}
	if stored := h.stored(job.ID); stored.Status != jobs.StatusCompleted {
		t.Fatalf("expected completion after operator retry, got %s", stored.Status)
	}
}

func TestCancelledJobIsNeverOverwritten(t *testing.T) {
	h := newHarness(t)
	h.stages[jobs.StageDownload].execute = func(ctx context.Context, job *jobs.Job) error {
		if _, err := h.store.Cancel(ctx, job.ID); err != nil {
			return err
		}
		return stage.CheckCancelled(ctx, h.store, job)
	}
	job := h.createJob()

	h.runOnce(context.Background())

	stored := h.stored(job.ID)
	if stored.Status != jobs.StatusCancelled || stored.Failure != nil {
		t.Fatalf("cancelled job was overwritten: %+v", stored)
	}
	if _, compensated := h.stages[jobs.StageDownload].counts(); compensated != 1 {
		t.Fatal("expected compensation after cancellation")
	}
	if calls, _ := h.stages[jobs.StageAnalyzeAudio].counts(); calls != 0 {
		t.Fatal("no stage may run after cancellation")
	}
	if h.notifier.count(notifications.EventJobCancelled) != 1 {
		t.Fatalf("expected job_cancelled event, got %v", h.notifier.list())
	}
}

func TestJobResumesAtPersistedStage(t *testing.T) {
	h := newHarness(t)
	job := h.createJob()
	if _, err := h.store.Update(context.Background(), job.ID, func(j *jobs.Job) error {
		j.Stage = jobs.StageTrim
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	h.runOnce(context.Background())

	want := []string{string(jobs.StageTrim), string(jobs.StageAssemble), string(jobs.StageCompose)}
	if got := h.trace.list(); !slices.Equal(got, want) {
		t.Fatalf("resumed stages = %v, want %v", got, want)
	}
}

func TestShutdownReleasesJobForResume(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.stages[jobs.StageAnalyzeAudio].execute = func(ctx context.Context, _ *jobs.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	job := h.createJob()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	h.runOnce(ctx)

	stored := h.stored(job.ID)
	if stored.Status != jobs.StatusPending || stored.Stage != jobs.StageAnalyzeAudio || stored.Owner != "" {
		t.Fatalf("expected job released at analyze_audio, got %+v", stored)
	}
	if stored.Failure != nil {
		t.Fatalf("shutdown must not fail the job: %+v", stored.Failure)
	}
}

func TestHeartbeatInterruptsCancelledJob(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.stages[jobs.StageTrim].execute = func(ctx context.Context, _ *jobs.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	job := h.createJob()
	go func() {
		<-started
		_, _ = h.store.Cancel(context.Background(), job.ID)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.runOnce(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stage was not interrupted after cancellation")
	}
	if stored := h.stored(job.ID); stored.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
	if h.notifier.count(notifications.EventJobCancelled) != 1 {
		t.Fatalf("expected job_cancelled event, got %v", h.notifier.list())
	}
}

func TestStartRequiresEveryStage(t *testing.T) {
	h := newHarness(t)
	h.manager.ConfigureStages(StageSet{FetchCandidates: h.stages[jobs.StageFetchCandidates]})
	err := h.manager.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "select") {
		t.Fatalf("expected missing stage error, got %v", err)
	}
	summary := h.manager.Status(context.Background())
	if summary.StageHealth["select"].Ready || !summary.StageHealth["fetch_candidates"].Ready {
		t.Fatalf("unexpected stage health %+v", summary.StageHealth)
	}
}

func TestStartProcessesQueuedJobs(t *testing.T) {
	h := newHarness(t)
	first := h.createJob()
	second := h.createJob()

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.manager.Stop()
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		a, b := h.stored(first.ID), h.stored(second.ID)
		if a.Status == jobs.StatusCompleted && b.Status == jobs.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs not completed: %s %s", a.Status, b.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}
	summary := h.manager.Status(context.Background())
	if !summary.Running || summary.JobCounts[jobs.StatusCompleted] != 2 || summary.LastJob == nil {
		t.Fatalf("unexpected status %+v", summary)
	}
	h.manager.Stop()
	if h.manager.Status(context.Background()).Running {
		t.Fatal("expected manager stopped")
	}
}

func TestFailureHint(t *testing.T) {
	err := services.Wrap(services.ErrCorrupted, "download", "validate", "no frames", errors.New("eof"))
	if hint := failureHint(services.Describe(err)); !strings.Contains(hint, "damaged") {
		t.Fatalf("unexpected hint %q", hint)
	}
}
