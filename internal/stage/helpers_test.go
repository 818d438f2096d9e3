package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelsmith/internal/jobs"
	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

type fakeStore struct {
	cancelled bool
	saved     []*jobs.Job
	saveErr   error
}

func (f *fakeStore) Save(_ context.Context, job *jobs.Job) (*jobs.Job, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	cp := job.Clone()
	cp.UpdatedAt = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	f.saved = append(f.saved, cp)
	return cp, nil
}

func (f *fakeStore) IsCancelled(context.Context, string) (bool, error) {
	return f.cancelled, nil
}

func TestCheckCancelled(t *testing.T) {
	job := jobs.New("narration.wav", "city", media.Target{})
	job.Stage = jobs.StageDownload

	if err := CheckCancelled(context.Background(), &fakeStore{}, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := CheckCancelled(context.Background(), &fakeStore{cancelled: true}, job)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if !IsCancellation(err) {
		t.Fatal("expected cancellation to be recognised")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := CheckCancelled(ctx, &fakeStore{}, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReportProgressPersists(t *testing.T) {
	store := &fakeStore{}
	job := jobs.New("narration.wav", "city", media.Target{})
	if err := ReportProgress(context.Background(), store, job, 140, "downloading"); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected one save, got %d", len(store.saved))
	}
	if job.Progress != 100 || job.ProgressMessage != "downloading" {
		t.Fatalf("unexpected progress %.0f %q", job.Progress, job.ProgressMessage)
	}
	if job.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt from the store")
	}
}

func TestPersistPropagatesStoreError(t *testing.T) {
	want := services.Errorf(services.ErrCancelled, "", "job_update", "job is cancelled")
	err := Persist(context.Background(), &fakeStore{saveErr: want}, jobs.New("n", "q", media.Target{}))
	if !IsCancellation(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if err := Persist(context.Background(), nil, jobs.New("n", "q", media.Target{})); err != nil {
		t.Fatalf("nil store should be a no-op, got %v", err)
	}
}

func TestNotConfigured(t *testing.T) {
	err := NotConfigured(jobs.StageCompose, "media tool")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestPercent(t *testing.T) {
	total := float64(len(jobs.Stages()))
	if got := Percent(jobs.StageFetchCandidates, 0); got != 0 {
		t.Fatalf("Percent(first, 0) = %v", got)
	}
	if got := Percent(jobs.StageCompose, 1); got != 100 {
		t.Fatalf("Percent(last, 1) = %v", got)
	}
	if got := Percent(jobs.StageSelect, 2); got != 2/total*100 {
		t.Fatalf("fraction should be clamped, got %v", got)
	}
	if got := Percent(jobs.StageDone, 0.5); got != 100 {
		t.Fatalf("Percent(done) = %v", got)
	}
}

func TestRequireListsMissingCollaborators(t *testing.T) {
	tests := []struct {
		name   string
		needs  []Collaborator
		ready  bool
		detail string
	}{
		{name: "none", ready: true},
		{name: "all present", needs: []Collaborator{Need("a", true), Need("b", true)}, ready: true},
		{name: "one missing", needs: []Collaborator{Need("prober", false), Need("b", true)}, detail: "missing prober"},
		{name: "two missing", needs: []Collaborator{Need("x", false), Need("y", false)}, detail: "missing x, y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Require("download", tt.needs...)
			if h.Name != "download" || h.Ready != tt.ready || h.Detail != tt.detail {
				t.Fatalf("unexpected health %+v", h)
			}
		})
	}
}
