package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/media"
	"reelsmith/internal/redisconn"
	"reelsmith/internal/services"
	"reelsmith/internal/testsupport"
)

var testTarget = media.Target{Width: 1080, Height: 1920, FrameRate: 30, VideoCodec: "h264", AudioCodec: "aac", AudioSampleRate: 48000, Anchor: "center"}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	client, _ := testsupport.NewRedisClient(t)
	store := NewStore(client, redisconn.NewKeys("test"), time.Hour, time.Second)
	c := &clock{t: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	store.SetClock(c.Now)
	return store, c
}

func createJob(t *testing.T, store *Store, query string) *Job {
	t.Helper()
	job := New("voice.wav", query, testTarget)
	job.CreatedAt = time.Time{}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestCreateGetList(t *testing.T) {
	store, c := newStore(t)
	ctx := context.Background()
	first := createJob(t, store, "first")
	c.Advance(time.Second)
	second := New("voice.wav", "second", testTarget)
	second.CreatedAt = c.Now()
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, second); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected duplicate create to fail, got %v", err)
	}

	got, err := store.Get(ctx, first.ID)
	if err != nil || got.Query != "first" || got.Status != StatusPending {
		t.Fatalf("unexpected Get: %+v %v", got, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := store.List(ctx, ListOptions{})
	if err != nil || len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest first, got %v %v", list, err)
	}
	filtered, _ := store.List(ctx, ListOptions{Statuses: []Status{StatusRunning}})
	if len(filtered) != 0 {
		t.Fatalf("expected no running jobs, got %d", len(filtered))
	}
}

func TestClaimIsExclusive(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, "q")

	var wg sync.WaitGroup
	claimed := make(chan string, 4)
	for _, owner := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			got, err := store.Claim(ctx, owner, time.Minute)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if got != nil {
				claimed <- got.Owner
			}
		}(owner)
	}
	wg.Wait()
	close(claimed)
	var owners []string
	for o := range claimed {
		owners = append(owners, o)
	}
	if len(owners) != 1 {
		t.Fatalf("expected exactly one claimant, got %v", owners)
	}
	stored, _ := store.Get(ctx, job.ID)
	if stored.Status != StatusRunning || stored.Owner != owners[0] || stored.Heartbeat == nil {
		t.Fatalf("unexpected stored job %+v", stored)
	}
}

func TestStaleJobIsReclaimable(t *testing.T) {
	store, c := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, "q")
	if _, err := store.Claim(ctx, "crashed", time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got, _ := store.Claim(ctx, "other", time.Minute); got != nil {
		t.Fatal("fresh lease must not be stolen")
	}
	c.Advance(2 * time.Minute)
	got, err := store.Claim(ctx, "other", time.Minute)
	if err != nil || got == nil || got.ID != job.ID || got.Owner != "other" {
		t.Fatalf("expected stale job to be reclaimed, got %+v %v", got, err)
	}
	if err := store.Heartbeat(ctx, job.ID, "crashed"); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected lease lost for the old owner, got %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	store, c := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, "q")
	claimed, _ := store.Claim(ctx, "w1", time.Minute)
	claimed.Stage = StageTrim
	if _, err := store.Save(ctx, claimed); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c.Advance(5 * time.Minute)
	n, err := store.ReclaimStale(ctx, time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected one reclaimed job, got %d %v", n, err)
	}
	stored, _ := store.Get(ctx, job.ID)
	if stored.Status != StatusPending || stored.Owner != "" || stored.Stage != StageTrim {
		t.Fatalf("expected job back to pending at its stage, got %+v", stored)
	}
}

func TestSaveNeverOverwritesCancelled(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, "q")
	claimed, _ := store.Claim(ctx, "w1", time.Minute)

	if _, err := store.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	claimed.Stage = StageSelect
	_, err := store.Save(ctx, claimed)
	if !errors.Is(err, ErrTerminal) || !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled terminal error, got %v", err)
	}
	stored, _ := store.Get(ctx, job.ID)
	if stored.Status != StatusCancelled || stored.Stage != StageFetchCandidates {
		t.Fatalf("cancelled record was overwritten: %+v", stored)
	}
	if cancelled, _ := store.IsCancelled(ctx, job.ID); !cancelled {
		t.Fatal("expected IsCancelled")
	}
	if _, err := store.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("repeat cancel should be a no-op, got %v", err)
	}
}

func TestCancelRejectsFinishedJobs(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, "q")
	_, _ = store.Update(ctx, job.ID, func(j *Job) error { j.Status = StatusCompleted; return nil })
	if _, err := store.Cancel(ctx, job.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestRetryFailedJob(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, "q")
	_, _ = store.Update(ctx, job.ID, func(j *Job) error {
		j.Stage = StageDownload
		j.Fail(&Failure{Code: "x"})
		return nil
	})
	retried, err := store.Retry(ctx, job.ID)
	if err != nil || retried.Status != StatusPending || retried.Failure != nil || retried.Stage != StageDownload {
		t.Fatalf("unexpected retry result %+v %v", retried, err)
	}
	if _, err := store.Retry(ctx, job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for non-failed job, got %v", err)
	}
}

func TestReleaseKeepsStage(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, "q")
	claimed, _ := store.Claim(ctx, "w1", time.Minute)
	claimed.Stage = StageAssemble
	_, _ = store.Save(ctx, claimed)
	if err := store.Release(ctx, job.ID, "w1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	stored, _ := store.Get(ctx, job.ID)
	if stored.Status != StatusPending || stored.Stage != StageAssemble {
		t.Fatalf("unexpected released job %+v", stored)
	}
}

func TestPrune(t *testing.T) {
	store, c := newStore(t)
	ctx := context.Background()
	done := createJob(t, store, "done")
	_, _ = store.Update(ctx, done.ID, func(j *Job) error { j.Status = StatusCompleted; return nil })
	active := createJob(t, store, "active")
	c.Advance(48 * time.Hour)

	n, err := store.Prune(ctx, c.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected one pruned job, got %d %v", n, err)
	}
	if _, err := store.Get(ctx, done.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatal("expected completed job to be deleted")
	}
	if _, err := store.Get(ctx, active.ID); err != nil {
		t.Fatalf("active job must survive prune: %v", err)
	}
}

func TestFinishDropsLease(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, "q")
	claimed, _ := store.Claim(ctx, "w1", time.Minute)

	if _, err := store.Finish(ctx, claimed, "w2"); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected lease lost for a foreign owner, got %v", err)
	}
	claimed.Fail(&Failure{Code: "clip_rejected_revalidation", Kind: "content"})
	finished, err := store.Finish(ctx, claimed, "w1")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if finished.Status != StatusFailed || finished.Owner != "" || finished.Heartbeat != nil {
		t.Fatalf("unexpected finished job %+v", finished)
	}
	if _, err := store.Finish(ctx, claimed, "w1"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected a second finish to be refused, got %v", err)
	}
	stored, _ := store.Get(ctx, job.ID)
	if stored.Failure == nil || stored.Failure.Code != "clip_rejected_revalidation" {
		t.Fatalf("failure not persisted: %+v", stored)
	}
}
