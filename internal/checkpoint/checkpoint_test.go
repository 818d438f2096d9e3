package checkpoint_test

import (
	"context"
	"testing"
	"time"

	"reelsmith/internal/checkpoint"
	"reelsmith/internal/redisconn"
	"reelsmith/internal/testsupport"
)

func TestStoreRoundTrip(t *testing.T) {
	client, srv := testsupport.NewRedisClient(t)
	store := checkpoint.NewStore(client, redisconn.NewKeys("test"), time.Hour, time.Second)
	ctx := context.Background()

	empty, err := store.Load(ctx, "job1", "download")
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if len(empty.Completed) != 0 || empty.Total != 0 {
		t.Fatalf("expected empty record, got %+v", empty)
	}

	if err := store.SetTotal(ctx, "job1", "download", 4); err != nil {
		t.Fatalf("SetTotal: %v", err)
	}
	if err := store.MarkDone(ctx, "job1", "download", "c2", "c1"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	rec, err := store.Load(ctx, "job1", "download")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Total != 4 || len(rec.Completed) != 2 || rec.Completed[0] != "c1" || !rec.Has("c2") || rec.Has("c3") {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be recorded")
	}
	if ttl := srv.TTL("test:ckpt:job1:download:done"); ttl != time.Hour {
		t.Fatalf("expected checkpoint to expire with the job, ttl=%v", ttl)
	}
}

func TestStoreClearJob(t *testing.T) {
	client, srv := testsupport.NewRedisClient(t)
	store := checkpoint.NewStore(client, redisconn.NewKeys("test"), 0, time.Second)
	ctx := context.Background()
	_ = store.MarkDone(ctx, "job1", "download", "a")
	_ = store.MarkDone(ctx, "job1", "trim", "b")
	_ = store.MarkDone(ctx, "job2", "trim", "c")

	if err := store.ClearJob(ctx, "job1"); err != nil {
		t.Fatalf("ClearJob: %v", err)
	}
	if srv.Exists("test:ckpt:job1:download:done") || srv.Exists("test:ckpt:job1:trim:done") {
		t.Fatal("expected job1 checkpoints to be removed")
	}
	if !srv.Exists("test:ckpt:job2:trim:done") {
		t.Fatal("expected other jobs to be untouched")
	}
}

func TestTrackerFlushesEveryN(t *testing.T) {
	client, _ := testsupport.NewRedisClient(t)
	store := checkpoint.NewStore(client, redisconn.NewKeys("test"), time.Hour, time.Second)
	ctx := context.Background()
	tracker := checkpoint.NewTracker(store, "job", "download", 2)

	_ = tracker.Done(ctx, "a")
	rec, _ := store.Load(ctx, "job", "download")
	if len(rec.Completed) != 0 {
		t.Fatalf("expected nothing persisted before the interval, got %v", rec.Completed)
	}
	_ = tracker.Done(ctx, "b")
	rec, _ = store.Load(ctx, "job", "download")
	if len(rec.Completed) != 2 {
		t.Fatalf("expected flush at the interval, got %v", rec.Completed)
	}
	_ = tracker.Done(ctx, "c")
	if err := tracker.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	rec, _ = store.Load(ctx, "job", "download")
	if len(rec.Completed) != 3 {
		t.Fatalf("expected explicit flush to persist the remainder, got %v", rec.Completed)
	}
}

func TestTrackerResumeSkipsCompleted(t *testing.T) {
	client, _ := testsupport.NewRedisClient(t)
	store := checkpoint.NewStore(client, redisconn.NewKeys("test"), time.Hour, time.Second)
	ctx := context.Background()
	_ = store.MarkDone(ctx, "job", "trim", "x", "y")

	tracker := checkpoint.NewTracker(store, "job", "trim", 5)
	if _, err := tracker.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !tracker.Completed("x") || !tracker.Completed("y") || tracker.Completed("z") {
		t.Fatal("expected resumed completions to be visible")
	}
}
