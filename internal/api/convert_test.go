package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"reelsmith/internal/jobs"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

func TestFromJobCarriesClipsAndOutputs(t *testing.T) {
	hb := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := &jobs.Job{
		ID:        "j1",
		Status:    jobs.StatusRunning,
		Stage:     jobs.StageCompose,
		Progress:  87.5,
		Heartbeat: &hb,
		Metadata: jobs.Metadata{
			Clips: []jobs.Clip{
				{ID: "a", Verdict: jobs.VerdictApproved, Confidence: 0.9, FramesProcessed: 240},
				{ID: "b", Verdict: jobs.VerdictRejected, Reason: "overlay_text"},
			},
			CaptionCount: 12,
			OutputPath:   "/out/j1.mp4",
		},
	}
	dto := FromJob(job)
	if dto.Progress.Stage != "compose" || dto.Progress.Percent != 87.5 {
		t.Fatalf("unexpected progress %+v", dto.Progress)
	}
	if len(dto.Clips) != 2 || dto.Clips[1].Reason != "overlay_text" || dto.Clips[0].FramesProcessed != 240 {
		t.Fatalf("unexpected clips %+v", dto.Clips)
	}
	if dto.CaptionCount != 12 || dto.OutputPath != "/out/j1.mp4" {
		t.Fatalf("unexpected outputs %+v", dto)
	}
	if dto.Heartbeat != "2026-03-01T10:00:00.000Z" {
		t.Fatalf("unexpected heartbeat %q", dto.Heartbeat)
	}
	if !ParseTime(dto.Heartbeat).Equal(hb) {
		t.Fatalf("heartbeat does not round trip: %q", dto.Heartbeat)
	}
	if FromJob(nil).ID != "" {
		t.Fatal("nil job must convert to zero value")
	}
}

func TestStageHealthSliceOrder(t *testing.T) {
	health := map[string]stage.Health{
		"compose":          stage.Healthy("compose"),
		"zz_extra":         stage.Healthy("zz_extra"),
		"fetch_candidates": stage.Healthy("fetch_candidates"),
		"aa_extra":         stage.Healthy("aa_extra"),
		"trim":             stage.Healthy("trim"),
	}
	got := StageHealthSlice(health)
	want := []string{"fetch_candidates", "trim", "compose", "aa_extra", "zz_extra"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("position %d: expected %s, got %s", i, name, got[i].Name)
		}
	}
	if StageHealthSlice(nil) != nil {
		t.Fatal("expected nil for empty health")
	}
}

func TestStatusForError(t *testing.T) {
	terminal := services.Wrap(services.ErrValidation, "", "job_update", "job is completed", jobs.ErrTerminal)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"terminal", terminal, http.StatusConflict},
		{"not found", services.Errorf(services.ErrNotFound, "", "op", "missing"), http.StatusNotFound},
		{"validation", services.Errorf(services.ErrValidation, "", "op", "bad"), http.StatusBadRequest},
		{"rate limited", services.Errorf(services.ErrRateLimited, "", "op", "slow down"), http.StatusTooManyRequests},
		{"transient", services.Errorf(services.ErrTransient, "", "op", "redis down"), http.StatusServiceUnavailable},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusForError(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := ParseStatuses([]string{"pending, Running", "failed"})
	if err != nil {
		t.Fatalf("ParseStatuses: %v", err)
	}
	if len(got) != 3 || got[1] != jobs.StatusRunning {
		t.Fatalf("unexpected statuses %v", got)
	}
	if _, err := ParseStatuses([]string{"later"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
