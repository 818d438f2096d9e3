package transcribe_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"reelsmith/internal/resilience"
	"reelsmith/internal/services"
	"reelsmith/internal/services/transcribe"
	"reelsmith/internal/services/transport"
	"reelsmith/internal/testsupport"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestTranscribeUploadsNarration(t *testing.T) {
	dir := t.TempDir()
	narration := filepath.Join(dir, "voice.wav")
	testsupport.WriteFile(t, narration, 4)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("language") != "en" {
			t.Errorf("language not sent")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if header.Filename != "voice.wav" || len(data) != 4 {
				t.Errorf("unexpected upload %s (%d bytes)", header.Filename, len(data))
			}
		}
		_, _ = w.Write([]byte(`{"segments":[{"start":0.5,"end":3.2,"text":" Hello, world "},{"start":4,"end":4,"text":"skip"},{"start":5,"end":6,"text":"  "}]}`))
	}))
	defer srv.Close()

	client := transcribe.New(transport.New(transport.Options{
		Name:    "stt",
		BaseURL: srv.URL,
		Retry:   resilience.RetryPolicy{MaxAttempts: 3, Sleep: noSleep},
	}), "en")
	segments, err := client.Transcribe(context.Background(), narration)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "Hello, world" || segments[0].Start != 0.5 {
		t.Fatalf("unexpected segments %+v", segments)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestTranscribeEmptyTranscriptIsContentError(t *testing.T) {
	dir := t.TempDir()
	narration := filepath.Join(dir, "voice.wav")
	testsupport.WriteFile(t, narration, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"segments":[]}`))
	}))
	defer srv.Close()
	client := transcribe.New(transport.New(transport.Options{Name: "stt", BaseURL: srv.URL}), "")
	if _, err := client.Transcribe(context.Background(), narration); !errors.Is(err, services.ErrContent) {
		t.Fatalf("expected content error, got %v", err)
	}
}

func TestTranscribeMissingNarration(t *testing.T) {
	client := transcribe.New(transport.New(transport.Options{Name: "stt", BaseURL: "http://127.0.0.1:1"}), "")
	if _, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "none.wav")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
