package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"reelsmith/internal/config"
)

func writeStub(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
}

func TestCheckBinaries(t *testing.T) {
	present := filepath.Join(t.TempDir(), "present")
	writeStub(t, present, "exit 0\n")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Media.FFmpegBinary = "/opt/ff/bin/ffmpeg"
	reqs := Requirements(&cfg)
	if len(reqs) != 2 || reqs[0].Command != "/opt/ff/bin/ffmpeg" || reqs[1].Command != "ffprobe" {
		t.Fatalf("unexpected requirements %#v", reqs)
	}
}

func TestResolveFFprobePrefersSibling(t *testing.T) {
	tmp := t.TempDir()
	ffmpegPath := filepath.Join(tmp, "ff", executable("ffmpeg"))
	siblingPath := filepath.Join(tmp, "ff", executable("ffprobe"))
	writeStub(t, ffmpegPath, "exit 0\n")
	writeStub(t, siblingPath, "exit 0\n")
	writeStub(t, filepath.Join(tmp, "bin", executable("ffprobe")), "exit 0\n")
	t.Setenv("PATH", filepath.Join(tmp, "bin"))

	status := ResolveFFprobe(ffmpegPath, "ffprobe")
	if !status.Available || status.Command != siblingPath {
		t.Fatalf("expected sibling ffprobe %q, got %#v", siblingPath, status)
	}
}

func TestResolveFFprobePathFallback(t *testing.T) {
	tmp := t.TempDir()
	ffmpegPath := filepath.Join(tmp, executable("ffmpeg"))
	writeStub(t, ffmpegPath, "exit 0\n")
	binDir := filepath.Join(tmp, "bin")
	probePath := filepath.Join(binDir, executable("ffprobe"))
	writeStub(t, probePath, "exit 0\n")
	t.Setenv("PATH", binDir)

	status := ResolveFFprobe(ffmpegPath, "")
	if !status.Available || status.Command != probePath {
		t.Fatalf("expected PATH ffprobe %q, got %#v", probePath, status)
	}
}

func TestResolveFFprobeNotFound(t *testing.T) {
	t.Setenv("PATH", "")
	status := ResolveFFprobe("ffmpeg", "ffprobe")
	if status.Available || status.Detail == "" {
		t.Fatalf("expected resolution to fail with detail, got %#v", status)
	}
}

func TestCheckSubtitleFilter(t *testing.T) {
	tmp := t.TempDir()
	withLibass := filepath.Join(tmp, "with", "ffmpeg")
	writeStub(t, withLibass, `cat <<'OUT'
Filters:
 ... scale             V->V       Scale the input video size and/or convert the image format.
 ... subtitles         V->V       Render text subtitles onto input video using the libass library.
OUT
`)
	without := filepath.Join(tmp, "without", "ffmpeg")
	writeStub(t, without, `cat <<'OUT'
Filters:
 ... scale             V->V       Scale the input video size and/or convert the image format.
OUT
`)
	broken := filepath.Join(tmp, "broken", "ffmpeg")
	writeStub(t, broken, "exit 1\n")

	tests := []struct {
		name string
		cmd  string
		want bool
	}{
		{"libass", withLibass, true},
		{"no libass", without, false},
		{"failing binary", broken, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := CheckSubtitleFilter(context.Background(), tt.cmd)
			if status.Available != tt.want {
				t.Fatalf("expected available=%v, got %#v", tt.want, status)
			}
			if !tt.want && status.Detail == "" {
				t.Fatal("expected detail for unavailable filter")
			}
		})
	}
}
