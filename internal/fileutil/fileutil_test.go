package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "nested", "captions.srt")
	if err := WriteFileAtomic(dst, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "1\n" {
		t.Fatalf("unexpected content %q, %v", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestWriteStreamAtomicLeavesDestinationOnFailure(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteStreamAtomic(dst, failingReader{}, 0o644); err == nil {
		t.Fatal("expected copy error")
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "old" {
		t.Fatalf("destination must be untouched, got %q", got)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Fatalf("temp file %s left behind", e.Name())
		}
	}
}

func TestWriteStreamAtomicCountsBytes(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "clip.mp4")
	n, err := WriteStreamAtomic(dst, strings.NewReader("abcdef"), 0o600)
	if err != nil || n != 6 {
		t.Fatalf("expected 6 bytes, got %d %v", n, err)
	}
	info, _ := os.Stat(dst)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %o", info.Mode().Perm())
	}
}

func TestAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "clip.reconcile.tmp.mp4")
	dst := filepath.Join(dir, "clip.mp4")
	_ = os.WriteFile(tmp, []byte("new"), 0o644)
	_ = os.WriteFile(dst, []byte("old"), 0o644)
	if err := AtomicReplace(tmp, dst); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "new" {
		t.Fatalf("unexpected content %q", got)
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be consumed")
	}
}

func TestRemoveFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	_ = os.WriteFile(a, []byte("x"), 0o644)
	if err := RemoveFiles(a, filepath.Join(dir, "missing"), ""); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Fatal("expected file to be removed")
	}
}
