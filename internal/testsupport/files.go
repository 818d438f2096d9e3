package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// fixtureByte fills placeholder media files. The content is never decoded;
// stubbed ffmpeg and ffprobe scripts only look at paths and sizes.
const fixtureByte = 0x42

// WriteFile creates path, and any missing parent directories, holding size
// placeholder bytes. A size <= 0 writes a single byte so the file never
// counts as an empty output.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{fixtureByte}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
