package workflow

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/textutil"
)

// JobLogger manages one log file per job.
type JobLogger struct {
	baseDir string
	cfg     *config.Config
}

// NewJobLogger creates a job logger rooted at <log_dir>/jobs. Without a log
// directory it is disabled.
func NewJobLogger(cfg *config.Config) *JobLogger {
	dir := ""
	if cfg != nil && strings.TrimSpace(cfg.Paths.LogDir) != "" {
		dir = filepath.Join(cfg.Paths.LogDir, "jobs")
	}
	return &JobLogger{baseDir: dir, cfg: cfg}
}

// Enabled reports whether job logs are written.
func (b *JobLogger) Enabled() bool {
	return b != nil && b.baseDir != ""
}

// Ensure assigns job a log path when it has none and creates its directory.
func (b *JobLogger) Ensure(job *jobs.Job) (string, error) {
	if job == nil {
		return "", fmt.Errorf("job is nil")
	}
	if !b.Enabled() {
		return "", fmt.Errorf("job log directory not configured")
	}
	if strings.TrimSpace(job.LogPath) == "" {
		job.LogPath = filepath.Join(b.baseDir, b.filename(job))
	}
	if err := os.MkdirAll(filepath.Dir(job.LogPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure job log directory: %w", err)
	}
	return job.LogPath, nil
}

// Open returns a handler appending to path. The caller closes the returned
// closer once the job is done.
func (b *JobLogger) Open(path string) (slog.Handler, io.Closer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, nil, fmt.Errorf("open job log %s: %w", path, err)
	}
	level := "info"
	if b.cfg != nil && strings.TrimSpace(b.cfg.Logging.Level) != "" {
		level = b.cfg.Logging.Level
	}
	handler, err := logging.NewHandler(file, logging.Options{Level: level, Format: "json"})
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return handler, file, nil
}

func (b *JobLogger) filename(job *jobs.Job) string {
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return fmt.Sprintf("%s-%s-%s.log",
		created.UTC().Format("20060102T150405"),
		textutil.SanitizeToken(job.ID),
		textutil.Slug(job.Query, 32),
	)
}
