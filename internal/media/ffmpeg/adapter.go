package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/media/ffprobe"
	"reelsmith/internal/media/procgroup"
	"reelsmith/internal/services"
)

const (
	killGrace     = 2 * time.Second
	waitDelay     = 5 * time.Second
	stderrTailMax = 16 * 1024
)

// Options configures binaries, per-call limits and encoder quality.
type Options struct {
	FFmpegBinary     string
	FFprobeBinary    string
	ProbeTimeout     time.Duration
	TransformTimeout time.Duration
	DecodeTimeout    time.Duration
	Preset           string
	CRF              int
}

// Adapter is the single gateway to the ffmpeg and ffprobe binaries. Every
// call is a bounded external process: it runs in its own process group,
// carries a timeout, deletes its output on failure, and treats a non-zero
// exit or an empty output file as an error.
type Adapter struct {
	opts   Options
	logger *slog.Logger
}

// New builds an adapter from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Adapter {
	return NewWithOptions(Options{
		FFmpegBinary:     cfg.Media.FFmpegBinary,
		FFprobeBinary:    cfg.Media.FFprobeBinary,
		ProbeTimeout:     cfg.ProbeTimeout(),
		TransformTimeout: cfg.TransformTimeout(),
		DecodeTimeout:    cfg.DecodeTimeout(),
		Preset:           cfg.Media.VideoPreset,
		CRF:              cfg.Media.VideoCRF,
	}, logger)
}

// NewWithOptions builds an adapter with explicit options.
func NewWithOptions(opts Options, logger *slog.Logger) *Adapter {
	if strings.TrimSpace(opts.FFmpegBinary) == "" {
		opts.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(opts.FFprobeBinary) == "" {
		opts.FFprobeBinary = "ffprobe"
	}
	if opts.Preset == "" {
		opts.Preset = "veryfast"
	}
	if opts.CRF <= 0 {
		opts.CRF = 20
	}
	return &Adapter{opts: opts, logger: logging.NewComponentLogger(logger, "ffmpeg")}
}

// Probe measures the format of path.
func (a *Adapter) Probe(ctx context.Context, path string) (media.Spec, error) {
	runCtx, cancel := withTimeout(ctx, a.opts.ProbeTimeout)
	defer cancel()

	result, err := ffprobe.Inspect(runCtx, a.opts.FFprobeBinary, path)
	if err != nil {
		if ctx.Err() != nil {
			return media.Spec{}, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return media.Spec{}, services.Wrap(services.ErrTimeout, "", "probe", "ffprobe timed out", err,
				services.WithCode("media_timeout"), services.WithDetail("path", path))
		}
		return media.Spec{}, services.Wrap(services.ErrExternalTool, "", "probe", "ffprobe failed", err,
			services.WithCode("probe_failed"), services.WithDetail("path", path))
	}
	a.logger.Debug("probed media",
		logging.String("path", path),
		logging.Int("video_streams", result.VideoStreamCount()),
		logging.Int("audio_streams", result.AudioStreamCount()),
	)
	return result.Spec(), nil
}

// CropScale renders the canonical crop of in at the target resolution, video
// only. The validator scans exactly this rendering so it sees the pixels the
// composition will show.
func (a *Adapter) CropScale(ctx context.Context, in, out string, target media.Target) error {
	return a.run(ctx, "crop_scale", a.opts.TransformTimeout, cropScaleArgs(in, out, target, a.opts), out)
}

// Trim cuts [start, start+duration) from in and applies the canonical crop.
func (a *Adapter) Trim(ctx context.Context, in, out string, start, duration float64, target media.Target) error {
	if duration <= 0 {
		return services.Errorf(services.ErrValidation, "", "trim", "non-positive trim duration %.3f", duration)
	}
	return a.run(ctx, "trim", a.opts.TransformTimeout, trimArgs(in, out, start, duration, target, a.opts), out)
}

// Transcode re-encodes in to the full target format. A missing audio stream
// is replaced by silence so every clip concatenates cleanly.
func (a *Adapter) Transcode(ctx context.Context, in, out string, target media.Target, source media.Spec) error {
	return a.run(ctx, "transcode", a.opts.TransformTimeout, transcodeArgs(in, out, target, source, a.opts), out)
}

// Concat joins already-conforming inputs with stream copy.
func (a *Adapter) Concat(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return services.Errorf(services.ErrValidation, "", "concat", "no inputs to concatenate")
	}
	listPath := out + ".concat.txt"
	if err := writeConcatList(listPath, inputs); err != nil {
		return services.Wrap(services.ErrTransient, "", "concat", "write concat list", err)
	}
	defer os.Remove(listPath)
	return a.run(ctx, "concat", a.opts.TransformTimeout, concatArgs(listPath, out), out)
}

// Compose burns subtitles into video and muxes the narration as the only
// audio track, in a single pass.
func (a *Adapter) Compose(ctx context.Context, video, narration, subtitles, out string, style SubtitleStyle, target media.Target) error {
	return a.run(ctx, "compose", a.opts.TransformTimeout, composeArgs(video, narration, subtitles, out, style, target, a.opts), out)
}

func (a *Adapter) run(ctx context.Context, op string, timeout time.Duration, args []string, output string) error {
	runCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	cmd := a.command(runCtx, args)
	tail := newTailBuffer(stderrTailMax)
	cmd.Stderr = tail

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		removeQuietly(output)
		return a.classify(ctx, runCtx, op, err, tail.String())
	}
	if output != "" {
		if err := checkOutput(output); err != nil {
			removeQuietly(output)
			return services.Wrap(services.ErrExternalTool, "", op, "ffmpeg produced no usable output", err,
				services.WithCode("empty_output"), services.WithDetail("path", output))
		}
	}
	a.logger.Debug("ffmpeg command completed",
		logging.String("operation", op),
		logging.String("output", output),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (a *Adapter) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, a.opts.FFmpegBinary, args...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.KillGroup(cmd.Process.Pid, killGrace)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// classify maps a failed process to the error taxonomy. Parent cancellation
// is passed through untouched so shutdown is never mistaken for a failure.
func (a *Adapter) classify(parent, runCtx context.Context, op string, err error, stderr string) error {
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("%s: %w", op, parentErr)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "", op, "ffmpeg timed out", err, services.WithCode("media_timeout"))
	}
	opts := []services.Option{services.WithCode("ffmpeg_failed")}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		opts = append(opts, services.WithDetail("exit_code", exitErr.ExitCode()))
	}
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		opts = append(opts, services.WithDetail("stderr", stderr))
	}
	return services.Wrap(services.ErrExternalTool, "", op, "ffmpeg failed", err, opts...)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("output file is empty")
	}
	return nil
}

func removeQuietly(path string) {
	if path == "" || strings.HasPrefix(path, "pipe:") {
		return
	}
	_ = os.Remove(path)
}

func writeConcatList(path string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(in, "'", `'\''`))
		b.WriteString("'\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
