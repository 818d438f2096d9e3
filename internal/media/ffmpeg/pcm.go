package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

// ExtractPCM decodes the audio of in to mono signed 16-bit samples at
// sampleRate.
func (a *Adapter) ExtractPCM(ctx context.Context, in string, sampleRate int) (media.PCM, error) {
	if sampleRate <= 0 {
		return media.PCM{}, services.Errorf(services.ErrValidation, "", "extract_pcm", "invalid sample rate %d", sampleRate)
	}
	runCtx, cancel := withTimeout(ctx, a.opts.TransformTimeout)
	defer cancel()

	cmd := a.command(runCtx, pcmArgs(in, sampleRate))
	var stdout bytes.Buffer
	tail := newTailBuffer(stderrTailMax)
	cmd.Stdout = &stdout
	cmd.Stderr = tail
	if err := cmd.Run(); err != nil {
		stderr := tail.String()
		if ctx.Err() == nil && !errors.Is(runCtx.Err(), context.DeadlineExceeded) && noAudioStream(stderr) {
			return media.PCM{}, services.Wrap(services.ErrCorrupted, "", "extract_pcm", "narration has no audio stream", err,
				services.WithCode("narration_no_audio"), services.WithDetail("path", in))
		}
		return media.PCM{}, a.classify(ctx, runCtx, "extract_pcm", err, stderr)
	}
	data := stdout.Bytes()
	if len(data) < 2 {
		return media.PCM{}, services.Wrap(services.ErrCorrupted, "", "extract_pcm", "narration decoded to no samples",
			fmt.Errorf("%d bytes of audio", len(data)),
			services.WithCode("narration_no_audio"), services.WithDetail("path", in))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return media.PCM{SampleRate: sampleRate, Samples: samples}, nil
}

func noAudioStream(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "does not contain any stream") ||
		strings.Contains(lower, "matches no streams")
}
