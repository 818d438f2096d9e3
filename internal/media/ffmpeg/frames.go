package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

// ErrStopDecoding may be returned by a frame callback to end decoding early.
// DecodeFrames then stops the decoder and returns without error.
var ErrStopDecoding = errors.New("stop decoding")

// frameQueueDepth bounds how many decoded frames may wait for the callback.
const frameQueueDepth = 2

type truncatedError struct {
	frame int
	bytes int
}

func (e truncatedError) Error() string {
	return fmt.Sprintf("frame %d truncated after %d bytes", e.frame, e.bytes)
}

// DecodeFrames decodes every frame of path, in order, as RGB24 at the given
// resolution and passes each to fn. No frame is skipped or sampled. It
// returns the number of frames handed to fn.
//
// A file that yields no frames, or ends inside a frame, is reported as
// ErrCorrupted. Parent cancellation is returned as the context error and a
// decode timeout as ErrTimeout, never as corruption.
func (a *Adapter) DecodeFrames(ctx context.Context, path string, width, height int, fn func(media.Frame) error) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, services.Errorf(services.ErrValidation, "", "decode_frames", "invalid frame size %dx%d", width, height)
	}
	runCtx, cancel := withTimeout(ctx, a.opts.DecodeTimeout)
	defer cancel()

	cmd := a.command(runCtx, frameArgs(path))
	tail := newTailBuffer(stderrTailMax)
	cmd.Stderr = tail
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "", "decode_frames", "open decoder pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "", "decode_frames", "start decoder", err,
			services.WithCode("ffmpeg_failed"))
	}

	frameSize := width * height * 3
	frames := make(chan media.Frame, frameQueueDepth)
	readDone := make(chan error, 1)
	go func() {
		defer close(frames)
		reader := bufio.NewReaderSize(stdout, frameSize)
		for index := 0; ; index++ {
			pix := make([]byte, frameSize)
			n, err := io.ReadFull(reader, pix)
			switch {
			case errors.Is(err, io.EOF):
				readDone <- nil
				return
			case errors.Is(err, io.ErrUnexpectedEOF):
				readDone <- truncatedError{frame: index, bytes: n}
				return
			case err != nil:
				readDone <- err
				return
			}
			select {
			case frames <- media.Frame{Index: index, Width: width, Height: height, Pix: pix}:
			case <-runCtx.Done():
				readDone <- runCtx.Err()
				return
			}
		}
	}()

	count := 0
	var callbackErr error
	for frame := range frames {
		if err := fn(frame); err != nil {
			callbackErr = err
			cancel()
			break
		}
		count++
	}
	readErr := <-readDone
	waitErr := cmd.Wait()

	if callbackErr != nil {
		if errors.Is(callbackErr, ErrStopDecoding) {
			a.logger.Debug("frame decoding stopped early",
				logging.String("path", path),
				logging.Int("frames", count),
			)
			return count, nil
		}
		return count, callbackErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return count, fmt.Errorf("decode_frames: %w", ctxErr)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return count, services.Wrap(services.ErrTimeout, "", "decode_frames", "frame decoding timed out", runCtx.Err(),
			services.WithCode("media_timeout"), services.WithDetail("frames", count))
	}

	stderr := strings.TrimSpace(tail.String())
	var truncated truncatedError
	switch {
	case errors.As(readErr, &truncated):
		return count, services.Wrap(services.ErrCorrupted, "", "decode_frames", "decoded stream ends inside a frame", readErr,
			services.WithCode("corrupted_truncated"), services.WithDetail("frames", count))
	case count == 0:
		cause := waitErr
		if cause == nil {
			cause = errors.New("no frames decoded")
		}
		return 0, services.Wrap(services.ErrCorrupted, "", "decode_frames", "file yields no decodable frames", cause,
			services.WithCode("corrupted_no_frames"), services.WithDetail("stderr", stderr))
	case waitErr != nil:
		return count, services.Wrap(services.ErrCorrupted, "", "decode_frames", "decoder failed part way through", waitErr,
			services.WithCode("corrupted_truncated"), services.WithDetail("frames", count), services.WithDetail("stderr", stderr))
	case readErr != nil:
		return count, services.Wrap(services.ErrExternalTool, "", "decode_frames", "read decoded frames", readErr)
	}
	return count, nil
}
