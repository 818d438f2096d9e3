//go:build cgo

package vad

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/visvasity/webrtcvad"

	"reelsmith/internal/media"
)

// WebRTCDetector runs the WebRTC GMM detector over fixed frames.
type WebRTCDetector struct {
	opts Options
}

// NewWebRTCDetector builds a webrtc detector.
func NewWebRTCDetector(opts Options) *WebRTCDetector {
	return &WebRTCDetector{opts: opts.withDefaults()}
}

// Name identifies the detector.
func (d *WebRTCDetector) Name() string {
	return "webrtc"
}

// Detect classifies each whole frame and joins speech frames into segments.
// Sample rates other than 8, 16, 32 or 48 kHz are unavailable.
func (d *WebRTCDetector) Detect(ctx context.Context, pcm media.PCM) ([]media.Segment, error) {
	switch pcm.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("sample rate %d: %w", pcm.SampleRate, ErrUnavailable)
	}
	samplesPerFrame := pcm.SampleRate * d.opts.FrameMillis / 1000
	if samplesPerFrame <= 0 || len(pcm.Samples) < samplesPerFrame {
		return nil, ErrUnavailable
	}
	detector, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtcvad: %v: %w", err, ErrUnavailable)
	}
	if err := detector.SetMode(d.opts.WebRTCMode); err != nil {
		return nil, fmt.Errorf("webrtcvad mode %d: %v: %w", d.opts.WebRTCMode, err, ErrUnavailable)
	}

	frame := make([]byte, samplesPerFrame*2)
	flags := make([]bool, 0, len(pcm.Samples)/samplesPerFrame)
	for offset := 0; offset+samplesPerFrame <= len(pcm.Samples); offset += samplesPerFrame {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, s := range pcm.Samples[offset : offset+samplesPerFrame] {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(s))
		}
		speech, err := detector.Process(pcm.SampleRate, frame)
		if err != nil {
			return nil, fmt.Errorf("webrtcvad frame %d: %v: %w", len(flags), err, ErrUnavailable)
		}
		flags = append(flags, speech)
	}
	frameSeconds := float64(d.opts.FrameMillis) / 1000
	return segmentsFromFlags(flags, frameSeconds, pcm.Duration(), d.opts), nil
}
