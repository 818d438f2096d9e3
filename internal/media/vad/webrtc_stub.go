//go:build !cgo

package vad

import (
	"context"
	"fmt"

	"reelsmith/internal/media"
)

// WebRTCDetector is unavailable without cgo.
type WebRTCDetector struct{}

// NewWebRTCDetector builds a detector that always reports ErrUnavailable.
func NewWebRTCDetector(Options) *WebRTCDetector {
	return &WebRTCDetector{}
}

// Name identifies the detector.
func (d *WebRTCDetector) Name() string {
	return "webrtc"
}

// Detect always fails so the chain moves on.
func (d *WebRTCDetector) Detect(context.Context, media.PCM) ([]media.Segment, error) {
	return nil, fmt.Errorf("cgo disabled: %w", ErrUnavailable)
}
