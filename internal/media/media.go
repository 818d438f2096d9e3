package media

import (
	"fmt"
	"math"
	"strings"

	"reelsmith/internal/config"
)

// Spec is the measured format of a media file.
type Spec struct {
	Width           int
	Height          int
	FrameRate       float64
	VideoCodec      string
	AudioCodec      string
	AudioSampleRate int
	HasAudio        bool
	Duration        float64
}

// Target is the composition format every clip is brought to, plus the crop
// anchor used when the source aspect ratio differs.
type Target struct {
	Width           int
	Height          int
	FrameRate       float64
	VideoCodec      string
	AudioCodec      string
	AudioSampleRate int
	Anchor          string
}

// TargetFromConfig builds the composition target from configuration.
func TargetFromConfig(cfg config.Target) Target {
	return Target{
		Width:           cfg.Width,
		Height:          cfg.Height,
		FrameRate:       cfg.FrameRate,
		VideoCodec:      cfg.VideoCodec,
		AudioCodec:      cfg.AudioCodec,
		AudioSampleRate: cfg.AudioSampleRate,
		Anchor:          cfg.Anchor,
	}
}

const frameRateTolerance = 0.01

// Mismatches lists every property of spec that differs from the target.
// An empty result means the file already conforms.
func (t Target) Mismatches(spec Spec) []string {
	var out []string
	if spec.Width != t.Width || spec.Height != t.Height {
		out = append(out, fmt.Sprintf("resolution %dx%d != %dx%d", spec.Width, spec.Height, t.Width, t.Height))
	}
	if math.Abs(spec.FrameRate-t.FrameRate) > frameRateTolerance {
		out = append(out, fmt.Sprintf("frame rate %.3f != %.3f", spec.FrameRate, t.FrameRate))
	}
	if !strings.EqualFold(spec.VideoCodec, t.VideoCodec) {
		out = append(out, fmt.Sprintf("video codec %q != %q", spec.VideoCodec, t.VideoCodec))
	}
	if !spec.HasAudio {
		out = append(out, "missing audio stream")
		return out
	}
	if !strings.EqualFold(spec.AudioCodec, t.AudioCodec) {
		out = append(out, fmt.Sprintf("audio codec %q != %q", spec.AudioCodec, t.AudioCodec))
	}
	if spec.AudioSampleRate != t.AudioSampleRate {
		out = append(out, fmt.Sprintf("audio sample rate %d != %d", spec.AudioSampleRate, t.AudioSampleRate))
	}
	return out
}

// Segment is a detected speech interval in seconds.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Overlap returns how many seconds [start, end] shares with the segment.
func (s Segment) Overlap(start, end float64) float64 {
	lo := math.Max(s.Start, start)
	hi := math.Min(s.End, end)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Frame is one decoded RGB24 video frame.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []byte
}

// PCM is mono signed 16-bit audio.
type PCM struct {
	SampleRate int
	Samples    []int16
}

// Duration returns the audio length in seconds.
func (p PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// TextSegment is a transcribed utterance with its timing in seconds.
type TextSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
