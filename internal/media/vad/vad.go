package vad

import (
	"context"
	"errors"
	"math"

	"reelsmith/internal/config"
	"reelsmith/internal/media"
)

// ErrUnavailable reports that a detector cannot analyse the audio at all.
var ErrUnavailable = errors.New("voice activity detector unavailable")

// Detector returns speech segments for mono PCM audio, sorted by start.
type Detector interface {
	Name() string
	Detect(ctx context.Context, pcm media.PCM) ([]media.Segment, error)
}

// Options controls frame-based detection.
type Options struct {
	FrameMillis int
	// WebRTCMode is the webrtc aggressiveness, 0 (quality) to 3.
	WebRTCMode int
	// EnergyRatio is how far above the noise floor (power ratio) a frame
	// must be to count as speech.
	EnergyRatio      float64
	LevelThresholdDB float64
	MinSpeechMillis  int
	HangoverMillis   int
}

// OptionsFromConfig maps configuration onto detector options.
func OptionsFromConfig(cfg config.VAD) Options {
	return Options{
		FrameMillis:      cfg.FrameMillis,
		WebRTCMode:       cfg.WebRTCMode,
		EnergyRatio:      cfg.EnergyRatio,
		LevelThresholdDB: cfg.LevelThresholdDB,
		MinSpeechMillis:  cfg.MinSpeechMillis,
		HangoverMillis:   cfg.HangoverMillis,
	}
}

func (o Options) withDefaults() Options {
	if o.FrameMillis <= 0 {
		o.FrameMillis = 30
	}
	if o.WebRTCMode < 0 || o.WebRTCMode > 3 {
		o.WebRTCMode = 3
	}
	if o.EnergyRatio <= 1 {
		o.EnergyRatio = 3
	}
	if o.LevelThresholdDB == 0 {
		o.LevelThresholdDB = -40
	}
	if o.MinSpeechMillis < 0 {
		o.MinSpeechMillis = 0
	}
	if o.HangoverMillis < 0 {
		o.HangoverMillis = 0
	}
	return o
}

// frameRMS splits pcm into whole frames and returns the RMS of each,
// normalized to full scale.
func frameRMS(pcm media.PCM, frameMillis int) ([]float64, int, error) {
	if pcm.SampleRate <= 0 {
		return nil, 0, ErrUnavailable
	}
	samplesPerFrame := pcm.SampleRate * frameMillis / 1000
	if samplesPerFrame <= 0 || len(pcm.Samples) < samplesPerFrame {
		return nil, samplesPerFrame, ErrUnavailable
	}
	out := make([]float64, 0, len(pcm.Samples)/samplesPerFrame)
	for offset := 0; offset+samplesPerFrame <= len(pcm.Samples); offset += samplesPerFrame {
		var sum float64
		for _, s := range pcm.Samples[offset : offset+samplesPerFrame] {
			v := float64(s) / math.MaxInt16
			sum += v * v
		}
		out = append(out, math.Sqrt(sum/float64(samplesPerFrame)))
	}
	return out, samplesPerFrame, nil
}

// segmentsFromFlags turns per-frame speech flags into segments, extending
// each run by the hangover and dropping runs shorter than the minimum.
func segmentsFromFlags(flags []bool, frameSeconds, duration float64, opts Options) []media.Segment {
	hangover := int(math.Round(float64(opts.HangoverMillis) / (frameSeconds * 1000)))
	minSpeech := float64(opts.MinSpeechMillis) / 1000

	var out []media.Segment
	start := -1
	quiet := 0
	flush := func(endFrame int) {
		seg := media.Segment{
			Start: float64(start) * frameSeconds,
			End:   math.Min(duration, float64(endFrame)*frameSeconds),
		}
		if seg.Duration() >= minSpeech && seg.Duration() > 0 {
			out = append(out, seg)
		}
		start = -1
	}
	for i, speech := range flags {
		switch {
		case speech && start < 0:
			start = i
			quiet = 0
		case speech:
			quiet = 0
		case start >= 0:
			quiet++
			if quiet > hangover {
				flush(i - quiet + 1 + hangover)
			}
		}
	}
	if start >= 0 {
		end := len(flags) - quiet + hangover
		if end > len(flags) {
			end = len(flags)
		}
		flush(end)
	}
	return out
}

func dbfs(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}
