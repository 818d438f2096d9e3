package vad

import (
	"context"
	"math"
	"sort"

	"reelsmith/internal/media"
)

const (
	// floorPercentile seeds the noise floor from the quietest frames.
	floorPercentile = 0.1
	// floorAdapt is how quickly the floor follows non-speech frames.
	floorAdapt = 0.05
	// minFloorRMS is -60 dBFS; digital silence must not make every
	// non-zero frame look like speech.
	minFloorRMS = 0.001
)

// EnergyDetector is the classical frame-energy detector: a frame is speech
// when its power exceeds an adaptive noise floor by EnergyRatio.
type EnergyDetector struct {
	opts Options
}

// NewEnergyDetector builds an energy detector.
func NewEnergyDetector(opts Options) *EnergyDetector {
	return &EnergyDetector{opts: opts.withDefaults()}
}

// Name identifies the detector.
func (d *EnergyDetector) Name() string {
	return "energy"
}

// Detect flags frames against the noise floor and joins them into segments.
func (d *EnergyDetector) Detect(ctx context.Context, pcm media.PCM) ([]media.Segment, error) {
	rms, _, err := frameRMS(pcm, d.opts.FrameMillis)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	floor := math.Max(percentile(rms, floorPercentile), minFloorRMS)
	// Power ratio on squared RMS.
	threshold := math.Sqrt(d.opts.EnergyRatio)
	flags := make([]bool, len(rms))
	for i, level := range rms {
		if level > floor*threshold {
			flags[i] = true
			continue
		}
		floor = math.Max(minFloorRMS, (1-floorAdapt)*floor+floorAdapt*level)
	}
	frameSeconds := float64(d.opts.FrameMillis) / 1000
	return segmentsFromFlags(flags, frameSeconds, pcm.Duration(), d.opts), nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// LevelDetector is the last resort: any frame louder than a fixed dBFS
// threshold is speech.
type LevelDetector struct {
	opts Options
}

// NewLevelDetector builds a level detector.
func NewLevelDetector(opts Options) *LevelDetector {
	return &LevelDetector{opts: opts.withDefaults()}
}

// Name identifies the detector.
func (d *LevelDetector) Name() string {
	return "level"
}

// Detect flags frames above the level threshold.
func (d *LevelDetector) Detect(ctx context.Context, pcm media.PCM) ([]media.Segment, error) {
	rms, _, err := frameRMS(pcm, d.opts.FrameMillis)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flags := make([]bool, len(rms))
	for i, level := range rms {
		flags[i] = dbfs(level) > d.opts.LevelThresholdDB
	}
	frameSeconds := float64(d.opts.FrameMillis) / 1000
	return segmentsFromFlags(flags, frameSeconds, pcm.Duration(), d.opts), nil
}
