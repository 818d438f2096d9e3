package assembly

import (
	"context"

	"reelsmith/internal/compat"
	"reelsmith/internal/config"
	"reelsmith/internal/media"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/validation"
)

// Options tunes the assembly stages.
type Options struct {
	MaxClipSeconds  float64
	MinClipSeconds  float64
	Workers         int
	CheckpointEvery int
	Style           ffmpeg.SubtitleStyle
}

// OptionsFromConfig reads the assembly related config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxClipSeconds:  cfg.Clips.MaxClipSeconds,
		MinClipSeconds:  cfg.Clips.MinClipSeconds,
		Workers:         cfg.Workers.Compat,
		CheckpointEvery: cfg.Checkpoint.Every,
		Style:           ffmpeg.SubtitleStyle{FontName: cfg.Captions.FontName, FontSize: cfg.Captions.FontSize},
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 1
	}
	return o
}

// Trimmer cuts a window out of a clip.
type Trimmer interface {
	Trim(ctx context.Context, in, out string, start, duration float64, target media.Target) error
}

// Reconciler brings files to the composition target.
type Reconciler interface {
	ReconcileAll(ctx context.Context, paths []string) ([]compat.Result, error)
}

// Concatenator joins conforming files.
type Concatenator interface {
	Concat(ctx context.Context, inputs []string, out string) error
}

// Composer burns captions in and muxes the narration.
type Composer interface {
	Compose(ctx context.Context, video, narration, subtitles, out string, style ffmpeg.SubtitleStyle, target media.Target) error
}

// Validator scores a clip file.
type Validator interface {
	Validate(ctx context.Context, clip validation.Clip, target media.Target) (validation.Result, error)
}
