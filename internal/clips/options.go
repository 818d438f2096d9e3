package clips

import (
	"context"

	"reelsmith/internal/config"
	"reelsmith/internal/media"
	"reelsmith/internal/services/clipsource"
	"reelsmith/internal/validation"
)

// Options tunes candidate selection and downloading.
type Options struct {
	SearchLimit     int
	MaxClips        int
	MinClips        int
	MinClipSeconds  float64
	MaxClipSeconds  float64
	CoverageFactor  float64
	Workers         int
	CheckpointEvery int
}

// OptionsFromConfig reads the clip related config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SearchLimit:     cfg.Clips.SearchLimit,
		MaxClips:        cfg.Clips.MaxClips,
		MinClips:        cfg.Clips.MinClips,
		MinClipSeconds:  cfg.Clips.MinClipSeconds,
		MaxClipSeconds:  cfg.Clips.MaxClipSeconds,
		CoverageFactor:  cfg.Clips.CoverageFactor,
		Workers:         cfg.Workers.Download,
		CheckpointEvery: cfg.Checkpoint.Every,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxClips <= 0 {
		o.MaxClips = 12
	}
	if o.MinClips <= 0 {
		o.MinClips = 1
	}
	if o.CoverageFactor <= 0 {
		o.CoverageFactor = 1
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 1
	}
	return o
}

// Catalogue searches for and downloads clips.
type Catalogue interface {
	Search(ctx context.Context, query string, limit int) ([]clipsource.Candidate, error)
	Download(ctx context.Context, rawURL, dst string) (int64, error)
}

// Ledger answers whether clips were rejected before.
type Ledger interface {
	Filter(ctx context.Context, ids []string) ([]string, error)
	Contains(ctx context.Context, id string) (bool, error)
}

// Validator scores a downloaded clip.
type Validator interface {
	Validate(ctx context.Context, clip validation.Clip, target media.Target) (validation.Result, error)
}

// Prober measures a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Spec, error)
}
