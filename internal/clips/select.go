package clips

import (
	"context"
	"log/slog"
	"sort"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/textutil"
)

// Selector is the select stage. It ranks candidates by catalogue score and
// title relevance, then takes clips until the narration is covered.
type Selector struct {
	store  stage.Store
	prober Prober
	opts   Options
	logger *slog.Logger
}

// NewSelector constructs the select stage. prober may be nil, in which case
// MaxClips candidates are taken.
func NewSelector(store stage.Store, prober Prober, opts Options, logger *slog.Logger) *Selector {
	return &Selector{store: store, prober: prober, opts: opts.withDefaults(), logger: logging.NewComponentLogger(logger, "clip-select")}
}

// Prepare resets progress for the stage.
func (s *Selector) Prepare(ctx context.Context, job *jobs.Job) error {
	return stage.ReportProgress(ctx, s.store, job, stage.Percent(jobs.StageSelect, 0), "selecting clips")
}

type ranked struct {
	clip jobs.Clip
	rank float64
}

// Rank orders candidates best first. Half the rank is the catalogue score
// normalised to the best score, half is title relevance to query.
func Rank(query string, candidates []jobs.Clip) []jobs.Clip {
	titles := make([]string, len(candidates))
	best := 0.0
	for i, c := range candidates {
		titles[i] = c.Title
		best = max(best, c.Score)
	}
	relevance := textutil.Relevance(query, titles)
	items := make([]ranked, len(candidates))
	for i, c := range candidates {
		score := 0.0
		if best > 0 {
			score = c.Score / best
		}
		items[i] = ranked{clip: c, rank: 0.5*score + 0.5*relevance[i]}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].rank > items[j].rank })
	out := make([]jobs.Clip, len(items))
	for i, it := range items {
		out[i] = it.clip
	}
	return out
}

// Execute picks the clips the download stage will fetch.
func (s *Selector) Execute(ctx context.Context, job *jobs.Job) error {
	logger := logging.WithContext(ctx, s.logger)
	needed := s.coverageNeeded(ctx, job)

	var selected []string
	covered := 0.0
	for _, c := range Rank(job.Query, job.Metadata.Candidates) {
		if len(selected) >= s.opts.MaxClips || (needed > 0 && covered >= needed) {
			break
		}
		selected = append(selected, c.ID)
		usable := c.Duration
		if s.opts.MaxClipSeconds > 0 {
			usable = min(usable, s.opts.MaxClipSeconds)
		}
		covered += usable
	}
	if len(selected) < s.opts.MinClips {
		return services.Wrap(services.ErrContent, string(jobs.StageSelect), "execute",
			"not enough clip candidates", nil,
			services.WithCode("not_enough_candidates"),
			services.WithDetail("candidates", len(job.Metadata.Candidates)),
			services.WithDetail("required", s.opts.MinClips),
		)
	}
	job.Metadata.Selected = selected
	logger.Info("clips selected",
		logging.String(logging.FieldEventType, "clips_selected"),
		logging.Int("selected", len(selected)),
		logging.Seconds("covered_seconds", covered),
		logging.Seconds("needed_seconds", needed),
	)
	return stage.ReportProgress(ctx, s.store, job, stage.Percent(jobs.StageSelect, 1), "clips selected")
}

// coverageNeeded returns the footage seconds to aim for, or 0 when the
// narration length is unknown.
func (s *Selector) coverageNeeded(ctx context.Context, job *jobs.Job) float64 {
	duration := job.Metadata.NarrationDuration
	if duration <= 0 && s.prober != nil {
		spec, err := s.prober.Probe(ctx, job.Narration)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "narration probe failed; selecting by clip count", "narration_probe_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "up to max_clips clips will be downloaded"),
			)
			return 0
		}
		duration = spec.Duration
	}
	return duration * s.opts.CoverageFactor
}

// HealthCheck always reports ready; selection has no external dependency.
func (s *Selector) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(jobs.StageSelect))
}
