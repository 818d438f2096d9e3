package clips

import (
	"context"
	"log/slog"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
)

// Fetcher is the fetch_candidates stage.
type Fetcher struct {
	store     stage.Store
	catalogue Catalogue
	ledger    Ledger
	opts      Options
	logger    *slog.Logger
}

// NewFetcher constructs the fetch_candidates stage.
func NewFetcher(store stage.Store, catalogue Catalogue, ledger Ledger, opts Options, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		store:     store,
		catalogue: catalogue,
		ledger:    ledger,
		opts:      opts.withDefaults(),
		logger:    logging.NewComponentLogger(logger, "clip-fetch"),
	}
}

// Prepare resets progress for the stage.
func (f *Fetcher) Prepare(ctx context.Context, job *jobs.Job) error {
	if f == nil || f.catalogue == nil || f.ledger == nil {
		return stage.NotConfigured(jobs.StageFetchCandidates, "clip catalogue")
	}
	return stage.ReportProgress(ctx, f.store, job, stage.Percent(jobs.StageFetchCandidates, 0), "searching clips")
}

// Execute searches the catalogue and drops clips rejected in earlier jobs.
func (f *Fetcher) Execute(ctx context.Context, job *jobs.Job) error {
	if f == nil || f.catalogue == nil || f.ledger == nil {
		return stage.NotConfigured(jobs.StageFetchCandidates, "clip catalogue")
	}
	logger := logging.WithContext(ctx, f.logger)

	found, err := f.catalogue.Search(ctx, job.Query, f.opts.SearchLimit)
	if err != nil {
		return services.Wrap(services.ErrTransient, string(jobs.StageFetchCandidates), "search", "search clip catalogue", err)
	}
	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.ID
	}
	allowed, err := f.ledger.Filter(ctx, ids)
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		keep[id] = struct{}{}
	}

	candidates := make([]jobs.Clip, 0, len(allowed))
	short := 0
	for _, c := range found {
		if _, ok := keep[c.ID]; !ok {
			continue
		}
		if c.Duration > 0 && c.Duration < f.opts.MinClipSeconds {
			short++
			continue
		}
		candidates = append(candidates, jobs.Clip{
			ID:        c.ID,
			SourceURL: c.URL,
			Title:     c.Title,
			Score:     c.Score,
			Duration:  c.Duration,
			Width:     c.Width,
			Height:    c.Height,
			Verdict:   jobs.VerdictPending,
		})
	}
	logger.Info("clip candidates fetched",
		logging.String(logging.FieldEventType, "candidates_fetched"),
		logging.Int("found", len(found)),
		logging.Int("ledger_rejected", len(found)-len(allowed)),
		logging.Int("too_short", short),
		logging.Int("candidates", len(candidates)),
	)
	if len(candidates) == 0 {
		return services.Wrap(services.ErrContent, string(jobs.StageFetchCandidates), "execute",
			"no usable clip candidates", nil,
			services.WithCode("no_candidates"),
			services.WithDetail("query", job.Query),
			services.WithDetail("found", len(found)),
		)
	}
	job.Metadata.Candidates = candidates
	return stage.ReportProgress(ctx, f.store, job, stage.Percent(jobs.StageFetchCandidates, 1), "candidates fetched")
}

// HealthCheck reports whether the stage has its collaborators.
func (f *Fetcher) HealthCheck(context.Context) stage.Health {
	if f == nil {
		return stage.Unhealthy(string(jobs.StageFetchCandidates), "clip catalogue not configured")
	}
	return stage.Require(string(jobs.StageFetchCandidates),
		stage.Need("clip catalogue", f.catalogue != nil),
		stage.Need("rejection ledger", f.ledger != nil),
	)
}
