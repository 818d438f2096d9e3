package clips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"reelsmith/internal/checkpoint"
	"reelsmith/internal/fileutil"
	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/stage"
	"reelsmith/internal/textutil"
	"reelsmith/internal/validation"
)

const (
	downloadStage = string(jobs.StageDownload)

	// ReasonLedger marks a clip skipped because an earlier job rejected it.
	ReasonLedger = "ledger_rejected"
	// ReasonUnavailable marks a clip the catalogue no longer serves.
	ReasonUnavailable = "unavailable"

	lockRetryDelay = 250 * time.Millisecond
)

// Downloader is the download stage.
type Downloader struct {
	store       stage.Store
	catalogue   Catalogue
	ledger      Ledger
	validator   Validator
	prober      Prober
	checkpoints *checkpoint.Store
	clipDir     func(jobID string) string
	opts        Options
	logger      *slog.Logger
}

// DownloaderDeps groups the collaborators of the download stage.
type DownloaderDeps struct {
	Store       stage.Store
	Catalogue   Catalogue
	Ledger      Ledger
	Validator   Validator
	Prober      Prober
	Checkpoints *checkpoint.Store
	// ClipDir returns the directory clips of a job are stored in.
	ClipDir func(jobID string) string
}

// NewDownloader constructs the download stage.
func NewDownloader(deps DownloaderDeps, opts Options, logger *slog.Logger) *Downloader {
	return &Downloader{
		store:       deps.Store,
		catalogue:   deps.Catalogue,
		ledger:      deps.Ledger,
		validator:   deps.Validator,
		prober:      deps.Prober,
		checkpoints: deps.Checkpoints,
		clipDir:     deps.ClipDir,
		opts:        opts.withDefaults(),
		logger:      logging.NewComponentLogger(logger, "clip-download"),
	}
}

func (d *Downloader) configured() bool {
	return d != nil && d.catalogue != nil && d.ledger != nil && d.validator != nil &&
		d.prober != nil && d.checkpoints != nil && d.clipDir != nil
}

// Prepare resets progress for the stage.
func (d *Downloader) Prepare(ctx context.Context, job *jobs.Job) error {
	if !d.configured() {
		return stage.NotConfigured(jobs.StageDownload, "clip downloader")
	}
	return stage.ReportProgress(ctx, d.store, job, stage.Percent(jobs.StageDownload, 0), "downloading clips")
}

// ClipPath returns where clip id of jobID is stored.
func (d *Downloader) ClipPath(jobID, id string) string {
	return filepath.Join(d.clipDir(jobID), textutil.SanitizeToken(id)+".mp4")
}

// run holds the shared state of one Execute call.
type run struct {
	job     *jobs.Job
	tracker *checkpoint.Tracker
	logger  *slog.Logger
	total   int

	mu   sync.Mutex
	done int
}

// Execute downloads and validates every selected clip.
func (d *Downloader) Execute(ctx context.Context, job *jobs.Job) error {
	if !d.configured() {
		return stage.NotConfigured(jobs.StageDownload, "clip downloader")
	}
	if len(job.Metadata.Selected) == 0 {
		return services.Wrap(services.ErrValidation, downloadStage, "execute", "no clips selected", nil,
			services.WithCode("nothing_selected"))
	}
	if err := d.seedClips(job); err != nil {
		return err
	}

	r := &run{
		job:     job,
		tracker: checkpoint.NewTracker(d.checkpoints, job.ID, downloadStage, d.opts.CheckpointEvery),
		logger:  logging.WithContext(ctx, d.logger),
		total:   len(job.Metadata.Selected),
	}
	rec, err := r.tracker.Resume(ctx)
	if err != nil {
		return err
	}
	if len(rec.Completed) > 0 {
		r.logger.Info("resuming downloads from checkpoint",
			logging.String(logging.FieldEventType, "download_resume"),
			logging.Int("completed", len(rec.Completed)),
			logging.Int("total", r.total),
		)
	}
	if err := d.checkpoints.SetTotal(ctx, job.ID, downloadStage, r.total); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for _, id := range job.Metadata.Selected {
		g.Go(func() error {
			return d.process(gctx, r, id)
		})
	}
	runErr := g.Wait()
	// Flush with the parent context so finished clips survive a failed run.
	flushErr := r.tracker.Flush(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	if flushErr != nil {
		return flushErr
	}

	approved := len(job.Metadata.ApprovedClips())
	r.logger.Info("clip downloads finished",
		logging.String(logging.FieldEventType, "downloads_finished"),
		logging.Int("approved", approved),
		logging.Int("total", r.total),
	)
	if approved < d.opts.MinClips {
		return services.Wrap(services.ErrContent, downloadStage, "execute", "too few clips passed validation", nil,
			services.WithCode("not_enough_clips"),
			services.WithDetail("approved", approved),
			services.WithDetail("required", d.opts.MinClips),
		)
	}
	return nil
}

// seedClips makes sure every selected candidate has a clip record.
func (d *Downloader) seedClips(job *jobs.Job) error {
	for _, id := range job.Metadata.Selected {
		if _, ok := job.Metadata.ClipByID(id); ok {
			continue
		}
		var found *jobs.Clip
		for i := range job.Metadata.Candidates {
			if job.Metadata.Candidates[i].ID == id {
				found = &job.Metadata.Candidates[i]
				break
			}
		}
		if found == nil {
			return services.Errorf(services.ErrValidation, downloadStage, "execute", "selected clip %s is not a candidate", id)
		}
		clip := *found
		clip.Verdict = jobs.VerdictPending
		job.Metadata.Clips = append(job.Metadata.Clips, clip)
	}
	return nil
}

func (d *Downloader) process(ctx context.Context, r *run, id string) error {
	if err := stage.CheckCancelled(ctx, d.store, r.job); err != nil {
		return err
	}
	r.mu.Lock()
	current, _ := r.job.Metadata.ClipByID(id)
	clip := *current
	r.mu.Unlock()

	ctx = services.WithClipID(ctx, id)
	logger := r.logger.With(logging.String(logging.FieldClipID, id))
	if r.tracker.Completed(id) && clip.Verdict == jobs.VerdictRejected {
		logger.Debug("skipping clip rejected before resume")
		return d.finish(ctx, r, clip, false)
	}

	rejected, err := d.ledger.Contains(ctx, id)
	if err != nil {
		return err
	}
	if rejected {
		logger.Info("clip is in the rejection ledger; not downloading",
			logging.String(logging.FieldEventType, "clip_ledger_skip"))
		if err := clip.SetVerdict(jobs.VerdictRejected, ReasonLedger, 0); err != nil {
			return err
		}
		clip.LocalPath = ""
		return d.finish(ctx, r, clip, true)
	}

	path := d.ClipPath(r.job.ID, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, downloadStage, "execute", "create clip directory", err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return services.Wrap(services.ErrTransient, downloadStage, "lock_clip", "acquire clip lock", err,
			services.WithDetail(logging.FieldClipID, id))
	}
	if !locked {
		return services.Errorf(services.ErrTransient, downloadStage, "lock_clip", "clip %s is locked", id)
	}
	defer func() { _ = lock.Unlock() }()

	cacheHit := fileExists(path)
	if !cacheHit {
		size, err := d.catalogue.Download(ctx, clip.SourceURL, path)
		if errors.Is(err, services.ErrNotFound) {
			logging.WarnWithContext(logger, "clip no longer available", "clip_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "clip skipped"),
			)
			if err := clip.SetVerdict(jobs.VerdictRejected, ReasonUnavailable, 0); err != nil {
				return err
			}
			return d.finish(ctx, r, clip, true)
		}
		if err != nil {
			return services.Wrap(services.ErrTransient, downloadStage, "download", "download clip", err,
				services.WithDetail(logging.FieldClipID, id))
		}
		logger.Debug("clip downloaded", logging.Int64("bytes", size))
	} else {
		logger.Info("clip already on disk; revalidating",
			logging.String(logging.FieldEventType, "clip_cache_hit"))
	}

	result, err := d.validator.Validate(ctx, validation.Clip{ID: id, Path: path, SourceURL: clip.SourceURL}, r.job.Target)
	if err != nil {
		return err
	}
	clip.FramesProcessed = result.FramesProcessed
	if !result.Approved() {
		if err := clip.SetVerdict(jobs.VerdictRejected, result.Reason, result.Confidence); err != nil {
			return err
		}
		clip.LocalPath = ""
		return d.finish(ctx, r, clip, true)
	}

	spec, err := d.prober.Probe(ctx, path)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, downloadStage, "probe_clip", "probe clip", err,
			services.WithDetail(logging.FieldClipID, id))
	}
	if err := clip.SetVerdict(jobs.VerdictApproved, "", result.Confidence); err != nil {
		return err
	}
	clip.LocalPath = path
	clip.Spec = spec
	if spec.Duration > 0 {
		clip.Duration = spec.Duration
	}
	return d.finish(ctx, r, clip, true)
}

// finish stores the clip outcome, checkpoints it and reports progress.
func (d *Downloader) finish(ctx context.Context, r *run, clip jobs.Clip, checkpointIt bool) error {
	if checkpointIt {
		if err := r.tracker.Done(ctx, clip.ID); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.job.Metadata.ClipByID(clip.ID); ok {
		*stored = clip
	}
	r.done++
	message := fmt.Sprintf("downloaded %d/%d clips", r.done, r.total)
	return stage.ReportProgress(ctx, d.store, r.job, stage.Percent(jobs.StageDownload, float64(r.done)/float64(r.total)), message)
}

// Compensate removes partial downloads and files of clips that were not
// checkpointed, so a retry starts from a clean directory.
func (d *Downloader) Compensate(ctx context.Context, job *jobs.Job, cause error) error {
	if !d.configured() {
		return nil
	}
	dir := d.clipDir(job.ID)
	var leftovers []string
	for _, pattern := range []string{".*.part", ".*.scan.mp4", "*.lock"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return err
		}
		leftovers = append(leftovers, matches...)
	}
	rec, err := d.checkpoints.Load(ctx, job.ID, downloadStage)
	if err != nil {
		return err
	}
	for _, id := range job.Metadata.Selected {
		if !rec.Has(id) {
			leftovers = append(leftovers, d.ClipPath(job.ID, id))
		}
	}
	logging.WithContext(ctx, d.logger).Info("cleaning up interrupted downloads",
		logging.String(logging.FieldEventType, "download_compensation"),
		logging.Int("files", len(leftovers)),
		logging.String("cause", services.Describe(cause).Code),
	)
	return fileutil.RemoveFiles(leftovers...)
}

// HealthCheck reports whether the stage has its collaborators.
func (d *Downloader) HealthCheck(context.Context) stage.Health {
	if !d.configured() {
		return stage.Unhealthy(downloadStage, "clip downloader not configured")
	}
	return stage.Healthy(downloadStage)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
