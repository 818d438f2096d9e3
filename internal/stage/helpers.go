package stage

import (
	"context"
	"errors"

	"reelsmith/internal/jobs"
	"reelsmith/internal/services"
)

// Persist writes job progress. A job cancelled or taken over meanwhile
// yields ErrCancelled so the stage stops.
func Persist(ctx context.Context, store Store, job *jobs.Job) error {
	if store == nil {
		return nil
	}
	saved, err := store.Save(ctx, job)
	if err != nil {
		return err
	}
	job.UpdatedAt = saved.UpdatedAt
	return nil
}

// ReportProgress updates the progress fields and persists them.
func ReportProgress(ctx context.Context, store Store, job *jobs.Job, percent float64, message string) error {
	job.SetProgress(percent, message)
	return Persist(ctx, store, job)
}

// CheckCancelled returns ErrCancelled when the job was cancelled or the
// context ended. Item-by-item stages call it between items.
func CheckCancelled(ctx context.Context, store Store, job *jobs.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	cancelled, err := store.IsCancelled(ctx, job.ID)
	if err != nil {
		return err
	}
	if cancelled {
		return services.Wrap(services.ErrCancelled, string(job.Stage), "check_cancelled", "job was cancelled", nil,
			services.WithCode("job_cancelled"))
	}
	return nil
}

// IsCancellation reports whether err means the job must stop without being
// marked failed.
func IsCancellation(err error) bool {
	return errors.Is(err, services.ErrCancelled) || errors.Is(err, context.Canceled)
}

// NotConfigured is the error a stage returns when constructed without a
// required collaborator.
func NotConfigured(stage jobs.Stage, what string) error {
	return services.Errorf(services.ErrConfiguration, string(stage), "execute", "%s is not configured", what)
}

// Percent maps progress within s, as a fraction in [0,1], onto overall job
// progress. Every stage gets an equal share.
func Percent(s jobs.Stage, fraction float64) float64 {
	idx, total := s.Index(), len(jobs.Stages())
	if idx < 0 || idx >= total {
		return 100
	}
	fraction = min(max(fraction, 0), 1)
	return (float64(idx) + fraction) / float64(total) * 100
}
