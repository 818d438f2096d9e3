package api

import (
	"context"
	"os"
	"strings"

	"reelsmith/internal/jobs"
	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

// JobStore abstracts the job persistence interactions the API needs.
type JobStore interface {
	Create(ctx context.Context, job *jobs.Job) error
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, opts jobs.ListOptions) ([]*jobs.Job, error)
	Cancel(ctx context.Context, id string) (*jobs.Job, error)
	Retry(ctx context.Context, id string) (*jobs.Job, error)
	Counts(ctx context.Context) (map[jobs.Status]int, error)
	Ping(ctx context.Context) error
}

// JobService exposes job operations returning API DTOs.
type JobService struct {
	store  JobStore
	target media.Target
}

// NewJobService constructs a JobService. target is the composition format
// applied to submissions that do not override it.
func NewJobService(store JobStore, target media.Target) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store, target: target}
}

// Submit validates req and enqueues a pending job.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (Job, error) {
	narration := strings.TrimSpace(req.Narration)
	query := strings.TrimSpace(req.Query)
	if narration == "" {
		return Job{}, services.Errorf(services.ErrValidation, "", "job_submit", "narration path is required")
	}
	if query == "" {
		return Job{}, services.Errorf(services.ErrValidation, "", "job_submit", "query is required")
	}
	info, err := os.Stat(narration)
	if err != nil {
		return Job{}, services.Wrap(services.ErrValidation, "", "job_submit", "narration file is not readable", err,
			services.WithCode("narration_missing"), services.WithDetail("path", narration))
	}
	if info.IsDir() || info.Size() == 0 {
		return Job{}, services.Errorf(services.ErrValidation, "", "job_submit", "narration %s is not a media file", narration)
	}

	target := s.target
	if o := req.Target; o != nil {
		if o.Width < 0 || o.Height < 0 || o.FrameRate < 0 {
			return Job{}, services.Errorf(services.ErrValidation, "", "job_submit", "target override must be positive")
		}
		if o.Width > 0 {
			target.Width = o.Width
		}
		if o.Height > 0 {
			target.Height = o.Height
		}
		if o.FrameRate > 0 {
			target.FrameRate = o.FrameRate
		}
	}

	job := jobs.New(narration, query, target)
	if err := s.store.Create(ctx, job); err != nil {
		return Job{}, err
	}
	return FromJob(job), nil
}

// List returns jobs filtered by status, newest first.
func (s *JobService) List(ctx context.Context, limit int, statuses ...jobs.Status) ([]Job, error) {
	list, err := s.store.List(ctx, jobs.ListOptions{Statuses: statuses, Limit: limit})
	if err != nil {
		return nil, err
	}
	return FromJobs(list), nil
}

// Stats returns job counts keyed by status string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return MergeJobStats(counts), nil
}

// Describe fetches a single job.
func (s *JobService) Describe(ctx context.Context, id string) (Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return FromJob(job), nil
}

// Cancel stops a pending or running job. Cancelling a cancelled job succeeds.
func (s *JobService) Cancel(ctx context.Context, id string) (Job, error) {
	job, err := s.store.Cancel(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return FromJob(job), nil
}

// Retry requeues a failed job at the stage it failed in.
func (s *JobService) Retry(ctx context.Context, id string) (Job, error) {
	job, err := s.store.Retry(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return FromJob(job), nil
}

// Ping reports whether the job store is reachable.
func (s *JobService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ParseStatuses converts status filter values, accepting comma separated
// lists.
func ParseStatuses(values []string) ([]jobs.Status, error) {
	var out []jobs.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := jobs.ParseStatus(part)
			if !ok {
				return nil, services.Errorf(services.ErrValidation, "", "job_list", "unknown status %q", part)
			}
			out = append(out, status)
		}
	}
	return out, nil
}
