package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"reelsmith/internal/redisconn"
	"reelsmith/internal/services"
)

var (
	// ErrLeaseLost means another process owns the job now.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrTerminal means the job already finished and cannot change.
	ErrTerminal = errors.New("job is terminal")
)

const casAttempts = 8

// Store persists jobs in Redis.
type Store struct {
	client    redis.UniversalClient
	keys      redisconn.Keys
	ttl       time.Duration
	opTimeout time.Duration
	now       func() time.Time
}

// NewStore builds a job store. Records expire ttl after their last write.
func NewStore(client redis.UniversalClient, keys redisconn.Keys, ttl, opTimeout time.Duration) *Store {
	return &Store{client: client, keys: keys, ttl: ttl, opTimeout: opTimeout, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create stores a new job. The id must not already exist.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return services.Errorf(services.ErrValidation, "", "job_create", "job id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.keys.Job(job.ID), data, s.ttl).Result()
	if err != nil {
		return s.wrap("job_create", err)
	}
	if !created {
		return services.Errorf(services.ErrValidation, "", "job_create", "job %s already exists", job.ID)
	}
	score := float64(job.CreatedAt.UnixMilli())
	if err := s.client.ZAdd(ctx, s.keys.JobIndex(), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return s.wrap("job_create", err)
	}
	return nil
}

// Get returns the job with id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	data, err := s.client.Get(ctx, s.keys.Job(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, s.wrap("job_get", err)
	}
	return decode(data)
}

// ListOptions filters List.
type ListOptions struct {
	Statuses []Status
	Limit    int
}

// List returns jobs newest first. Index entries whose record has expired are
// skipped.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids, err := s.client.ZRevRange(ctx, s.keys.JobIndex(), 0, -1).Result()
	if err != nil {
		return nil, s.wrap("job_list", err)
	}
	jobs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	var out []*Job
	for _, job := range jobs {
		if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, job.Status) {
			continue
		}
		out = append(out, job)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Update applies fn to the current record under compare-and-set and returns
// the stored result. fn may return an error to abort without writing.
func (s *Store) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	key := s.keys.Job(id)
	var result *Job
	for attempt := 0; attempt < casAttempts; attempt++ {
		opCtx, cancel := s.withTimeout(ctx)
		err := s.client.Watch(opCtx, func(tx *redis.Tx) error {
			data, err := tx.Get(opCtx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return notFound(id)
			}
			if err != nil {
				return err
			}
			job, err := decode(data)
			if err != nil {
				return err
			}
			if err := fn(job); err != nil {
				return err
			}
			job.ID = id
			job.UpdatedAt = s.now().UTC()
			encoded, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("encode job: %w", err)
			}
			_, err = tx.TxPipelined(opCtx, func(p redis.Pipeliner) error {
				p.Set(opCtx, key, encoded, s.ttl)
				return nil
			})
			if err == nil {
				result = job
			}
			return err
		}, key)
		cancel()
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var structured *services.Error
			if errors.As(err, &structured) || errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrTerminal) {
				return nil, err
			}
			return nil, s.wrap("job_update", err)
		}
		return result, nil
	}
	return nil, services.Errorf(services.ErrTransient, "", "job_update", "job %s changed concurrently %d times", id, casAttempts)
}

// Save writes job back for its owner. The write is refused when the stored
// job is terminal (for example cancelled meanwhile) or owned by someone else.
func (s *Store) Save(ctx context.Context, job *Job) (*Job, error) {
	return s.Update(ctx, job.ID, func(current *Job) error {
		if current.Status.IsTerminal() {
			return terminalError(current)
		}
		if current.Owner != job.Owner {
			return leaseLost(current, job.Owner)
		}
		beat := current.Heartbeat
		*current = *job.Clone()
		if beat != nil && (current.Heartbeat == nil || beat.After(*current.Heartbeat)) {
			current.Heartbeat = beat
		}
		return nil
	})
}

// Finish writes the final state of job on behalf of owner and drops the
// lease. Like Save it refuses terminal records and foreign owners.
func (s *Store) Finish(ctx context.Context, job *Job, owner string) (*Job, error) {
	return s.Update(ctx, job.ID, func(current *Job) error {
		if current.Status.IsTerminal() {
			return terminalError(current)
		}
		if current.Owner != owner {
			return leaseLost(current, owner)
		}
		*current = *job.Clone()
		current.Owner = ""
		current.Heartbeat = nil
		return nil
	})
}

// Claim takes the oldest runnable job for owner: a pending job, or a running
// job whose heartbeat is older than staleAfter. It returns nil when nothing
// is runnable.
func (s *Store) Claim(ctx context.Context, owner string, staleAfter time.Duration) (*Job, error) {
	listCtx, cancel := s.withTimeout(ctx)
	ids, err := s.client.ZRange(listCtx, s.keys.JobIndex(), 0, -1).Result()
	cancel()
	if err != nil {
		return nil, s.wrap("job_claim", err)
	}
	for _, id := range ids {
		job, err := s.Update(ctx, id, func(current *Job) error {
			if !s.runnable(current, staleAfter) {
				return errNotRunnable
			}
			now := s.now().UTC()
			current.Status = StatusRunning
			current.Owner = owner
			current.Heartbeat = &now
			return nil
		})
		switch {
		case err == nil:
			return job, nil
		case errors.Is(err, errNotRunnable), errors.Is(err, services.ErrNotFound):
			continue
		default:
			return nil, err
		}
	}
	return nil, nil
}

var errNotRunnable = errors.New("job not runnable")

func (s *Store) runnable(job *Job, staleAfter time.Duration) bool {
	switch job.Status {
	case StatusPending:
		return true
	case StatusRunning:
		return s.stale(job, staleAfter)
	default:
		return false
	}
}

func (s *Store) stale(job *Job, staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		return false
	}
	if job.Heartbeat == nil {
		return true
	}
	return s.now().Sub(*job.Heartbeat) > staleAfter
}

// Heartbeat refreshes the lease of owner on id.
func (s *Store) Heartbeat(ctx context.Context, id, owner string) error {
	_, err := s.Update(ctx, id, func(current *Job) error {
		if current.Status.IsTerminal() {
			return terminalError(current)
		}
		if current.Owner != owner {
			return leaseLost(current, owner)
		}
		now := s.now().UTC()
		current.Heartbeat = &now
		return nil
	})
	return err
}

// Release hands a running job back to the pool, keeping its stage so another
// worker resumes where this one stopped.
func (s *Store) Release(ctx context.Context, id, owner string) error {
	_, err := s.Update(ctx, id, func(current *Job) error {
		if current.Status != StatusRunning || current.Owner != owner {
			return errNotRunnable
		}
		current.Status = StatusPending
		current.Owner = ""
		current.Heartbeat = nil
		return nil
	})
	if errors.Is(err, errNotRunnable) {
		return nil
	}
	return err
}

// Cancel moves a pending or running job to cancelled. Cancelling a cancelled
// job is a no-op; completed and failed jobs cannot be cancelled.
func (s *Store) Cancel(ctx context.Context, id string) (*Job, error) {
	return s.Update(ctx, id, func(current *Job) error {
		switch current.Status {
		case StatusCancelled:
			return nil
		case StatusCompleted, StatusFailed:
			return terminalError(current)
		}
		current.Status = StatusCancelled
		current.ProgressMessage = "cancelled"
		current.Heartbeat = nil
		return nil
	})
}

// IsCancelled reports whether id has been cancelled. A job that no longer
// exists counts as cancelled.
func (s *Store) IsCancelled(ctx context.Context, id string) (bool, error) {
	job, err := s.Get(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return job.Status == StatusCancelled, nil
}

// Retry puts a failed job back to pending at the stage it failed in.
func (s *Store) Retry(ctx context.Context, id string) (*Job, error) {
	return s.Update(ctx, id, func(current *Job) error {
		if current.Status != StatusFailed {
			return services.Errorf(services.ErrValidation, "", "job_retry", "job %s is %s, only failed jobs can be retried", id, current.Status)
		}
		current.Status = StatusPending
		current.Failure = nil
		current.Attempt = 0
		current.Owner = ""
		current.ProgressMessage = "retry requested"
		return nil
	})
}

// ReclaimStale returns running jobs with expired heartbeats to pending and
// reports how many were reclaimed.
func (s *Store) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	running, err := s.List(ctx, ListOptions{Statuses: []Status{StatusRunning}})
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, job := range running {
		_, err := s.Update(ctx, job.ID, func(current *Job) error {
			if current.Status != StatusRunning || !s.stale(current, staleAfter) {
				return errNotRunnable
			}
			current.Status = StatusPending
			current.Owner = ""
			current.Heartbeat = nil
			return nil
		})
		switch {
		case err == nil:
			reclaimed++
		case errors.Is(err, errNotRunnable), errors.Is(err, services.ErrNotFound):
		default:
			return reclaimed, err
		}
	}
	return reclaimed, nil
}

// Prune drops index entries whose records have expired and deletes terminal
// jobs last updated before cutoff. It returns the number of jobs removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids, err := s.client.ZRange(ctx, s.keys.JobIndex(), 0, -1).Result()
	if err != nil {
		return 0, s.wrap("job_prune", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.Job(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, s.wrap("job_prune", err)
	}
	var drop []any
	var dropKeys []string
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			drop = append(drop, ids[i])
			continue
		}
		job, err := decode([]byte(str))
		if err != nil || (job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff)) {
			drop = append(drop, ids[i])
			dropKeys = append(dropKeys, keys[i])
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.keys.JobIndex(), drop...)
		if len(dropKeys) > 0 {
			p.Del(ctx, dropKeys...)
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap("job_prune", err)
	}
	return len(drop), nil
}

// Delete removes a job and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.keys.Job(id))
		p.ZRem(ctx, s.keys.JobIndex(), id)
		return nil
	})
	if err != nil {
		return s.wrap("job_delete", err)
	}
	return nil
}

// Counts returns the number of jobs per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	all, err := s.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	out := make(map[Status]int, len(allStatuses))
	for _, job := range all {
		out[job.Status]++
	}
	return out, nil
}

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.wrap("job_ping", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, ids []string) ([]*Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.Job(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, s.wrap("job_load", err)
	}
	out := make([]*Job, 0, len(values))
	for _, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		job, err := decode([]byte(str))
		if err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Store) wrap(op string, err error) error {
	return services.Wrap(services.ErrTransient, "", op, "job store unavailable", err, services.WithCode("job_store_unavailable"))
}

func decode(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func notFound(id string) error {
	return services.Errorf(services.ErrNotFound, "", "job_get", "job %s not found", id)
}

func terminalError(job *Job) error {
	kind := services.ErrValidation
	if job.Status == StatusCancelled {
		kind = services.ErrCancelled
	}
	return services.Wrap(kind, "", "job_update", fmt.Sprintf("job %s is %s", job.ID, job.Status), ErrTerminal,
		services.WithCode("job_"+string(job.Status)))
}

func leaseLost(job *Job, owner string) error {
	return services.Wrap(services.ErrCancelled, "", "job_update",
		fmt.Sprintf("job %s is owned by %q, not %q", job.ID, job.Owner, owner), ErrLeaseLost,
		services.WithCode("lease_lost"))
}

func containsStatus(list []Status, status Status) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
