// Package checkpoint persists item-level progress inside long stages so an
// interrupted stage resumes by skipping the items it already finished.
//
// Progress lives in Redis next to the job record: a set of completed item ids
// and a small hash with the expected total, both expiring with the job.
package checkpoint

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"reelsmith/internal/redisconn"
	"reelsmith/internal/services"
)

// Record is the persisted progress of one stage of one job.
type Record struct {
	JobID     string
	Stage     string
	Completed []string
	Total     int
	UpdatedAt time.Time
}

// Has reports whether id is recorded as completed.
func (r Record) Has(id string) bool {
	_, found := slices.BinarySearch(r.Completed, id)
	return found
}

// Store reads and writes checkpoint records.
type Store struct {
	client    redis.Cmdable
	keys      redisconn.Keys
	ttl       time.Duration
	opTimeout time.Duration
	now       func() time.Time
}

// NewStore builds a store whose records expire after ttl.
func NewStore(client redis.Cmdable, keys redisconn.Keys, ttl, opTimeout time.Duration) *Store {
	return &Store{client: client, keys: keys, ttl: ttl, opTimeout: opTimeout, now: time.Now}
}

// Load returns the progress recorded for jobID/stage. A missing record is an
// empty Record, not an error.
func (s *Store) Load(ctx context.Context, jobID, stage string) (Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var members *redis.StringSliceCmd
	var fields *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		members = p.SMembers(ctx, s.keys.CheckpointDone(jobID, stage))
		fields = p.HGetAll(ctx, s.keys.Checkpoint(jobID, stage))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, s.wrap("load", err)
	}
	rec := Record{JobID: jobID, Stage: stage, Completed: members.Val()}
	slices.Sort(rec.Completed)
	values := fields.Val()
	if total, err := strconv.Atoi(values["total"]); err == nil {
		rec.Total = total
	}
	if ms, err := strconv.ParseInt(values["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return rec, nil
}

// MarkDone records ids as completed.
func (s *Store) MarkDone(ctx context.Context, jobID, stage string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	doneKey := s.keys.CheckpointDone(jobID, stage)
	metaKey := s.keys.Checkpoint(jobID, stage)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, doneKey, members...)
		p.HSet(ctx, metaKey, "updated_at", s.now().UnixMilli())
		s.expire(ctx, p, doneKey, metaKey)
		return nil
	})
	if err != nil {
		return s.wrap("mark_done", err)
	}
	return nil
}

// SetTotal records how many items the stage expects to process.
func (s *Store) SetTotal(ctx context.Context, jobID, stage string, total int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	metaKey := s.keys.Checkpoint(jobID, stage)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, metaKey, "total", total, "updated_at", s.now().UnixMilli())
		s.expire(ctx, p, metaKey)
		return nil
	})
	if err != nil {
		return s.wrap("set_total", err)
	}
	return nil
}

// ClearJob removes every checkpoint written for jobID.
func (s *Store) ClearJob(ctx context.Context, jobID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	pattern := s.keys.Checkpoint(jobID, "*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return s.wrap("clear_job", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return s.wrap("clear_job", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *Store) expire(ctx context.Context, p redis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, key := range keys {
		p.Expire(ctx, key, s.ttl)
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Store) wrap(op string, err error) error {
	return services.Wrap(services.ErrTransient, "", "checkpoint_"+op, "checkpoint store unavailable", err,
		services.WithCode("checkpoint_unavailable"))
}

// Tracker buffers completions for one stage and flushes them every N items,
// so a crash loses at most N-1 completed items of work. It is safe for
// concurrent use by the workers of a stage.
type Tracker struct {
	store *Store
	jobID string
	stage string
	every int

	mu        sync.Mutex
	completed map[string]struct{}
	pending   []string
}

// NewTracker creates a tracker flushing every `every` completions.
func NewTracker(store *Store, jobID, stage string, every int) *Tracker {
	if every <= 0 {
		every = 1
	}
	return &Tracker{
		store:     store,
		jobID:     jobID,
		stage:     stage,
		every:     every,
		completed: make(map[string]struct{}),
	}
}

// Resume loads previously persisted progress into the tracker.
func (t *Tracker) Resume(ctx context.Context) (Record, error) {
	rec, err := t.store.Load(ctx, t.jobID, t.stage)
	if err != nil {
		return Record{}, err
	}
	t.mu.Lock()
	for _, id := range rec.Completed {
		t.completed[id] = struct{}{}
	}
	t.mu.Unlock()
	return rec, nil
}

// Completed reports whether id finished in this run or a resumed one.
func (t *Tracker) Completed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.completed[id]
	return ok
}

// Done marks id complete and flushes when the buffer reaches the interval.
func (t *Tracker) Done(ctx context.Context, id string) error {
	t.mu.Lock()
	if _, seen := t.completed[id]; seen {
		t.mu.Unlock()
		return nil
	}
	t.completed[id] = struct{}{}
	t.pending = append(t.pending, id)
	if len(t.pending) < t.every {
		t.mu.Unlock()
		return nil
	}
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()
	return t.write(ctx, batch)
}

// Flush persists any buffered completions.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()
	return t.write(ctx, batch)
}

func (t *Tracker) write(ctx context.Context, batch []string) error {
	if len(batch) == 0 {
		return nil
	}
	if err := t.store.MarkDone(ctx, t.jobID, t.stage, batch...); err != nil {
		t.mu.Lock()
		t.pending = append(batch, t.pending...)
		t.mu.Unlock()
		return err
	}
	return nil
}
