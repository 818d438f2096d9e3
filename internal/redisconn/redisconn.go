// Package redisconn opens the shared Redis client and names the keys every
// component stores under.
package redisconn

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"reelsmith/internal/config"
	"reelsmith/internal/services"
)

// Open creates a client for cfg and verifies connectivity with a bounded
// PING.
func Open(ctx context.Context, cfg config.Redis, timeout time.Duration) (*redis.Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrTransient, "", "redis_connect", "connect to redis at "+cfg.Addr, err,
			services.WithCode("redis_unavailable"))
	}
	return client, nil
}

// Keys builds namespaced key names.
type Keys struct {
	Prefix string
}

// NewKeys returns a key builder for prefix, trimming stray separators.
func NewKeys(prefix string) Keys {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "reelsmith"
	}
	return Keys{Prefix: prefix}
}

func (k Keys) join(parts ...string) string {
	return k.Prefix + ":" + strings.Join(parts, ":")
}

// Job is the JSON record of one job.
func (k Keys) Job(id string) string { return k.join("job", id) }

// JobIndex is the sorted set of job ids scored by creation time.
func (k Keys) JobIndex() string { return k.join("jobs") }

// Checkpoint is the hash holding a stage's progress counters.
func (k Keys) Checkpoint(jobID, stage string) string { return k.join("ckpt", jobID, stage) }

// CheckpointDone is the set of item ids a stage has finished.
func (k Keys) CheckpointDone(jobID, stage string) string { return k.join("ckpt", jobID, stage, "done") }

// RateLimit is the limiter namespace; the limiter appends its own key.
func (k Keys) RateLimit() string { return k.Prefix }
