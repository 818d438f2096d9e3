package resilience

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

// slidingWindowScript prunes entries older than the window, counts what is
// left and records the request only when the count is below the limit. It
// returns {allowed, count, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return {1, count + 1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
if retry < 1 then
  retry = 1
end
return {0, count, retry}
`)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// RateLimitOptions configures a RateLimiter.
type RateLimitOptions struct {
	Prefix    string
	Limit     int
	Window    time.Duration
	FailOpen  bool
	OpTimeout time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// RateLimiter is a sliding-window limiter shared through Redis.
type RateLimiter struct {
	client    redis.Scripter
	prefix    string
	limit     int
	window    time.Duration
	failOpen  bool
	opTimeout time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewRateLimiter builds a limiter that admits at most opts.Limit requests per
// key in any opts.Window.
func NewRateLimiter(client redis.Scripter, opts RateLimitOptions) *RateLimiter {
	if opts.Limit <= 0 {
		opts.Limit = 1
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Prefix == "" {
		opts.Prefix = "reelsmith"
	}
	return &RateLimiter{
		client:    client,
		prefix:    opts.Prefix,
		limit:     opts.Limit,
		window:    opts.Window,
		failOpen:  opts.FailOpen,
		opTimeout: opts.OpTimeout,
		now:       opts.Now,
		logger:    logging.NewComponentLogger(opts.Logger, "rate_limiter"),
	}
}

// Allow records one request for key when the window has room. A Redis failure
// admits the request when the limiter fails open and returns ErrTransient
// otherwise.
func (l *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	runCtx, cancel := withTimeout(ctx, l.opTimeout)
	defer cancel()

	nowMillis := l.now().UnixMilli()
	member := strconv.FormatInt(nowMillis, 10) + "-" + uuid.NewString()
	values, err := slidingWindowScript.Run(runCtx, l.client,
		[]string{l.redisKey(key)},
		nowMillis, l.window.Milliseconds(), l.limit, member,
	).Int64Slice()
	if err == nil && len(values) != 3 {
		err = services.Errorf(services.ErrTransient, "", "rate_limit", "unexpected script reply of %d values", len(values))
	}
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		if l.failOpen {
			logging.WarnWithContext(l.logger, "rate limiter unavailable; admitting request", "rate_limiter_fail_open",
				logging.String("key", key),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check redis connectivity"),
				logging.String(logging.FieldImpact, "requests are not being throttled"),
			)
			return Decision{Allowed: true, Limit: l.limit}, nil
		}
		return Decision{}, services.Wrap(services.ErrTransient, "", "rate_limit", "rate limiter unavailable", err,
			services.WithCode("rate_limiter_unavailable"), services.WithDetail("key", key))
	}
	return Decision{
		Allowed:    values[0] == 1,
		Count:      int(values[1]),
		Limit:      l.limit,
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// Check is Allow reduced to an error: a denied request yields ErrRateLimited
// carrying the retry delay.
func (l *RateLimiter) Check(ctx context.Context, key string) error {
	decision, err := l.Allow(ctx, key)
	if err != nil {
		return err
	}
	if decision.Allowed {
		return nil
	}
	return services.Wrap(services.ErrRateLimited, "", "rate_limit", "rate limit exceeded", nil,
		services.WithCode("rate_limited"),
		services.WithDetail("key", key),
		services.WithDetail("retry_after", decision.RetryAfter),
	)
}

// Wait blocks until key has room in the window or ctx ends.
func (l *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		decision, err := l.Allow(ctx, key)
		if err != nil {
			return err
		}
		if decision.Allowed {
			return nil
		}
		delay := decision.RetryAfter
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond
		}
		l.logger.Debug("rate limited; waiting",
			logging.String("key", key),
			logging.Int("count", decision.Count),
			logging.Duration("retry_after", delay),
		)
		if err := SleepWithContext(ctx, delay); err != nil {
			return err
		}
	}
}

func (l *RateLimiter) redisKey(key string) string {
	return l.prefix + ":ratelimit:" + key
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
