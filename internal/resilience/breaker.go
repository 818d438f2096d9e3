package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

// ErrCircuitOpen is returned without calling the dependency while a breaker
// is open.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Breaker guards one external dependency.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	cb        *gobreaker.CircuitBreaker[struct{}]

	mu       sync.Mutex
	openedAt time.Time
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithLogger attaches a logger for state transitions.
func WithLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// NewBreaker constructs a closed breaker that opens after threshold
// consecutive failures and stays open for cooldown. Once the cool-down
// elapses a single call is let through; its outcome closes or re-opens the
// breaker.
func NewBreaker(name string, threshold int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.NewComponentLogger(b.logger, "breaker").With(logging.String(logging.FieldDependency, name))
	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !services.IsRetryable(err)
		},
		IsExcluded: func(err error) bool {
			var cancelled callerCancelled
			return errors.As(err, &cancelled) || errors.Is(err, context.Canceled)
		},
		OnStateChange: b.transition,
	})
	return b
}

// callerCancelled marks an error caused by the caller's own context so it
// says nothing about the dependency.
type callerCancelled struct{ err error }

func (c callerCancelled) Error() string { return c.err.Error() }
func (c callerCancelled) Unwrap() error { return c.err }

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// State reports the current position. An open breaker whose cool-down has
// elapsed reports half-open.
func (b *Breaker) State() State {
	return stateOf(b.cb.State())
}

// Do runs fn unless the breaker is open. While half-open only one caller is
// admitted.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		err := fn(ctx)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return struct{}{}, callerCancelled{err: err}
		}
		return struct{}{}, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return b.openError()
	}
	var cancelled callerCancelled
	if errors.As(err, &cancelled) {
		return cancelled.err
	}
	return err
}

// transition runs under the gobreaker lock and must not call back into cb.
func (b *Breaker) transition(_ string, from, to gobreaker.State) {
	prev, next := stateOf(from), stateOf(to)
	attrs := []logging.Attr{
		logging.String("from", prev.String()),
		logging.String("to", next.String()),
		logging.Int("failure_threshold", b.threshold),
	}
	if next == StateOpen {
		b.mu.Lock()
		b.openedAt = time.Now()
		b.mu.Unlock()
		logging.WarnWithContext(b.logger, "circuit opened", "breaker_open",
			append(attrs,
				logging.Duration("cooldown", b.cooldown),
				logging.String(logging.FieldErrorHint, "check dependency "+b.name),
				logging.String(logging.FieldImpact, "calls fail fast until the cool-down elapses"),
			)...)
		return
	}
	b.logger.Info("circuit state changed", logging.Args(attrs...)...)
}

func (b *Breaker) openError() error {
	b.mu.Lock()
	retryAfter := b.cooldown - time.Since(b.openedAt)
	b.mu.Unlock()
	if retryAfter < 0 {
		retryAfter = 0
	}
	return services.Wrap(services.ErrTransient, "", b.name, "circuit open", ErrCircuitOpen,
		services.WithCode("circuit_open"),
		services.WithDetail("dependency", b.name),
		services.WithDetail("retry_after", retryAfter),
	)
}

// Breakers is a per-process registry holding one breaker per dependency.
type Breakers struct {
	threshold int
	cooldown  time.Duration
	opts      []BreakerOption

	mu    sync.Mutex
	items map[string]*Breaker
}

// NewBreakers builds a registry using the configured threshold and cool-down.
func NewBreakers(cfg config.Breaker, cooldown time.Duration, opts ...BreakerOption) *Breakers {
	return &Breakers{
		threshold: cfg.FailureThreshold,
		cooldown:  cooldown,
		opts:      opts,
		items:     make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.items[name]; ok {
		return b
	}
	b := NewBreaker(name, r.threshold, r.cooldown, r.opts...)
	r.items[name] = b
	return b
}
