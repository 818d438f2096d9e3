package transport

import (
	"log/slog"
	"time"

	"reelsmith/internal/resilience"
)

// Guards carries the resilience primitives shared by every client in a
// process.
type Guards struct {
	Breakers *resilience.Breakers
	Limiter  Limiter
	Backoff  resilience.Backoff
	Logger   *slog.Logger
}

// Endpoint describes one external service.
type Endpoint struct {
	Name        string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
}

// Client builds a guarded client for endpoint.
func (g Guards) Client(endpoint Endpoint) *Client {
	opts := Options{
		Name:    endpoint.Name,
		BaseURL: endpoint.BaseURL,
		APIKey:  endpoint.APIKey,
		Timeout: endpoint.Timeout,
		Limiter: g.Limiter,
		Retry: resilience.RetryPolicy{
			MaxAttempts: endpoint.MaxAttempts,
			MaxElapsed:  endpoint.MaxElapsed,
			Backoff:     g.Backoff,
		},
		Logger: g.Logger,
	}
	if g.Breakers != nil {
		opts.Breaker = g.Breakers.Get(endpoint.Name)
	}
	return New(opts)
}
