// Package resilience holds the failure-containment primitives shared by every
// external call in the pipeline.
//
// Breaker trips after a run of consecutive failures and rejects calls with
// ErrCircuitOpen until a cool-down elapses, then admits a single trial call.
// Breakers keeps one breaker per named dependency for the life of the process.
//
// RateLimiter is a sliding-window limiter whose counters live in Redis so that
// every process sharing a key sees the same window. The window update runs as
// one Lua script.
//
// Retry runs an operation with bounded attempts, a bounded total elapsed time
// and exponential backoff with full jitter. Only errors classified as
// retryable by the services package are retried.
package resilience
