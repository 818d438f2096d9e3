// Package transport is the shared HTTP plumbing for the external model and
// media services.
//
// Every request passes through the dependency's rate limiter and circuit
// breaker and is retried with exponential backoff and full jitter while the
// failure is retryable. HTTP statuses are mapped onto the services error
// taxonomy: 429 becomes ErrRateLimited carrying the server's Retry-After,
// 5xx and 408 become ErrTransient, 404 ErrNotFound, and other 4xx terminal
// validation or configuration failures.
package transport
