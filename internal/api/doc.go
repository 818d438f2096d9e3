// Package api is the HTTP control surface of the daemon. It translates job
// records into transport-friendly DTOs and serves them through a gin router.
//
// # Key Types
//
// Job: transport representation of a job with progress, clip verdicts,
// failure details and output locations.
//
// WorkflowStatus: worker state, job counts, stage health and the last job.
//
// JobService: submit, list, describe, cancel and retry over the job store,
// returning DTOs.
//
// Server: gin engine plus bearer-token and per-client rate-limit middleware.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Errors are reported as {"error","code","kind"} with the HTTP status derived
// from the error kind; rate-limited requests carry Retry-After.
package api
