// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - The structured Error type with its kind markers, the Wrap helper, and
//     IsRetryable, which together decide whether the orchestrator retries a
//     failed stage or fails the job.
//
// Client packages for the clip source, speech-to-text and model scorers live
// in subpackages.
package services
