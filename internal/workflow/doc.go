// Package workflow runs composition jobs through the fixed stage order.
//
// The Manager runs a pool of workers. Each worker claims a runnable job from
// the Redis job store with compare-and-set, writes heartbeats while it holds
// the job and executes the stages from job.Stage onwards: fetch_candidates,
// select, download, analyze_audio, synchronize_captions, trim, assemble and
// compose. A successful stage is persisted before the job advances, so a
// crashed or stopped worker resumes at the stage that did not finish.
//
// A failed stage is compensated when its handler implements
// stage.Compensator, then retried with exponential backoff and full jitter
// while the failure is retryable and attempts remain. Otherwise the job is
// finished as failed with a structured jobs.Failure. A cancelled job is never
// overwritten: the store refuses the write and the heartbeat loop interrupts
// the running stage.
//
// Each job also gets its own log file under the log directory, and lifecycle
// events are handed to the notifications service.
package workflow
