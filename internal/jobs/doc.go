// Package jobs models composition jobs and persists them in Redis.
//
// A job record is a JSON document under <prefix>:job:<id> with a TTL, indexed
// by creation time in the <prefix>:jobs sorted set. Every mutation is a
// compare-and-set: the record is WATCHed, changed in memory and written back
// in a MULTI, and the write is retried when another process raced it.
//
// Ownership: a worker claims a job by setting Owner and Heartbeat. A job whose
// heartbeat goes stale can be reclaimed by any process and resumes at its
// recorded stage. Cancelled, completed and failed jobs are terminal and are
// never overwritten by a worker.
package jobs
