// Package clips implements the first three workflow stages: fetching
// candidates from the clip catalogue, selecting the clips to use, and
// downloading and validating them.
//
// Candidates already in the rejection ledger are filtered out at fetch time
// and checked again right before each download, so a rejected clip is never
// downloaded twice. Downloads run under a bounded worker pool, hold a
// per-clip lock file so concurrent processes on one host do not fetch the
// same clip, and are checkpointed so a resumed job skips finished clips.
// Every downloaded file, including one already on disk, goes through the
// content validation engine before it can be approved.
package clips
