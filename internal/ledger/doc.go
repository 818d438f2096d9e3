// Package ledger is the durable record of clips that must never be used.
//
// Entries are keyed by the clip source's external id and survive restarts
// and job retention. A clip is appended the first time it is rejected; a
// repeat rejection keeps the original first-seen time. Removal is an
// administrative action exposed only through the CLI.
//
// Storage is SQLite through modernc.org/sqlite in WAL mode so several
// processes on one host can share a ledger file.
package ledger
