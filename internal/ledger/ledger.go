package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reelsmith/internal/services"
)

// Entry is one rejected clip.
type Entry struct {
	ExternalID string            `json:"external_id"`
	Reason     string            `json:"reason"`
	Confidence float64           `json:"confidence"`
	FirstSeen  time.Time         `json:"first_seen"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Ledger manages rejection persistence backed by SQLite.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	filterChunk             = 500
)

// Open initializes or connects to the ledger database at path. Every
// instance of a deployment must open the same file on a local disk; WAL
// mode does not work over network filesystems.
func Open(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, services.Errorf(services.ErrConfiguration, "", "ledger_open", "ledger path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	l := &Ledger{db: db, path: path, now: time.Now}
	if err := l.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Path returns the database file location.
func (l *Ledger) Path() string {
	return l.path
}

// Record appends entry unless the external id is already present. It reports
// whether a new row was written; an existing entry keeps its first-seen time
// and reason.
func (l *Ledger) Record(ctx context.Context, entry Entry) (bool, error) {
	id := strings.TrimSpace(entry.ExternalID)
	if id == "" {
		return false, services.Errorf(services.ErrValidation, "", "ledger_record", "external id is required")
	}
	if entry.FirstSeen.IsZero() {
		entry.FirstSeen = l.now()
	}
	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode ledger metadata: %w", err)
		}
		metadata = sql.NullString{String: string(encoded), Valid: true}
	}

	var inserted int64
	err := retryOnBusy(ctx, func() error {
		res, err := l.db.ExecContext(ctx,
			`INSERT INTO rejections (external_id, reason, confidence, first_seen, metadata_json)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(external_id) DO NOTHING`,
			id, entry.Reason, entry.Confidence, entry.FirstSeen.UTC().Format(time.RFC3339Nano), metadata,
		)
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, wrap("ledger_record", err)
	}
	return inserted > 0, nil
}

// Contains reports whether id has been rejected.
func (l *Ledger) Contains(ctx context.Context, id string) (bool, error) {
	var found int
	err := l.db.QueryRowContext(ctx, "SELECT 1 FROM rejections WHERE external_id = ?", strings.TrimSpace(id)).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("ledger_contains", err)
	}
	return true, nil
}

// Filter returns ids that are not in the ledger, preserving input order.
func (l *Ledger) Filter(ctx context.Context, ids []string) ([]string, error) {
	rejected := make(map[string]struct{})
	for start := 0; start < len(ids); start += filterChunk {
		end := min(start+filterChunk, len(ids))
		chunk := ids[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := l.db.QueryContext(ctx,
			"SELECT external_id FROM rejections WHERE external_id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, wrap("ledger_filter", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, wrap("ledger_filter", err)
			}
			rejected[id] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, wrap("ledger_filter", err)
		}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, bad := rejected[id]; !bad {
			out = append(out, id)
		}
	}
	return out, nil
}

// Get returns the entry for id.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT external_id, reason, confidence, first_seen, metadata_json FROM rejections WHERE external_id = ?",
		strings.TrimSpace(id))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Errorf(services.ErrNotFound, "", "ledger_get", "clip %s is not in the ledger", id)
	}
	if err != nil {
		return nil, wrap("ledger_get", err)
	}
	return entry, nil
}

// List returns entries ordered by first-seen time, newest first. A limit of
// zero returns everything.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	query := "SELECT external_id, reason, confidence, first_seen, metadata_json FROM rejections ORDER BY first_seen DESC, external_id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("ledger_list", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrap("ledger_list", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("ledger_list", err)
	}
	return out, nil
}

// Count returns the number of entries.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM rejections").Scan(&n); err != nil {
		return 0, wrap("ledger_count", err)
	}
	return n, nil
}

// Delete removes id from the ledger. It is an administrative operation and
// reports whether a row existed.
func (l *Ledger) Delete(ctx context.Context, id string) (bool, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := l.db.ExecContext(ctx, "DELETE FROM rejections WHERE external_id = ?", strings.TrimSpace(id))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, wrap("ledger_delete", err)
	}
	return removed > 0, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry     Entry
		firstSeen string
		metadata  sql.NullString
	)
	if err := scanner.Scan(&entry.ExternalID, &entry.Reason, &entry.Confidence, &firstSeen, &metadata); err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, firstSeen); err == nil {
		entry.FirstSeen = ts
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode ledger metadata for %s: %w", entry.ExternalID, err)
		}
	}
	return &entry, nil
}

func wrap(op string, err error) error {
	return services.Wrap(services.ErrTransient, "", op, "ledger unavailable", err, services.WithCode("ledger_unavailable"))
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
