package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS applications (
	fingerprint       TEXT NOT NULL,
	candidate_id      TEXT NOT NULL,
	status            TEXT NOT NULL,
	attempts          INTEGER NOT NULL DEFAULT 0,
	last_attempt_at   TEXT,
	cover_letter_path TEXT NOT NULL DEFAULT '',
	reason            TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	PRIMARY KEY (fingerprint, candidate_id)
);
CREATE INDEX IF NOT EXISTS idx_applications_status ON applications (status);
`

// SQLiteStore persists application records in a local SQLite database. A
// file lock next to the database keeps a second jobagent process from
// sharing the ledger; the at-most-once guarantee depends on a single
// writer.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

// OpenSQLite opens (or creates) the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger dir %q: %w", dir, err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("ledger %q is in use by another jobagent process", path)
	}

	// modernc sqlite DSN: file:foo.db?_pragma=busy_timeout(5000)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open ledger %q: %w", path, err)
	}

	// sqlite wants a single writer
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("ping ledger %q: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}

	return &SQLiteStore{db: db, lock: lock}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT status, attempts, last_attempt_at, cover_letter_path, reason, created_at
FROM applications WHERE fingerprint = ? AND candidate_id = ?;`,
		key.Fingerprint, key.CandidateID,
	)

	var (
		status        string
		attempts      int
		lastAttemptAt sql.NullString
		letterPath    string
		reason        string
		createdAt     string
	)
	if err := row.Scan(&status, &attempts, &lastAttemptAt, &letterPath, &reason, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}

	parsed, err := ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", key, err)
	}

	rec := &Record{
		Key:             key,
		Status:          parsed,
		Attempts:        attempts,
		CoverLetterPath: letterPath,
		Reason:          reason,
	}
	if lastAttemptAt.Valid && lastAttemptAt.String != "" {
		if t, err := time.Parse(time.RFC3339, lastAttemptAt.String); err == nil {
			rec.LastAttemptAt = t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}

	return rec, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO applications
(fingerprint, candidate_id, status, attempts, last_attempt_at, cover_letter_path, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Key.Fingerprint, rec.Key.CandidateID, string(rec.Status), rec.Attempts,
		formatTime(rec.LastAttemptAt), rec.CoverLetterPath, rec.Reason,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("create record %s: %w", rec.Key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create record %s: %w", rec.Key, err)
	}
	if affected == 0 {
		return fmt.Errorf("record %s already exists: %w", rec.Key, ErrWriteConflict)
	}

	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec *Record, expected Status) error {
	// A single guarded UPDATE is atomic in sqlite: either the row still
	// holds the expected status and the whole transition lands, or
	// nothing changes.
	res, err := s.db.ExecContext(ctx, `
UPDATE applications
SET status = ?, attempts = ?, last_attempt_at = ?, cover_letter_path = ?, reason = ?
WHERE fingerprint = ? AND candidate_id = ? AND status = ?;`,
		string(rec.Status), rec.Attempts, formatTime(rec.LastAttemptAt),
		rec.CoverLetterPath, rec.Reason,
		rec.Key.Fingerprint, rec.Key.CandidateID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update record %s: %w", rec.Key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %s: %w", rec.Key, err)
	}
	if affected == 0 {
		return fmt.Errorf("record %s no longer %s: %w", rec.Key, expected, ErrWriteConflict)
	}

	return nil
}

func (s *SQLiteStore) CountSubmittedSince(ctx context.Context, cutoff time.Time) (int, error) {
	// Stored timestamps are UTC "Z" strings; the cutoff must be rendered in
	// UTC too, or the lexicographic comparison stops ordering instants for
	// callers in other zones (local midnight is such a caller).
	var count int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM applications
WHERE status = ? AND last_attempt_at >= ?;`,
		string(StatusSubmitted), cutoff.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count submitted: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT fingerprint, candidate_id, status, attempts, last_attempt_at, cover_letter_path, reason, created_at
FROM applications ORDER BY created_at, fingerprint;`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			rec           Record
			status        string
			lastAttemptAt sql.NullString
			createdAt     string
		)
		if err := rows.Scan(
			&rec.Key.Fingerprint, &rec.Key.CandidateID, &status, &rec.Attempts,
			&lastAttemptAt, &rec.CoverLetterPath, &rec.Reason, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		parsed, err := ParseStatus(status)
		if err != nil {
			return nil, err
		}
		rec.Status = parsed

		if lastAttemptAt.Valid && lastAttemptAt.String != "" {
			if t, err := time.Parse(time.RFC3339, lastAttemptAt.String); err == nil {
				rec.LastAttemptAt = t
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// formatTime renders timestamps as UTC strings so they stay comparable as
// text.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
