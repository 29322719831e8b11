package tracker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("application record not found")

	// ErrWriteConflict is returned when an update observes a different
	// status than the caller expected. It is never silently dropped: the
	// tracker retries the whole check-and-write at the transactional
	// boundary.
	ErrWriteConflict = errors.New("application record write conflict")
)

// Store is the durable ledger behind the tracker. Implementations must make
// Update atomic: the record either moves to the new state entirely or stays
// untouched.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key Key) (*Record, error)

	// Create inserts a new record. Inserting an existing key is
	// ErrWriteConflict.
	Create(ctx context.Context, rec *Record) error

	// Update persists rec if the stored status still equals expected,
	// otherwise returns ErrWriteConflict.
	Update(ctx context.Context, rec *Record, expected Status) error

	// CountSubmittedSince counts submitted transitions recorded at or
	// after the cutoff. Used for the daily submission cap.
	CountSubmittedSince(ctx context.Context, cutoff time.Time) (int, error)

	// List returns all records, ordered by creation time.
	List(ctx context.Context) ([]*Record, error)

	Close() error
}
