package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// conflictRetries bounds how often a conflicting write is re-attempted
// before the error is surfaced. Conflicts threaten the at-most-once
// invariant, so they are never dropped.
const conflictRetries = 3

// Outcome describes the result of one submission attempt.
type Outcome struct {
	Status          Status
	Reason          string
	CoverLetterPath string
}

// Tracker is the single authority on whether a (posting, candidate) pair
// may still be submitted. All mutations go through RecordAttempt or Retry;
// callers wrap check-then-submit-then-record sequences in Lock so
// concurrent workers cannot both observe a submittable state.
type Tracker struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

func New(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
		locks:  make(map[Key]*sync.Mutex),
	}
}

// Lock serializes all tracker operations for one key. The returned release
// function must be called once the submission attempt is fully recorded;
// holding it across the external submission call is what makes the
// check-then-write atomic.
func (t *Tracker) Lock(key Key) (release func()) {
	t.mu.Lock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[key] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Begin ensures a record exists for the key when a posting first enters the
// submission stage. Absent records are created pending; skipped records
// from earlier capped runs become pending again. Failed and submitted
// records are left untouched: failed needs an explicit retry, submitted is
// terminal.
func (t *Tracker) Begin(ctx context.Context, key Key) (Status, error) {
	rec, err := t.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		rec = &Record{
			Key:       key,
			Status:    StatusPending,
			CreatedAt: t.now().UTC(),
		}
		if err := t.store.Create(ctx, rec); err != nil {
			return "", err
		}
		t.logger.Debug("application record created", zap.String("key", key.String()))
		return StatusPending, nil
	}
	if err != nil {
		return "", err
	}

	if rec.Status == StatusSkipped {
		rec.Status = StatusPending
		if err := t.update(ctx, rec, StatusSkipped); err != nil {
			return "", err
		}
		t.logger.Debug("skipped record reactivated", zap.String("key", key.String()))
		return StatusPending, nil
	}

	return rec.Status, nil
}

// CanSubmit reports whether a submission attempt is allowed right now. It
// must be consulted immediately before every external submission call.
func (t *Tracker) CanSubmit(ctx context.Context, key Key) (bool, error) {
	rec, err := t.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Status == StatusPending, nil
}

// RecordAttempt applies the outcome of a submission attempt. It is the only
// mutator on the hot path: the transition and the persisted write land
// together or not at all.
func (t *Tracker) RecordAttempt(ctx context.Context, key Key, outcome Outcome) error {
	rec, err := t.store.Get(ctx, key)
	if err != nil {
		return err
	}

	if !allowedTransition(rec.Status, outcome.Status) {
		return fmt.Errorf("transition %s -> %s is not allowed for %s", rec.Status, outcome.Status, key)
	}

	expected := rec.Status
	rec.Status = outcome.Status
	rec.Reason = outcome.Reason
	if outcome.CoverLetterPath != "" {
		rec.CoverLetterPath = outcome.CoverLetterPath
	}

	// Skipping records intent without attempting, so the counter only
	// moves for real attempts.
	if outcome.Status == StatusSubmitted || outcome.Status == StatusFailed {
		rec.Attempts++
		rec.LastAttemptAt = t.now().UTC()
	}

	if err := t.update(ctx, rec, expected); err != nil {
		return err
	}

	t.logger.Info("application attempt recorded",
		zap.String("key", key.String()),
		zap.String("status", string(rec.Status)),
		zap.Int("attempts", rec.Attempts),
		zap.String("reason", outcome.Reason),
	)

	return nil
}

// Retry moves a failed record back to pending. It is only reachable from
// an explicit operator action, never from the pipeline itself.
func (t *Tracker) Retry(ctx context.Context, key Key) error {
	release := t.Lock(key)
	defer release()

	rec, err := t.store.Get(ctx, key)
	if err != nil {
		return err
	}

	if rec.Status != StatusFailed {
		return fmt.Errorf("record %s is %s, only failed records can be retried", key, rec.Status)
	}

	rec.Status = StatusPending
	if err := t.update(ctx, rec, StatusFailed); err != nil {
		return err
	}

	t.logger.Info("failed application reset for retry", zap.String("key", key.String()))
	return nil
}

// SubmittedSince returns how many submissions landed at or after cutoff.
func (t *Tracker) SubmittedSince(ctx context.Context, cutoff time.Time) (int, error) {
	return t.store.CountSubmittedSince(ctx, cutoff)
}

// Stats aggregates ledger counts per status.
type Stats struct {
	Total    int
	ByStatus map[Status]int
}

func (t *Tracker) Stats(ctx context.Context) (*Stats, error) {
	records, err := t.store.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByStatus: make(map[Status]int)}
	for _, rec := range records {
		stats.Total++
		stats.ByStatus[rec.Status]++
	}
	return stats, nil
}

// List returns all ledger records.
func (t *Tracker) List(ctx context.Context) ([]*Record, error) {
	return t.store.List(ctx)
}

// update retries conflicting writes a bounded number of times, re-reading
// the record between attempts. A conflict that survives the retries is
// returned to the caller rather than dropped.
func (t *Tracker) update(ctx context.Context, rec *Record, expected Status) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = t.store.Update(ctx, rec, expected)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrWriteConflict) {
			return err
		}

		current, getErr := t.store.Get(ctx, rec.Key)
		if getErr != nil {
			return getErr
		}
		if !allowedTransition(current.Status, rec.Status) {
			return fmt.Errorf("transition %s -> %s is not allowed for %s: %w",
				current.Status, rec.Status, rec.Key, ErrWriteConflict)
		}
		expected = current.Status

		t.logger.Warn("ledger write conflict, retrying",
			zap.String("key", rec.Key.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	return err
}
