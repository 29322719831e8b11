package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	rec := &Record{
		Key:       testKey("fp-1"),
		Status:    StatusPending,
		CreatedAt: created,
	}

	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("expected created at %v, got %v", created, got.CreatedAt)
	}
	if !got.LastAttemptAt.IsZero() {
		t.Fatalf("expected zero last attempt time, got %v", got.LastAttemptAt)
	}
}

func TestSQLiteGetMissing(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	if _, err := store.Get(context.Background(), testKey("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteCreateDuplicate(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	rec := &Record{Key: testKey("fp-1"), Status: StatusPending, CreatedAt: time.Now().UTC()}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Create(ctx, rec); !errors.Is(err, ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict on duplicate insert, got %v", err)
	}
}

func TestSQLiteGuardedUpdate(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	rec := &Record{Key: testKey("fp-1"), Status: StatusPending, CreatedAt: time.Now().UTC()}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.Status = StatusSubmitted
	rec.Attempts = 1
	rec.LastAttemptAt = time.Now().UTC().Truncate(time.Second)
	rec.CoverLetterPath = "/tmp/letter.txt"

	if err := store.Update(ctx, rec, StatusPending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Status moved on, so the same guard no longer holds.
	rec.Status = StatusFailed
	if err := store.Update(ctx, rec, StatusPending); !errors.Is(err, ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict on stale guard, got %v", err)
	}

	got, err := store.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusSubmitted {
		t.Fatalf("expected the guarded write to stick, got %s", got.Status)
	}
	if got.Attempts != 1 || got.CoverLetterPath != "/tmp/letter.txt" {
		t.Fatalf("expected attempt details to persist, got %+v", got)
	}
}

func TestSQLiteCountSubmittedSince(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	for i, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		rec := &Record{
			Key:           testKey(fp),
			Status:        StatusSubmitted,
			Attempts:      1,
			LastAttemptAt: base.Add(time.Duration(i) * time.Hour),
			CreatedAt:     base,
		}
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	pending := &Record{Key: testKey("fp-4"), Status: StatusPending, CreatedAt: base}
	if err := store.Create(ctx, pending); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := store.CountSubmittedSince(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 submissions at or after the cutoff, got %d", count)
	}
}

func TestSQLiteCountSubmittedSinceNonUTCCutoff(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	// Midnight Aug 24 in UTC+05:30 is 18:30 UTC on Aug 23. A submission at
	// 20:00 UTC (01:30 local, same local day) must count; one at 18:00 UTC
	// (23:30 local, previous day) must not.
	east := time.FixedZone("UTC+0530", 5*3600+30*60)
	cutoff := time.Date(2026, 8, 24, 0, 0, 0, 0, east)

	after := &Record{
		Key:           testKey("fp-after"),
		Status:        StatusSubmitted,
		Attempts:      1,
		LastAttemptAt: time.Date(2026, 8, 23, 20, 0, 0, 0, time.UTC),
		CreatedAt:     time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC),
	}
	before := &Record{
		Key:           testKey("fp-before"),
		Status:        StatusSubmitted,
		Attempts:      1,
		LastAttemptAt: time.Date(2026, 8, 23, 18, 0, 0, 0, time.UTC),
		CreatedAt:     time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC),
	}
	for _, rec := range []*Record{after, before} {
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	count, err := store.CountSubmittedSince(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly the post-midnight submission, got %d", count)
	}

	// A zone west of UTC moves the cutoff the other way: midnight Aug 24 in
	// UTC-05:00 is 05:00 UTC on Aug 24, so neither record counts.
	west := time.FixedZone("UTC-0500", -5*3600)
	count, err = store.CountSubmittedSince(ctx, time.Date(2026, 8, 24, 0, 0, 0, 0, west))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no submissions after a later cutoff, got %d", count)
	}
}

func TestSQLiteList(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	for i, fp := range []string{"fp-b", "fp-a"} {
		rec := &Record{
			Key:       testKey(fp),
			Status:    StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Key.Fingerprint != "fp-b" || records[1].Key.Fingerprint != "fp-a" {
		t.Fatalf("expected creation order, got %s then %s", records[0].Key.Fingerprint, records[1].Key.Fingerprint)
	}
}

func TestSQLiteSecondOpenRefused(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")

	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer first.Close()

	if _, err := OpenSQLite(path); err == nil {
		t.Fatal("expected a second open of the same ledger to be refused")
	}
}
