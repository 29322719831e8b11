package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and dry runs. It applies
// the same expected-status guard as the SQLite store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}

	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Key]; ok {
		return fmt.Errorf("record %s already exists: %w", rec.Key, ErrWriteConflict)
	}

	clone := *rec
	s.records[rec.Key] = &clone
	return nil
}

func (s *MemoryStore) Update(_ context.Context, rec *Record, expected Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.Key]
	if !ok || current.Status != expected {
		return fmt.Errorf("record %s no longer %s: %w", rec.Key, expected, ErrWriteConflict)
	}

	clone := *rec
	s.records[rec.Key] = &clone
	return nil
}

func (s *MemoryStore) CountSubmittedSince(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.records {
		if rec.Status == StatusSubmitted && !rec.LastAttemptAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		records = append(records, &clone)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].Key.Fingerprint < records[j].Key.Fingerprint
	})

	return records, nil
}

func (s *MemoryStore) Close() error { return nil }
