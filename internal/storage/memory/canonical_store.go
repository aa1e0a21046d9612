package memory

import (
	"context"
	"sort"
	"sync"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/storage"
)

// CanonicalStore is an in-memory implementation of storage.CanonicalStore.
type CanonicalStore struct {
	mu     sync.RWMutex
	data   []*domain.CanonicalRecord // insertion order
	closed bool
}

// NewCanonicalStore creates a new in-memory canonical store.
func NewCanonicalStore() *CanonicalStore {
	return &CanonicalStore{}
}

// Reset drops any previous contents.
func (s *CanonicalStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.data = nil
	return nil
}

// AppendBatch adds records atomically. Fails the entire batch on invalid input.
func (s *CanonicalStore) AppendBatch(_ context.Context, records []*domain.CanonicalRecord) error {
	for _, r := range records {
		if r == nil || r.SPUID == "" || r.Month.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	for _, r := range records {
		// Store a copy to prevent external mutation
		recordCopy := *r
		s.data = append(s.data, &recordCopy)
	}
	return nil
}

// Finalize is a no-op for the memory store.
func (s *CanonicalStore) Finalize(_ context.Context) error {
	return nil
}

// Months returns the distinct months present, ascending.
func (s *CanonicalStore) Months(_ context.Context) ([]domain.Month, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.Month]struct{})
	for _, r := range s.data {
		seen[r.Month] = struct{}{}
	}
	months := make([]domain.Month, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool {
		return months[i].Before(months[j])
	})
	return months, nil
}

// Scan streams matching records in insertion order.
func (s *CanonicalStore) Scan(ctx context.Context, filter storage.ScanFilter, fn func(*domain.CanonicalRecord) error) error {
	s.mu.RLock()
	snapshot := make([]*domain.CanonicalRecord, len(s.data))
	copy(snapshot, s.data)
	s.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filter.Match(r) {
			continue
		}
		recordCopy := *r
		if err := fn(&recordCopy); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of stored records.
func (s *CanonicalStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}

// Close marks the store closed.
func (s *CanonicalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
