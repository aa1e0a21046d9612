package memory

import (
	"context"
	"sort"
	"sync"

	"marketshare-qaqc/internal/domain"
	"marketshare-qaqc/internal/storage"
)

type archivedRun struct {
	run  domain.RunRecord
	rows []domain.DecisionRow
	cps  []domain.CountryPlatformResult
}

// ArchiveStore is an in-memory implementation of storage.ArchiveStore.
type ArchiveStore struct {
	mu   sync.RWMutex
	data map[string]*archivedRun // keyed by run_id
}

// NewArchiveStore creates a new in-memory archive store.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{
		data: make(map[string]*archivedRun),
	}
}

// SaveRun stores a run. Returns ErrDuplicateKey if run_id exists.
func (s *ArchiveStore) SaveRun(_ context.Context, run *domain.RunRecord, rows []domain.DecisionRow, cps []domain.CountryPlatformResult) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	entry := &archivedRun{
		run:  *run,
		rows: append([]domain.DecisionRow(nil), rows...),
		cps:  append([]domain.CountryPlatformResult(nil), cps...),
	}
	sort.Slice(entry.cps, func(i, j int) bool {
		if entry.cps[i].Country != entry.cps[j].Country {
			return entry.cps[i].Country < entry.cps[j].Country
		}
		return entry.cps[i].Platform < entry.cps[j].Platform
	})
	s.data[run.RunID] = entry
	return nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *ArchiveStore) GetRun(_ context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	runCopy := entry.run
	return &runCopy, nil
}

// GetDecisionRows retrieves decision rows for a run in stored order.
func (s *ArchiveStore) GetDecisionRows(_ context.Context, runID string) ([]domain.DecisionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return append([]domain.DecisionRow(nil), entry.rows...), nil
}

// GetCountryPlatformResults retrieves country×platform rows for a run.
func (s *ArchiveStore) GetCountryPlatformResults(_ context.Context, runID string) ([]domain.CountryPlatformResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return append([]domain.CountryPlatformResult(nil), entry.cps...), nil
}
