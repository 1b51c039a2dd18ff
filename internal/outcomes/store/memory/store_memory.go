// Package memory holds outcome records in process memory. Suited to tests
// and single-node deployments where history does not need to survive a
// restart.
package memory

import (
	"context"
	"sync"

	"groupsync/internal/outcomes"
)

type Store struct {
	mu      sync.RWMutex
	records []outcomes.Record
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, records ...outcomes.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *Store) ListByProject(_ context.Context, projectID string, limit int) ([]outcomes.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(limit, func(r outcomes.Record) bool { return r.ProjectID == projectID }), nil
}

func (s *Store) ListByUser(_ context.Context, userID string, limit int) ([]outcomes.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(limit, func(r outcomes.Record) bool { return r.UserID == userID }), nil
}

// filter walks newest-first so a limit keeps the most recent records.
func (s *Store) filter(limit int, keep func(outcomes.Record) bool) []outcomes.Record {
	var out []outcomes.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		if !keep(s.records[i]) {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Clear resets the store between tests.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
