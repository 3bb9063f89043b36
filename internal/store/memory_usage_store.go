package store

import (
	"context"
	"sync"
)

// MemoryUsageStore keeps archived rows in memory. It backs tests and
// dry runs where no database is reachable.
type MemoryUsageStore struct {
	mu   sync.RWMutex
	rows []UsageRow
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) SaveUsage(ctx context.Context, rows []UsageRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return nil
}

func (s *MemoryUsageStore) Close() error {
	return nil
}

// Rows returns a copy of everything saved so far.
func (s *MemoryUsageStore) Rows() []UsageRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UsageRow, len(s.rows))
	copy(out, s.rows)
	return out
}
