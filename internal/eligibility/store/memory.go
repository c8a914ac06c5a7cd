package store

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"brickvault/internal/eligibility"
	"brickvault/pkg/sentinel"
)

// MemoryStore implements the eligibility store with mutex-guarded maps.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[common.Address]eligibility.Record
	history map[common.Address][]eligibility.HistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[common.Address]eligibility.Record),
		history: make(map[common.Address][]eligibility.HistoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, account common.Address) (eligibility.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[account]
	if !ok {
		return eligibility.Record{}, sentinel.ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) Put(_ context.Context, record eligibility.Record, entry eligibility.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Account] = record
	s.history[record.Account] = append(s.history[record.Account], entry)
	return nil
}

func (s *MemoryStore) History(_ context.Context, account common.Address) ([]eligibility.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[account]
	out := make([]eligibility.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}
