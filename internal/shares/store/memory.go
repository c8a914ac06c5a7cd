package store

import (
	"context"
	"sync"

	"brickvault/internal/shares"
)

// MemoryJournal keeps the transfer journal in process. Suitable for tests and
// single-node development; production uses the postgres journal so the mirror
// can be rebuilt after a restart.
type MemoryJournal struct {
	mu        sync.Mutex
	transfers []shares.Transfer
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(_ context.Context, t shares.Transfer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transfers = append(j.transfers, t)
	return nil
}

func (j *MemoryJournal) Replay(_ context.Context, fn func(shares.Transfer) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.transfers {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}
