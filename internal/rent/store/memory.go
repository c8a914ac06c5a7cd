package store

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"brickvault/internal/rent"
	"brickvault/pkg/sentinel"
)

type positionKey struct {
	token   common.Address
	account common.Address
}

// MemoryStore implements the rent store with mutex-guarded maps. Values are
// copied on the way in and out so callers never share big.Int instances with
// the store.
type MemoryStore struct {
	mu         sync.RWMutex
	properties map[common.Address]rent.Property
	positions  map[positionKey]rent.Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		properties: make(map[common.Address]rent.Property),
		positions:  make(map[positionKey]rent.Position),
	}
}

func (s *MemoryStore) GetProperty(_ context.Context, token common.Address) (rent.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	property, ok := s.properties[token]
	if !ok {
		return rent.Property{}, sentinel.ErrNotFound
	}
	return copyProperty(property), nil
}

func (s *MemoryStore) PutProperty(_ context.Context, property rent.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[property.Token] = copyProperty(property)
	return nil
}

func (s *MemoryStore) ListProperties(_ context.Context) ([]rent.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rent.Property, 0, len(s.properties))
	for _, property := range s.properties {
		out = append(out, copyProperty(property))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, token, account common.Address) (rent.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.positions[positionKey{token: token, account: account}]
	if !ok {
		return rent.Position{}, sentinel.ErrNotFound
	}
	return copyPosition(position), nil
}

func (s *MemoryStore) PutPosition(_ context.Context, position rent.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey{token: position.Token, account: position.Account}] = copyPosition(position)
	return nil
}

func copyProperty(p rent.Property) rent.Property {
	out := p
	out.TotalDistributed = new(big.Int).Set(p.TotalDistributed)
	out.AccRewardPerShare = new(big.Int).Set(p.AccRewardPerShare)
	return out
}

func copyPosition(p rent.Position) rent.Position {
	out := p
	out.RewardDebt = new(big.Int).Set(p.RewardDebt)
	out.PendingAtLastSync = new(big.Int).Set(p.PendingAtLastSync)
	out.TotalClaimed = new(big.Int).Set(p.TotalClaimed)
	return out
}
