package store

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"brickvault/internal/governance"
	"brickvault/pkg/sentinel"
)

type receiptKey struct {
	proposalID uint64
	voter      common.Address
}

// MemoryStore implements the governance store with mutex-guarded maps.
// Values are copied on the way in and out so callers never share big.Int
// instances with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	settings  map[common.Address]governance.Settings
	proposals map[uint64]governance.Proposal
	receipts  map[receiptKey]governance.VoteReceipt
	nextID    uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings:  make(map[common.Address]governance.Settings),
		proposals: make(map[uint64]governance.Proposal),
		receipts:  make(map[receiptKey]governance.VoteReceipt),
		nextID:    1,
	}
}

func (s *MemoryStore) GetSettings(_ context.Context, token common.Address) (governance.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[token]
	if !ok {
		return governance.Settings{}, sentinel.ErrNotFound
	}
	return settings, nil
}

func (s *MemoryStore) PutSettings(_ context.Context, token common.Address, settings governance.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[token] = settings
	return nil
}

func (s *MemoryStore) NextProposalID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id, nil
}

func (s *MemoryStore) GetProposal(_ context.Context, id uint64) (governance.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proposal, ok := s.proposals[id]
	if !ok {
		return governance.Proposal{}, sentinel.ErrNotFound
	}
	return copyProposal(proposal), nil
}

func (s *MemoryStore) PutProposal(_ context.Context, proposal governance.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[proposal.ID] = copyProposal(proposal)
	return nil
}

func (s *MemoryStore) ListProposals(_ context.Context, token common.Address) ([]governance.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []governance.Proposal
	for _, proposal := range s.proposals {
		if proposal.SubjectToken == token {
			out = append(out, copyProposal(proposal))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetReceipt(_ context.Context, proposalID uint64, voter common.Address) (governance.VoteReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	receipt, ok := s.receipts[receiptKey{proposalID: proposalID, voter: voter}]
	if !ok {
		return governance.VoteReceipt{}, sentinel.ErrNotFound
	}
	return copyReceipt(receipt), nil
}

func (s *MemoryStore) PutReceipt(_ context.Context, receipt governance.VoteReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[receiptKey{proposalID: receipt.ProposalID, voter: receipt.Voter}] = copyReceipt(receipt)
	return nil
}

func copyProposal(p governance.Proposal) governance.Proposal {
	out := p
	out.ForVotes = new(big.Int).Set(p.ForVotes)
	out.AgainstVotes = new(big.Int).Set(p.AgainstVotes)
	out.AbstainVotes = new(big.Int).Set(p.AbstainVotes)
	out.ExecutionValue = new(big.Int).Set(p.ExecutionValue)
	if p.ExecutionData != nil {
		out.ExecutionData = append([]byte(nil), p.ExecutionData...)
	}
	return out
}

func copyReceipt(r governance.VoteReceipt) governance.VoteReceipt {
	out := r
	if r.Weight != nil {
		out.Weight = new(big.Int).Set(r.Weight)
	}
	return out
}
