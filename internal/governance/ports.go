package governance

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ShareLedger is the weighting view the engine votes by. Observe hands back
// the proposer's balance, the supply, and the head block from one consistent
// read; BalanceAt and TotalSupplyAt serve the snapshot lookups that make
// cast votes immune to later transfers. Implemented by internal/shares.Ledger.
type ShareLedger interface {
	Observe(token, account common.Address) (balance, supply *big.Int, block uint64)
	BalanceAt(token, account common.Address, block uint64) *big.Int
	TotalSupplyAt(token common.Address, block uint64) *big.Int
}

// Executor performs a queued proposal's encoded call against its target. An
// error means nothing took effect; the engine then leaves the proposal
// unexecuted (the whole operation reverts).
type Executor interface {
	Execute(ctx context.Context, target common.Address, data []byte, value *big.Int) error
}

// Store persists settings, proposals, and vote receipts.
type Store interface {
	GetSettings(ctx context.Context, token common.Address) (Settings, error)
	PutSettings(ctx context.Context, token common.Address, settings Settings) error

	NextProposalID(ctx context.Context) (uint64, error)
	GetProposal(ctx context.Context, id uint64) (Proposal, error)
	PutProposal(ctx context.Context, proposal Proposal) error
	ListProposals(ctx context.Context, token common.Address) ([]Proposal, error)

	GetReceipt(ctx context.Context, proposalID uint64, voter common.Address) (VoteReceipt, error)
	PutReceipt(ctx context.Context, receipt VoteReceipt) error
}
