// Package shares maintains a read-only mirror of the external share token:
// current balances, total supply, and a per-account checkpoint history that
// serves point-in-time lookups for snapshot voting. The mirror is fed by
// transfer events from the host ledger; this core never mints or burns.
package shares

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"brickvault/pkg/domerrors"
)

// BalanceHook is notified before a balance mutates. Implementations settle
// any accrued entitlement against the pre-transfer balance; an error aborts
// the whole transfer, leaving the mirror untouched.
type BalanceHook interface {
	OnBalanceChange(ctx context.Context, token, account common.Address, oldBalance *big.Int) error
}

// Checkpoint records a balance (or supply) value effective from Block.
type Checkpoint struct {
	Block uint64
	Value *big.Int
}

// Transfer is one share-token movement observed on the host ledger. A zero
// From is a mint, a zero To is a burn.
type Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
	Block  uint64
}

// Ledger is the in-process mirror. All mutations go through ApplyTransfer,
// which serializes writers; reads take the shared lock.
type Ledger struct {
	mu       sync.RWMutex
	block    uint64
	balances map[common.Address]map[common.Address][]Checkpoint
	supplies map[common.Address][]Checkpoint
	hooks    []BalanceHook
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address][]Checkpoint),
		supplies: make(map[common.Address][]Checkpoint),
	}
}

// RegisterHook adds a balance-change listener. Hooks must be registered
// before the first transfer is applied; registration is not synchronized
// with ApplyTransfer.
func (l *Ledger) RegisterHook(h BalanceHook) {
	l.hooks = append(l.hooks, h)
}

// CurrentBlock returns the height of the last applied transfer.
func (l *Ledger) CurrentBlock() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.block
}

// BalanceOf returns the current balance of account for token.
func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latest(l.balances[token][account])
}

// TotalSupply returns the current outstanding supply of token.
func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latest(l.supplies[token])
}

// WithSupply runs fn with token's current outstanding supply while holding
// the ledger's read lock: no transfer can apply until fn returns. Callers
// that derive state from the supply (the rent accumulator) run the whole
// derivation inside fn so the supply they used is the supply the balances
// still sum to. fn must not call back into the ledger.
func (l *Ledger) WithSupply(token common.Address, fn func(supply *big.Int) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(latest(l.supplies[token]))
}

// Observe returns account's current balance, token's outstanding supply, and
// the ledger head from a single read-locked section, so a concurrent
// transfer cannot skew the three against each other.
func (l *Ledger) Observe(token, account common.Address) (balance, supply *big.Int, block uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return latest(l.balances[token][account]), latest(l.supplies[token]), l.block
}

// BalanceAt returns the balance of account at the given block height. The
// checkpoint list is append-only and block-sorted, so the answer is immune
// to transfers applied after that height.
func (l *Ledger) BalanceAt(token, account common.Address, block uint64) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return valueAt(l.balances[token][account], block)
}

// TotalSupplyAt returns the outstanding supply of token at the given block.
func (l *Ledger) TotalSupplyAt(token common.Address, block uint64) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return valueAt(l.supplies[token], block)
}

// ApplyTransfer ingests one transfer event. Hooks fire for each affected
// account with its pre-transfer balance before anything mutates; if a hook
// fails the transfer is rejected wholesale.
func (l *Ledger) ApplyTransfer(ctx context.Context, t Transfer) error {
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return domerrors.New(domerrors.CodeZeroAmount, "transfer amount must be positive")
	}
	if t.From == t.To {
		return domerrors.New(domerrors.CodeValidation, "transfer from and to are the same account")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if t.Block < l.block {
		return domerrors.Newf(domerrors.CodeValidation, "transfer block %d behind ledger head %d", t.Block, l.block)
	}

	mint := t.From == (common.Address{})
	burn := t.To == (common.Address{})

	fromBal := latest(l.balances[t.Token][t.From])
	toBal := latest(l.balances[t.Token][t.To])
	if !mint && fromBal.Cmp(t.Amount) < 0 {
		return domerrors.New(domerrors.CodeValidation, "transfer exceeds sender balance")
	}

	// Settle entitlements against pre-transfer balances. Any hook error
	// aborts before the mirror mutates.
	if !mint {
		if err := l.fireHooks(ctx, t.Token, t.From, fromBal); err != nil {
			return err
		}
	}
	if !burn {
		if err := l.fireHooks(ctx, t.Token, t.To, toBal); err != nil {
			return err
		}
	}

	if l.balances[t.Token] == nil {
		l.balances[t.Token] = make(map[common.Address][]Checkpoint)
	}
	if !mint {
		l.balances[t.Token][t.From] = push(l.balances[t.Token][t.From], t.Block, new(big.Int).Sub(fromBal, t.Amount))
	}
	if !burn {
		l.balances[t.Token][t.To] = push(l.balances[t.Token][t.To], t.Block, new(big.Int).Add(toBal, t.Amount))
	}

	supply := latest(l.supplies[t.Token])
	switch {
	case mint:
		l.supplies[t.Token] = push(l.supplies[t.Token], t.Block, new(big.Int).Add(supply, t.Amount))
	case burn:
		l.supplies[t.Token] = push(l.supplies[t.Token], t.Block, new(big.Int).Sub(supply, t.Amount))
	}

	l.block = t.Block
	return nil
}

func (l *Ledger) fireHooks(ctx context.Context, token, account common.Address, oldBalance *big.Int) error {
	for _, h := range l.hooks {
		if err := h.OnBalanceChange(ctx, token, account, new(big.Int).Set(oldBalance)); err != nil {
			return err
		}
	}
	return nil
}

// push appends a checkpoint, collapsing same-block updates into one entry.
func push(cps []Checkpoint, block uint64, value *big.Int) []Checkpoint {
	if n := len(cps); n > 0 && cps[n-1].Block == block {
		cps[n-1].Value = value
		return cps
	}
	return append(cps, Checkpoint{Block: block, Value: value})
}

// latest returns a copy of the newest checkpointed value, or zero.
func latest(cps []Checkpoint) *big.Int {
	if len(cps) == 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(cps[len(cps)-1].Value)
}

// valueAt returns a copy of the value effective at block: the last checkpoint
// with Block <= block.
func valueAt(cps []Checkpoint, block uint64) *big.Int {
	// First checkpoint strictly after block.
	i := sort.Search(len(cps), func(i int) bool { return cps[i].Block > block })
	if i == 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(cps[i-1].Value)
}
