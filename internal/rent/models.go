package rent

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Property is one distribution subject: a property token paired with the
// asset its rent is paid in. AccRewardPerShare is the monotonically
// increasing reward-per-share accumulator at wad (1e18) precision.
// Properties are deactivated, never deleted.
type Property struct {
	Token                common.Address
	PaymentAsset         common.Address
	TotalDistributed     *big.Int
	LastDistributionTime time.Time
	AccRewardPerShare    *big.Int
	Active               bool
	RegisteredAt         time.Time
}

// Position tracks one account's standing against a property's accumulator.
// RewardDebt is the accumulator value at the account's last sync point, so
//
//	pending = balance*(acc - debt)/1e18 + pendingAtLastSync
//
// reflects only rewards accrued since that sync, never double-counted
// across deposits or transfers.
type Position struct {
	Account           common.Address
	Token             common.Address
	RewardDebt        *big.Int
	PendingAtLastSync *big.Int
	LastClaimTime     time.Time
	TotalClaimed      *big.Int
}

// newPosition returns a zeroed position for an account first seen on token.
func newPosition(account, token common.Address) Position {
	return Position{
		Account:           account,
		Token:             token,
		RewardDebt:        new(big.Int),
		PendingAtLastSync: new(big.Int),
		TotalClaimed:      new(big.Int),
	}
}

// clone returns a deep copy so rollback after a failed payout cannot alias
// mutated big.Int values.
func (p Position) clone() Position {
	out := p
	out.RewardDebt = new(big.Int).Set(p.RewardDebt)
	out.PendingAtLastSync = new(big.Int).Set(p.PendingAtLastSync)
	out.TotalClaimed = new(big.Int).Set(p.TotalClaimed)
	return out
}

// Claim is the settled result of one claim operation.
type Claim struct {
	Token        common.Address
	PaymentAsset common.Address
	Amount       *big.Int
	ClaimedAt    time.Time
}
