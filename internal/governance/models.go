package governance

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProposalType categorizes what a proposal changes. RULE_CHANGE is special:
// it is the only write path to a token's governance settings.
type ProposalType string

const (
	TypePropertyImprovement ProposalType = "PROPERTY_IMPROVEMENT"
	TypeManagementChange    ProposalType = "MANAGEMENT_CHANGE"
	TypeSale                ProposalType = "SALE"
	TypeRuleChange          ProposalType = "RULE_CHANGE"
	TypeOther               ProposalType = "OTHER"
)

func (t ProposalType) IsValid() bool {
	switch t {
	case TypePropertyImprovement, TypeManagementChange, TypeSale, TypeRuleChange, TypeOther:
		return true
	}
	return false
}

// Support is a vote choice.
type Support int

const (
	Against Support = iota
	For
	Abstain
)

var supportNames = map[Support]string{
	Against: "AGAINST",
	For:     "FOR",
	Abstain: "ABSTAIN",
}

func (s Support) String() string {
	if name, ok := supportNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Support(%d)", int(s))
}

func (s Support) IsValid() bool {
	_, ok := supportNames[s]
	return ok
}

// ParseSupport maps a wire name onto a Support.
func ParseSupport(raw string) (Support, error) {
	for s, name := range supportNames {
		if name == raw {
			return s, nil
		}
	}
	return Against, fmt.Errorf("unknown support %q", raw)
}

// State is the derived lifecycle state of a proposal. It is computed from
// stored fields and the current time, never stored.
type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateSucceeded State = "SUCCEEDED"
	StateDefeated  State = "DEFEATED"
	StateQueued    State = "QUEUED"
	StateExecuted  State = "EXECUTED"
	StateExpired   State = "EXPIRED"
	StateCanceled  State = "CANCELED"
)

// Settings govern a subject token's proposals. Thresholds are basis points
// of total supply. Set once at registration; changed only by executing a
// RULE_CHANGE proposal.
type Settings struct {
	VotingDelay          time.Duration
	VotingPeriod         time.Duration
	ProposalThresholdBps uint32
	QuorumThresholdBps   uint32
	ExecutionDelay       time.Duration
	GracePeriod          time.Duration
}

// Validate rejects settings no proposal could ever pass or execute under.
func (s Settings) Validate() error {
	if s.VotingPeriod <= 0 {
		return fmt.Errorf("voting period must be positive")
	}
	if s.VotingDelay < 0 || s.ExecutionDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if s.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive")
	}
	if s.ProposalThresholdBps > 10_000 || s.QuorumThresholdBps > 10_000 {
		return fmt.Errorf("thresholds are basis points and cannot exceed 10000")
	}
	return nil
}

// Proposal is one governance action. Vote tallies accumulate snapshot
// weights; lifecycle state is derived via StateOf.
type Proposal struct {
	ID           uint64
	Proposer     common.Address
	SubjectToken common.Address
	Type         ProposalType
	Title        string
	Description  string
	EvidenceHash common.Hash

	ForVotes     *big.Int
	AgainstVotes *big.Int
	AbstainVotes *big.Int

	SnapshotBlock uint64
	StartTime     time.Time
	EndTime       time.Time
	ExecutionTime time.Time

	ExecutionTarget common.Address
	ExecutionData   []byte
	ExecutionValue  *big.Int

	Executed  bool
	Canceled  bool
	CreatedAt time.Time
}

// VoteReceipt records one account's vote. At most one receipt exists per
// (proposal, voter); the weight is fixed at the proposal's snapshot block.
type VoteReceipt struct {
	ProposalID uint64
	Voter      common.Address
	HasVoted   bool
	Support    Support
	Weight     *big.Int
	Reason     string
	CastAt     time.Time
}

// StateOf derives the lifecycle state. quorum is the minimum participation
// weight (already resolved against supply at the snapshot block); grace is
// the execution grace period from the token's settings.
func StateOf(p Proposal, quorum *big.Int, grace time.Duration, now time.Time) State {
	switch {
	case p.Canceled:
		return StateCanceled
	case p.Executed:
		return StateExecuted
	case now.Before(p.StartTime):
		return StatePending
	// Voting opens at StartTime inclusive and closes at EndTime exclusive.
	case now.Before(p.EndTime):
		return StateActive
	}

	participation := new(big.Int).Add(p.ForVotes, p.AgainstVotes)
	participation.Add(participation, p.AbstainVotes)
	succeeded := p.ForVotes.Cmp(p.AgainstVotes) > 0 && participation.Cmp(quorum) >= 0
	if !succeeded {
		return StateDefeated
	}
	if p.ExecutionTime.IsZero() {
		return StateSucceeded
	}
	if now.After(p.ExecutionTime.Add(grace)) {
		return StateExpired
	}
	return StateQueued
}
