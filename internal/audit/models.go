package audit

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Actor     common.Address    `json:"actor"`
	Action    string            `json:"action"`
	Subject   string            `json:"subject"`
	RequestID string            `json:"request_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Action names used across the core. Auditors key off these, so they are
// append-only: never rename a published action.
const (
	ActionTierChanged         = "eligibility.tier_changed"
	ActionPropertyRegistered  = "rent.property_registered"
	ActionPropertyDeactivated = "rent.property_deactivated"
	ActionPropertyReactivated = "rent.property_reactivated"
	ActionRentDeposited       = "rent.deposited"
	ActionRentClaimed         = "rent.claimed"
	ActionTokenRegistered     = "governance.token_registered"
	ActionProposalCreated     = "governance.proposal_created"
	ActionVoteCast            = "governance.vote_cast"
	ActionProposalQueued      = "governance.proposal_queued"
	ActionProposalExecuted    = "governance.proposal_executed"
	ActionProposalCanceled    = "governance.proposal_canceled"
	ActionSettingsChanged     = "governance.settings_changed"
	ActionTransferMirrored    = "shares.transfer_mirrored"
)

// Store persists events append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string, limit int) ([]Event, error)
}
