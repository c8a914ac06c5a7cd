package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"brickvault/internal/audit"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/requestcontext"
	"brickvault/pkg/sentinel"
)

// Metrics is implemented by the prometheus metrics for this domain.
type Metrics interface {
	ProposalCreated(proposalType ProposalType)
	VoteCast(support Support)
	ProposalQueued()
	ProposalExecuted()
	ProposalCanceled()
}

// Service is the governance engine: proposal lifecycle, snapshot-weighted
// voting, quorum evaluation, timelocked queuing, and guarded execution.
// State-changing operations serialize on s.mu; state derivation is pure and
// lock-free, so any reader can compute a proposal's state on demand.
type Service struct {
	store    Store
	ledger   ShareLedger
	executor Executor
	auditor  audit.Emitter
	logger   *slog.Logger
	metrics  Metrics

	mu sync.Mutex
}

type Option func(*Service)

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, ledger ShareLedger, executor Executor, auditor audit.Emitter, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("governance store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("share ledger is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	svc := &Service{
		store:    store,
		ledger:   ledger,
		executor: executor,
		auditor:  auditor,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RegisterToken sets a subject token's governance settings. Admin only, and
// only once: later changes go through a RULE_CHANGE proposal so every rule
// change is voted on and auditable.
func (s *Service) RegisterToken(ctx context.Context, token common.Address, settings Settings) error {
	if !requestcontext.HasRole(ctx, requestcontext.RoleAdmin) {
		return domerrors.New(domerrors.CodeUnauthorized, "caller lacks admin role")
	}
	if token == (common.Address{}) {
		return domerrors.New(domerrors.CodeValidation, "token is required")
	}
	if err := settings.Validate(); err != nil {
		return domerrors.Wrap(err, domerrors.CodeValidation, "invalid settings")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.GetSettings(ctx, token)
	if err == nil {
		return domerrors.New(domerrors.CodeConflict, "token already registered for governance")
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return domerrors.Wrap(err, domerrors.CodeInternal, "failed to load settings")
	}
	if err := s.store.PutSettings(ctx, token, settings); err != nil {
		return domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist settings")
	}

	s.emit(ctx, audit.ActionTokenRegistered, subjectToken(token), nil)
	return nil
}

// GetSettings returns the current settings for a subject token.
func (s *Service) GetSettings(ctx context.Context, token common.Address) (Settings, error) {
	return s.loadSettings(ctx, token)
}

// CreateProposalRequest groups the inputs to CreateProposal.
type CreateProposalRequest struct {
	SubjectToken    common.Address
	Type            ProposalType
	Title           string
	Description     string
	EvidenceHash    common.Hash
	ExecutionTarget common.Address
	ExecutionData   []byte
	ExecutionValue  *big.Int
}

// CreateProposal opens a proposal against a registered token. The proposer's
// current balance must reach the proposal threshold fraction of current
// supply; the vote weight snapshot is pinned to the ledger head block.
func (s *Service) CreateProposal(ctx context.Context, req CreateProposalRequest) (Proposal, error) {
	proposer := requestcontext.Caller(ctx)
	if proposer == (common.Address{}) {
		return Proposal{}, domerrors.New(domerrors.CodeUnauthorized, "authentication required")
	}
	if req.Title == "" {
		return Proposal{}, domerrors.New(domerrors.CodeValidation, "title is required")
	}
	if !req.Type.IsValid() {
		return Proposal{}, domerrors.New(domerrors.CodeValidation, "unknown proposal type")
	}
	if req.Type == TypeRuleChange {
		if _, err := DecodeRuleChange(req.ExecutionData); err != nil {
			return Proposal{}, domerrors.Wrap(err, domerrors.CodeValidation, "invalid rule change payload")
		}
	}

	// One consistent observation: the proposer's standing and the snapshot
	// block must come from the same ledger state.
	balance, supply, snapshot := s.ledger.Observe(req.SubjectToken, proposer)

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.loadSettings(ctx, req.SubjectToken)
	if err != nil {
		return Proposal{}, err
	}

	threshold := bpsOf(supply, settings.ProposalThresholdBps)
	if balance.Cmp(threshold) < 0 {
		return Proposal{}, domerrors.Newf(domerrors.CodeInsufficientWeight,
			"insufficient proposal power: balance %s below threshold %s", balance, threshold)
	}

	id, err := s.store.NextProposalID(ctx)
	if err != nil {
		return Proposal{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to allocate proposal id")
	}

	now := requestcontext.Now(ctx)
	value := req.ExecutionValue
	if value == nil {
		value = new(big.Int)
	}
	proposal := Proposal{
		ID:              id,
		Proposer:        proposer,
		SubjectToken:    req.SubjectToken,
		Type:            req.Type,
		Title:           req.Title,
		Description:     req.Description,
		EvidenceHash:    req.EvidenceHash,
		ForVotes:        new(big.Int),
		AgainstVotes:    new(big.Int),
		AbstainVotes:    new(big.Int),
		SnapshotBlock:   snapshot,
		StartTime:       now.Add(settings.VotingDelay),
		ExecutionTarget: req.ExecutionTarget,
		ExecutionData:   req.ExecutionData,
		ExecutionValue:  value,
		CreatedAt:       now,
	}
	proposal.EndTime = proposal.StartTime.Add(settings.VotingPeriod)

	if err := s.store.PutProposal(ctx, proposal); err != nil {
		return Proposal{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist proposal")
	}

	if s.metrics != nil {
		s.metrics.ProposalCreated(req.Type)
	}
	s.emit(ctx, audit.ActionProposalCreated, subjectProposal(id), map[string]string{
		"token":    req.SubjectToken.Hex(),
		"type":     string(req.Type),
		"snapshot": strconv.FormatUint(snapshot, 10),
	})
	s.logger.InfoContext(ctx, "proposal created",
		"proposal_id", id,
		"token", req.SubjectToken.Hex(),
		"proposer", proposer.Hex(),
		"snapshot_block", snapshot,
	)
	return proposal, nil
}

// CastVote records the caller's vote. Weight is the balance at the
// proposal's snapshot block: transfers after the snapshot cannot alter a
// cast or future vote's weight.
func (s *Service) CastVote(ctx context.Context, proposalID uint64, support Support) (VoteReceipt, error) {
	return s.CastVoteWithReason(ctx, proposalID, support, "")
}

// CastVoteWithReason is CastVote carrying an optional justification string.
func (s *Service) CastVoteWithReason(ctx context.Context, proposalID uint64, support Support, reason string) (VoteReceipt, error) {
	voter := requestcontext.Caller(ctx)
	if voter == (common.Address{}) {
		return VoteReceipt{}, domerrors.New(domerrors.CodeUnauthorized, "authentication required")
	}
	if !support.IsValid() {
		return VoteReceipt{}, domerrors.New(domerrors.CodeValidation, "unknown support value")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, settings, err := s.loadProposalWithSettings(ctx, proposalID)
	if err != nil {
		return VoteReceipt{}, err
	}

	now := requestcontext.Now(ctx)
	state := s.stateLocked(proposal, settings, now)
	if state != StateActive {
		return VoteReceipt{}, domerrors.Newf(domerrors.CodeInvalidState, "voting closed: proposal is %s", state)
	}

	existing, err := s.store.GetReceipt(ctx, proposalID, voter)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return VoteReceipt{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load receipt")
	}
	if err == nil && existing.HasVoted {
		return VoteReceipt{}, domerrors.New(domerrors.CodeAlreadyActed, "already voted")
	}

	weight := s.ledger.BalanceAt(proposal.SubjectToken, voter, proposal.SnapshotBlock)
	if weight.Sign() == 0 {
		return VoteReceipt{}, domerrors.New(domerrors.CodeInsufficientWeight, "no voting weight at snapshot")
	}

	switch support {
	case For:
		proposal.ForVotes = new(big.Int).Add(proposal.ForVotes, weight)
	case Against:
		proposal.AgainstVotes = new(big.Int).Add(proposal.AgainstVotes, weight)
	case Abstain:
		proposal.AbstainVotes = new(big.Int).Add(proposal.AbstainVotes, weight)
	}

	receipt := VoteReceipt{
		ProposalID: proposalID,
		Voter:      voter,
		HasVoted:   true,
		Support:    support,
		Weight:     weight,
		Reason:     reason,
		CastAt:     now,
	}
	if err := s.store.PutReceipt(ctx, receipt); err != nil {
		return VoteReceipt{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist receipt")
	}
	if err := s.store.PutProposal(ctx, proposal); err != nil {
		return VoteReceipt{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist tallies")
	}

	if s.metrics != nil {
		s.metrics.VoteCast(support)
	}
	s.emit(ctx, audit.ActionVoteCast, subjectProposal(proposalID), map[string]string{
		"voter":   voter.Hex(),
		"support": support.String(),
		"weight":  weight.String(),
	})
	return receipt, nil
}

// Queue moves a succeeded proposal into the timelock. The execution delay is
// a deliberate window for holders to react before an approved change lands.
func (s *Service) Queue(ctx context.Context, proposalID uint64) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, settings, err := s.loadProposalWithSettings(ctx, proposalID)
	if err != nil {
		return Proposal{}, err
	}

	now := requestcontext.Now(ctx)
	state := s.stateLocked(proposal, settings, now)
	if state != StateSucceeded {
		return Proposal{}, domerrors.Newf(domerrors.CodeInvalidState, "cannot queue: proposal is %s", state)
	}

	proposal.ExecutionTime = now.Add(settings.ExecutionDelay)
	if err := s.store.PutProposal(ctx, proposal); err != nil {
		return Proposal{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist queue")
	}

	if s.metrics != nil {
		s.metrics.ProposalQueued()
	}
	s.emit(ctx, audit.ActionProposalQueued, subjectProposal(proposalID), map[string]string{
		"execution_time": proposal.ExecutionTime.Format(time.RFC3339),
	})
	return proposal, nil
}

// Execute performs a queued proposal's call once the timelock has elapsed
// and before the grace period ends. A failing target call reverts the whole
// operation: the proposal stays queued and unexecuted.
func (s *Service) Execute(ctx context.Context, proposalID uint64) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, settings, err := s.loadProposalWithSettings(ctx, proposalID)
	if err != nil {
		return Proposal{}, err
	}

	now := requestcontext.Now(ctx)
	state := s.stateLocked(proposal, settings, now)
	switch state {
	case StateQueued:
		// fallthrough to the delay check below
	case StateExpired:
		return Proposal{}, domerrors.New(domerrors.CodeExpired, "execution window has passed")
	default:
		return Proposal{}, domerrors.Newf(domerrors.CodeInvalidState, "cannot execute: proposal is %s", state)
	}
	if now.Before(proposal.ExecutionTime) {
		return Proposal{}, domerrors.New(domerrors.CodeInvalidState, "execution delay has not elapsed")
	}

	if proposal.Type == TypeRuleChange {
		if err := s.applyRuleChange(ctx, proposal); err != nil {
			return Proposal{}, err
		}
	} else if err := s.executor.Execute(ctx, proposal.ExecutionTarget, proposal.ExecutionData, proposal.ExecutionValue); err != nil {
		return Proposal{}, domerrors.Wrap(err, domerrors.CodeInternal, "execution target call failed")
	}

	proposal.Executed = true
	if err := s.store.PutProposal(ctx, proposal); err != nil {
		return Proposal{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist execution")
	}

	if s.metrics != nil {
		s.metrics.ProposalExecuted()
	}
	s.emit(ctx, audit.ActionProposalExecuted, subjectProposal(proposalID), map[string]string{
		"target": proposal.ExecutionTarget.Hex(),
	})
	s.logger.InfoContext(ctx, "proposal executed", "proposal_id", proposalID)
	return proposal, nil
}

// Cancel withdraws a proposal before execution. Only the proposer or an
// admin may cancel; terminal states cannot be canceled. Irreversible.
func (s *Service) Cancel(ctx context.Context, proposalID uint64) (Proposal, error) {
	caller := requestcontext.Caller(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, settings, err := s.loadProposalWithSettings(ctx, proposalID)
	if err != nil {
		return Proposal{}, err
	}

	if caller != proposal.Proposer && !requestcontext.HasRole(ctx, requestcontext.RoleAdmin) {
		return Proposal{}, domerrors.New(domerrors.CodeUnauthorized, "only the proposer or an admin may cancel")
	}

	now := requestcontext.Now(ctx)
	switch state := s.stateLocked(proposal, settings, now); state {
	case StateExecuted, StateCanceled, StateDefeated, StateExpired:
		return Proposal{}, domerrors.Newf(domerrors.CodeInvalidState, "cannot cancel: proposal is %s", state)
	}

	proposal.Canceled = true
	if err := s.store.PutProposal(ctx, proposal); err != nil {
		return Proposal{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist cancel")
	}

	if s.metrics != nil {
		s.metrics.ProposalCanceled()
	}
	s.emit(ctx, audit.ActionProposalCanceled, subjectProposal(proposalID), nil)
	return proposal, nil
}

// State derives the proposal's lifecycle state at request time. Pure read:
// no transaction is needed to finalize an ended vote.
func (s *Service) State(ctx context.Context, proposalID uint64) (State, error) {
	proposal, settings, err := s.loadProposalWithSettings(ctx, proposalID)
	if err != nil {
		return "", err
	}
	return s.stateLocked(proposal, settings, requestcontext.Now(ctx)), nil
}

// GetProposal returns a proposal with its derived state.
func (s *Service) GetProposal(ctx context.Context, proposalID uint64) (Proposal, State, error) {
	proposal, settings, err := s.loadProposalWithSettings(ctx, proposalID)
	if err != nil {
		return Proposal{}, "", err
	}
	return proposal, s.stateLocked(proposal, settings, requestcontext.Now(ctx)), nil
}

// GetReceipt returns the vote receipt for (proposal, voter). A voter who has
// not voted gets a zero receipt with HasVoted false.
func (s *Service) GetReceipt(ctx context.Context, proposalID uint64, voter common.Address) (VoteReceipt, error) {
	if _, err := s.store.GetProposal(ctx, proposalID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return VoteReceipt{}, domerrors.New(domerrors.CodeNotFound, "proposal not found")
		}
		return VoteReceipt{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load proposal")
	}
	receipt, err := s.store.GetReceipt(ctx, proposalID, voter)
	if errors.Is(err, sentinel.ErrNotFound) {
		return VoteReceipt{ProposalID: proposalID, Voter: voter, Weight: new(big.Int)}, nil
	}
	if err != nil {
		return VoteReceipt{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load receipt")
	}
	return receipt, nil
}

// ListProposals returns every proposal for a subject token with derived
// states, oldest first.
func (s *Service) ListProposals(ctx context.Context, token common.Address) ([]Proposal, []State, error) {
	settings, err := s.loadSettings(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	proposals, err := s.store.ListProposals(ctx, token)
	if err != nil {
		return nil, nil, domerrors.Wrap(err, domerrors.CodeInternal, "failed to list proposals")
	}
	now := requestcontext.Now(ctx)
	states := make([]State, len(proposals))
	for i, p := range proposals {
		states[i] = s.stateLocked(p, settings, now)
	}
	return proposals, states, nil
}

// stateLocked resolves quorum against supply at the snapshot block and
// derives the state. Safe without the mutex: all inputs are immutable copies.
func (s *Service) stateLocked(p Proposal, settings Settings, now time.Time) State {
	quorum := bpsOf(s.ledger.TotalSupplyAt(p.SubjectToken, p.SnapshotBlock), settings.QuorumThresholdBps)
	return StateOf(p, quorum, settings.GracePeriod, now)
}

func (s *Service) applyRuleChange(ctx context.Context, proposal Proposal) error {
	change, err := DecodeRuleChange(proposal.ExecutionData)
	if err != nil {
		return domerrors.Wrap(err, domerrors.CodeInternal, "corrupt rule change payload")
	}
	if change.Token != proposal.SubjectToken {
		return domerrors.New(domerrors.CodeInvalidState, "rule change targets a different token")
	}
	if err := change.Settings.Validate(); err != nil {
		return domerrors.Wrap(err, domerrors.CodeInternal, "rule change carries invalid settings")
	}
	if err := s.store.PutSettings(ctx, change.Token, change.Settings); err != nil {
		return domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist settings change")
	}
	s.emit(ctx, audit.ActionSettingsChanged, subjectToken(change.Token), map[string]string{
		"proposal_id": strconv.FormatUint(proposal.ID, 10),
	})
	return nil
}

func (s *Service) loadSettings(ctx context.Context, token common.Address) (Settings, error) {
	settings, err := s.store.GetSettings(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Settings{}, domerrors.New(domerrors.CodeNotFound, "token not registered for governance")
	}
	if err != nil {
		return Settings{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load settings")
	}
	return settings, nil
}

func (s *Service) loadProposalWithSettings(ctx context.Context, proposalID uint64) (Proposal, Settings, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Proposal{}, Settings{}, domerrors.New(domerrors.CodeNotFound, "proposal not found")
	}
	if err != nil {
		return Proposal{}, Settings{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load proposal")
	}
	settings, err := s.loadSettings(ctx, proposal.SubjectToken)
	if err != nil {
		return Proposal{}, Settings{}, err
	}
	return proposal, settings, nil
}

func (s *Service) emit(ctx context.Context, action, subject string, detail map[string]string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		Actor:   requestcontext.Caller(ctx),
		Action:  action,
		Subject: subject,
		Detail:  detail,
	})
}

func subjectProposal(id uint64) string { return "proposal:" + strconv.FormatUint(id, 10) }
func subjectToken(token common.Address) string {
	return "token:" + token.Hex()
}

// bpsOf computes value * bps / 10000.
func bpsOf(value *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(value, big.NewInt(int64(bps)))
	return out.Quo(out, big.NewInt(10_000))
}

// RuleChange is the execution payload of a RULE_CHANGE proposal: the settings
// that take effect for Token when the proposal executes.
type RuleChange struct {
	Token    common.Address
	Settings Settings
}

type ruleChangeWire struct {
	Token                string `json:"token"`
	VotingDelaySeconds   int64  `json:"voting_delay_seconds"`
	VotingPeriodSeconds  int64  `json:"voting_period_seconds"`
	ProposalThresholdBps uint32 `json:"proposal_threshold_bps"`
	QuorumThresholdBps   uint32 `json:"quorum_threshold_bps"`
	ExecutionDelaySecs   int64  `json:"execution_delay_seconds"`
	GracePeriodSeconds   int64  `json:"grace_period_seconds"`
}

// EncodeRuleChange serializes a rule change for storage in ExecutionData.
func EncodeRuleChange(change RuleChange) ([]byte, error) {
	return json.Marshal(ruleChangeWire{
		Token:                change.Token.Hex(),
		VotingDelaySeconds:   int64(change.Settings.VotingDelay / time.Second),
		VotingPeriodSeconds:  int64(change.Settings.VotingPeriod / time.Second),
		ProposalThresholdBps: change.Settings.ProposalThresholdBps,
		QuorumThresholdBps:   change.Settings.QuorumThresholdBps,
		ExecutionDelaySecs:   int64(change.Settings.ExecutionDelay / time.Second),
		GracePeriodSeconds:   int64(change.Settings.GracePeriod / time.Second),
	})
}

// DecodeRuleChange parses and validates a RULE_CHANGE execution payload.
func DecodeRuleChange(data []byte) (RuleChange, error) {
	var wire ruleChangeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return RuleChange{}, fmt.Errorf("decode rule change: %w", err)
	}
	if !common.IsHexAddress(wire.Token) {
		return RuleChange{}, fmt.Errorf("rule change token must be a hex address")
	}
	change := RuleChange{
		Token: common.HexToAddress(wire.Token),
		Settings: Settings{
			VotingDelay:          time.Duration(wire.VotingDelaySeconds) * time.Second,
			VotingPeriod:         time.Duration(wire.VotingPeriodSeconds) * time.Second,
			ProposalThresholdBps: wire.ProposalThresholdBps,
			QuorumThresholdBps:   wire.QuorumThresholdBps,
			ExecutionDelay:       time.Duration(wire.ExecutionDelaySecs) * time.Second,
			GracePeriod:          time.Duration(wire.GracePeriodSeconds) * time.Second,
		},
	}
	if err := change.Settings.Validate(); err != nil {
		return RuleChange{}, err
	}
	return change, nil
}
