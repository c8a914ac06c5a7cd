package governance_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"brickvault/internal/governance"
	"brickvault/internal/governance/store"
	"brickvault/internal/outbound"
	"brickvault/internal/platform/logger"
	"brickvault/internal/shares"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/requestcontext"
)

type GovernanceSuite struct {
	suite.Suite
	ledger   *shares.Ledger
	store    *store.MemoryStore
	executor *outbound.MemoryExecutor
	service  *governance.Service

	token common.Address
	alice common.Address // 5000 shares
	bob   common.Address // 4900 shares
	carol common.Address // 100 shares
	t0    time.Time
	block uint64
}

func TestGovernanceSuite(t *testing.T) {
	suite.Run(t, new(GovernanceSuite))
}

var testSettings = governance.Settings{
	VotingDelay:          time.Hour,
	VotingPeriod:         24 * time.Hour,
	ProposalThresholdBps: 100,  // 1% of supply
	QuorumThresholdBps:   1000, // 10% of supply
	ExecutionDelay:       48 * time.Hour,
	GracePeriod:          14 * 24 * time.Hour,
}

func (s *GovernanceSuite) SetupTest() {
	s.ledger = shares.NewLedger()
	s.store = store.NewMemoryStore()
	s.executor = outbound.NewMemoryExecutor()

	var err error
	s.service, err = governance.New(s.store, s.ledger, s.executor, nil, logger.New())
	s.Require().NoError(err)

	s.token = common.HexToAddress("0x1000000000000000000000000000000000000001")
	s.alice = common.HexToAddress("0xa000000000000000000000000000000000000001")
	s.bob = common.HexToAddress("0xb000000000000000000000000000000000000002")
	s.carol = common.HexToAddress("0xc000000000000000000000000000000000000003")
	s.t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.block = 0

	s.mint(s.alice, 5000)
	s.mint(s.bob, 4900)
	s.mint(s.carol, 100)

	err = s.service.RegisterToken(s.adminAt(s.t0), s.token, testSettings)
	s.Require().NoError(err)
}

func (s *GovernanceSuite) mint(to common.Address, amount int64) {
	s.T().Helper()
	s.block++
	s.Require().NoError(s.ledger.ApplyTransfer(context.Background(), shares.Transfer{
		Token: s.token, To: to, Amount: big.NewInt(amount), Block: s.block,
	}))
}

func (s *GovernanceSuite) transfer(from, to common.Address, amount int64) {
	s.T().Helper()
	s.block++
	s.Require().NoError(s.ledger.ApplyTransfer(context.Background(), shares.Transfer{
		Token: s.token, From: from, To: to, Amount: big.NewInt(amount), Block: s.block,
	}))
}

func (s *GovernanceSuite) callerAt(account common.Address, t time.Time) context.Context {
	ctx := requestcontext.WithCaller(context.Background(), account)
	return requestcontext.WithTime(ctx, t)
}

func (s *GovernanceSuite) adminAt(t time.Time) context.Context {
	ctx := requestcontext.WithRoles(context.Background(), requestcontext.RoleAdmin)
	return requestcontext.WithTime(ctx, t)
}

// propose creates a plain proposal from alice at t0.
func (s *GovernanceSuite) propose() governance.Proposal {
	s.T().Helper()
	proposal, err := s.service.CreateProposal(s.callerAt(s.alice, s.t0), governance.CreateProposalRequest{
		SubjectToken: s.token,
		Type:         governance.TypePropertyImprovement,
		Title:        "Repaint the facade",
	})
	s.Require().NoError(err)
	return proposal
}

// Voting window landmarks relative to t0 under testSettings.
func (s *GovernanceSuite) duringVote() time.Time { return s.t0.Add(2 * time.Hour) }
func (s *GovernanceSuite) afterVote() time.Time  { return s.t0.Add(26 * time.Hour) }

func (s *GovernanceSuite) TestRegisterToken() {
	other := common.HexToAddress("0x2000000000000000000000000000000000000002")

	s.Run("requires admin role", func() {
		err := s.service.RegisterToken(s.callerAt(s.alice, s.t0), other, testSettings)
		s.True(domerrors.HasCode(err, domerrors.CodeUnauthorized))
	})

	s.Run("rejects invalid settings", func() {
		bad := testSettings
		bad.VotingPeriod = 0
		err := s.service.RegisterToken(s.adminAt(s.t0), other, bad)
		s.True(domerrors.HasCode(err, domerrors.CodeValidation))
	})

	s.Run("registers once, later changes go through proposals", func() {
		err := s.service.RegisterToken(s.adminAt(s.t0), other, testSettings)
		s.Require().NoError(err)
		err = s.service.RegisterToken(s.adminAt(s.t0), other, testSettings)
		s.True(domerrors.HasCode(err, domerrors.CodeConflict))
	})
}

func (s *GovernanceSuite) TestCreateProposal() {
	s.Run("requires holdings at the proposal threshold", func() {
		// Threshold is 1% of 10000 = 100 shares. Carol holds exactly 100.
		tiny := common.HexToAddress("0xd000000000000000000000000000000000000004")
		s.transfer(s.carol, tiny, 1) // 99 left

		_, err := s.service.CreateProposal(s.callerAt(s.carol, s.t0), governance.CreateProposalRequest{
			SubjectToken: s.token,
			Type:         governance.TypeOther,
			Title:        "Below threshold",
		})
		s.True(domerrors.HasCode(err, domerrors.CodeInsufficientWeight))

		s.transfer(tiny, s.carol, 1) // back to exactly 100
		_, err = s.service.CreateProposal(s.callerAt(s.carol, s.t0), governance.CreateProposalRequest{
			SubjectToken: s.token,
			Type:         governance.TypeOther,
			Title:        "At threshold",
		})
		s.NoError(err)
	})

	s.Run("pins the snapshot to the ledger head", func() {
		proposal := s.propose()
		s.Equal(s.ledger.CurrentBlock(), proposal.SnapshotBlock)
		s.Equal(s.t0.Add(testSettings.VotingDelay), proposal.StartTime)
		s.Equal(proposal.StartTime.Add(testSettings.VotingPeriod), proposal.EndTime)

		state, err := s.service.State(s.callerAt(s.alice, s.t0), proposal.ID)
		s.Require().NoError(err)
		s.Equal(governance.StatePending, state)
	})

	s.Run("validates title, type, and registration", func() {
		_, err := s.service.CreateProposal(s.callerAt(s.alice, s.t0), governance.CreateProposalRequest{
			SubjectToken: s.token,
			Type:         governance.TypeOther,
		})
		s.True(domerrors.HasCode(err, domerrors.CodeValidation))

		_, err = s.service.CreateProposal(s.callerAt(s.alice, s.t0), governance.CreateProposalRequest{
			SubjectToken: s.token,
			Type:         governance.ProposalType("REZONING"),
			Title:        "Bad type",
		})
		s.True(domerrors.HasCode(err, domerrors.CodeValidation))

		unregistered := common.HexToAddress("0x9000000000000000000000000000000000000009")
		_, err = s.service.CreateProposal(s.callerAt(s.alice, s.t0), governance.CreateProposalRequest{
			SubjectToken: unregistered,
			Type:         governance.TypeOther,
			Title:        "No settings",
		})
		s.True(domerrors.HasCode(err, domerrors.CodeNotFound))
	})

	s.Run("proposal ids are sequential", func() {
		a := s.propose()
		b := s.propose()
		s.Equal(a.ID+1, b.ID)
	})
}

func (s *GovernanceSuite) TestCastVote() {
	proposal := s.propose()

	s.Run("rejects votes before the window opens", func() {
		_, err := s.service.CastVote(s.callerAt(s.alice, s.t0), proposal.ID, governance.For)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))
	})

	s.Run("weight is the balance at the snapshot block", func() {
		// Bob dumps his holdings after the snapshot; his vote weight is
		// unchanged, and the receiver gains nothing.
		s.transfer(s.bob, s.alice, 4900)

		receipt, err := s.service.CastVote(s.callerAt(s.bob, s.duringVote()), proposal.ID, governance.Against)
		s.Require().NoError(err)
		s.Equal(big.NewInt(4900), receipt.Weight)

		receipt, err = s.service.CastVote(s.callerAt(s.alice, s.duringVote()), proposal.ID, governance.For)
		s.Require().NoError(err)
		s.Equal(big.NewInt(5000), receipt.Weight)
	})

	s.Run("one vote per account", func() {
		_, err := s.service.CastVote(s.callerAt(s.alice, s.duringVote()), proposal.ID, governance.For)
		s.True(domerrors.HasCode(err, domerrors.CodeAlreadyActed))
	})

	s.Run("zero snapshot weight cannot vote", func() {
		stranger := common.HexToAddress("0xe000000000000000000000000000000000000005")
		_, err := s.service.CastVote(s.callerAt(stranger, s.duringVote()), proposal.ID, governance.For)
		s.True(domerrors.HasCode(err, domerrors.CodeInsufficientWeight))
	})

	s.Run("tallies accumulate by support", func() {
		_, err := s.service.CastVoteWithReason(s.callerAt(s.carol, s.duringVote()), proposal.ID, governance.Abstain, "no opinion")
		s.Require().NoError(err)

		updated, _, err := s.service.GetProposal(s.callerAt(s.alice, s.duringVote()), proposal.ID)
		s.Require().NoError(err)
		s.Equal(big.NewInt(5000), updated.ForVotes)
		s.Equal(big.NewInt(4900), updated.AgainstVotes)
		s.Equal(big.NewInt(100), updated.AbstainVotes)
	})

	s.Run("rejects votes after the window closes", func() {
		late := s.propose()
		_, err := s.service.CastVote(s.callerAt(s.carol, s.afterVote()), late.ID, governance.For)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))
	})

	s.Run("window opens at start inclusive and closes at end exclusive", func() {
		proposal := s.propose()

		_, err := s.service.CastVote(s.callerAt(s.carol, proposal.EndTime), proposal.ID, governance.For)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))

		_, err = s.service.CastVote(s.callerAt(s.carol, proposal.StartTime), proposal.ID, governance.For)
		s.Require().NoError(err)
	})
}

func (s *GovernanceSuite) TestStateDerivation() {
	s.Run("defeated without quorum even when FOR leads", func() {
		proposal := s.propose()
		// Quorum is 10% of 10000 = 1000. Carol's 100 is not enough.
		_, err := s.service.CastVote(s.callerAt(s.carol, s.duringVote()), proposal.ID, governance.For)
		s.Require().NoError(err)

		state, err := s.service.State(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.Require().NoError(err)
		s.Equal(governance.StateDefeated, state)
	})

	s.Run("defeated on a tie", func() {
		proposal := s.propose()
		_, err := s.service.CastVote(s.callerAt(s.alice, s.duringVote()), proposal.ID, governance.For)
		s.Require().NoError(err)
		// Alice holds 5000, bob 4900 + carol 100 = 5000 against.
		_, err = s.service.CastVote(s.callerAt(s.bob, s.duringVote()), proposal.ID, governance.Against)
		s.Require().NoError(err)
		_, err = s.service.CastVote(s.callerAt(s.carol, s.duringVote()), proposal.ID, governance.Against)
		s.Require().NoError(err)

		state, err := s.service.State(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.Require().NoError(err)
		s.Equal(governance.StateDefeated, state)
	})

	s.Run("abstentions count toward quorum only", func() {
		proposal := s.propose()
		_, err := s.service.CastVote(s.callerAt(s.carol, s.duringVote()), proposal.ID, governance.For)
		s.Require().NoError(err)
		_, err = s.service.CastVote(s.callerAt(s.bob, s.duringVote()), proposal.ID, governance.Abstain)
		s.Require().NoError(err)

		state, err := s.service.State(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.Require().NoError(err)
		s.Equal(governance.StateSucceeded, state)
	})
}

// passProposal votes a proposal through and moves past the voting window.
func (s *GovernanceSuite) passProposal(proposal governance.Proposal) {
	s.T().Helper()
	_, err := s.service.CastVote(s.callerAt(s.alice, s.duringVote()), proposal.ID, governance.For)
	s.Require().NoError(err)
}

func (s *GovernanceSuite) TestQueueAndExecute() {
	proposal := s.propose()
	s.passProposal(proposal)

	s.Run("cannot queue while voting is open", func() {
		_, err := s.service.Queue(s.callerAt(s.alice, s.duringVote()), proposal.ID)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))
	})

	s.Run("queue starts the timelock", func() {
		queued, err := s.service.Queue(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.Require().NoError(err)
		s.Equal(s.afterVote().Add(testSettings.ExecutionDelay), queued.ExecutionTime)

		state, err := s.service.State(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.Require().NoError(err)
		s.Equal(governance.StateQueued, state)
	})

	s.Run("cannot execute before the delay elapses", func() {
		_, err := s.service.Execute(s.callerAt(s.alice, s.afterVote().Add(time.Hour)), proposal.ID)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))
	})

	s.Run("executes after the delay and hands off the call", func() {
		readyAt := s.afterVote().Add(testSettings.ExecutionDelay)
		executed, err := s.service.Execute(s.callerAt(s.alice, readyAt), proposal.ID)
		s.Require().NoError(err)
		s.True(executed.Executed)
		s.Len(s.executor.Executions(), 1)

		state, err := s.service.State(s.callerAt(s.alice, readyAt), proposal.ID)
		s.Require().NoError(err)
		s.Equal(governance.StateExecuted, state)
	})

	s.Run("execution is idempotent-hostile: a second execute is rejected", func() {
		readyAt := s.afterVote().Add(testSettings.ExecutionDelay)
		_, err := s.service.Execute(s.callerAt(s.alice, readyAt), proposal.ID)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))
		s.Len(s.executor.Executions(), 1)
	})
}

func (s *GovernanceSuite) TestExecuteEdgeCases() {
	s.Run("expired after the grace period", func() {
		proposal := s.propose()
		s.passProposal(proposal)
		_, err := s.service.Queue(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.Require().NoError(err)

		tooLate := s.afterVote().Add(testSettings.ExecutionDelay + testSettings.GracePeriod + time.Hour)
		_, err = s.service.Execute(s.callerAt(s.alice, tooLate), proposal.ID)
		s.True(domerrors.HasCode(err, domerrors.CodeExpired))
	})

	s.Run("failed target call leaves the proposal queued", func() {
		proposal := s.propose()
		s.passProposal(proposal)
		_, err := s.service.Queue(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.Require().NoError(err)

		s.executor.FailNext(errors.New("target reverted"))
		readyAt := s.afterVote().Add(testSettings.ExecutionDelay)
		_, err = s.service.Execute(s.callerAt(s.alice, readyAt), proposal.ID)
		s.Error(err)

		state, err := s.service.State(s.callerAt(s.alice, readyAt), proposal.ID)
		s.Require().NoError(err)
		s.Equal(governance.StateQueued, state)

		// Retry succeeds.
		executed, err := s.service.Execute(s.callerAt(s.alice, readyAt), proposal.ID)
		s.Require().NoError(err)
		s.True(executed.Executed)
	})

	s.Run("cannot execute a defeated proposal", func() {
		proposal := s.propose()
		_, err := s.service.Execute(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))
	})
}

func (s *GovernanceSuite) TestRuleChange() {
	updated := testSettings
	updated.QuorumThresholdBps = 2000
	updated.VotingPeriod = 48 * time.Hour

	payload, err := governance.EncodeRuleChange(governance.RuleChange{
		Token:    s.token,
		Settings: updated,
	})
	s.Require().NoError(err)

	proposal, err := s.service.CreateProposal(s.callerAt(s.alice, s.t0), governance.CreateProposalRequest{
		SubjectToken:  s.token,
		Type:          governance.TypeRuleChange,
		Title:         "Raise quorum to 20%",
		ExecutionData: payload,
	})
	s.Require().NoError(err)
	s.passProposal(proposal)

	_, err = s.service.Queue(s.callerAt(s.alice, s.afterVote()), proposal.ID)
	s.Require().NoError(err)

	readyAt := s.afterVote().Add(testSettings.ExecutionDelay)
	_, err = s.service.Execute(s.callerAt(s.alice, readyAt), proposal.ID)
	s.Require().NoError(err)

	// Settings changed through the vote, with no external call.
	current, err := s.service.GetSettings(context.Background(), s.token)
	s.Require().NoError(err)
	s.Equal(updated, current)
	s.Empty(s.executor.Executions())

	s.Run("malformed payload is rejected at creation", func() {
		_, err := s.service.CreateProposal(s.callerAt(s.alice, s.t0), governance.CreateProposalRequest{
			SubjectToken:  s.token,
			Type:          governance.TypeRuleChange,
			Title:         "Broken payload",
			ExecutionData: []byte(`{"token":"not-an-address"}`),
		})
		s.True(domerrors.HasCode(err, domerrors.CodeValidation))
	})
}

func (s *GovernanceSuite) TestCancel() {
	s.Run("proposer can cancel a pending proposal", func() {
		proposal := s.propose()
		canceled, err := s.service.Cancel(s.callerAt(s.alice, s.t0), proposal.ID)
		s.Require().NoError(err)
		s.True(canceled.Canceled)

		state, err := s.service.State(s.callerAt(s.alice, s.t0), proposal.ID)
		s.Require().NoError(err)
		s.Equal(governance.StateCanceled, state)
	})

	s.Run("non-proposer without admin cannot cancel", func() {
		proposal := s.propose()
		_, err := s.service.Cancel(s.callerAt(s.bob, s.t0), proposal.ID)
		s.True(domerrors.HasCode(err, domerrors.CodeUnauthorized))
	})

	s.Run("admin can cancel any live proposal", func() {
		proposal := s.propose()
		_, err := s.service.Cancel(s.adminAt(s.t0), proposal.ID)
		s.NoError(err)
	})

	s.Run("terminal states cannot be canceled", func() {
		proposal := s.propose()
		// Let it run out with no votes: defeated.
		_, err := s.service.Cancel(s.callerAt(s.alice, s.afterVote()), proposal.ID)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))
	})

	s.Run("canceled proposals reject votes", func() {
		proposal := s.propose()
		_, err := s.service.Cancel(s.callerAt(s.alice, s.t0), proposal.ID)
		s.Require().NoError(err)

		_, err = s.service.CastVote(s.callerAt(s.alice, s.duringVote()), proposal.ID, governance.For)
		s.True(domerrors.HasCode(err, domerrors.CodeInvalidState))
	})
}

func (s *GovernanceSuite) TestGetReceipt() {
	proposal := s.propose()

	s.Run("unvoted account gets a zero receipt", func() {
		receipt, err := s.service.GetReceipt(context.Background(), proposal.ID, s.bob)
		s.Require().NoError(err)
		s.False(receipt.HasVoted)
		s.Equal(int64(0), receipt.Weight.Int64())
	})

	s.Run("unknown proposal is not found", func() {
		_, err := s.service.GetReceipt(context.Background(), 999, s.bob)
		s.True(domerrors.HasCode(err, domerrors.CodeNotFound))
	})

	s.Run("voted account gets the stored receipt", func() {
		_, err := s.service.CastVoteWithReason(s.callerAt(s.bob, s.duringVote()), proposal.ID, governance.Against, "too costly")
		s.Require().NoError(err)

		receipt, err := s.service.GetReceipt(context.Background(), proposal.ID, s.bob)
		s.Require().NoError(err)
		s.True(receipt.HasVoted)
		s.Equal(governance.Against, receipt.Support)
		s.Equal("too costly", receipt.Reason)
	})
}

func (s *GovernanceSuite) TestListProposals() {
	first := s.propose()
	second := s.propose()
	s.passProposal(first)

	proposals, states, err := s.service.ListProposals(s.callerAt(s.alice, s.afterVote()), s.token)
	s.Require().NoError(err)
	s.Require().Len(proposals, 2)
	s.Require().Len(states, 2)
	s.Equal(first.ID, proposals[0].ID)
	s.Equal(governance.StateSucceeded, states[0])
	s.Equal(second.ID, proposals[1].ID)
	s.Equal(governance.StateDefeated, states[1])
}
