package shares_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"brickvault/internal/audit"
	"brickvault/internal/platform/logger"
	"brickvault/internal/shares"
	"brickvault/internal/shares/store"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/requestcontext"
)

type recordingEmitter struct {
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event audit.Event) {
	e.events = append(e.events, event)
}

type MirrorSuite struct {
	suite.Suite
	ledger  *shares.Ledger
	journal *store.MemoryJournal
	emitter *recordingEmitter
	mirror  *shares.Mirror
	token   common.Address
	alice   common.Address
}

func TestMirrorSuite(t *testing.T) {
	suite.Run(t, new(MirrorSuite))
}

func (s *MirrorSuite) SetupTest() {
	s.ledger = shares.NewLedger()
	s.journal = store.NewMemoryJournal()
	s.emitter = &recordingEmitter{}
	s.mirror = shares.NewMirror(s.ledger, s.journal, s.emitter, logger.New())
	s.token = common.HexToAddress("0x1000000000000000000000000000000000000001")
	s.alice = common.HexToAddress("0xa000000000000000000000000000000000000001")
}

func (s *MirrorSuite) oracleCtx() context.Context {
	return requestcontext.WithRoles(context.Background(), requestcontext.RoleOracle)
}

func (s *MirrorSuite) TestIngest() {
	mintEvent := shares.Transfer{
		Token:  s.token,
		To:     s.alice,
		Amount: big.NewInt(500),
		Block:  7,
	}

	s.Run("requires the oracle role", func() {
		err := s.mirror.Ingest(context.Background(), mintEvent)
		s.True(domerrors.HasCode(err, domerrors.CodeUnauthorized))
	})

	s.Run("applies, journals, and audits", func() {
		err := s.mirror.Ingest(s.oracleCtx(), mintEvent)
		s.Require().NoError(err)

		s.Equal(big.NewInt(500), s.ledger.BalanceOf(s.token, s.alice))

		var journaled []shares.Transfer
		s.Require().NoError(s.journal.Replay(context.Background(), func(t shares.Transfer) error {
			journaled = append(journaled, t)
			return nil
		}))
		s.Len(journaled, 1)

		s.Require().Len(s.emitter.events, 1)
		s.Equal(audit.ActionTransferMirrored, s.emitter.events[0].Action)
		s.Equal(s.token.Hex(), s.emitter.events[0].Subject)
	})

	s.Run("rejected transfers are not journaled", func() {
		bad := mintEvent
		bad.Amount = big.NewInt(0)
		err := s.mirror.Ingest(s.oracleCtx(), bad)
		s.True(domerrors.HasCode(err, domerrors.CodeZeroAmount))

		count := 0
		s.Require().NoError(s.journal.Replay(context.Background(), func(shares.Transfer) error {
			count++
			return nil
		}))
		s.Equal(1, count) // only the earlier successful mint
	})
}

func (s *MirrorSuite) TestRebuild() {
	ctx := s.oracleCtx()
	s.Require().NoError(s.mirror.Ingest(ctx, shares.Transfer{
		Token: s.token, To: s.alice, Amount: big.NewInt(1000), Block: 1,
	}))
	bob := common.HexToAddress("0xb000000000000000000000000000000000000002")
	s.Require().NoError(s.mirror.Ingest(ctx, shares.Transfer{
		Token: s.token, From: s.alice, To: bob, Amount: big.NewInt(250), Block: 5,
	}))

	// Fresh ledger fed from the same journal converges to the same state.
	rebuilt := shares.NewLedger()
	replica := shares.NewMirror(rebuilt, s.journal, s.emitter, logger.New())
	s.Require().NoError(replica.Rebuild(context.Background()))

	s.Equal(s.ledger.BalanceOf(s.token, s.alice), rebuilt.BalanceOf(s.token, s.alice))
	s.Equal(s.ledger.BalanceOf(s.token, bob), rebuilt.BalanceOf(s.token, bob))
	s.Equal(s.ledger.TotalSupply(s.token), rebuilt.TotalSupply(s.token))
	s.Equal(s.ledger.CurrentBlock(), rebuilt.CurrentBlock())
	s.Equal(big.NewInt(1000), rebuilt.BalanceAt(s.token, s.alice, 4))
}
