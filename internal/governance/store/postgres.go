package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brickvault/internal/governance"
	"brickvault/pkg/sentinel"
)

// PostgresStore persists governance state in PostgreSQL. Proposal ids come
// from a sequence so they are dense and monotonic across restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetSettings(ctx context.Context, token common.Address) (governance.Settings, error) {
	var (
		votingDelay, votingPeriod, executionDelay, gracePeriod int64
		proposalThreshold, quorumThreshold                     int32
	)
	err := s.pool.QueryRow(ctx, `
		SELECT voting_delay_seconds, voting_period_seconds,
		       proposal_threshold_bps, quorum_threshold_bps,
		       execution_delay_seconds, grace_period_seconds
		FROM governance_settings WHERE token = $1`,
		token.Hex(),
	).Scan(&votingDelay, &votingPeriod, &proposalThreshold, &quorumThreshold, &executionDelay, &gracePeriod)
	if errors.Is(err, pgx.ErrNoRows) {
		return governance.Settings{}, sentinel.ErrNotFound
	}
	if err != nil {
		return governance.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return governance.Settings{
		VotingDelay:          time.Duration(votingDelay) * time.Second,
		VotingPeriod:         time.Duration(votingPeriod) * time.Second,
		ProposalThresholdBps: uint32(proposalThreshold),
		QuorumThresholdBps:   uint32(quorumThreshold),
		ExecutionDelay:       time.Duration(executionDelay) * time.Second,
		GracePeriod:          time.Duration(gracePeriod) * time.Second,
	}, nil
}

func (s *PostgresStore) PutSettings(ctx context.Context, token common.Address, settings governance.Settings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO governance_settings
			(token, voting_delay_seconds, voting_period_seconds,
			 proposal_threshold_bps, quorum_threshold_bps,
			 execution_delay_seconds, grace_period_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token) DO UPDATE
		SET voting_delay_seconds = EXCLUDED.voting_delay_seconds,
		    voting_period_seconds = EXCLUDED.voting_period_seconds,
		    proposal_threshold_bps = EXCLUDED.proposal_threshold_bps,
		    quorum_threshold_bps = EXCLUDED.quorum_threshold_bps,
		    execution_delay_seconds = EXCLUDED.execution_delay_seconds,
		    grace_period_seconds = EXCLUDED.grace_period_seconds`,
		token.Hex(),
		int64(settings.VotingDelay/time.Second), int64(settings.VotingPeriod/time.Second),
		int32(settings.ProposalThresholdBps), int32(settings.QuorumThresholdBps),
		int64(settings.ExecutionDelay/time.Second), int64(settings.GracePeriod/time.Second),
	)
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextProposalID(ctx context.Context) (uint64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('governance_proposal_ids')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next proposal id: %w", err)
	}
	return uint64(id), nil
}

const proposalColumns = `
	id, proposer, subject_token, proposal_type, title, description, evidence_hash,
	for_votes, against_votes, abstain_votes,
	snapshot_block, start_time, end_time, execution_time,
	execution_target, execution_data, execution_value,
	executed, canceled, created_at`

func (s *PostgresStore) GetProposal(ctx context.Context, id uint64) (governance.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM governance_proposals WHERE id = $1`, int64(id))
	proposal, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return governance.Proposal{}, sentinel.ErrNotFound
	}
	if err != nil {
		return governance.Proposal{}, fmt.Errorf("get proposal: %w", err)
	}
	return proposal, nil
}

func (s *PostgresStore) PutProposal(ctx context.Context, p governance.Proposal) error {
	var executionTime *time.Time
	if !p.ExecutionTime.IsZero() {
		executionTime = &p.ExecutionTime
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO governance_proposals (`+proposalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE
		SET for_votes = EXCLUDED.for_votes,
		    against_votes = EXCLUDED.against_votes,
		    abstain_votes = EXCLUDED.abstain_votes,
		    execution_time = EXCLUDED.execution_time,
		    executed = EXCLUDED.executed,
		    canceled = EXCLUDED.canceled`,
		int64(p.ID), p.Proposer.Hex(), p.SubjectToken.Hex(), string(p.Type),
		p.Title, p.Description, p.EvidenceHash.Hex(),
		p.ForVotes.String(), p.AgainstVotes.String(), p.AbstainVotes.String(),
		int64(p.SnapshotBlock), p.StartTime, p.EndTime, executionTime,
		p.ExecutionTarget.Hex(), p.ExecutionData, p.ExecutionValue.String(),
		p.Executed, p.Canceled, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, token common.Address) ([]governance.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM governance_proposals WHERE subject_token = $1 ORDER BY id`,
		token.Hex())
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []governance.Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, proposal)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetReceipt(ctx context.Context, proposalID uint64, voter common.Address) (governance.VoteReceipt, error) {
	var (
		support int
		weight  string
		reason  string
		castAt  time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT support, weight, reason, cast_at
		FROM governance_receipts WHERE proposal_id = $1 AND voter = $2`,
		int64(proposalID), voter.Hex(),
	).Scan(&support, &weight, &reason, &castAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return governance.VoteReceipt{}, sentinel.ErrNotFound
	}
	if err != nil {
		return governance.VoteReceipt{}, fmt.Errorf("get receipt: %w", err)
	}
	return governance.VoteReceipt{
		ProposalID: proposalID,
		Voter:      voter,
		HasVoted:   true,
		Support:    governance.Support(support),
		Weight:     mustBig(weight),
		Reason:     reason,
		CastAt:     castAt,
	}, nil
}

func (s *PostgresStore) PutReceipt(ctx context.Context, r governance.VoteReceipt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO governance_receipts (proposal_id, voter, support, weight, reason, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(r.ProposalID), r.Voter.Hex(), int(r.Support), r.Weight.String(), r.Reason, r.CastAt,
	)
	if err != nil {
		return fmt.Errorf("put receipt: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (governance.Proposal, error) {
	var (
		id, snapshotBlock                   int64
		proposer, token, ptype              string
		title, description, evidenceHash    string
		forVotes, againstVotes, abstainVote string
		startTime, endTime, createdAt       time.Time
		executionTime                       *time.Time
		executionTarget, executionValue     string
		executionData                       []byte
		executed, canceled                  bool
	)
	err := row.Scan(
		&id, &proposer, &token, &ptype, &title, &description, &evidenceHash,
		&forVotes, &againstVotes, &abstainVote,
		&snapshotBlock, &startTime, &endTime, &executionTime,
		&executionTarget, &executionData, &executionValue,
		&executed, &canceled, &createdAt,
	)
	if err != nil {
		return governance.Proposal{}, err
	}

	proposal := governance.Proposal{
		ID:              uint64(id),
		Proposer:        common.HexToAddress(proposer),
		SubjectToken:    common.HexToAddress(token),
		Type:            governance.ProposalType(ptype),
		Title:           title,
		Description:     description,
		EvidenceHash:    common.HexToHash(evidenceHash),
		ForVotes:        mustBig(forVotes),
		AgainstVotes:    mustBig(againstVotes),
		AbstainVotes:    mustBig(abstainVote),
		SnapshotBlock:   uint64(snapshotBlock),
		StartTime:       startTime,
		EndTime:         endTime,
		ExecutionTarget: common.HexToAddress(executionTarget),
		ExecutionData:   executionData,
		ExecutionValue:  mustBig(executionValue),
		Executed:        executed,
		Canceled:        canceled,
		CreatedAt:       createdAt,
	}
	if executionTime != nil {
		proposal.ExecutionTime = *executionTime
	}
	return proposal, nil
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
