package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brickvault/internal/eligibility"
	"brickvault/pkg/sentinel"
)

// PostgresStore persists eligibility records in PostgreSQL. Record upsert and
// history append run in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, account common.Address) (eligibility.Record, error) {
	var (
		tier        int
		verifiedAt  time.Time
		expiresAt   *time.Time
		evidenceRef string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT tier, verified_at, expires_at, evidence_ref
		FROM eligibility_records WHERE account = $1`,
		account.Hex(),
	).Scan(&tier, &verifiedAt, &expiresAt, &evidenceRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return eligibility.Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return eligibility.Record{}, fmt.Errorf("get eligibility record: %w", err)
	}

	record := eligibility.Record{
		Account:     account,
		Tier:        eligibility.Tier(tier),
		VerifiedAt:  verifiedAt,
		EvidenceRef: evidenceRef,
	}
	if expiresAt != nil {
		record.ExpiresAt = *expiresAt
	}
	return record, nil
}

func (s *PostgresStore) Put(ctx context.Context, record eligibility.Record, entry eligibility.HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin put eligibility: %w", err)
	}
	defer tx.Rollback(ctx)

	var expiresAt *time.Time
	if !record.ExpiresAt.IsZero() {
		expiresAt = &record.ExpiresAt
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO eligibility_records (account, tier, verified_at, expires_at, evidence_ref)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account) DO UPDATE
		SET tier = EXCLUDED.tier,
		    verified_at = EXCLUDED.verified_at,
		    expires_at = EXCLUDED.expires_at,
		    evidence_ref = EXCLUDED.evidence_ref`,
		record.Account.Hex(), int(record.Tier), record.VerifiedAt, expiresAt, record.EvidenceRef,
	)
	if err != nil {
		return fmt.Errorf("upsert eligibility record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO eligibility_history (account, from_tier, to_tier, evidence_ref, changed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.Account.Hex(), int(entry.FromTier), int(entry.ToTier), entry.EvidenceRef, entry.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("append eligibility history: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) History(ctx context.Context, account common.Address) ([]eligibility.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT from_tier, to_tier, evidence_ref, changed_at
		FROM eligibility_history WHERE account = $1 ORDER BY changed_at, id`,
		account.Hex(),
	)
	if err != nil {
		return nil, fmt.Errorf("list eligibility history: %w", err)
	}
	defer rows.Close()

	var entries []eligibility.HistoryEntry
	for rows.Next() {
		var (
			fromTier, toTier int
			evidenceRef      string
			changedAt        time.Time
		)
		if err := rows.Scan(&fromTier, &toTier, &evidenceRef, &changedAt); err != nil {
			return nil, fmt.Errorf("scan eligibility history: %w", err)
		}
		entries = append(entries, eligibility.HistoryEntry{
			Account:     account,
			FromTier:    eligibility.Tier(fromTier),
			ToTier:      eligibility.Tier(toTier),
			EvidenceRef: evidenceRef,
			ChangedAt:   changedAt,
		})
	}
	return entries, rows.Err()
}
