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

	"brickvault/internal/rent"
	"brickvault/pkg/sentinel"
)

// PostgresStore persists properties and positions in PostgreSQL. Big integers
// are stored as numeric text to keep full precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetProperty(ctx context.Context, token common.Address) (rent.Property, error) {
	var (
		paymentAsset, totalDistributed, acc string
		lastDistribution                    *time.Time
		active                              bool
		registeredAt                        time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT payment_asset, total_distributed, acc_reward_per_share,
		       last_distribution_time, is_active, registered_at
		FROM rent_properties WHERE token = $1`,
		token.Hex(),
	).Scan(&paymentAsset, &totalDistributed, &acc, &lastDistribution, &active, &registeredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rent.Property{}, sentinel.ErrNotFound
	}
	if err != nil {
		return rent.Property{}, fmt.Errorf("get property: %w", err)
	}

	property := rent.Property{
		Token:             token,
		PaymentAsset:      common.HexToAddress(paymentAsset),
		TotalDistributed:  mustBig(totalDistributed),
		AccRewardPerShare: mustBig(acc),
		Active:            active,
		RegisteredAt:      registeredAt,
	}
	if lastDistribution != nil {
		property.LastDistributionTime = *lastDistribution
	}
	return property, nil
}

func (s *PostgresStore) PutProperty(ctx context.Context, property rent.Property) error {
	var lastDistribution *time.Time
	if !property.LastDistributionTime.IsZero() {
		lastDistribution = &property.LastDistributionTime
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rent_properties
			(token, payment_asset, total_distributed, acc_reward_per_share,
			 last_distribution_time, is_active, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token) DO UPDATE
		SET payment_asset = EXCLUDED.payment_asset,
		    total_distributed = EXCLUDED.total_distributed,
		    acc_reward_per_share = EXCLUDED.acc_reward_per_share,
		    last_distribution_time = EXCLUDED.last_distribution_time,
		    is_active = EXCLUDED.is_active`,
		property.Token.Hex(), property.PaymentAsset.Hex(),
		property.TotalDistributed.String(), property.AccRewardPerShare.String(),
		lastDistribution, property.Active, property.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("put property: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProperties(ctx context.Context) ([]rent.Property, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token, payment_asset, total_distributed, acc_reward_per_share,
		       last_distribution_time, is_active, registered_at
		FROM rent_properties ORDER BY registered_at`)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var out []rent.Property
	for rows.Next() {
		var (
			token, paymentAsset, totalDistributed, acc string
			lastDistribution                           *time.Time
			active                                     bool
			registeredAt                               time.Time
		)
		if err := rows.Scan(&token, &paymentAsset, &totalDistributed, &acc, &lastDistribution, &active, &registeredAt); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		property := rent.Property{
			Token:             common.HexToAddress(token),
			PaymentAsset:      common.HexToAddress(paymentAsset),
			TotalDistributed:  mustBig(totalDistributed),
			AccRewardPerShare: mustBig(acc),
			Active:            active,
			RegisteredAt:      registeredAt,
		}
		if lastDistribution != nil {
			property.LastDistributionTime = *lastDistribution
		}
		out = append(out, property)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, token, account common.Address) (rent.Position, error) {
	var (
		debt, pending, totalClaimed string
		lastClaim                   *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT reward_debt, pending_at_last_sync, total_claimed, last_claim_time
		FROM rent_positions WHERE token = $1 AND account = $2`,
		token.Hex(), account.Hex(),
	).Scan(&debt, &pending, &totalClaimed, &lastClaim)
	if errors.Is(err, pgx.ErrNoRows) {
		return rent.Position{}, sentinel.ErrNotFound
	}
	if err != nil {
		return rent.Position{}, fmt.Errorf("get position: %w", err)
	}

	position := rent.Position{
		Account:           account,
		Token:             token,
		RewardDebt:        mustBig(debt),
		PendingAtLastSync: mustBig(pending),
		TotalClaimed:      mustBig(totalClaimed),
	}
	if lastClaim != nil {
		position.LastClaimTime = *lastClaim
	}
	return position, nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, position rent.Position) error {
	var lastClaim *time.Time
	if !position.LastClaimTime.IsZero() {
		lastClaim = &position.LastClaimTime
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rent_positions
			(token, account, reward_debt, pending_at_last_sync, total_claimed, last_claim_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token, account) DO UPDATE
		SET reward_debt = EXCLUDED.reward_debt,
		    pending_at_last_sync = EXCLUDED.pending_at_last_sync,
		    total_claimed = EXCLUDED.total_claimed,
		    last_claim_time = EXCLUDED.last_claim_time`,
		position.Token.Hex(), position.Account.Hex(),
		position.RewardDebt.String(), position.PendingAtLastSync.String(),
		position.TotalClaimed.String(), lastClaim,
	)
	if err != nil {
		return fmt.Errorf("put position: %w", err)
	}
	return nil
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
