package store

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"brickvault/internal/shares"
)

// PostgresJournal persists the transfer journal so the in-process mirror can
// be rebuilt on startup by replaying in insertion order.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

func (j *PostgresJournal) Append(ctx context.Context, t shares.Transfer) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO share_transfers (token, from_addr, to_addr, amount, block)
		VALUES ($1, $2, $3, $4, $5)`,
		t.Token.Hex(), t.From.Hex(), t.To.Hex(), t.Amount.String(), int64(t.Block),
	)
	if err != nil {
		return fmt.Errorf("append transfer: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Replay(ctx context.Context, fn func(shares.Transfer) error) error {
	rows, err := j.pool.Query(ctx, `
		SELECT token, from_addr, to_addr, amount, block
		FROM share_transfers ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("replay transfers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var token, from, to, amount string
		var block int64
		if err := rows.Scan(&token, &from, &to, &amount, &block); err != nil {
			return fmt.Errorf("scan transfer: %w", err)
		}
		amt, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return fmt.Errorf("corrupt transfer amount %q", amount)
		}
		t := shares.Transfer{
			Token:  common.HexToAddress(token),
			From:   common.HexToAddress(from),
			To:     common.HexToAddress(to),
			Amount: amt,
			Block:  uint64(block),
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return rows.Err()
}
