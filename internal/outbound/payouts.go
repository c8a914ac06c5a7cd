// Package outbound holds the adapters behind which money actually moves:
// rent payouts and queued governance executions are handed to an
// off-process settlement engine over redis streams. The accounting core
// treats a rejected handoff as "no funds moved" and rolls back.
package outbound

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// RedisPayouts publishes payout instructions to a redis stream. The XAdd is
// synchronous: if redis rejects the entry the claim that triggered it is
// rolled back by the caller.
type RedisPayouts struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisPayouts(client *redis.Client, stream string, logger *slog.Logger) *RedisPayouts {
	return &RedisPayouts{client: client, stream: stream, logger: logger}
}

func (p *RedisPayouts) Transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 100_000,
		Approx: true,
		Values: map[string]any{
			"asset":  asset.Hex(),
			"to":     to.Hex(),
			"amount": amount.String(),
		},
	}).Err()
	if err != nil {
		p.logger.ErrorContext(ctx, "payout handoff failed",
			"asset", asset.Hex(),
			"to", to.Hex(),
			"error", err,
		)
		return err
	}
	return nil
}

// Payout is one recorded transfer instruction.
type Payout struct {
	Asset  common.Address
	To     common.Address
	Amount *big.Int
}

// MemoryPayouts records payouts in memory. It backs redis-less deployments
// and tests; FailNext forces the next transfer to fail without recording.
type MemoryPayouts struct {
	mu      sync.Mutex
	payouts []Payout
	nextErr error
}

func NewMemoryPayouts() *MemoryPayouts {
	return &MemoryPayouts{}
}

func (p *MemoryPayouts) Transfer(_ context.Context, asset, to common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nextErr != nil {
		err := p.nextErr
		p.nextErr = nil
		return err
	}
	p.payouts = append(p.payouts, Payout{Asset: asset, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// FailNext makes the next Transfer return err.
func (p *MemoryPayouts) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextErr = err
}

// Payouts returns a copy of everything recorded so far.
func (p *MemoryPayouts) Payouts() []Payout {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Payout, len(p.payouts))
	copy(out, p.payouts)
	return out
}
