package outbound

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"
)

// RedisExecutor hands approved governance actions to the settlement engine.
// Same contract as payouts: an XAdd error means nothing was executed.
type RedisExecutor struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisExecutor(client *redis.Client, stream string, logger *slog.Logger) *RedisExecutor {
	return &RedisExecutor{client: client, stream: stream, logger: logger}
}

func (e *RedisExecutor) Execute(ctx context.Context, target common.Address, data []byte, value *big.Int) error {
	err := e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		MaxLen: 100_000,
		Approx: true,
		Values: map[string]any{
			"target": target.Hex(),
			"data":   hexutil.Encode(data),
			"value":  value.String(),
		},
	}).Err()
	if err != nil {
		e.logger.ErrorContext(ctx, "execution handoff failed",
			"target", target.Hex(),
			"error", err,
		)
		return err
	}
	return nil
}

// Execution is one recorded governance action.
type Execution struct {
	Target common.Address
	Data   []byte
	Value  *big.Int
}

// MemoryExecutor records executions for redis-less deployments and tests.
type MemoryExecutor struct {
	mu         sync.Mutex
	executions []Execution
	nextErr    error
}

func NewMemoryExecutor() *MemoryExecutor {
	return &MemoryExecutor{}
}

func (e *MemoryExecutor) Execute(_ context.Context, target common.Address, data []byte, value *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextErr != nil {
		err := e.nextErr
		e.nextErr = nil
		return err
	}
	rec := Execution{Target: target, Data: append([]byte(nil), data...), Value: new(big.Int).Set(value)}
	e.executions = append(e.executions, rec)
	return nil
}

// FailNext makes the next Execute return err.
func (e *MemoryExecutor) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextErr = err
}

// Executions returns a copy of everything recorded so far.
func (e *MemoryExecutor) Executions() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Execution, len(e.executions))
	copy(out, e.executions)
	return out
}
