package rent

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ShareLedger is the read-only view over the external share token the
// distributor weights by. WithSupply keeps transfers out for the duration of
// fn, so supply-derived updates see balances that still sum to the supply
// they were given. Implemented by internal/shares.Ledger.
type ShareLedger interface {
	BalanceOf(token, account common.Address) *big.Int
	WithSupply(token common.Address, fn func(supply *big.Int) error) error
}

// PaymentTransfer moves the payment asset to a claimant. The implementation
// is the external payment-asset collaborator; the distributor only requires
// that a returned error means no funds moved.
type PaymentTransfer interface {
	Transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error
}

// Store persists properties and per-account positions.
type Store interface {
	GetProperty(ctx context.Context, token common.Address) (Property, error)
	PutProperty(ctx context.Context, property Property) error
	ListProperties(ctx context.Context) ([]Property, error)
	GetPosition(ctx context.Context, token, account common.Address) (Position, error)
	PutPosition(ctx context.Context, position Position) error
}
