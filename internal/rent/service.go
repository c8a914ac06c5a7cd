package rent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"brickvault/internal/audit"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/requestcontext"
	"brickvault/pkg/sentinel"
	"brickvault/pkg/wad"
)

// Metrics is implemented by the prometheus metrics for this domain.
type Metrics interface {
	RentDeposited(token common.Address)
	RentClaimed(token common.Address)
}

// Service is the rent distributor: an O(1)-per-deposit, O(1)-per-claim
// reward-per-share accumulator over the share ledger.
//
// Lock ordering: the ledger's lock is always acquired before s.mu (the
// balance-change hook runs inside the ledger's write section). Methods here
// read the ledger before taking s.mu, or take s.mu inside a ledger-held
// section, and never call the ledger while holding s.mu.
type Service struct {
	store    Store
	ledger   ShareLedger
	payments PaymentTransfer
	auditor  audit.Emitter
	logger   *slog.Logger
	metrics  Metrics

	mu sync.Mutex
}

type Option func(*Service)

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, ledger ShareLedger, payments PaymentTransfer, auditor audit.Emitter, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("rent store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("share ledger is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment transfer port is required")
	}
	svc := &Service{
		store:    store,
		ledger:   ledger,
		payments: payments,
		auditor:  auditor,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RegisterProperty creates the distribution subject for a property token.
// Admin only. Re-registering an existing token is a conflict; deactivated
// properties are reactivated instead of re-registered.
func (s *Service) RegisterProperty(ctx context.Context, token, paymentAsset common.Address) (Property, error) {
	if !requestcontext.HasRole(ctx, requestcontext.RoleAdmin) {
		return Property{}, domerrors.New(domerrors.CodeUnauthorized, "caller lacks admin role")
	}
	if token == (common.Address{}) || paymentAsset == (common.Address{}) {
		return Property{}, domerrors.New(domerrors.CodeValidation, "token and payment asset are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.GetProperty(ctx, token)
	if err == nil {
		return Property{}, domerrors.New(domerrors.CodeConflict, "property already registered")
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Property{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load property")
	}

	now := requestcontext.Now(ctx)
	property := Property{
		Token:             token,
		PaymentAsset:      paymentAsset,
		TotalDistributed:  new(big.Int),
		AccRewardPerShare: new(big.Int),
		Active:            true,
		RegisteredAt:      now,
	}
	if err := s.store.PutProperty(ctx, property); err != nil {
		return Property{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist property")
	}

	s.emit(ctx, audit.ActionPropertyRegistered, token, map[string]string{
		"payment_asset": paymentAsset.Hex(),
	})
	s.logger.InfoContext(ctx, "property registered", "token", token.Hex(), "payment_asset", paymentAsset.Hex())
	return property, nil
}

// SetPropertyActive soft-activates or soft-deactivates a property. Admin
// only. Deactivation stops deposits; accrued rent remains claimable.
func (s *Service) SetPropertyActive(ctx context.Context, token common.Address, active bool) (Property, error) {
	if !requestcontext.HasRole(ctx, requestcontext.RoleAdmin) {
		return Property{}, domerrors.New(domerrors.CodeUnauthorized, "caller lacks admin role")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	property, err := s.loadProperty(ctx, token)
	if err != nil {
		return Property{}, err
	}
	if property.Active == active {
		return Property{}, domerrors.New(domerrors.CodeInvalidState, "property already in requested state")
	}
	property.Active = active
	if err := s.store.PutProperty(ctx, property); err != nil {
		return Property{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist property")
	}

	action := audit.ActionPropertyDeactivated
	if active {
		action = audit.ActionPropertyReactivated
	}
	s.emit(ctx, action, token, nil)
	return property, nil
}

// DepositRent credits a rent payment to all current holders by advancing the
// accumulator: acc += amount * 1e18 / totalShares. Rent-collector role only.
// A deposit against zero outstanding shares is rejected, not absorbed: there
// is no holder to credit and the funds would be stranded.
func (s *Service) DepositRent(ctx context.Context, token common.Address, amount *big.Int) (Property, error) {
	if !requestcontext.HasRole(ctx, requestcontext.RoleRentCollector) {
		return Property{}, domerrors.New(domerrors.CodeUnauthorized, "caller lacks rent collector role")
	}
	if !wad.IsPositive(amount) {
		return Property{}, domerrors.New(domerrors.CodeZeroAmount, "deposit amount must be positive")
	}

	var property Property
	var supplyUsed *big.Int
	// The supply stays held for the whole accumulator update: a transfer
	// interleaving between the supply read and the write would rebase its
	// holders against the old accumulator while the deposit divides by a
	// supply the balances no longer sum to, over-crediting the pot.
	err := s.ledger.WithSupply(token, func(supply *big.Int) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		var err error
		property, err = s.loadProperty(ctx, token)
		if err != nil {
			return err
		}
		if !property.Active {
			return domerrors.New(domerrors.CodeInvalidState, "property is deactivated")
		}
		if supply.Sign() == 0 {
			return domerrors.New(domerrors.CodeZeroShares, "no shares outstanding to credit")
		}

		now := requestcontext.Now(ctx)
		property.AccRewardPerShare = new(big.Int).Add(property.AccRewardPerShare, wad.Div(amount, supply))
		property.TotalDistributed = new(big.Int).Add(property.TotalDistributed, amount)
		property.LastDistributionTime = now

		if err := s.store.PutProperty(ctx, property); err != nil {
			return domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist deposit")
		}
		supplyUsed = supply
		return nil
	})
	if err != nil {
		return Property{}, err
	}

	if s.metrics != nil {
		s.metrics.RentDeposited(token)
	}
	s.emit(ctx, audit.ActionRentDeposited, token, map[string]string{
		"amount": amount.String(),
		"supply": supplyUsed.String(),
	})
	s.logger.InfoContext(ctx, "rent deposited",
		"token", token.Hex(),
		"amount", amount.String(),
		"total_distributed", property.TotalDistributed.String(),
	)
	return property, nil
}

// PendingRent is the pure view of what the account could claim right now.
func (s *Service) PendingRent(ctx context.Context, account, token common.Address) (*big.Int, error) {
	balance := s.ledger.BalanceOf(token, account)

	property, err := s.loadProperty(ctx, token)
	if err != nil {
		return nil, err
	}
	position, err := s.loadPosition(ctx, token, account)
	if err != nil {
		return nil, err
	}
	return pendingOf(property, position, balance), nil
}

// ClaimRent settles and pays out the caller's accrued rent for one property.
// A zero-pending claim succeeds with a zero amount (idempotent). Position
// state is updated before the external payout; a failed payout restores the
// prior position so no entitlement is lost.
func (s *Service) ClaimRent(ctx context.Context, token common.Address) (Claim, error) {
	caller := requestcontext.Caller(ctx)
	if caller == (common.Address{}) {
		return Claim{}, domerrors.New(domerrors.CodeUnauthorized, "authentication required")
	}

	balance := s.ledger.BalanceOf(token, caller)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimLocked(ctx, caller, token, balance)
}

// ClaimAllRent claims across several properties. Each property settles
// atomically and finally on its own; the first failure stops the sweep and
// returns the claims already settled alongside the error.
func (s *Service) ClaimAllRent(ctx context.Context, tokens []common.Address) ([]Claim, error) {
	caller := requestcontext.Caller(ctx)
	if caller == (common.Address{}) {
		return nil, domerrors.New(domerrors.CodeUnauthorized, "authentication required")
	}
	if len(tokens) == 0 {
		return nil, domerrors.New(domerrors.CodeValidation, "at least one property token is required")
	}

	balances := make(map[common.Address]*big.Int, len(tokens))
	for _, token := range tokens {
		balances[token] = s.ledger.BalanceOf(token, caller)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claims := make([]Claim, 0, len(tokens))
	for _, token := range tokens {
		claim, err := s.claimLocked(ctx, caller, token, balances[token])
		if err != nil {
			return claims, err
		}
		claims = append(claims, claim)
	}
	return claims, nil
}

// PositionOf returns the stored position for display surfaces.
func (s *Service) PositionOf(ctx context.Context, account, token common.Address) (Position, error) {
	if _, err := s.loadProperty(ctx, token); err != nil {
		return Position{}, err
	}
	return s.loadPosition(ctx, token, account)
}

// GetProperty returns the distribution state of one property.
func (s *Service) GetProperty(ctx context.Context, token common.Address) (Property, error) {
	return s.loadProperty(ctx, token)
}

// ListProperties returns every registered property, active or not.
func (s *Service) ListProperties(ctx context.Context) ([]Property, error) {
	properties, err := s.store.ListProperties(ctx)
	if err != nil {
		return nil, domerrors.Wrap(err, domerrors.CodeInternal, "failed to list properties")
	}
	return properties, nil
}

// OnBalanceChange implements shares.BalanceHook. It settles the account's
// accrued rent against its pre-transfer balance and re-bases the reward debt
// before the ledger mutates the balance. Without this, transferring shares
// after a deposit but before a claim would steal or forfeit rent.
func (s *Service) OnBalanceChange(ctx context.Context, token, account common.Address, oldBalance *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	property, err := s.store.GetProperty(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		// Token not registered for distribution; nothing to settle.
		return nil
	}
	if err != nil {
		return domerrors.Wrap(err, domerrors.CodeInternal, "failed to load property for settlement")
	}

	position, err := s.loadPosition(ctx, token, account)
	if err != nil {
		return err
	}

	accrued := wad.MulDown(oldBalance, new(big.Int).Sub(property.AccRewardPerShare, position.RewardDebt))
	position.PendingAtLastSync = new(big.Int).Add(position.PendingAtLastSync, accrued)
	position.RewardDebt = new(big.Int).Set(property.AccRewardPerShare)

	if err := s.store.PutPosition(ctx, position); err != nil {
		return domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist settlement")
	}
	return nil
}

// claimLocked performs the settle-then-pay sequence for one property. Caller
// holds s.mu and has read the balance before locking.
func (s *Service) claimLocked(ctx context.Context, caller, token common.Address, balance *big.Int) (Claim, error) {
	property, err := s.loadProperty(ctx, token)
	if err != nil {
		return Claim{}, err
	}

	position, err := s.loadPosition(ctx, token, caller)
	if err != nil {
		return Claim{}, err
	}

	now := requestcontext.Now(ctx)
	pending := pendingOf(property, position, balance)
	if pending.Sign() == 0 {
		// Nothing accrued since the last sync; claiming twice never reverts.
		return Claim{Token: token, PaymentAsset: property.PaymentAsset, Amount: new(big.Int), ClaimedAt: now}, nil
	}

	prior := position.clone()
	position.RewardDebt = new(big.Int).Set(property.AccRewardPerShare)
	position.PendingAtLastSync = new(big.Int)
	position.LastClaimTime = now
	position.TotalClaimed = new(big.Int).Add(position.TotalClaimed, pending)

	// Effects before interaction: the position is settled before the asset
	// moves, so a reentrant claim observes zero pending.
	if err := s.store.PutPosition(ctx, position); err != nil {
		return Claim{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist claim settlement")
	}

	if err := s.payments.Transfer(ctx, property.PaymentAsset, caller, pending); err != nil {
		if rbErr := s.store.PutPosition(ctx, prior); rbErr != nil {
			s.logger.ErrorContext(ctx, "claim rollback failed",
				"token", token.Hex(),
				"account", caller.Hex(),
				"error", rbErr,
			)
		}
		return Claim{}, domerrors.Wrap(err, domerrors.CodeInternal, "payment transfer failed")
	}

	if s.metrics != nil {
		s.metrics.RentClaimed(token)
	}
	s.emit(ctx, audit.ActionRentClaimed, token, map[string]string{
		"account": caller.Hex(),
		"amount":  pending.String(),
	})
	s.logger.InfoContext(ctx, "rent claimed",
		"token", token.Hex(),
		"account", caller.Hex(),
		"amount", pending.String(),
	)
	return Claim{Token: token, PaymentAsset: property.PaymentAsset, Amount: pending, ClaimedAt: now}, nil
}

func (s *Service) loadProperty(ctx context.Context, token common.Address) (Property, error) {
	property, err := s.store.GetProperty(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return Property{}, domerrors.New(domerrors.CodeNotFound, "property not registered")
	}
	if err != nil {
		return Property{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load property")
	}
	return property, nil
}

func (s *Service) loadPosition(ctx context.Context, token, account common.Address) (Position, error) {
	position, err := s.store.GetPosition(ctx, token, account)
	if errors.Is(err, sentinel.ErrNotFound) {
		return newPosition(account, token), nil
	}
	if err != nil {
		return Position{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load position")
	}
	return position, nil
}

func (s *Service) emit(ctx context.Context, action string, token common.Address, detail map[string]string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		Actor:   requestcontext.Caller(ctx),
		Action:  action,
		Subject: token.Hex(),
		Detail:  detail,
	})
}

// pendingOf computes balance*(acc-debt)/1e18 + pendingAtLastSync.
func pendingOf(property Property, position Position, balance *big.Int) *big.Int {
	delta := new(big.Int).Sub(property.AccRewardPerShare, position.RewardDebt)
	return new(big.Int).Add(wad.MulDown(balance, delta), position.PendingAtLastSync)
}
