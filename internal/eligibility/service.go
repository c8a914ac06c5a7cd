package eligibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"brickvault/internal/audit"
	"brickvault/pkg/domerrors"
	"brickvault/pkg/requestcontext"
	"brickvault/pkg/sentinel"
)

// Store persists eligibility records and their transition history. Writes of
// record plus history entry are atomic.
type Store interface {
	Get(ctx context.Context, account common.Address) (Record, error)
	Put(ctx context.Context, record Record, entry HistoryEntry) error
	History(ctx context.Context, account common.Address) ([]HistoryEntry, error)
}

// Metrics is implemented by the prometheus metrics for this domain.
type Metrics interface {
	TierChanged(to Tier)
}

// Service is the eligibility gate: it maps accounts to verification tiers
// and is consulted by the registry, distributor, and governance surfaces.
type Service struct {
	store   Store
	auditor audit.Emitter
	logger  *slog.Logger
	metrics Metrics
	ttl     map[Tier]time.Duration
}

type Option func(*Service)

// WithTierTTL overrides the validity window granted on attestation of a tier.
func WithTierTTL(ttl map[Tier]time.Duration) Option {
	return func(s *Service) {
		for t, d := range ttl {
			s.ttl[t] = d
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, auditor audit.Emitter, logger *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("eligibility store is required")
	}
	svc := &Service{
		store:   store,
		auditor: auditor,
		logger:  logger,
		ttl: map[Tier]time.Duration{
			TierBasic:    365 * 24 * time.Hour,
			TierStandard: 365 * 24 * time.Hour,
			TierEnhanced: 180 * 24 * time.Hour,
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TierOf returns the account's effective tier at request time. Unknown
// accounts are NONE; expired records are NONE without a storage write.
func (s *Service) TierOf(ctx context.Context, account common.Address) (Tier, error) {
	record, err := s.store.Get(ctx, account)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return TierNone, nil
		}
		return TierNone, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load eligibility record")
	}
	return record.EffectiveTier(requestcontext.Now(ctx)), nil
}

// IsAtLeast reports whether the account's effective tier meets the floor.
func (s *Service) IsAtLeast(ctx context.Context, account common.Address, tier Tier) (bool, error) {
	current, err := s.TierOf(ctx, account)
	if err != nil {
		return false, err
	}
	return current >= tier, nil
}

// SetTier records a new attestation from the verification oracle. Elevation
// proceeds one tier at a time relative to the effective tier; the oracle is
// responsible for having checked the intermediate evidence before each step.
// Demotion to any lower tier (including NONE) is always allowed. Re-attesting
// the current tier refreshes the validity window.
func (s *Service) SetTier(ctx context.Context, account common.Address, tier Tier, evidenceRef string) (Record, error) {
	if !requestcontext.HasRole(ctx, requestcontext.RoleOracle) {
		return Record{}, domerrors.New(domerrors.CodeUnauthorized, "caller lacks oracle role")
	}
	if !tier.IsValid() {
		return Record{}, domerrors.New(domerrors.CodeValidation, "unknown tier")
	}
	if account == (common.Address{}) {
		return Record{}, domerrors.New(domerrors.CodeValidation, "account is required")
	}

	now := requestcontext.Now(ctx)

	current := TierNone
	record, err := s.store.Get(ctx, account)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return Record{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load eligibility record")
	}
	if err == nil {
		current = record.EffectiveTier(now)
	}

	if tier > current && tier != current+1 {
		return Record{}, domerrors.Newf(domerrors.CodeInvalidState,
			"cannot elevate from %s to %s without intermediate attestation", current, tier)
	}

	updated := Record{
		Account:     account,
		Tier:        tier,
		VerifiedAt:  now,
		EvidenceRef: evidenceRef,
	}
	if ttl, ok := s.ttl[tier]; ok && tier != TierNone {
		updated.ExpiresAt = now.Add(ttl)
	}

	entry := HistoryEntry{
		Account:     account,
		FromTier:    current,
		ToTier:      tier,
		EvidenceRef: evidenceRef,
		ChangedAt:   now,
	}
	if err := s.store.Put(ctx, updated, entry); err != nil {
		return Record{}, domerrors.Wrap(err, domerrors.CodeInternal, "failed to persist eligibility record")
	}

	if s.metrics != nil {
		s.metrics.TierChanged(tier)
	}
	s.emitAudit(ctx, account, current, tier, evidenceRef)

	s.logger.InfoContext(ctx, "tier updated",
		"account", account.Hex(),
		"from", current.String(),
		"to", tier.String(),
	)
	return updated, nil
}

// History lists every transition recorded for an account, oldest first.
func (s *Service) History(ctx context.Context, account common.Address) ([]HistoryEntry, error) {
	entries, err := s.store.History(ctx, account)
	if err != nil {
		return nil, domerrors.Wrap(err, domerrors.CodeInternal, "failed to load eligibility history")
	}
	return entries, nil
}

func (s *Service) emitAudit(ctx context.Context, account common.Address, from, to Tier, evidenceRef string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, audit.Event{
		Actor:   requestcontext.Caller(ctx),
		Action:  audit.ActionTierChanged,
		Subject: account.Hex(),
		Detail: map[string]string{
			"from":         from.String(),
			"to":           to.String(),
			"evidence_ref": evidenceRef,
		},
	})
}
