package eligibility

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Tier is a discrete identity-verification level. Ordering is significant:
// gates compare tiers numerically.
type Tier int

const (
	TierNone Tier = iota
	TierBasic
	TierStandard
	TierEnhanced
)

var tierNames = map[Tier]string{
	TierNone:     "NONE",
	TierBasic:    "BASIC",
	TierStandard: "STANDARD",
	TierEnhanced: "ENHANCED",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// IsValid reports whether t is a defined tier.
func (t Tier) IsValid() bool {
	_, ok := tierNames[t]
	return ok
}

// ParseTier maps a wire name onto a Tier.
func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return TierNone, fmt.Errorf("unknown tier %q", s)
}

// Record is the current verification state of one account. History is kept
// separately and never deleted; expiry is evaluated lazily at read time.
type Record struct {
	Account     common.Address
	Tier        Tier
	VerifiedAt  time.Time
	ExpiresAt   time.Time
	EvidenceRef string
}

// EffectiveTier returns the tier the record grants at the given instant.
// An expired record reverts to NONE without a storage write.
func (r Record) EffectiveTier(now time.Time) Tier {
	if r.Tier == TierNone {
		return TierNone
	}
	if !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt) {
		return TierNone
	}
	return r.Tier
}

// HistoryEntry is one tier transition, append-only.
type HistoryEntry struct {
	Account     common.Address
	FromTier    Tier
	ToTier      Tier
	EvidenceRef string
	ChangedAt   time.Time
}
