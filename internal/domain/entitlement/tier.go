package entitlement

import (
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// CapPolicy defines what happens when consumption reaches a resource limit
type CapPolicy string

const (
	// CapPolicyHard blocks further consumption once the limit is reached
	CapPolicyHard CapPolicy = "HARD"

	// CapPolicySoft permits continued consumption billed as overage
	CapPolicySoft CapPolicy = "SOFT"

	// CapPolicyUnlimited never blocks and never bills overage
	CapPolicyUnlimited CapPolicy = "UNLIMITED"
)

// String returns the string representation of CapPolicy
func (p CapPolicy) String() string {
	return string(p)
}

// IsValid returns true if the cap policy is valid
func (p CapPolicy) IsValid() bool {
	switch p {
	case CapPolicyHard, CapPolicySoft, CapPolicyUnlimited:
		return true
	}
	return false
}

// FeeBand is a single band of a progressive overage fee schedule.
// ThresholdFraction is expressed relative to the resource limit (1.0 = the
// limit itself); the band prices units from its own threshold up to the next
// band's threshold, and the last band is open-ended.
type FeeBand struct {
	ThresholdFraction decimal.Decimal `mapstructure:"threshold_fraction"`
	FeePerUnit        decimal.Decimal `mapstructure:"fee_per_unit"`
}

// ResourceLimit defines the entitlement for a single resource type within a tier
type ResourceLimit struct {
	Resource    ResourceType `mapstructure:"resource"`
	CapPolicy   CapPolicy    `mapstructure:"cap_policy"`
	Limit       int64        `mapstructure:"limit"`
	FeeSchedule []FeeBand    `mapstructure:"fee_schedule"`
}

// Validate checks the resource limit for internal consistency
func (l *ResourceLimit) Validate() error {
	if !l.Resource.IsValid() {
		return shared.NewDomainError("INVALID_RESOURCE_TYPE", "Invalid resource type: "+string(l.Resource))
	}
	if !l.CapPolicy.IsValid() {
		return shared.NewDomainError("INVALID_CAP_POLICY", "Invalid cap policy: "+string(l.CapPolicy))
	}
	if l.CapPolicy != CapPolicyUnlimited && l.Limit < 0 {
		return shared.NewDomainError("INVALID_LIMIT", "Limit must be non-negative for capped resources")
	}
	if l.CapPolicy != CapPolicySoft && len(l.FeeSchedule) > 0 {
		return shared.NewDomainError("INVALID_FEE_SCHEDULE", "Fee schedules only apply to SOFT-capped resources")
	}
	one := decimal.NewFromInt(1)
	prev := decimal.Decimal{}
	for i, band := range l.FeeSchedule {
		if band.ThresholdFraction.LessThan(one) {
			return shared.NewDomainError("INVALID_FEE_SCHEDULE", "Fee band thresholds must be at or beyond the limit (fraction >= 1.0)")
		}
		if i > 0 && !band.ThresholdFraction.GreaterThan(prev) {
			return shared.NewDomainError("INVALID_FEE_SCHEDULE", "Fee band thresholds must be strictly increasing")
		}
		if band.FeePerUnit.IsNegative() {
			return shared.NewDomainError("INVALID_FEE_SCHEDULE", "Fee per unit cannot be negative")
		}
		prev = band.ThresholdFraction
	}
	return nil
}

// IsUnlimited returns true if the resource has no effective cap
func (l *ResourceLimit) IsUnlimited() bool {
	return l.CapPolicy == CapPolicyUnlimited
}

// Tier is an immutable, versioned bundle of per-resource entitlements.
// A published tier is never mutated: any change is released under a new ID
// (e.g. "pro-v2"), so decisions pinned to a tier ID stay stable for the
// lifetime of the reservations and periods that reference it.
type Tier struct {
	ID        string          `mapstructure:"id"`
	Name      string          `mapstructure:"name"`
	TrialDays int             `mapstructure:"trial_days"`
	Limits    []ResourceLimit `mapstructure:"limits"`
}

// Validate checks the tier definition for internal consistency
func (t *Tier) Validate() error {
	if t.ID == "" {
		return shared.NewDomainError("INVALID_TIER", "Tier ID cannot be empty")
	}
	if t.Name == "" {
		return shared.NewDomainError("INVALID_TIER", "Tier name cannot be empty")
	}
	if t.TrialDays < 0 {
		return shared.NewDomainError("INVALID_TIER", "Trial duration cannot be negative")
	}
	seen := make(map[ResourceType]bool, len(t.Limits))
	for i := range t.Limits {
		limit := &t.Limits[i]
		if err := limit.Validate(); err != nil {
			return err
		}
		if seen[limit.Resource] {
			return shared.NewDomainError("INVALID_TIER", "Duplicate resource limit for "+string(limit.Resource))
		}
		seen[limit.Resource] = true
	}
	return nil
}

// LimitFor returns the limit definition for a resource type, if the tier has one
func (t *Tier) LimitFor(resource ResourceType) (*ResourceLimit, bool) {
	for i := range t.Limits {
		if t.Limits[i].Resource == resource {
			return &t.Limits[i], true
		}
	}
	return nil, false
}

// HasTrial returns true if the tier grants a trial period
func (t *Tier) HasTrial() bool {
	return t.TrialDays > 0
}

// TierResolver resolves immutable tier snapshots by ID. Implemented by the
// configuration-backed catalog; the engine never writes tier definitions.
type TierResolver interface {
	// Resolve returns the tier for the given ID, or shared.ErrNotFound
	Resolve(tierID string) (*Tier, error)

	// FreeTier returns the catalog's designated free tier, used as the
	// fallback entitlement for subscriptions that are not active
	FreeTier() (*Tier, error)
}
