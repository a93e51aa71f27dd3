package ledger

import (
	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OverageCharge is the monetary liability for consumption beyond a SOFT-cap
// limit, computed once at period close and immutable afterwards. Records are
// handed off read-only to the invoicing system.
type OverageCharge struct {
	shared.BaseEntity
	UserID       uuid.UUID                `gorm:"type:uuid;not null;uniqueIndex:idx_overage_charge_key,priority:1"`
	Resource     entitlement.ResourceType `gorm:"type:varchar(40);not null;uniqueIndex:idx_overage_charge_key,priority:2"`
	PeriodKey    string                   `gorm:"type:varchar(32);not null;uniqueIndex:idx_overage_charge_key,priority:3"`
	TierID       string                   `gorm:"type:varchar(64);not null"`
	OverageUnits int64                    `gorm:"not null"`
	FeeAmount    decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (OverageCharge) TableName() string {
	return "overage_charges"
}

// ComputeOverageCharge converts committed consumption beyond a SOFT-cap
// limit into a charge using the tier's progressive fee schedule. Bands are
// evaluated in ascending threshold order; each band prices the units between
// its own threshold and the next band's, and the final band's rate applies
// to everything beyond it. Returns nil when no charge applies.
func ComputeOverageCharge(
	userID uuid.UUID,
	resource entitlement.ResourceType,
	periodKey, tierID string,
	committed int64,
	limit *entitlement.ResourceLimit,
) (*OverageCharge, error) {
	if limit.CapPolicy != entitlement.CapPolicySoft {
		return nil, nil
	}
	overageUnits := committed - limit.Limit
	if overageUnits <= 0 {
		return nil, nil
	}
	if len(limit.FeeSchedule) == 0 {
		return nil, shared.NewDomainError("INVALID_FEE_SCHEDULE", "Soft-capped resource has no fee schedule")
	}

	limitD := decimal.NewFromInt(limit.Limit)
	committedD := decimal.NewFromInt(committed)

	fee := decimal.Zero
	for i, band := range limit.FeeSchedule {
		lower := limitD.Mul(band.ThresholdFraction)
		if lower.LessThan(limitD) {
			lower = limitD
		}
		upper := committedD
		if i+1 < len(limit.FeeSchedule) {
			next := limitD.Mul(limit.FeeSchedule[i+1].ThresholdFraction)
			if next.LessThan(upper) {
				upper = next
			}
		}
		if upper.GreaterThan(lower) {
			fee = fee.Add(upper.Sub(lower).Mul(band.FeePerUnit))
		}
	}

	return &OverageCharge{
		BaseEntity:   shared.NewBaseEntity(),
		UserID:       userID,
		Resource:     resource,
		PeriodKey:    periodKey,
		TierID:       tierID,
		OverageUnits: overageUnits,
		FeeAmount:    fee.Round(4),
	}, nil
}
