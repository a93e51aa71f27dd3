package ledger

import (
	"math"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// PeriodState represents the lifecycle of a counter's billing period
type PeriodState string

const (
	// PeriodOpen accepts reservations and settlement
	PeriodOpen PeriodState = "OPEN"

	// PeriodClosing rejects new reservations while outstanding ones drain
	PeriodClosing PeriodState = "CLOSING"

	// PeriodClosed is read-only; overage has been finalized
	PeriodClosed PeriodState = "CLOSED"
)

// String returns the string representation of PeriodState
func (s PeriodState) String() string {
	return string(s)
}

// UsageCounter is the durable per-user, per-resource, per-period ledger row.
// All admission and settlement flows through its Reserve/ApplyCommit/
// ApplyRelease methods; persistence uses version compare-and-swap so that a
// concurrent mutation forces a reload-and-retry rather than a lost update.
//
// Invariants: CommittedAmount is monotonically non-decreasing while the
// period is not CLOSED and never exceeds a HARD cap; ReservedAmount drains
// back to zero as outstanding reservations resolve.
type UsageCounter struct {
	shared.BaseAggregateRoot
	UserID           uuid.UUID                `gorm:"type:uuid;not null;uniqueIndex:idx_usage_counter_key,priority:1"`
	Resource         entitlement.ResourceType `gorm:"type:varchar(40);not null;uniqueIndex:idx_usage_counter_key,priority:2"`
	PeriodKey        string                   `gorm:"type:varchar(32);not null;uniqueIndex:idx_usage_counter_key,priority:3"`
	PeriodEnd        time.Time                `gorm:"not null;index"`
	ReservedAmount   int64                    `gorm:"not null;default:0"`
	CommittedAmount  int64                    `gorm:"not null;default:0"`
	State            PeriodState              `gorm:"type:varchar(16);not null;default:'OPEN'"`
	FlaggedForReview bool                     `gorm:"not null;default:false"` // committed usage exceeds a downgraded hard cap
}

// TableName returns the table name for GORM
func (UsageCounter) TableName() string {
	return "usage_counters"
}

// NewUsageCounter creates a zeroed counter for a billing period. Counters are
// created lazily on first use of a (user, resource, period) combination.
func NewUsageCounter(userID uuid.UUID, resource entitlement.ResourceType, periodKey string, periodEnd time.Time) (*UsageCounter, error) {
	if userID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	if !resource.IsValid() {
		return nil, shared.NewDomainError("INVALID_RESOURCE_TYPE", "Invalid resource type")
	}
	if periodKey == "" {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period key cannot be empty")
	}
	return &UsageCounter{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		UserID:            userID,
		Resource:          resource,
		PeriodKey:         periodKey,
		PeriodEnd:         periodEnd,
		State:             PeriodOpen,
	}, nil
}

// InFlight returns the total provisional plus confirmed consumption
func (c *UsageCounter) InFlight() int64 {
	return c.ReservedAmount + c.CommittedAmount
}

// Remaining returns the capacity left under the limit, or -1 for unlimited
func (c *UsageCounter) Remaining(limit *entitlement.ResourceLimit) int64 {
	if limit.IsUnlimited() {
		return -1
	}
	remaining := limit.Limit - c.InFlight()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reserve admits an estimated amount against the limit. For HARD caps the
// reservation is denied once committed+reserved+amount would exceed the
// limit; for SOFT caps it always succeeds but reports overLimit when it
// crosses the threshold; UNLIMITED always succeeds.
func (c *UsageCounter) Reserve(amount int64, limit *entitlement.ResourceLimit) (overLimit bool, err error) {
	if amount <= 0 {
		return false, shared.NewDomainError("INVALID_AMOUNT", "Reservation amount must be positive")
	}
	if amount > math.MaxInt64-c.InFlight() {
		// The sum below must not wrap past the cap check.
		return false, shared.NewDomainError("INVALID_AMOUNT", "Reservation amount overflows the usage counter")
	}
	if c.State != PeriodOpen {
		return false, ErrPeriodClosed
	}

	switch limit.CapPolicy {
	case entitlement.CapPolicyHard:
		if c.InFlight()+amount > limit.Limit {
			return false, ErrHardCapExceeded
		}
	case entitlement.CapPolicySoft:
		overLimit = c.InFlight()+amount > limit.Limit
	}

	c.ReservedAmount += amount
	c.touch()
	return overLimit, nil
}

// ApplyCommit settles a reservation: the estimate leaves the reserved pool
// and the actual amount joins the committed total. If the actual amount
// turned out larger than a HARD cap allows, only the headroom is accepted;
// the caller surfaces the rejected remainder as a partial commit.
func (c *UsageCounter) ApplyCommit(estimated, actual int64, limit *entitlement.ResourceLimit) (accepted int64, err error) {
	if actual < 0 {
		return 0, shared.NewDomainError("INVALID_AMOUNT", "Actual amount cannot be negative")
	}
	if c.State == PeriodClosed {
		return 0, ErrPeriodClosed
	}

	c.releaseReserved(estimated)

	accepted = actual
	if limit.CapPolicy == entitlement.CapPolicyHard {
		headroom := limit.Limit - c.CommittedAmount
		if headroom < 0 {
			headroom = 0
		}
		if accepted > headroom {
			accepted = headroom
		}
	}

	c.CommittedAmount += accepted
	c.touch()
	return accepted, nil
}

// ApplyRelease returns a reservation's estimate to the available pool. Safe
// in any period state so expired reservations can drain during close.
func (c *UsageCounter) ApplyRelease(estimated int64) {
	c.releaseReserved(estimated)
	c.touch()
}

// BeginClose moves the period to CLOSING, rejecting new reservations.
// Re-entrant: a close interrupted mid-way may call it again.
func (c *UsageCounter) BeginClose() error {
	switch c.State {
	case PeriodOpen:
		c.State = PeriodClosing
		c.touch()
		return nil
	case PeriodClosing:
		return nil
	}
	return shared.NewDomainError("INVALID_STATE", "Period is already closed")
}

// FinishClose seals the period read-only. Idempotent.
func (c *UsageCounter) FinishClose() {
	if c.State == PeriodClosed {
		return
	}
	c.State = PeriodClosed
	c.touch()
}

// FlagForReview marks grandfathered over-limit usage after a tier downgrade
// for the billing system to inspect
func (c *UsageCounter) FlagForReview() {
	if c.FlaggedForReview {
		return
	}
	c.FlaggedForReview = true
	c.touch()
}

func (c *UsageCounter) releaseReserved(amount int64) {
	c.ReservedAmount -= amount
	if c.ReservedAmount < 0 {
		c.ReservedAmount = 0
	}
}

func (c *UsageCounter) touch() {
	c.UpdatedAt = time.Now()
	c.IncrementVersion()
}
