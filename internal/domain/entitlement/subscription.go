package entitlement

import (
	"time"

	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// SubscriptionStatus represents the lifecycle state of a subscription
type SubscriptionStatus string

const (
	// StatusTrialing grants the tier's limits until the trial ends
	StatusTrialing SubscriptionStatus = "TRIALING"

	// StatusActive is a paid subscription in good standing
	StatusActive SubscriptionStatus = "ACTIVE"

	// StatusPastDue marks a failed renewal; metered actions fall back to free-tier limits
	StatusPastDue SubscriptionStatus = "PAST_DUE"

	// StatusCanceled is terminal; metered actions fall back to free-tier limits
	StatusCanceled SubscriptionStatus = "CANCELED"
)

// String returns the string representation of SubscriptionStatus
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is valid
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// Subscription binds a user to a tier for recurring billing periods.
// There is exactly one subscription per user; status transitions are the
// only writer of TierID.
type Subscription struct {
	shared.BaseAggregateRoot
	UserID             uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex"`
	TierID             string             `gorm:"type:varchar(64);not null"`
	Status             SubscriptionStatus `gorm:"type:varchar(20);not null"`
	TrialEndsAt        *time.Time
	CurrentPeriodStart time.Time `gorm:"not null"`
	CurrentPeriodEnd   time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}

// NewSubscription creates a subscription at signup. If the tier grants a
// trial the subscription starts TRIALING, otherwise it starts ACTIVE.
func NewSubscription(userID uuid.UUID, tier *Tier, now time.Time) (*Subscription, error) {
	if userID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	if tier == nil {
		return nil, shared.NewDomainError("TIER_NOT_FOUND", "Tier is required")
	}

	sub := &Subscription{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(),
		UserID:             userID,
		TierID:             tier.ID,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if tier.HasTrial() {
		trialEnd := now.AddDate(0, 0, tier.TrialDays)
		sub.Status = StatusTrialing
		sub.TrialEndsAt = &trialEnd
	}
	return sub, nil
}

// PeriodKey returns the stable identifier of the current billing period.
// It is derived from the period start so that a period keeps the same key
// across process restarts and ledger rows can be keyed on it.
func (s *Subscription) PeriodKey() string {
	return PeriodKeyFor(s.CurrentPeriodStart)
}

// PeriodKeyFor derives the period key for a given period start time
func PeriodKeyFor(periodStart time.Time) string {
	return periodStart.UTC().Format("20060102T150405")
}

// IsTrialExpired returns true if the subscription is TRIALING past its trial end
func (s *Subscription) IsTrialExpired(now time.Time) bool {
	return s.Status == StatusTrialing && s.TrialEndsAt != nil && now.After(*s.TrialEndsAt)
}

// IsEntitled returns true if the subscription grants its tier's limits right now
func (s *Subscription) IsEntitled(now time.Time) bool {
	switch s.Status {
	case StatusActive:
		return true
	case StatusTrialing:
		return !s.IsTrialExpired(now)
	}
	return false
}

// Activate transitions to ACTIVE on successful payment or trial conversion
func (s *Subscription) Activate() error {
	if s.Status == StatusCanceled {
		return shared.NewDomainError("INVALID_STATE", "Canceled subscriptions cannot be reactivated")
	}
	s.Status = StatusActive
	s.TrialEndsAt = nil
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
	return nil
}

// MarkPastDue transitions to PAST_DUE on a failed renewal
func (s *Subscription) MarkPastDue() error {
	if s.Status != StatusActive {
		return shared.NewDomainError("INVALID_STATE", "Only active subscriptions can become past due")
	}
	s.Status = StatusPastDue
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
	return nil
}

// Cancel transitions to CANCELED on explicit cancellation or terminal payment failure
func (s *Subscription) Cancel() error {
	if s.Status == StatusCanceled {
		return shared.NewDomainError("INVALID_STATE", "Subscription is already canceled")
	}
	s.Status = StatusCanceled
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
	return nil
}

// ChangeTier re-points the subscription at a new tier effective immediately.
// New reservations see the new limits instantly; usage already committed in
// the current period is never retroactively denied.
func (s *Subscription) ChangeTier(tierID string) error {
	if tierID == "" {
		return shared.NewDomainError("TIER_NOT_FOUND", "Tier ID cannot be empty")
	}
	if s.Status == StatusCanceled {
		return shared.NewDomainError("INVALID_STATE", "Canceled subscriptions cannot change tier")
	}
	s.TierID = tierID
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
	return nil
}

// RollPeriod advances the billing period. The next period starts where the
// previous one ended so no usage recorded near the boundary is lost; if the
// process was down for more than a full period the window is advanced until
// it covers now.
func (s *Subscription) RollPeriod(now time.Time) {
	start := s.CurrentPeriodEnd
	end := start.AddDate(0, 1, 0)
	for !end.After(now) {
		start = end
		end = start.AddDate(0, 1, 0)
	}
	s.CurrentPeriodStart = start
	s.CurrentPeriodEnd = end
	s.UpdatedAt = time.Now()
	s.IncrementVersion()
}
