package ledger

import (
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ReservationState represents the lifecycle state of a reservation
type ReservationState string

const (
	// ReservationOpen is held by the caller while the gated work runs
	ReservationOpen ReservationState = "OPEN"

	// ReservationCommitted settled with an actual amount
	ReservationCommitted ReservationState = "COMMITTED"

	// ReservationReleased was cancelled by the caller
	ReservationReleased ReservationState = "RELEASED"

	// ReservationExpired timed out without settlement; its estimate returned
	// to the available pool
	ReservationExpired ReservationState = "EXPIRED"
)

// String returns the string representation of ReservationState
func (s ReservationState) String() string {
	return string(s)
}

// IsTerminal returns true once the reservation has resolved
func (s ReservationState) IsTerminal() bool {
	return s != ReservationOpen
}

// Reservation is a provisional, time-bounded claim on quota pending
// settlement. Its ID doubles as the token handed to the caller. Exactly one
// terminal transition (commit, release or expire) is permitted.
type Reservation struct {
	shared.BaseEntity
	UserID          uuid.UUID                `gorm:"type:uuid;not null;index:idx_reservation_counter"`
	Resource        entitlement.ResourceType `gorm:"type:varchar(40);not null;index:idx_reservation_counter"`
	PeriodKey       string                   `gorm:"type:varchar(32);not null;index:idx_reservation_counter"`
	TierID          string                   `gorm:"type:varchar(64);not null"` // tier pinned at admission time
	EstimatedAmount int64                    `gorm:"not null"`
	OverLimit       bool                     `gorm:"not null;default:false"` // soft-cap reservation admitted beyond the limit
	ExpiresAt       time.Time                `gorm:"not null;index"`
	State           ReservationState         `gorm:"type:varchar(16);not null;default:'OPEN'"`
	ResolvedAt      *time.Time
}

// TableName returns the table name for GORM
func (Reservation) TableName() string {
	return "quota_reservations"
}

// NewReservation creates an open reservation expiring after ttl
func NewReservation(
	userID uuid.UUID,
	resource entitlement.ResourceType,
	periodKey, tierID string,
	estimatedAmount int64,
	ttl time.Duration,
) *Reservation {
	r := &Reservation{
		BaseEntity:      shared.NewBaseEntity(),
		UserID:          userID,
		Resource:        resource,
		PeriodKey:       periodKey,
		TierID:          tierID,
		EstimatedAmount: estimatedAmount,
		State:           ReservationOpen,
	}
	r.ExpiresAt = r.CreatedAt.Add(ttl)
	return r
}

// Token returns the opaque token the caller uses to settle the reservation
func (r *Reservation) Token() uuid.UUID {
	return r.ID
}

// IsExpired returns true if the reservation's expiry has passed
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Commit marks the reservation settled. Only an OPEN reservation may commit.
func (r *Reservation) Commit() error {
	if r.State != ReservationOpen {
		return shared.NewDomainError("INVALID_STATE", "Reservation already resolved as "+string(r.State))
	}
	r.resolve(ReservationCommitted)
	return nil
}

// Release marks the reservation cancelled. Only an OPEN reservation may
// release; callers treat releasing an already-resolved token as a no-op.
func (r *Reservation) Release() error {
	if r.State != ReservationOpen {
		return shared.NewDomainError("INVALID_STATE", "Reservation already resolved as "+string(r.State))
	}
	r.resolve(ReservationReleased)
	return nil
}

// Expire marks the reservation timed out. Only an OPEN reservation may expire.
func (r *Reservation) Expire() error {
	if r.State != ReservationOpen {
		return shared.NewDomainError("INVALID_STATE", "Reservation already resolved as "+string(r.State))
	}
	r.resolve(ReservationExpired)
	return nil
}

func (r *Reservation) resolve(state ReservationState) {
	now := time.Now()
	r.State = state
	r.ResolvedAt = &now
	r.UpdatedAt = now
}
