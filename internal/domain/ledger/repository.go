package ledger

import (
	"context"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/google/uuid"
)

// UsageCounterRepository defines persistence for usage counters. Mutations
// go through SaveWithLock so that two concurrent writers on the same counter
// key can never both win.
type UsageCounterRepository interface {
	// FindOrCreate returns the counter for the key, creating a zeroed OPEN
	// counter if none exists yet
	FindOrCreate(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string, periodEnd time.Time) (*UsageCounter, error)

	// FindByKey retrieves a counter by its composite key, or shared.ErrNotFound
	FindByKey(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) (*UsageCounter, error)

	// FindByUserAndPeriod retrieves all counters of a user for a period
	FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, periodKey string) ([]*UsageCounter, error)

	// SaveWithLock persists a mutated counter with an optimistic version
	// check; returns shared.ErrConcurrencyConflict when another writer won
	SaveWithLock(ctx context.Context, counter *UsageCounter) error
}

// ReservationRepository defines persistence for reservations
type ReservationRepository interface {
	// Save persists a new reservation
	Save(ctx context.Context, r *Reservation) error

	// Update persists a state transition
	Update(ctx context.Context, r *Reservation) error

	// FindByToken retrieves a reservation by its token, or shared.ErrNotFound
	FindByToken(ctx context.Context, token uuid.UUID) (*Reservation, error)

	// FindOpenByCounter retrieves the OPEN reservations against a counter key
	FindOpenByCounter(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) ([]*Reservation, error)

	// FindExpired retrieves OPEN reservations whose expiry has passed
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)

	// DeleteResolvedBefore garbage-collects terminal reservations resolved
	// before the given time, returning the number deleted
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// OverageChargeRepository defines persistence for finalized overage charges
type OverageChargeRepository interface {
	// Save persists a new charge
	Save(ctx context.Context, charge *OverageCharge) error

	// ExistsFor reports whether a charge was already finalized for the key
	ExistsFor(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) (bool, error)

	// FindByUser retrieves all charges for a user, newest first
	FindByUser(ctx context.Context, userID uuid.UUID) ([]*OverageCharge, error)

	// FindByUserAndPeriod retrieves the charges for a user's period
	FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, periodKey string) ([]*OverageCharge, error)
}
