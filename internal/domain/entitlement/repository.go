package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionRepository defines persistence for subscriptions
type SubscriptionRepository interface {
	// Save persists a new subscription
	Save(ctx context.Context, sub *Subscription) error

	// Update persists changes with optimistic locking; returns
	// shared.ErrConcurrencyConflict when the version check fails
	Update(ctx context.Context, sub *Subscription) error

	// FindByID retrieves a subscription by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// FindByUser retrieves the subscription for a user
	FindByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// FindPeriodEndingBefore returns subscriptions whose current billing
	// period ends before the given instant and therefore need a period roll
	FindPeriodEndingBefore(ctx context.Context, t time.Time, limit int) ([]*Subscription, error)
}
