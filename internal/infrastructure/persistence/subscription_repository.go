package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSubscriptionRepository implements entitlement.SubscriptionRepository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormSubscriptionRepository) WithTx(tx *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: tx}
}

// Save persists a new subscription. The unique index on user_id turns a
// duplicate signup into shared.ErrAlreadyExists.
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *entitlement.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update persists changes with optimistic locking (checks version)
func (r *GormSubscriptionRepository) Update(ctx context.Context, sub *entitlement.Subscription) error {
	result := r.db.WithContext(ctx).
		Model(sub).
		Where("id = ? AND version = ?", sub.ID, sub.Version-1).
		Updates(map[string]interface{}{
			"tier_id":              sub.TierID,
			"status":               sub.Status,
			"trial_ends_at":        sub.TrialEndsAt,
			"current_period_start": sub.CurrentPeriodStart,
			"current_period_end":   sub.CurrentPeriodEnd,
			"version":              sub.Version,
			"updated_at":           sub.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindByID retrieves a subscription by its ID
func (r *GormSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*entitlement.Subscription, error) {
	var sub entitlement.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindByUser retrieves the subscription for a user
func (r *GormSubscriptionRepository) FindByUser(ctx context.Context, userID uuid.UUID) (*entitlement.Subscription, error) {
	var sub entitlement.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindPeriodEndingBefore returns subscriptions whose billing period has lapsed
func (r *GormSubscriptionRepository) FindPeriodEndingBefore(ctx context.Context, t time.Time, limit int) ([]*entitlement.Subscription, error) {
	var subs []*entitlement.Subscription
	err := r.db.WithContext(ctx).
		Where("current_period_end < ? AND status <> ?", t, entitlement.StatusCanceled).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
