package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormUsageCounterRepository implements ledger.UsageCounterRepository using GORM
type GormUsageCounterRepository struct {
	db *gorm.DB
}

// NewGormUsageCounterRepository creates a new GormUsageCounterRepository
func NewGormUsageCounterRepository(db *gorm.DB) *GormUsageCounterRepository {
	return &GormUsageCounterRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormUsageCounterRepository) WithTx(tx *gorm.DB) *GormUsageCounterRepository {
	return &GormUsageCounterRepository{db: tx}
}

// FindOrCreate returns the counter for the key, creating a zeroed OPEN counter
// if none exists. A concurrent insert on the same key loses the unique-index
// race and falls back to reading the winner's row.
func (r *GormUsageCounterRepository) FindOrCreate(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string, periodEnd time.Time) (*ledger.UsageCounter, error) {
	counter, err := r.FindByKey(ctx, userID, resource, periodKey)
	if err == nil {
		return counter, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	fresh, err := ledger.NewUsageCounter(userID, resource, periodKey, periodEnd)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(fresh).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.FindByKey(ctx, userID, resource, periodKey)
		}
		return nil, err
	}
	return fresh, nil
}

// FindByKey retrieves a counter by its composite key
func (r *GormUsageCounterRepository) FindByKey(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) (*ledger.UsageCounter, error) {
	var counter ledger.UsageCounter
	err := r.db.WithContext(ctx).
		First(&counter, "user_id = ? AND resource = ? AND period_key = ?", userID, resource, periodKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &counter, nil
}

// FindByUserAndPeriod retrieves all counters of a user for a period
func (r *GormUsageCounterRepository) FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, periodKey string) ([]*ledger.UsageCounter, error) {
	var counters []*ledger.UsageCounter
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND period_key = ?", userID, periodKey).
		Order("resource ASC").
		Find(&counters).Error
	if err != nil {
		return nil, err
	}
	return counters, nil
}

// SaveWithLock saves with optimistic locking (checks version)
func (r *GormUsageCounterRepository) SaveWithLock(ctx context.Context, counter *ledger.UsageCounter) error {
	result := r.db.WithContext(ctx).
		Model(counter).
		Where("id = ? AND version = ?", counter.ID, counter.Version-1).
		Updates(map[string]interface{}{
			"reserved_amount":    counter.ReservedAmount,
			"committed_amount":   counter.CommittedAmount,
			"state":              counter.State,
			"flagged_for_review": counter.FlaggedForReview,
			"version":            counter.Version,
			"updated_at":         counter.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}
