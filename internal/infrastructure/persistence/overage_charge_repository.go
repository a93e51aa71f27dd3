package persistence

import (
	"context"
	"errors"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormOverageChargeRepository implements ledger.OverageChargeRepository using GORM
type GormOverageChargeRepository struct {
	db *gorm.DB
}

// NewGormOverageChargeRepository creates a new GormOverageChargeRepository
func NewGormOverageChargeRepository(db *gorm.DB) *GormOverageChargeRepository {
	return &GormOverageChargeRepository{db: db}
}

// Save persists a new charge. The unique index on (user, resource, period)
// turns a double finalization into shared.ErrAlreadyExists.
func (r *GormOverageChargeRepository) Save(ctx context.Context, charge *ledger.OverageCharge) error {
	if err := r.db.WithContext(ctx).Create(charge).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// ExistsFor reports whether a charge was already finalized for the key
func (r *GormOverageChargeRepository) ExistsFor(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ledger.OverageCharge{}).
		Where("user_id = ? AND resource = ? AND period_key = ?", userID, resource, periodKey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindByUser retrieves all charges for a user, newest first
func (r *GormOverageChargeRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]*ledger.OverageCharge, error) {
	var charges []*ledger.OverageCharge
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

// FindByUserAndPeriod retrieves the charges for a user's period
func (r *GormOverageChargeRepository) FindByUserAndPeriod(ctx context.Context, userID uuid.UUID, periodKey string) ([]*ledger.OverageCharge, error) {
	var charges []*ledger.OverageCharge
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND period_key = ?", userID, periodKey).
		Order("resource ASC").
		Find(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}
