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

// GormReservationRepository implements ledger.ReservationRepository using GORM
type GormReservationRepository struct {
	db *gorm.DB
}

// NewGormReservationRepository creates a new GormReservationRepository
func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormReservationRepository) WithTx(tx *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: tx}
}

// Save persists a new reservation
func (r *GormReservationRepository) Save(ctx context.Context, reservation *ledger.Reservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

// Update persists a state transition
func (r *GormReservationRepository) Update(ctx context.Context, reservation *ledger.Reservation) error {
	return r.db.WithContext(ctx).Save(reservation).Error
}

// FindByToken retrieves a reservation by its token
func (r *GormReservationRepository) FindByToken(ctx context.Context, token uuid.UUID) (*ledger.Reservation, error) {
	var reservation ledger.Reservation
	if err := r.db.WithContext(ctx).First(&reservation, "id = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &reservation, nil
}

// FindOpenByCounter retrieves the OPEN reservations against a counter key
func (r *GormReservationRepository) FindOpenByCounter(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) ([]*ledger.Reservation, error) {
	var reservations []*ledger.Reservation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND resource = ? AND period_key = ? AND state = ?",
			userID, resource, periodKey, ledger.ReservationOpen).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// FindExpired retrieves OPEN reservations whose expiry has passed
func (r *GormReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*ledger.Reservation, error) {
	var reservations []*ledger.Reservation
	err := r.db.WithContext(ctx).
		Where("state = ? AND expires_at < ?", ledger.ReservationOpen, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// DeleteResolvedBefore garbage-collects terminal reservations
func (r *GormReservationRepository) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?",
			[]ledger.ReservationState{
				ledger.ReservationCommitted,
				ledger.ReservationReleased,
				ledger.ReservationExpired,
			}, before).
		Delete(&ledger.Reservation{})
	return result.RowsAffected, result.Error
}
