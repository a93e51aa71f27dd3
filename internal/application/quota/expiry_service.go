package quota

import (
	"context"
	"errors"
	"time"

	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ExpiryConfig holds tuning knobs for reservation expiry sweeps
type ExpiryConfig struct {
	// BatchSize bounds how many expired reservations one sweep reclaims
	BatchSize int

	// RetainResolvedFor is how long terminal reservations are kept before
	// garbage collection
	RetainResolvedFor time.Duration
}

// DefaultExpiryConfig returns the default expiry configuration
func DefaultExpiryConfig() ExpiryConfig {
	return ExpiryConfig{
		BatchSize:         500,
		RetainResolvedFor: 30 * 24 * time.Hour,
	}
}

// ExpiredReservationStats contains statistics about one expiry sweep
type ExpiredReservationStats struct {
	TotalExpired   int       `json:"total_expired"`
	SuccessExpired int       `json:"success_expired"`
	FailedExpiries int       `json:"failed_expiries"`
	Deleted        int64     `json:"deleted"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// ReservationExpiryService reclaims reservations whose holder never settled
// them, returning their estimates to the available pool so abandoned work
// cannot pin quota forever.
type ReservationExpiryService struct {
	reservationRepo ledger.ReservationRepository
	counterRepo     ledger.UsageCounterRepository
	logger          *zap.Logger
	config          ExpiryConfig
}

// NewReservationExpiryService creates a new ReservationExpiryService
func NewReservationExpiryService(
	reservationRepo ledger.ReservationRepository,
	counterRepo ledger.UsageCounterRepository,
	logger *zap.Logger,
	config ExpiryConfig,
) *ReservationExpiryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationExpiryService{
		reservationRepo: reservationRepo,
		counterRepo:     counterRepo,
		logger:          logger,
		config:          config,
	}
}

// ReleaseExpired finds reservations past their expiry and reclaims them
func (s *ReservationExpiryService) ReleaseExpired(ctx context.Context, now time.Time) (*ExpiredReservationStats, error) {
	stats := &ExpiredReservationStats{ProcessedAt: now}

	expired, err := s.reservationRepo.FindExpired(ctx, now, s.config.BatchSize)
	if err != nil {
		s.logger.Error("failed to find expired reservations", zap.Error(err))
		return nil, err
	}

	stats.TotalExpired = len(expired)
	if stats.TotalExpired == 0 {
		s.logger.Debug("no expired reservations found")
		return stats, nil
	}

	s.logger.Info("found expired reservations", zap.Int("count", stats.TotalExpired))

	for _, r := range expired {
		if err := s.reclaim(ctx, r); err != nil {
			s.logger.Error("failed to reclaim expired reservation",
				zap.String("token", r.Token().String()),
				zap.String("user_id", r.UserID.String()),
				zap.String("resource", r.Resource.String()),
				zap.Error(err),
			)
			stats.FailedExpiries++
			continue
		}
		stats.SuccessExpired++
	}

	s.logger.Info("completed reservation expiry sweep",
		zap.Int("total", stats.TotalExpired),
		zap.Int("expired", stats.SuccessExpired),
		zap.Int("failed", stats.FailedExpiries),
	)
	return stats, nil
}

// PurgeResolved garbage-collects terminal reservations older than the
// retention window
func (s *ReservationExpiryService) PurgeResolved(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.reservationRepo.DeleteResolvedBefore(ctx, now.Add(-s.config.RetainResolvedFor))
	if err != nil {
		s.logger.Error("failed to purge resolved reservations", zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("purged resolved reservations", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// reclaim expires a single reservation and returns its estimate to the pool.
// The reservation is resolved before the counter is touched so the estimate
// can never be released twice; counters floor reserved at zero, so a close
// that already drained the period absorbs a late release harmlessly.
func (s *ReservationExpiryService) reclaim(ctx context.Context, r *ledger.Reservation) error {
	if err := r.Expire(); err != nil {
		// Raced with a commit or release; nothing to reclaim.
		return nil
	}
	if err := s.reservationRepo.Update(ctx, r); err != nil {
		return err
	}

	counter, err := s.counterRepo.FindByKey(ctx, r.UserID, r.Resource, r.PeriodKey)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("no counter found for expired reservation",
				zap.String("token", r.Token().String()))
			return nil
		}
		return err
	}

	for attempt := 0; ; attempt++ {
		counter.ApplyRelease(r.EstimatedAmount)
		err := s.counterRepo.SaveWithLock(ctx, counter)
		if err == nil {
			return nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= 2 {
			return err
		}
		fresh, ferr := s.counterRepo.FindByKey(ctx, r.UserID, r.Resource, r.PeriodKey)
		if ferr != nil {
			return ferr
		}
		counter = fresh
	}
}
