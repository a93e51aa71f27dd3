package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PeriodCloseConfig holds tuning knobs for period close runs
type PeriodCloseConfig struct {
	// BatchSize bounds how many due subscriptions one run processes
	BatchSize int

	// IdempotencyTTL is how long finalized-charge markers are retained
	IdempotencyTTL time.Duration
}

// DefaultPeriodCloseConfig returns the default period close configuration
func DefaultPeriodCloseConfig() PeriodCloseConfig {
	return PeriodCloseConfig{
		BatchSize:      200,
		IdempotencyTTL: 72 * time.Hour,
	}
}

// PeriodCloseStats contains statistics about one period close run
type PeriodCloseStats struct {
	SubscriptionsDue     int       `json:"subscriptions_due"`
	SubscriptionsRolled  int       `json:"subscriptions_rolled"`
	CountersClosed       int       `json:"counters_closed"`
	ReservationsExpired  int       `json:"reservations_expired"`
	ChargesFinalized     int       `json:"charges_finalized"`
	Failures             int       `json:"failures"`
	ProcessedAt          time.Time `json:"processed_at"`
}

// PeriodCloseService rolls billing periods over and settles the closing
// period's ledger: outstanding reservations are expired, soft-cap overage is
// converted into charges, and counters are sealed read-only.
//
// The subscription is rolled forward before its old counters are touched so
// that new reservations land in the fresh period instead of racing the
// close. Each step is idempotent, so a run interrupted mid-way simply
// resumes on the next tick.
type PeriodCloseService struct {
	subscriptionRepo entitlement.SubscriptionRepository
	counterRepo      ledger.UsageCounterRepository
	reservationRepo  ledger.ReservationRepository
	chargeRepo       ledger.OverageChargeRepository
	tiers            entitlement.TierResolver
	idempotency      shared.IdempotencyStore
	logger           *zap.Logger
	config           PeriodCloseConfig
}

// NewPeriodCloseService creates a new PeriodCloseService
func NewPeriodCloseService(
	subscriptionRepo entitlement.SubscriptionRepository,
	counterRepo ledger.UsageCounterRepository,
	reservationRepo ledger.ReservationRepository,
	chargeRepo ledger.OverageChargeRepository,
	tiers entitlement.TierResolver,
	idempotency shared.IdempotencyStore,
	logger *zap.Logger,
	config PeriodCloseConfig,
) *PeriodCloseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodCloseService{
		subscriptionRepo: subscriptionRepo,
		counterRepo:      counterRepo,
		reservationRepo:  reservationRepo,
		chargeRepo:       chargeRepo,
		tiers:            tiers,
		idempotency:      idempotency,
		logger:           logger,
		config:           config,
	}
}

// CloseDue finds subscriptions whose billing period has ended and closes
// them one by one. A failure on one subscription is recorded and the run
// continues with the rest.
func (s *PeriodCloseService) CloseDue(ctx context.Context, now time.Time) (*PeriodCloseStats, error) {
	stats := &PeriodCloseStats{ProcessedAt: now}

	due, err := s.subscriptionRepo.FindPeriodEndingBefore(ctx, now, s.config.BatchSize)
	if err != nil {
		s.logger.Error("failed to find due subscriptions", zap.Error(err))
		return nil, err
	}
	stats.SubscriptionsDue = len(due)
	if len(due) == 0 {
		s.logger.Debug("no billing periods due for close")
		return stats, nil
	}

	s.logger.Info("closing due billing periods", zap.Int("count", len(due)))

	for _, sub := range due {
		if err := s.closeSubscriptionPeriod(ctx, sub, now, stats); err != nil {
			s.logger.Error("failed to close billing period",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("user_id", sub.UserID.String()),
				zap.Error(err),
			)
			stats.Failures++
		}
	}

	s.logger.Info("completed period close run",
		zap.Int("due", stats.SubscriptionsDue),
		zap.Int("rolled", stats.SubscriptionsRolled),
		zap.Int("counters_closed", stats.CountersClosed),
		zap.Int("reservations_expired", stats.ReservationsExpired),
		zap.Int("charges", stats.ChargesFinalized),
		zap.Int("failures", stats.Failures),
	)
	return stats, nil
}

func (s *PeriodCloseService) closeSubscriptionPeriod(
	ctx context.Context,
	sub *entitlement.Subscription,
	now time.Time,
	stats *PeriodCloseStats,
) error {
	closingKey := sub.PeriodKey()
	tierID := sub.TierID

	// Roll the subscription first. Once it persists, new reservations key
	// into the fresh period and the old counters can drain undisturbed.
	// Losing the version check means another instance already rolled it.
	sub.RollPeriod(now)
	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			s.logger.Debug("subscription already rolled by another instance",
				zap.String("subscription_id", sub.ID.String()))
			return nil
		}
		return err
	}
	stats.SubscriptionsRolled++

	counters, err := s.counterRepo.FindByUserAndPeriod(ctx, sub.UserID, closingKey)
	if err != nil {
		return err
	}

	for _, counter := range counters {
		if err := s.closeCounter(ctx, counter, tierID, stats); err != nil {
			return err
		}
	}
	return nil
}

func (s *PeriodCloseService) closeCounter(
	ctx context.Context,
	counter *ledger.UsageCounter,
	tierID string,
	stats *PeriodCloseStats,
) error {
	if counter.State == ledger.PeriodClosed {
		return nil
	}

	if err := s.mutateCounter(ctx, counter, func(c *ledger.UsageCounter) error {
		return c.BeginClose()
	}); err != nil {
		return err
	}

	expired, err := s.expireOpenReservations(ctx, counter)
	if err != nil {
		return err
	}
	stats.ReservationsExpired += expired

	finalized, err := s.finalizeOverage(ctx, counter, tierID)
	if err != nil {
		return err
	}
	if finalized {
		stats.ChargesFinalized++
	}

	if err := s.mutateCounter(ctx, counter, func(c *ledger.UsageCounter) error {
		c.FinishClose()
		return nil
	}); err != nil {
		return err
	}
	stats.CountersClosed++
	return nil
}

// expireOpenReservations reclaims every reservation still open against a
// closing counter and returns their estimates to the pool
func (s *PeriodCloseService) expireOpenReservations(ctx context.Context, counter *ledger.UsageCounter) (int, error) {
	open, err := s.reservationRepo.FindOpenByCounter(ctx, counter.UserID, counter.Resource, counter.PeriodKey)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, r := range open {
		if err := r.Expire(); err != nil {
			continue
		}
		if err := s.reservationRepo.Update(ctx, r); err != nil {
			return expired, err
		}
		estimate := r.EstimatedAmount
		if err := s.mutateCounter(ctx, counter, func(c *ledger.UsageCounter) error {
			c.ApplyRelease(estimate)
			return nil
		}); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// finalizeOverage converts soft-cap overage on a closing counter into a
// charge exactly once. Both a fast idempotency marker and the unique charge
// key guard against double billing on retried closes.
func (s *PeriodCloseService) finalizeOverage(ctx context.Context, counter *ledger.UsageCounter, tierID string) (bool, error) {
	tier, err := s.tiers.Resolve(tierID)
	if err != nil {
		return false, err
	}
	limit, ok := tier.LimitFor(counter.Resource)
	if !ok || limit.CapPolicy != entitlement.CapPolicySoft {
		return false, nil
	}
	if counter.CommittedAmount <= limit.Limit {
		return false, nil
	}

	key := overageMarkerKey(counter.UserID, counter.Resource, counter.PeriodKey)
	if s.idempotency != nil {
		fresh, err := s.idempotency.MarkProcessed(ctx, key, s.config.IdempotencyTTL)
		if err != nil {
			s.logger.Warn("idempotency store unavailable, falling back to charge lookup",
				zap.Error(err))
		} else if !fresh {
			return false, nil
		}
	}

	exists, err := s.chargeRepo.ExistsFor(ctx, counter.UserID, counter.Resource, counter.PeriodKey)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	charge, err := ledger.ComputeOverageCharge(
		counter.UserID, counter.Resource, counter.PeriodKey, tierID,
		counter.CommittedAmount, limit,
	)
	if err != nil {
		return false, err
	}
	if charge == nil {
		return false, nil
	}

	if err := s.chargeRepo.Save(ctx, charge); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}

	s.logger.Info("overage charge finalized",
		zap.String("user_id", counter.UserID.String()),
		zap.String("resource", counter.Resource.String()),
		zap.String("period_key", counter.PeriodKey),
		zap.Int64("overage_units", charge.OverageUnits),
		zap.String("fee", charge.FeeAmount.String()),
	)
	return true, nil
}

func (s *PeriodCloseService) mutateCounter(
	ctx context.Context,
	counter *ledger.UsageCounter,
	mutate func(*ledger.UsageCounter) error,
) error {
	for attempt := 0; ; attempt++ {
		if err := mutate(counter); err != nil {
			return err
		}
		err := s.counterRepo.SaveWithLock(ctx, counter)
		if err == nil {
			return nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) || attempt >= 2 {
			return err
		}
		fresh, ferr := s.counterRepo.FindByKey(ctx, counter.UserID, counter.Resource, counter.PeriodKey)
		if ferr != nil {
			return ferr
		}
		*counter = *fresh
	}
}

func overageMarkerKey(userID uuid.UUID, resource entitlement.ResourceType, periodKey string) string {
	return fmt.Sprintf("overage:%s:%s:%s", userID, resource, periodKey)
}
