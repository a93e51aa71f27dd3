package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionService handles subscription lifecycle operations
type SubscriptionService struct {
	subscriptionRepo entitlement.SubscriptionRepository
	counterRepo      ledger.UsageCounterRepository
	tiers            entitlement.TierResolver
	logger           *zap.Logger
}

// NewSubscriptionService creates a new SubscriptionService
func NewSubscriptionService(
	subscriptionRepo entitlement.SubscriptionRepository,
	counterRepo ledger.UsageCounterRepository,
	tiers entitlement.TierResolver,
	logger *zap.Logger,
) *SubscriptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionService{
		subscriptionRepo: subscriptionRepo,
		counterRepo:      counterRepo,
		tiers:            tiers,
		logger:           logger,
	}
}

// Signup creates the subscription for a new user on the given tier. A user
// has at most one subscription.
func (s *SubscriptionService) Signup(ctx context.Context, userID uuid.UUID, tierID string) (*entitlement.Subscription, error) {
	tier, err := s.tiers.Resolve(tierID)
	if err != nil {
		return nil, err
	}

	if _, err := s.subscriptionRepo.FindByUser(ctx, userID); err == nil {
		return nil, shared.NewDomainError("ALREADY_EXISTS", "User already has a subscription")
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	sub, err := entitlement.NewSubscription(userID, tier, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.subscriptionRepo.Save(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription created",
		zap.String("user_id", userID.String()),
		zap.String("tier_id", tierID),
		zap.String("status", sub.Status.String()),
	)
	return sub, nil
}

// GetByUser returns the user's subscription
func (s *SubscriptionService) GetByUser(ctx context.Context, userID uuid.UUID) (*entitlement.Subscription, error) {
	return s.subscriptionRepo.FindByUser(ctx, userID)
}

// Activate marks a subscription paid and in good standing
func (s *SubscriptionService) Activate(ctx context.Context, userID uuid.UUID) (*entitlement.Subscription, error) {
	return s.transition(ctx, userID, func(sub *entitlement.Subscription) error {
		return sub.Activate()
	})
}

// MarkPastDue records a failed renewal; metered actions fall back to the
// free tier until payment recovers
func (s *SubscriptionService) MarkPastDue(ctx context.Context, userID uuid.UUID) (*entitlement.Subscription, error) {
	return s.transition(ctx, userID, func(sub *entitlement.Subscription) error {
		return sub.MarkPastDue()
	})
}

// Cancel terminates a subscription
func (s *SubscriptionService) Cancel(ctx context.Context, userID uuid.UUID) (*entitlement.Subscription, error) {
	return s.transition(ctx, userID, func(sub *entitlement.Subscription) error {
		return sub.Cancel()
	})
}

// ChangeTier moves the subscription to a new tier effective immediately.
// On a downgrade, counters already committed beyond the new tier's hard caps
// are grandfathered for the rest of the period and flagged for billing
// review; they are never retroactively denied.
func (s *SubscriptionService) ChangeTier(ctx context.Context, userID uuid.UUID, tierID string) (*entitlement.Subscription, error) {
	newTier, err := s.tiers.Resolve(tierID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subscriptionRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.flagGrandfatheredUsage(ctx, sub, newTier); err != nil {
		s.logger.Warn("failed to flag grandfathered usage",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}

	if err := sub.ChangeTier(tierID); err != nil {
		return nil, err
	}
	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription tier changed",
		zap.String("user_id", userID.String()),
		zap.String("tier_id", tierID),
	)
	return sub, nil
}

// flagGrandfatheredUsage marks current-period counters whose committed
// usage already exceeds the new tier's hard caps
func (s *SubscriptionService) flagGrandfatheredUsage(
	ctx context.Context,
	sub *entitlement.Subscription,
	newTier *entitlement.Tier,
) error {
	counters, err := s.counterRepo.FindByUserAndPeriod(ctx, sub.UserID, sub.PeriodKey())
	if err != nil {
		return err
	}

	for _, counter := range counters {
		limit, ok := newTier.LimitFor(counter.Resource)
		if !ok || limit.CapPolicy != entitlement.CapPolicyHard {
			continue
		}
		if counter.CommittedAmount <= limit.Limit || counter.FlaggedForReview {
			continue
		}
		counter.FlagForReview()
		if err := s.counterRepo.SaveWithLock(ctx, counter); err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				continue
			}
			return err
		}
		s.logger.Info("grandfathered over-limit usage flagged",
			zap.String("user_id", sub.UserID.String()),
			zap.String("resource", counter.Resource.String()),
			zap.Int64("committed", counter.CommittedAmount),
			zap.Int64("new_limit", limit.Limit),
		)
	}
	return nil
}

func (s *SubscriptionService) transition(
	ctx context.Context,
	userID uuid.UUID,
	apply func(*entitlement.Subscription) error,
) (*entitlement.Subscription, error) {
	sub, err := s.subscriptionRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := apply(sub); err != nil {
		return nil, err
	}
	if err := s.subscriptionRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscription status changed",
		zap.String("user_id", userID.String()),
		zap.String("status", sub.Status.String()),
	)
	return sub, nil
}
