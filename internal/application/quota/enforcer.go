package quota

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

// Deny reason codes returned in admission decisions
const (
	ReasonHardCapExceeded       = "HARD_CAP_EXCEEDED"
	ReasonSubscriptionNotFound  = "SUBSCRIPTION_NOT_FOUND"
	ReasonSubscriptionNotActive = "SUBSCRIPTION_NOT_ACTIVE"
	ReasonTrialExpired          = "TRIAL_EXPIRED"
	ReasonPeriodClosed          = "PERIOD_CLOSED"
)

// Outcome classifies an admission decision
type Outcome string

const (
	// OutcomeAllow admits the request within the limit
	OutcomeAllow Outcome = "ALLOW"

	// OutcomeAllowWithOverage admits the request beyond a soft limit;
	// the excess will be billed as overage at period close
	OutcomeAllowWithOverage Outcome = "ALLOW_WITH_OVERAGE"

	// OutcomeDeny rejects the request
	OutcomeDeny Outcome = "DENY"
)

// Decision is the result of an admission check. Allowed decisions carry the
// reservation token the caller must later commit or release; denied
// decisions carry a stable reason code.
type Decision struct {
	Outcome   Outcome
	Token     uuid.UUID
	Reason    string
	Remaining int64 // capacity left after this decision, -1 for unlimited
	ExpiresAt time.Time
}

// Allowed returns true if the request was admitted
func (d *Decision) Allowed() bool {
	return d.Outcome != OutcomeDeny
}

// EnforcerConfig holds tuning knobs for the admission path
type EnforcerConfig struct {
	// ReservationTTL is how long a reservation stays settleable before the
	// sweeper reclaims it
	ReservationTTL time.Duration

	// MaxRetries bounds reload-and-retry attempts when a concurrent writer
	// wins the version check on a counter
	MaxRetries int
}

// DefaultEnforcerConfig returns the default enforcer configuration
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		ReservationTTL: 15 * time.Minute,
		MaxRetries:     3,
	}
}

// Enforcer is the admission gate for metered actions. Every gated request
// passes through CheckAndReserve before the work runs and settles through
// Commit or Release afterwards; abandoned reservations expire via the
// sweeper. All counter mutations go through the version-checked repository
// so concurrent requests against the same counter serialize correctly.
type Enforcer struct {
	subscriptionRepo entitlement.SubscriptionRepository
	counterRepo      ledger.UsageCounterRepository
	reservationRepo  ledger.ReservationRepository
	tiers            entitlement.TierResolver
	logger           *zap.Logger
	config           EnforcerConfig
}

// NewEnforcer creates a new Enforcer
func NewEnforcer(
	subscriptionRepo entitlement.SubscriptionRepository,
	counterRepo ledger.UsageCounterRepository,
	reservationRepo ledger.ReservationRepository,
	tiers entitlement.TierResolver,
	logger *zap.Logger,
	config EnforcerConfig,
) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		subscriptionRepo: subscriptionRepo,
		counterRepo:      counterRepo,
		reservationRepo:  reservationRepo,
		tiers:            tiers,
		logger:           logger,
		config:           config,
	}
}

// CheckAndReserve decides whether a metered action may proceed and, if so,
// reserves the estimated amount against the caller's current billing period.
// The returned token must be settled with Commit or Release; if the caller
// crashes the reservation expires after the configured TTL.
func (e *Enforcer) CheckAndReserve(
	ctx context.Context,
	userID uuid.UUID,
	resource entitlement.ResourceType,
	estimatedAmount int64,
) (*Decision, error) {
	if estimatedAmount <= 0 {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Estimated amount must be positive")
	}

	now := time.Now()
	sub, err := e.subscriptionRepo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return &Decision{Outcome: OutcomeDeny, Reason: ReasonSubscriptionNotFound}, nil
		}
		return nil, err
	}

	tier, limit, deny, err := e.resolveEntitlement(sub, resource, now)
	if err != nil {
		return nil, err
	}
	if deny != "" {
		return &Decision{Outcome: OutcomeDeny, Reason: deny}, nil
	}

	periodKey := sub.PeriodKey()
	counter, err := e.counterRepo.FindOrCreate(ctx, userID, resource, periodKey, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}

	var overLimit bool
	err = e.mutateCounter(ctx, counter, func(c *ledger.UsageCounter) error {
		var rerr error
		overLimit, rerr = c.Reserve(estimatedAmount, limit)
		return rerr
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrHardCapExceeded):
			e.logger.Info("reservation denied by hard cap",
				zap.String("user_id", userID.String()),
				zap.String("resource", resource.String()),
				zap.Int64("estimated", estimatedAmount),
			)
			return &Decision{Outcome: OutcomeDeny, Reason: ReasonHardCapExceeded}, nil
		case errors.Is(err, ledger.ErrPeriodClosed):
			return &Decision{Outcome: OutcomeDeny, Reason: ReasonPeriodClosed}, nil
		}
		return nil, err
	}

	reservation := ledger.NewReservation(userID, resource, periodKey, tier.ID, estimatedAmount, e.config.ReservationTTL)
	reservation.OverLimit = overLimit
	if err := e.reservationRepo.Save(ctx, reservation); err != nil {
		return nil, err
	}

	decision := &Decision{
		Outcome:   OutcomeAllow,
		Token:     reservation.Token(),
		Remaining: counter.Remaining(limit),
		ExpiresAt: reservation.ExpiresAt,
	}
	if overLimit {
		decision.Outcome = OutcomeAllowWithOverage
	}

	e.logger.Debug("reservation admitted",
		zap.String("user_id", userID.String()),
		zap.String("resource", resource.String()),
		zap.String("token", reservation.Token().String()),
		zap.Int64("estimated", estimatedAmount),
		zap.Bool("over_limit", overLimit),
	)
	return decision, nil
}

// Commit settles a reservation with the actual amount consumed. If the
// actual amount exceeds a hard cap's remaining headroom only the headroom is
// committed and a PartialCommitError reports the rejected remainder.
// Committing an expired or already-resolved reservation fails.
func (e *Enforcer) Commit(ctx context.Context, token uuid.UUID, actualAmount int64) (int64, error) {
	if actualAmount < 0 {
		return 0, shared.NewDomainError("INVALID_AMOUNT", "Actual amount cannot be negative")
	}

	reservation, err := e.reservationRepo.FindByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	if reservation.State.IsTerminal() {
		return 0, shared.NewDomainError("INVALID_STATE",
			"Reservation already resolved as "+reservation.State.String())
	}

	now := time.Now()
	if reservation.IsExpired(now) {
		// The sweeper may not have run yet; reclaim in-line so the caller
		// gets a consistent answer either way.
		if err := e.expireReservation(ctx, reservation); err != nil {
			return 0, err
		}
		return 0, ledger.ErrReservationExpired
	}

	limit, err := e.pinnedLimit(reservation)
	if err != nil {
		return 0, err
	}

	counter, err := e.counterRepo.FindByKey(ctx, reservation.UserID, reservation.Resource, reservation.PeriodKey)
	if err != nil {
		return 0, err
	}

	var accepted int64
	err = e.mutateCounter(ctx, counter, func(c *ledger.UsageCounter) error {
		var cerr error
		accepted, cerr = c.ApplyCommit(reservation.EstimatedAmount, actualAmount, limit)
		return cerr
	})
	if err != nil {
		return 0, err
	}

	if err := reservation.Commit(); err != nil {
		return accepted, err
	}
	if err := e.reservationRepo.Update(ctx, reservation); err != nil {
		return accepted, err
	}

	if accepted < actualAmount {
		e.logger.Warn("commit clamped to hard cap headroom",
			zap.String("token", token.String()),
			zap.Int64("actual", actualAmount),
			zap.Int64("accepted", accepted),
		)
		return accepted, &ledger.PartialCommitError{
			Accepted: accepted,
			Rejected: actualAmount - accepted,
		}
	}
	return accepted, nil
}

// Release cancels a reservation and returns its estimate to the available
// pool. Releasing an already-resolved or unknown token is a no-op so callers
// can release unconditionally in their cleanup paths.
func (e *Enforcer) Release(ctx context.Context, token uuid.UUID) error {
	reservation, err := e.reservationRepo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}
	if reservation.State.IsTerminal() {
		return nil
	}

	counter, err := e.counterRepo.FindByKey(ctx, reservation.UserID, reservation.Resource, reservation.PeriodKey)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if counter != nil {
		err = e.mutateCounter(ctx, counter, func(c *ledger.UsageCounter) error {
			c.ApplyRelease(reservation.EstimatedAmount)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := reservation.Release(); err != nil {
		return err
	}
	return e.reservationRepo.Update(ctx, reservation)
}

// ResourceUsage describes one resource's consumption within the current period
type ResourceUsage struct {
	Resource  entitlement.ResourceType `json:"resource"`
	Unit      string                   `json:"unit"`
	CapPolicy entitlement.CapPolicy    `json:"cap_policy"`
	Limit     int64                    `json:"limit"` // -1 for unlimited
	Reserved  int64                    `json:"reserved"`
	Committed int64                    `json:"committed"`
	Remaining int64                    `json:"remaining"` // -1 for unlimited
	OverLimit bool                     `json:"over_limit"`
}

// UsageSummary is the per-user view of the current billing period
type UsageSummary struct {
	UserID      uuid.UUID       `json:"user_id"`
	TierID      string          `json:"tier_id"`
	Status      string          `json:"status"`
	PeriodKey   string          `json:"period_key"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Resources   []ResourceUsage `json:"resources"`
}

// Summary reports current-period consumption against the effective tier's
// limits, including tier resources the user has not touched yet.
func (e *Enforcer) Summary(ctx context.Context, userID uuid.UUID) (*UsageSummary, error) {
	now := time.Now()
	sub, err := e.subscriptionRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	tier, err := e.effectiveTier(sub, now)
	if err != nil {
		return nil, err
	}

	periodKey := sub.PeriodKey()
	counters, err := e.counterRepo.FindByUserAndPeriod(ctx, userID, periodKey)
	if err != nil {
		return nil, err
	}
	byResource := make(map[entitlement.ResourceType]*ledger.UsageCounter, len(counters))
	for _, c := range counters {
		byResource[c.Resource] = c
	}

	summary := &UsageSummary{
		UserID:      userID,
		TierID:      tier.ID,
		Status:      sub.Status.String(),
		PeriodKey:   periodKey,
		PeriodStart: sub.CurrentPeriodStart,
		PeriodEnd:   sub.CurrentPeriodEnd,
	}
	for i := range tier.Limits {
		limit := &tier.Limits[i]
		usage := ResourceUsage{
			Resource:  limit.Resource,
			Unit:      limit.Resource.Unit().String(),
			CapPolicy: limit.CapPolicy,
			Limit:     limit.Limit,
			Remaining: limit.Limit,
		}
		if limit.IsUnlimited() {
			usage.Limit = -1
			usage.Remaining = -1
		}
		if c, ok := byResource[limit.Resource]; ok {
			usage.Reserved = c.ReservedAmount
			usage.Committed = c.CommittedAmount
			usage.Remaining = c.Remaining(limit)
			usage.OverLimit = !limit.IsUnlimited() && c.InFlight() > limit.Limit
		}
		summary.Resources = append(summary.Resources, usage)
	}
	return summary, nil
}

// resolveEntitlement determines which tier and limit govern this request.
// An expired trial is denied outright until the subscription transitions;
// PAST_DUE and CANCELED subscriptions fall back to the catalog's free tier,
// and if the free tier does not cover the resource the request is denied.
func (e *Enforcer) resolveEntitlement(
	sub *entitlement.Subscription,
	resource entitlement.ResourceType,
	now time.Time,
) (*entitlement.Tier, *entitlement.ResourceLimit, string, error) {
	if sub.IsTrialExpired(now) {
		return nil, nil, ReasonTrialExpired, nil
	}
	entitled := sub.IsEntitled(now)

	tier, err := e.effectiveTier(sub, now)
	if err != nil {
		return nil, nil, "", err
	}

	limit, ok := tier.LimitFor(resource)
	if !ok {
		if !entitled {
			return nil, nil, ReasonSubscriptionNotActive, nil
		}
		// No limit configured on an entitled tier means the resource is
		// not metered for it.
		limit = &entitlement.ResourceLimit{
			Resource:  resource,
			CapPolicy: entitlement.CapPolicyUnlimited,
		}
	}
	return tier, limit, "", nil
}

// effectiveTier returns the subscribed tier for entitled and trial-expired
// subscriptions; PAST_DUE and CANCELED subscriptions get the free tier. The
// admission path denies expired trials before reaching the tier, so this
// only reports the trialed tier in usage summaries.
func (e *Enforcer) effectiveTier(sub *entitlement.Subscription, now time.Time) (*entitlement.Tier, error) {
	if sub.IsEntitled(now) || sub.IsTrialExpired(now) {
		return e.tiers.Resolve(sub.TierID)
	}
	return e.tiers.FreeTier()
}

// pinnedLimit resolves the limit recorded at admission time so settlement
// uses the same rules even if the subscription changed tier meanwhile
func (e *Enforcer) pinnedLimit(r *ledger.Reservation) (*entitlement.ResourceLimit, error) {
	tier, err := e.tiers.Resolve(r.TierID)
	if err != nil {
		return nil, err
	}
	limit, ok := tier.LimitFor(r.Resource)
	if !ok {
		limit = &entitlement.ResourceLimit{
			Resource:  r.Resource,
			CapPolicy: entitlement.CapPolicyUnlimited,
		}
	}
	return limit, nil
}

// expireReservation reclaims a single expired reservation
func (e *Enforcer) expireReservation(ctx context.Context, r *ledger.Reservation) error {
	counter, err := e.counterRepo.FindByKey(ctx, r.UserID, r.Resource, r.PeriodKey)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if counter != nil {
		err = e.mutateCounter(ctx, counter, func(c *ledger.UsageCounter) error {
			c.ApplyRelease(r.EstimatedAmount)
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := r.Expire(); err != nil {
		return err
	}
	return e.reservationRepo.Update(ctx, r)
}

// mutateCounter applies a mutation under optimistic locking, reloading and
// retrying a bounded number of times when a concurrent writer wins
func (e *Enforcer) mutateCounter(
	ctx context.Context,
	counter *ledger.UsageCounter,
	mutate func(*ledger.UsageCounter) error,
) error {
	for attempt := 0; ; attempt++ {
		if err := mutate(counter); err != nil {
			return err
		}
		err := e.counterRepo.SaveWithLock(ctx, counter)
		if err == nil {
			return nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}
		if attempt+1 >= e.config.MaxRetries {
			e.logger.Warn("counter update exhausted retries",
				zap.String("user_id", counter.UserID.String()),
				zap.String("resource", counter.Resource.String()),
				zap.Int("attempts", attempt+1),
			)
			return shared.ErrConcurrencyConflict
		}
		fresh, ferr := e.counterRepo.FindByKey(ctx, counter.UserID, counter.Resource, counter.PeriodKey)
		if ferr != nil {
			return ferr
		}
		*counter = *fresh
	}
}
