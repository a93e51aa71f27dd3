package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casevault/backend/internal/application/quota"
	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// emptySubscriptionRepo is a subscription repository with nothing due.
// It counts FindPeriodEndingBefore calls so tests can observe close runs.
type emptySubscriptionRepo struct {
	findDueCalls atomic.Int32
}

func (r *emptySubscriptionRepo) Save(ctx context.Context, sub *entitlement.Subscription) error {
	return nil
}

func (r *emptySubscriptionRepo) Update(ctx context.Context, sub *entitlement.Subscription) error {
	return nil
}

func (r *emptySubscriptionRepo) FindByID(ctx context.Context, id uuid.UUID) (*entitlement.Subscription, error) {
	return nil, nil
}

func (r *emptySubscriptionRepo) FindByUser(ctx context.Context, userID uuid.UUID) (*entitlement.Subscription, error) {
	return nil, nil
}

func (r *emptySubscriptionRepo) FindPeriodEndingBefore(ctx context.Context, t time.Time, limit int) ([]*entitlement.Subscription, error) {
	r.findDueCalls.Add(1)
	return nil, nil
}

func newTestCloseScheduler(cfg PeriodCloseSchedulerConfig) (*PeriodCloseScheduler, *emptySubscriptionRepo) {
	repo := &emptySubscriptionRepo{}
	service := quota.NewPeriodCloseService(repo, nil, nil, nil, nil, nil, zap.NewNop(), quota.DefaultPeriodCloseConfig())
	return NewPeriodCloseScheduler(service, zap.NewNop(), cfg), repo
}

func TestPeriodCloseScheduler_StartStop(t *testing.T) {
	scheduler, _ := newTestCloseScheduler(DefaultPeriodCloseSchedulerConfig())
	ctx := context.Background()

	require.NoError(t, scheduler.Start(ctx))
	assert.True(t, scheduler.IsRunning())

	require.NoError(t, scheduler.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(stopCtx))
	assert.False(t, scheduler.IsRunning())

	require.NoError(t, scheduler.Stop(stopCtx))
}

func TestPeriodCloseScheduler_Disabled(t *testing.T) {
	cfg := DefaultPeriodCloseSchedulerConfig()
	cfg.Enabled = false
	scheduler, _ := newTestCloseScheduler(cfg)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.False(t, scheduler.IsRunning())
}

func TestPeriodCloseScheduler_InvalidConfig(t *testing.T) {
	cfg := DefaultPeriodCloseSchedulerConfig()
	cfg.JobTimeout = 0
	scheduler, _ := newTestCloseScheduler(cfg)

	err := scheduler.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPeriodCloseScheduler_TickExecutes(t *testing.T) {
	cfg := DefaultPeriodCloseSchedulerConfig()
	cfg.Interval = 20 * time.Millisecond
	scheduler, repo := newTestCloseScheduler(cfg)
	ctx := context.Background()

	require.NoError(t, scheduler.Start(ctx))

	assert.Eventually(t, func() bool {
		return repo.findDueCalls.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(stopCtx))
}

func TestPeriodCloseScheduler_TriggerImmediate(t *testing.T) {
	cfg := DefaultPeriodCloseSchedulerConfig()
	cfg.Interval = time.Hour
	scheduler, repo := newTestCloseScheduler(cfg)
	ctx := context.Background()

	assert.ErrorIs(t, scheduler.TriggerImmediate(ctx), ErrSchedulerNotRunning)

	require.NoError(t, scheduler.Start(ctx))
	require.NoError(t, scheduler.TriggerImmediate(ctx))

	assert.Eventually(t, func() bool {
		return repo.findDueCalls.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(stopCtx))
}
