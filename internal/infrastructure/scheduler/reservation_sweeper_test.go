package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casevault/backend/internal/application/quota"
	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// emptyReservationRepo is a reservation repository with nothing to sweep.
// It counts FindExpired calls so tests can observe sweep executions.
type emptyReservationRepo struct {
	findExpiredCalls atomic.Int32
}

func (r *emptyReservationRepo) Save(ctx context.Context, reservation *ledger.Reservation) error {
	return nil
}

func (r *emptyReservationRepo) Update(ctx context.Context, reservation *ledger.Reservation) error {
	return nil
}

func (r *emptyReservationRepo) FindByToken(ctx context.Context, token uuid.UUID) (*ledger.Reservation, error) {
	return nil, nil
}

func (r *emptyReservationRepo) FindOpenByCounter(ctx context.Context, userID uuid.UUID, resource entitlement.ResourceType, periodKey string) ([]*ledger.Reservation, error) {
	return nil, nil
}

func (r *emptyReservationRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*ledger.Reservation, error) {
	r.findExpiredCalls.Add(1)
	return nil, nil
}

func (r *emptyReservationRepo) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func newTestSweeper(cfg ReservationSweeperConfig) (*ReservationSweeper, *emptyReservationRepo) {
	repo := &emptyReservationRepo{}
	service := quota.NewReservationExpiryService(repo, nil, zap.NewNop(), quota.DefaultExpiryConfig())
	return NewReservationSweeper(service, zap.NewNop(), cfg), repo
}

func TestReservationSweeper_StartStop(t *testing.T) {
	sweeper, _ := newTestSweeper(DefaultReservationSweeperConfig())
	ctx := context.Background()

	require.NoError(t, sweeper.Start(ctx))
	assert.True(t, sweeper.IsRunning())

	// Start is idempotent.
	require.NoError(t, sweeper.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sweeper.Stop(stopCtx))
	assert.False(t, sweeper.IsRunning())

	// Stop is idempotent.
	require.NoError(t, sweeper.Stop(stopCtx))
}

func TestReservationSweeper_Disabled(t *testing.T) {
	cfg := DefaultReservationSweeperConfig()
	cfg.Enabled = false
	sweeper, _ := newTestSweeper(cfg)

	require.NoError(t, sweeper.Start(context.Background()))
	assert.False(t, sweeper.IsRunning())
}

func TestReservationSweeper_InvalidConfig(t *testing.T) {
	cfg := DefaultReservationSweeperConfig()
	cfg.Interval = 0
	sweeper, _ := newTestSweeper(cfg)

	err := sweeper.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReservationSweeper_TriggerImmediate(t *testing.T) {
	cfg := DefaultReservationSweeperConfig()
	cfg.Interval = time.Hour
	cfg.PurgeInterval = time.Hour
	sweeper, repo := newTestSweeper(cfg)
	ctx := context.Background()

	// Rejected while stopped.
	assert.ErrorIs(t, sweeper.TriggerImmediate(ctx), ErrSchedulerNotRunning)

	require.NoError(t, sweeper.Start(ctx))
	require.NoError(t, sweeper.TriggerImmediate(ctx))

	assert.Eventually(t, func() bool {
		return repo.findExpiredCalls.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sweeper.Stop(stopCtx))
}
