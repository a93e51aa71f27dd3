package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&entitlement.Subscription{},
		&ledger.UsageCounter{},
		&ledger.Reservation{},
		&ledger.OverageCharge{},
	)
	require.NoError(t, err)

	return db
}

func hardMinutes(limit int64) *entitlement.ResourceLimit {
	return &entitlement.ResourceLimit{
		Resource:  entitlement.ResourceTranscriptionMinutes,
		CapPolicy: entitlement.CapPolicyHard,
		Limit:     limit,
	}
}

func TestGormUsageCounterRepository_FindOrCreate(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormUsageCounterRepository(db)
	ctx := context.Background()
	userID := uuid.New()
	periodEnd := time.Now().AddDate(0, 1, 0)

	counter, err := repo.FindOrCreate(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000", periodEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter.ReservedAmount)
	assert.Equal(t, int64(0), counter.CommittedAmount)
	assert.Equal(t, ledger.PeriodOpen, counter.State)

	// Second call returns the existing row instead of creating another.
	again, err := repo.FindOrCreate(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000", periodEnd)
	require.NoError(t, err)
	assert.Equal(t, counter.ID, again.ID)
}

func TestGormUsageCounterRepository_FindByKey(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormUsageCounterRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	_, err := repo.FindByKey(ctx, userID, entitlement.ResourceAPICalls, "20260801T000000")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	created, err := repo.FindOrCreate(ctx, userID, entitlement.ResourceAPICalls, "20260801T000000", time.Now().AddDate(0, 1, 0))
	require.NoError(t, err)

	found, err := repo.FindByKey(ctx, userID, entitlement.ResourceAPICalls, "20260801T000000")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, entitlement.ResourceAPICalls, found.Resource)
}

func TestGormUsageCounterRepository_FindByUserAndPeriod(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormUsageCounterRepository(db)
	ctx := context.Background()
	userID := uuid.New()
	periodEnd := time.Now().AddDate(0, 1, 0)

	_, err := repo.FindOrCreate(ctx, userID, entitlement.ResourceStorageGB, "20260801T000000", periodEnd)
	require.NoError(t, err)
	_, err = repo.FindOrCreate(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000", periodEnd)
	require.NoError(t, err)
	// Different period and different user stay out of the result.
	_, err = repo.FindOrCreate(ctx, userID, entitlement.ResourceStorageGB, "20260701T000000", periodEnd)
	require.NoError(t, err)
	_, err = repo.FindOrCreate(ctx, uuid.New(), entitlement.ResourceStorageGB, "20260801T000000", periodEnd)
	require.NoError(t, err)

	counters, err := repo.FindByUserAndPeriod(ctx, userID, "20260801T000000")
	require.NoError(t, err)
	require.Len(t, counters, 2)
	assert.Equal(t, entitlement.ResourceStorageGB, counters[0].Resource)
	assert.Equal(t, entitlement.ResourceTranscriptionMinutes, counters[1].Resource)
}

func TestGormUsageCounterRepository_SaveWithLock(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormUsageCounterRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	counter, err := repo.FindOrCreate(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000", time.Now().AddDate(0, 1, 0))
	require.NoError(t, err)

	_, err = counter.Reserve(30, hardMinutes(100))
	require.NoError(t, err)
	require.NoError(t, repo.SaveWithLock(ctx, counter))

	stored, err := repo.FindByKey(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000")
	require.NoError(t, err)
	assert.Equal(t, int64(30), stored.ReservedAmount)
	assert.Equal(t, 2, stored.Version)
}

func TestGormUsageCounterRepository_SaveWithLock_Conflict(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormUsageCounterRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	_, err := repo.FindOrCreate(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000", time.Now().AddDate(0, 1, 0))
	require.NoError(t, err)

	first, err := repo.FindByKey(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000")
	require.NoError(t, err)
	second, err := repo.FindByKey(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000")
	require.NoError(t, err)

	_, err = first.Reserve(30, hardMinutes(100))
	require.NoError(t, err)
	require.NoError(t, repo.SaveWithLock(ctx, first))

	// The second copy still carries the stale version and must lose.
	_, err = second.Reserve(50, hardMinutes(100))
	require.NoError(t, err)
	err = repo.SaveWithLock(ctx, second)
	assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	stored, err := repo.FindByKey(ctx, userID, entitlement.ResourceTranscriptionMinutes, "20260801T000000")
	require.NoError(t, err)
	assert.Equal(t, int64(30), stored.ReservedAmount)
}
