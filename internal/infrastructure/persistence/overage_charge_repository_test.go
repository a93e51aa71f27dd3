package persistence

import (
	"context"
	"testing"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/casevault/backend/internal/domain/ledger"
	"github.com/casevault/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storageOverageCharge(t *testing.T, userID uuid.UUID, periodKey string, committed int64) *ledger.OverageCharge {
	t.Helper()
	limit := &entitlement.ResourceLimit{
		Resource:  entitlement.ResourceStorageGB,
		CapPolicy: entitlement.CapPolicySoft,
		Limit:     10,
		FeeSchedule: []entitlement.FeeBand{
			{ThresholdFraction: decimal.NewFromInt(1), FeePerUnit: decimal.RequireFromString("0.10")},
			{ThresholdFraction: decimal.RequireFromString("1.5"), FeePerUnit: decimal.RequireFromString("0.25")},
		},
	}
	charge, err := ledger.ComputeOverageCharge(userID, entitlement.ResourceStorageGB, periodKey, "pro-v1", committed, limit)
	require.NoError(t, err)
	require.NotNil(t, charge)
	return charge
}

func TestGormOverageChargeRepository_SaveAndFind(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOverageChargeRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	charge := storageOverageCharge(t, userID, "20260801T000000", 18)
	require.NoError(t, repo.Save(ctx, charge))

	charges, err := repo.FindByUserAndPeriod(ctx, userID, "20260801T000000")
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, int64(8), charges[0].OverageUnits)
	assert.True(t, charges[0].FeeAmount.Equal(decimal.RequireFromString("1.25")),
		"got %s", charges[0].FeeAmount)
}

func TestGormOverageChargeRepository_Save_Duplicate(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOverageChargeRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.Save(ctx, storageOverageCharge(t, userID, "20260801T000000", 18)))

	err := repo.Save(ctx, storageOverageCharge(t, userID, "20260801T000000", 18))
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
}

func TestGormOverageChargeRepository_ExistsFor(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOverageChargeRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	exists, err := repo.ExistsFor(ctx, userID, entitlement.ResourceStorageGB, "20260801T000000")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Save(ctx, storageOverageCharge(t, userID, "20260801T000000", 18)))

	exists, err = repo.ExistsFor(ctx, userID, entitlement.ResourceStorageGB, "20260801T000000")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsFor(ctx, userID, entitlement.ResourceStorageGB, "20260901T000000")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGormOverageChargeRepository_FindByUser(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormOverageChargeRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.Save(ctx, storageOverageCharge(t, userID, "20260701T000000", 12)))
	require.NoError(t, repo.Save(ctx, storageOverageCharge(t, userID, "20260801T000000", 18)))
	require.NoError(t, repo.Save(ctx, storageOverageCharge(t, uuid.New(), "20260801T000000", 18)))

	charges, err := repo.FindByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, charges, 2)
}
