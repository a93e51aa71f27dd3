package ledger

import (
	"testing"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bandedLimit() *entitlement.ResourceLimit {
	return &entitlement.ResourceLimit{
		Resource:  entitlement.ResourceStorageGB,
		CapPolicy: entitlement.CapPolicySoft,
		Limit:     10,
		FeeSchedule: []entitlement.FeeBand{
			{ThresholdFraction: decimal.NewFromFloat(1.0), FeePerUnit: decimal.NewFromFloat(0.10)},
			{ThresholdFraction: decimal.NewFromFloat(1.5), FeePerUnit: decimal.NewFromFloat(0.25)},
		},
	}
}

func TestComputeOverageCharge(t *testing.T) {
	userID := uuid.New()

	compute := func(t *testing.T, committed int64, limit *entitlement.ResourceLimit) *OverageCharge {
		charge, err := ComputeOverageCharge(
			userID, limit.Resource, "20260301T000000", "pro-v1", committed, limit,
		)
		require.NoError(t, err)
		return charge
	}

	t.Run("prices units across progressive bands", func(t *testing.T) {
		// limit 10, committed 18: 5 units at 0.10, 3 units at 0.25
		charge := compute(t, 18, bandedLimit())
		require.NotNil(t, charge)
		assert.Equal(t, int64(8), charge.OverageUnits)
		assert.True(t, charge.FeeAmount.Equal(decimal.NewFromFloat(1.25)),
			"expected 1.25, got %s", charge.FeeAmount)
	})

	t.Run("stays within the first band", func(t *testing.T) {
		charge := compute(t, 13, bandedLimit())
		require.NotNil(t, charge)
		assert.Equal(t, int64(3), charge.OverageUnits)
		assert.True(t, charge.FeeAmount.Equal(decimal.NewFromFloat(0.30)))
	})

	t.Run("last band is open ended", func(t *testing.T) {
		charge := compute(t, 100, bandedLimit())
		require.NotNil(t, charge)
		// 5 units at 0.10 plus 85 units at 0.25
		assert.True(t, charge.FeeAmount.Equal(decimal.NewFromFloat(21.75)))
	})

	t.Run("no charge at or below the limit", func(t *testing.T) {
		assert.Nil(t, compute(t, 10, bandedLimit()))
		assert.Nil(t, compute(t, 3, bandedLimit()))
	})

	t.Run("no charge for hard capped resources", func(t *testing.T) {
		limit := &entitlement.ResourceLimit{
			Resource:  entitlement.ResourceStorageGB,
			CapPolicy: entitlement.CapPolicyHard,
			Limit:     10,
		}
		assert.Nil(t, compute(t, 18, limit))
	})

	t.Run("single band prices all overage", func(t *testing.T) {
		limit := bandedLimit()
		limit.FeeSchedule = limit.FeeSchedule[:1]
		charge := compute(t, 18, limit)
		require.NotNil(t, charge)
		assert.True(t, charge.FeeAmount.Equal(decimal.NewFromFloat(0.80)))
	})

	t.Run("soft cap without a schedule is a configuration error", func(t *testing.T) {
		limit := bandedLimit()
		limit.FeeSchedule = nil
		_, err := ComputeOverageCharge(
			userID, limit.Resource, "20260301T000000", "pro-v1", 18, limit,
		)
		assert.Error(t, err)
	})
}
