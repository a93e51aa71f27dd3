package ledger

import (
	"testing"
	"time"

	"github.com/casevault/backend/internal/domain/entitlement"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenReservation() *Reservation {
	return NewReservation(
		uuid.New(),
		entitlement.ResourceTranscriptionMinutes,
		"20260301T000000",
		"pro-v1",
		60,
		15*time.Minute,
	)
}

func TestNewReservation(t *testing.T) {
	r := newOpenReservation()
	assert.Equal(t, ReservationOpen, r.State)
	assert.NotEqual(t, uuid.Nil, r.Token())
	assert.Equal(t, r.ID, r.Token())
	assert.Equal(t, r.CreatedAt.Add(15*time.Minute), r.ExpiresAt)
	assert.Nil(t, r.ResolvedAt)
}

func TestReservation_IsExpired(t *testing.T) {
	r := newOpenReservation()
	assert.False(t, r.IsExpired(r.CreatedAt.Add(time.Minute)))
	assert.True(t, r.IsExpired(r.ExpiresAt.Add(time.Second)))
}

func TestReservation_Transitions(t *testing.T) {
	t.Run("commit resolves an open reservation", func(t *testing.T) {
		r := newOpenReservation()
		require.NoError(t, r.Commit())
		assert.Equal(t, ReservationCommitted, r.State)
		assert.NotNil(t, r.ResolvedAt)
	})

	t.Run("release resolves an open reservation", func(t *testing.T) {
		r := newOpenReservation()
		require.NoError(t, r.Release())
		assert.Equal(t, ReservationReleased, r.State)
	})

	t.Run("expire resolves an open reservation", func(t *testing.T) {
		r := newOpenReservation()
		require.NoError(t, r.Expire())
		assert.Equal(t, ReservationExpired, r.State)
	})

	t.Run("exactly one terminal transition is permitted", func(t *testing.T) {
		r := newOpenReservation()
		require.NoError(t, r.Commit())
		assert.Error(t, r.Commit())
		assert.Error(t, r.Release())
		assert.Error(t, r.Expire())
		assert.Equal(t, ReservationCommitted, r.State)
	})
}

func TestReservationState_IsTerminal(t *testing.T) {
	assert.False(t, ReservationOpen.IsTerminal())
	assert.True(t, ReservationCommitted.IsTerminal())
	assert.True(t, ReservationReleased.IsTerminal())
	assert.True(t, ReservationExpired.IsTerminal())
}
