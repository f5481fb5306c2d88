package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing_hunter/internal/domain"
)

func TestState_Offsets(t *testing.T) {
	state := NewState()

	assert.Equal(t, 0, state.Offset(domain.CategoryApartment))
	assert.Equal(t, 50, state.Advance(domain.CategoryApartment, 50))
	assert.Equal(t, 75, state.Advance(domain.CategoryApartment, 25))
	assert.Equal(t, 0, state.Offset(domain.CategoryHouse))

	state.Reset(domain.CategoryApartment)
	assert.Equal(t, 0, state.Offset(domain.CategoryApartment))
}

func TestState_ConcurrentAdvance(t *testing.T) {
	state := NewState()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state.Advance(domain.CategoryHouse, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, state.Offset(domain.CategoryHouse))
}

func TestState_EnableNotificationsIsIdempotent(t *testing.T) {
	state := NewState()
	assert.False(t, state.NotificationsEnabled())

	first := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	state.EnableNotifications(first)
	state.EnableNotifications(second)

	status := state.Status()
	assert.True(t, status.NotificationsEnabled)
	require.NotNil(t, status.NotificationsEnabledAt)
	assert.Equal(t, second, *status.NotificationsEnabledAt)
}

func TestState_StatusIsASnapshot(t *testing.T) {
	state := NewState()
	state.Advance(domain.CategoryApartment, 10)
	state.MarkBackfill(time.Now())

	status := state.Status()
	status.Offsets[domain.CategoryApartment] = 999

	assert.Equal(t, 10, state.Offset(domain.CategoryApartment))
	assert.NotNil(t, status.LastBackfillAt)
	assert.Nil(t, status.LastCheckAt)
}
