package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/storage"
)

func TestLoadFromSnapshotResetsAcrossMidnight(t *testing.T) {
	m, _ := testManager(t)
	yesterday := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	m.LoadFromSnapshot(storage.RiskSnapshot{
		DailyPnL:           money.MustFromFloat(-900),
		LastResetTimestamp: yesterday,
		ActiveHaltReasons:  []string{"daily_loss_limit", "clock_drift"},
	}, now)

	assert.True(t, m.state.DailyPnL.IsZero())
	assert.False(t, m.state.ActiveHaltReasons[models.HaltDailyLossLimit])
	assert.True(t, m.state.ActiveHaltReasons[models.HaltClockDrift])
}

func TestLoadFromSnapshotKeepsSameDayLossAndReHalts(t *testing.T) {
	m, _ := testManager(t)
	now := time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC)
	today := time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC)

	m.LoadFromSnapshot(storage.RiskSnapshot{
		DailyPnL:           money.MustFromFloat(-1500), // exceeds 10% of 10000
		LastResetTimestamp: today,
	}, now)

	assert.True(t, m.state.DailyPnL.Equal(money.MustFromFloat(-1500)))
	assert.True(t, m.state.ActiveHaltReasons[models.HaltDailyLossLimit])
}

func TestLoadFromSnapshotTreatsMissingTimestampWithNonzeroPnLAsCorruption(t *testing.T) {
	m, _ := testManager(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	m.LoadFromSnapshot(storage.RiskSnapshot{
		DailyPnL: money.MustFromFloat(-500),
	}, now)

	assert.True(t, m.state.DailyPnL.IsZero())
	assert.False(t, m.state.ActiveHaltReasons[models.HaltDailyLossLimit])
}

func TestLoadFromSnapshotAlwaysClearsReservations(t *testing.T) {
	m, _ := testManager(t)
	_, err := m.ReserveBudget("c1", "opp-1", money.MustFromFloat(100))
	assert.NoError(t, err)

	m.LoadFromSnapshot(storage.RiskSnapshot{}, time.Now())

	assert.Equal(t, 0, m.state.ReservedSlots)
	assert.True(t, m.state.ReservedCapital.IsZero())
	assert.Empty(t, m.reservations)
}
