package risk

import (
	"time"

	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/storage"
)

// LoadFromSnapshot reconstructs m's RiskState from a persisted
// snapshot, applying the spec's startup-reload rules: the daily P&L
// window resets if last_reset_timestamp predates today's UTC
// midnight, corruption (no timestamp but nonzero P&L) is treated
// defensively, and reservations are always cleared as stale since
// in-flight execution cannot survive a restart.
func (m *Manager) LoadFromSnapshot(snap storage.RiskSnapshot, now time.Time) {
	m.state.DailyPnL = snap.DailyPnL
	m.state.OpenPositionCount = snap.OpenPositionCount
	m.state.TotalCapitalDeployed = snap.TotalCapitalDeployed
	m.state.LastResetTimestamp = snap.LastResetTimestamp
	m.state.ApproachOnceFlag = snap.ApproachOnceFlag
	m.state.OpenPairsApproachFlag = snap.OpenPairsApproachFlag

	// Reservations never survive a restart.
	m.state.ReservedCapital = money.Zero
	m.state.ReservedSlots = 0
	m.reservations = make(map[string]models.BudgetReservation)

	m.state.ActiveHaltReasons = make(map[models.HaltReason]bool)
	for _, r := range snap.ActiveHaltReasons {
		m.state.ActiveHaltReasons[models.HaltReason(r)] = true
	}

	todayMidnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch {
	case snap.LastResetTimestamp.IsZero() && !m.state.DailyPnL.IsZero():
		m.log.Warn("risk state reload: no last_reset_timestamp but nonzero daily_pnl; treating as corruption and resetting")
		m.state.DailyPnL = money.Zero
		delete(m.state.ActiveHaltReasons, models.HaltDailyLossLimit)
		m.state.LastResetTimestamp = todayMidnight

	case snap.LastResetTimestamp.Before(todayMidnight):
		m.state.DailyPnL = money.Zero
		m.state.ApproachOnceFlag = false
		delete(m.state.ActiveHaltReasons, models.HaltDailyLossLimit)
		m.state.LastResetTimestamp = todayMidnight

	default:
		absLoss := m.state.AbsoluteDailyLoss()
		limit := m.state.DailyLossLimit()
		if absLoss.GreaterOrEqual(limit) {
			m.state.ActiveHaltReasons[models.HaltDailyLossLimit] = true
		}
	}

	m.persist()
}
