package models

import (
	"time"

	"github.com/arbitrate/engine/internal/money"
)

// RiskState is the singleton, persisted risk ledger. Invariants that
// must hold between any two external operations (enforced by the
// risk manager, not by this type):
//
//	0 <= TotalCapitalDeployed + ReservedCapital <= Bankroll
//	OpenPositionCount + ReservedSlots <= Limits.MaxOpenPairs
//	OpenPositionCount >= 0; TotalCapitalDeployed >= 0
//	trading_halted iff ActiveHaltReasons is non-empty
type RiskState struct {
	Bankroll              money.Decimal
	DailyPnL              money.Decimal
	OpenPositionCount      int
	TotalCapitalDeployed   money.Decimal
	ReservedCapital        money.Decimal
	ReservedSlots          int
	LastResetTimestamp     time.Time
	ActiveHaltReasons      map[HaltReason]bool
	Limits                 RiskLimits
	ApproachOnceFlag       bool // daily-loss "crossed 80%" latch, reset at midnight
	OpenPairsApproachFlag  bool // open-pairs "crossed 80%" latch
}

// IsHalted reports whether trading is currently halted.
func (s RiskState) IsHalted() bool {
	return len(s.ActiveHaltReasons) > 0
}

// MaxPositionSize is bankroll * max_position_pct.
func (s RiskState) MaxPositionSize() money.Decimal {
	return s.Bankroll.Mul(s.Limits.MaxPositionPct)
}

// AvailableCapital is the capital not yet deployed or reserved.
func (s RiskState) AvailableCapital() money.Decimal {
	return s.Bankroll.Sub(s.TotalCapitalDeployed).Sub(s.ReservedCapital)
}

// DailyLossLimit is bankroll * daily_loss_pct.
func (s RiskState) DailyLossLimit() money.Decimal {
	return s.Bankroll.Mul(s.Limits.DailyLossPct)
}

// AbsoluteDailyLoss is max(-daily_pnl, 0).
func (s RiskState) AbsoluteDailyLoss() money.Decimal {
	if s.DailyPnL.IsNegative() {
		return s.DailyPnL.Neg()
	}
	return money.Zero
}

// HaltReasonStrings renders ActiveHaltReasons as a stable-order slice
// for JSON persistence and event payloads.
func (s RiskState) HaltReasonStrings() []string {
	order := []HaltReason{HaltDailyLossLimit, HaltReconciliationRequired, HaltClockDrift}
	out := make([]string, 0, len(s.ActiveHaltReasons))
	for _, r := range order {
		if s.ActiveHaltReasons[r] {
			out = append(out, string(r))
		}
	}
	return out
}
