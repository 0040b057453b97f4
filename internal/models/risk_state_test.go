package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arbitrate/engine/internal/money"
)

func baseRiskState() RiskState {
	return RiskState{
		Bankroll: money.MustFromFloat(10000),
		Limits: RiskLimits{
			MaxPositionPct: money.MustFromFloat(0.2),
			MaxOpenPairs:   5,
			DailyLossPct:   money.MustFromFloat(0.1),
		},
		ActiveHaltReasons: map[HaltReason]bool{},
	}
}

func TestIsHalted(t *testing.T) {
	s := baseRiskState()
	assert.False(t, s.IsHalted())

	s.ActiveHaltReasons[HaltClockDrift] = true
	assert.True(t, s.IsHalted())
}

func TestMaxPositionSizeAndAvailableCapital(t *testing.T) {
	s := baseRiskState()
	assert.True(t, s.MaxPositionSize().Equal(money.MustFromFloat(2000)))

	s.TotalCapitalDeployed = money.MustFromFloat(1000)
	s.ReservedCapital = money.MustFromFloat(500)
	assert.True(t, s.AvailableCapital().Equal(money.MustFromFloat(8500)))
}

func TestDailyLossLimitAndAbsoluteLoss(t *testing.T) {
	s := baseRiskState()
	assert.True(t, s.DailyLossLimit().Equal(money.MustFromFloat(1000)))

	s.DailyPnL = money.MustFromFloat(-250)
	assert.True(t, s.AbsoluteDailyLoss().Equal(money.MustFromFloat(250)))

	s.DailyPnL = money.MustFromFloat(250)
	assert.True(t, s.AbsoluteDailyLoss().IsZero())
}

func TestHaltReasonStringsStableOrder(t *testing.T) {
	s := baseRiskState()
	s.ActiveHaltReasons[HaltClockDrift] = true
	s.ActiveHaltReasons[HaltDailyLossLimit] = true

	assert.Equal(t, []string{"daily_loss_limit", "clock_drift"}, s.HaltReasonStrings())
}

func TestPositionCapitalAndCounting(t *testing.T) {
	p := Position{
		Status: PositionReconciliationRequired,
		LegA:   OrderRef{FillPrice: money.MustFromFloat(0.4), FillSize: money.MustFromFloat(100)},
		LegB:   OrderRef{FillPrice: money.MustFromFloat(0.5), FillSize: money.MustFromFloat(100)},
	}
	assert.True(t, p.ActiveCapital().Equal(money.MustFromFloat(90)))
	assert.False(t, p.CountsTowardOpenCount())
	assert.True(t, p.CountsTowardCapitalDeployed())

	p.Status = PositionOpen
	assert.True(t, p.CountsTowardOpenCount())

	p.Status = PositionClosed
	assert.False(t, p.CountsTowardOpenCount())
	assert.False(t, p.CountsTowardCapitalDeployed())
}
