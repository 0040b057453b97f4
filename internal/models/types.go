// Package models provides data structures and state management for
// arbitrage opportunities and risk state.
package models

import (
	"time"

	"github.com/arbitrate/engine/internal/money"
)

// Platform identifies one of the two venues a ContractPair spans.
type Platform string

const (
	PlatformPolymarket Platform = "polymarket"
	PlatformKalshi     Platform = "kalshi"
)

// Leg identifies which side of a ContractPair is the primary leg.
type Leg string

const (
	LegA Leg = "A"
	LegB Leg = "B"
)

// ContractPair is a verified mapping between equivalent binary
// outcomes on two venues, read-only once loaded from configuration.
type ContractPair struct {
	PolymarketID          string
	KalshiID              string
	EventDescription      string
	VerificationTimestamp time.Time
	PrimaryLeg            Leg
}

// PriceLevel is one rung of an order book.
type PriceLevel struct {
	Price    money.Decimal
	Quantity money.Decimal
}

// OrderBook is a point-in-time snapshot for one contract on one
// platform, owned by the detector for the duration of a single cycle.
type OrderBook struct {
	PlatformID string
	ContractID string
	Bids       []PriceLevel // ordered by price descending
	Asks       []PriceLevel // ordered by price ascending
	Timestamp  time.Time
}

// BestBid returns the highest bid level, ok=false if the book has no
// bids.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, ok=false if the book has no
// asks.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// RawDislocation is one detected arbitrage direction for one pair in
// one cycle. Invariant (enforced by the detector, not here):
// GrossEdge == |BuyPrice - (1 - SellPrice)| AND BuyPrice < 1 - SellPrice.
type RawDislocation struct {
	Pair         ContractPair
	BuyPlatform  Platform
	SellPlatform Platform
	BuyPrice     money.Decimal
	SellPrice    money.Decimal
	GrossEdge    money.Decimal
	BuyBook      OrderBook
	SellBook     OrderBook
	DetectedAt   time.Time
}

// FeeBreakdown is the per-opportunity cost accounting the edge
// calculator attaches to a RawDislocation.
type FeeBreakdown struct {
	BuyFeeCost  money.Decimal
	SellFeeCost money.Decimal
	GasFraction money.Decimal
	TotalCosts  money.Decimal
	Schedules   map[Platform]FeeSchedule
}

// FeeSchedule is a venue's taker/maker fee rates, expressed as
// percentages (e.g. 1.5 means 1.5%).
type FeeSchedule struct {
	TakerFeePercent money.Decimal
	MakerFeePercent money.Decimal
}

// EnrichedOpportunity is a RawDislocation enriched with net-of-fees
// economics. Invariant: NetEdge <= GrossEdge.
type EnrichedOpportunity struct {
	OpportunityID string
	RawDislocation
	NetEdge         money.Decimal
	FeeBreakdown    FeeBreakdown
	LiquidityDepth  money.Decimal
	RecommendedSize money.Decimal
	EnrichedAt      time.Time
}

// BudgetReservation is a hold on risk-manager capital and a slot,
// acquired by reserve_budget and resolved exactly once by either
// commit_reservation or release_reservation.
type BudgetReservation struct {
	ReservationID   string
	OpportunityID   string
	ReservedSlots   int
	ReservedCapital money.Decimal
	CreatedAt       time.Time
}

// HaltReason tags why trading is currently halted. Multiple reasons
// may be active concurrently; trading resumes only when the set is
// empty.
type HaltReason string

const (
	HaltDailyLossLimit         HaltReason = "daily_loss_limit"
	HaltReconciliationRequired HaltReason = "reconciliation_discrepancy"
	HaltClockDrift             HaltReason = "clock_drift"
)

// RiskLimits are the construction-time-validated thresholds the risk
// manager enforces.
type RiskLimits struct {
	MaxPositionPct money.Decimal // 0 < x <= 1
	MaxOpenPairs   int           // positive
	DailyLossPct   money.Decimal // 0 < x <= 1
}

// PositionStatus is the lifecycle state of a committed position,
// distinct from the execution queue's in-flight OpportunityState.
type PositionStatus string

const (
	PositionOpen                  PositionStatus = "OPEN"
	PositionSingleLegExposed       PositionStatus = "SINGLE_LEG_EXPOSED"
	PositionExitPartial            PositionStatus = "EXIT_PARTIAL"
	PositionClosed                 PositionStatus = "CLOSED"
	PositionReconciliationRequired PositionStatus = "RECONCILIATION_REQUIRED"
)

// ReconciliationContext is the saved discrepancy context attached to
// a position flagged RECONCILIATION_REQUIRED.
type ReconciliationContext struct {
	RecommendedStatus PositionStatus
	DiscrepancyType   string
	PlatformState     string
	DetectedAt        time.Time
}

// OrderRef points at a submitted order on a venue, with the fill
// details recorded once known.
type OrderRef struct {
	OrderID     string
	Platform    Platform
	Status      string // "filled" | "pending" | "cancelled" | "rejected" | "failed" | "not_found"
	FillPrice   money.Decimal
	FillSize    money.Decimal
}

// Position is a committed two-leg arbitrage position.
type Position struct {
	PositionID  string
	PairID      string
	LegA        OrderRef
	LegB        OrderRef
	Status      PositionStatus
	Reconciliation *ReconciliationContext
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// ActiveCapital sums fill_price*fill_size across both legs, used by
// reconciliation's budget recalculation.
func (p Position) ActiveCapital() money.Decimal {
	a := p.LegA.FillPrice.Mul(p.LegA.FillSize)
	b := p.LegB.FillPrice.Mul(p.LegB.FillSize)
	return a.Add(b)
}

// CountsTowardOpenCount reports whether p is counted in
// open_position_count during reconciliation's recalculation phase.
// RECONCILIATION_REQUIRED positions are excluded -- they are not
// "open" until the operator resolves the discrepancy.
func (p Position) CountsTowardOpenCount() bool {
	switch p.Status {
	case PositionOpen, PositionSingleLegExposed, PositionExitPartial:
		return true
	default:
		return false
	}
}

// CountsTowardCapitalDeployed reports whether p is summed into
// capital_deployed during reconciliation's recalculation phase.
// Unlike CountsTowardOpenCount, RECONCILIATION_REQUIRED positions are
// included -- their capital is still at risk even though the position
// isn't counted as open.
func (p Position) CountsTowardCapitalDeployed() bool {
	switch p.Status {
	case PositionOpen, PositionSingleLegExposed, PositionExitPartial, PositionReconciliationRequired:
		return true
	default:
		return false
	}
}
