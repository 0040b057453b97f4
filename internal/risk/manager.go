// Package risk implements the engine's singleton risk manager: the
// transaction algebra over models.RiskState that gates every
// reservation, commit, release, and halt decision. Grounded on the
// teacher's internal/models/state_machine.go precomputed-lookup idiom
// for the halt-reason set, and on web3guy0-polybot's risk-gate.go for
// the shape of a decimal-based, day-reset-aware risk gate -- adapted
// here from a single-asset position gate into the spec's capital/
// slot reservation algebra.
//
// Per the engine's single-threaded cooperative scheduling model, the
// manager is not internally lock-protected: reads and mutations
// within one cycle are serialized by the absence of preemption
// between I/O suspension points, and the execution queue guarantees
// at most one reserve/commit/release sequence is ever in flight.
package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arbitrate/engine/internal/clock"
	"github.com/arbitrate/engine/internal/engineerr"
	"github.com/arbitrate/engine/internal/events"
	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/storage"
)

const approachRatio = 0.8 // "crosses 80%" per spec section 4.1

// Decision is the result of validate_position: a pre-screen that
// reserves nothing and changes no capital, slot or halt state.
type Decision struct {
	Approved bool
	Reason   string
}

// Manager owns the RiskState singleton and is the only writer of its
// persisted snapshot.
type Manager struct {
	state        models.RiskState
	reservations map[string]models.BudgetReservation
	store        storage.Interface
	bus          *events.Bus
	clk          clock.Clock
	log          *logrus.Entry
}

// Config is the construction-time-validated limit set (spec section
// 4.1 "Config validation").
type Config struct {
	Bankroll       money.Decimal
	MaxPositionPct money.Decimal
	MaxOpenPairs   int
	DailyLossPct   money.Decimal
}

// Validate enforces the spec's construction-time invariants, failing
// fatally per the ConfigValidation error kind.
func (c Config) Validate() error {
	const op = "risk.Config.Validate"
	if !c.Bankroll.GreaterThan(money.Zero) {
		return engineerr.New(engineerr.KindConfigValidation, op, "bankroll must be > 0")
	}
	if !c.MaxPositionPct.GreaterThan(money.Zero) || c.MaxPositionPct.GreaterThan(money.NewFromInt(1)) {
		return engineerr.New(engineerr.KindConfigValidation, op, "max_position_pct must be in (0, 1]")
	}
	if c.MaxOpenPairs <= 0 {
		return engineerr.New(engineerr.KindConfigValidation, op, "max_open_pairs must be a positive integer")
	}
	if !c.DailyLossPct.GreaterThan(money.Zero) || c.DailyLossPct.GreaterThan(money.NewFromInt(1)) {
		return engineerr.New(engineerr.KindConfigValidation, op, "daily_loss_pct must be in (0, 1]")
	}
	return nil
}

// New constructs a Manager with a fresh RiskState, validating cfg at
// construction time per spec section 4.1.
func New(cfg Config, store storage.Interface, bus *events.Bus, clk clock.Clock, log *logrus.Entry) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		state: models.RiskState{
			Bankroll: cfg.Bankroll,
			Limits: models.RiskLimits{
				MaxPositionPct: cfg.MaxPositionPct,
				MaxOpenPairs:   cfg.MaxOpenPairs,
				DailyLossPct:   cfg.DailyLossPct,
			},
			ActiveHaltReasons: make(map[models.HaltReason]bool),
		},
		reservations: make(map[string]models.BudgetReservation),
		store:        store,
		bus:          bus,
		clk:          clk,
		log:          log,
	}, nil
}

// Snapshot returns a copy of the current RiskState for read-only
// observers (status surface, reconciliation's pre-read).
func (m *Manager) Snapshot() models.RiskState {
	cp := m.state
	cp.ActiveHaltReasons = make(map[models.HaltReason]bool, len(m.state.ActiveHaltReasons))
	for k, v := range m.state.ActiveHaltReasons {
		cp.ActiveHaltReasons[k] = v
	}
	return cp
}

// ValidatePosition is the pre-screen used by the scheduler loop
// before attempting a reservation. Its only state change is setting
// the open-pairs approach latch when it emits limit_approached;
// capital, slots and halts are left untouched.
func (m *Manager) ValidatePosition(correlationID string, recommendedSize money.Decimal) Decision {
	if m.state.IsHalted() {
		return Decision{Approved: false, Reason: "trading_halted"}
	}
	if m.state.OpenPositionCount+m.state.ReservedSlots >= m.state.Limits.MaxOpenPairs {
		return Decision{Approved: false, Reason: "max_open_pairs_reached"}
	}
	maxSize := m.state.MaxPositionSize()
	if m.state.AvailableCapital().LessThan(maxSize) {
		return Decision{Approved: false, Reason: "insufficient_capital"}
	}

	m.maybeEmitOpenPairsApproach(correlationID)
	return Decision{Approved: true}
}

func (m *Manager) maybeEmitOpenPairsApproach(correlationID string) {
	effective := float64(m.state.OpenPositionCount + m.state.ReservedSlots)
	ceiling := float64(m.state.Limits.MaxOpenPairs)
	if ceiling == 0 {
		return
	}
	if effective/ceiling >= approachRatio && !m.state.OpenPairsApproachFlag {
		m.state.OpenPairsApproachFlag = true
		m.bus.Publish(events.LimitApproached, events.LimitApproachedPayload{
			Envelope: events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
			Limit:    "open_pairs",
			Current:  fmt.Sprintf("%d", m.state.OpenPositionCount+m.state.ReservedSlots),
			Ceiling:  fmt.Sprintf("%d", m.state.Limits.MaxOpenPairs),
		})
	}
}

// ReserveBudget acquires execution rights for opportunityID,
// re-checking the same three conditions ValidatePosition checks,
// atomically with respect to the single-threaded cooperative model.
func (m *Manager) ReserveBudget(correlationID, opportunityID string, recommendedSize money.Decimal) (models.BudgetReservation, error) {
	const op = "risk.ReserveBudget"

	if m.state.IsHalted() {
		return models.BudgetReservation{}, engineerr.New(engineerr.KindRiskLimit, op, "BUDGET_RESERVATION_FAILED: trading halted")
	}
	if m.state.OpenPositionCount+m.state.ReservedSlots >= m.state.Limits.MaxOpenPairs {
		return models.BudgetReservation{}, engineerr.New(engineerr.KindRiskLimit, op, "BUDGET_RESERVATION_FAILED: max open pairs reached")
	}
	maxSize := m.state.MaxPositionSize()
	if m.state.AvailableCapital().LessThan(maxSize) {
		return models.BudgetReservation{}, engineerr.New(engineerr.KindRiskLimit, op, "BUDGET_RESERVATION_FAILED: insufficient capital")
	}
	amount := money.Min(recommendedSize, maxSize)

	res := models.BudgetReservation{
		ReservationID:   uuid.New().String(),
		OpportunityID:   opportunityID,
		ReservedSlots:   1,
		ReservedCapital: amount,
		CreatedAt:       m.clk.Now(),
	}
	m.state.ReservedCapital = m.state.ReservedCapital.Add(amount)
	m.state.ReservedSlots++
	m.reservations[res.ReservationID] = res

	m.persist()
	m.bus.Publish(events.BudgetReserved, events.BudgetReservedPayload{
		Envelope:      events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
		ReservationID: res.ReservationID,
		OpportunityID: opportunityID,
		AmountUSD:     amount.String(),
	})
	return res, nil
}

// CommitReservation converts a live reservation into deployed
// capital and an open slot, erasing the reservation.
func (m *Manager) CommitReservation(correlationID, reservationID string) error {
	res, ok := m.reservations[reservationID]
	if !ok {
		return engineerr.New(engineerr.KindRiskLimit, "risk.CommitReservation", "unknown reservation id "+reservationID)
	}
	delete(m.reservations, reservationID)
	m.state.ReservedCapital = m.state.ReservedCapital.Sub(res.ReservedCapital)
	m.state.ReservedSlots -= res.ReservedSlots
	m.state.TotalCapitalDeployed = m.state.TotalCapitalDeployed.Add(res.ReservedCapital)
	m.state.OpenPositionCount += res.ReservedSlots

	m.persist()
	m.bus.Publish(events.BudgetCommitted, events.BudgetCommittedPayload{
		Envelope:      events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
		ReservationID: reservationID,
	})
	return nil
}

// ReleaseReservation erases a reservation and returns its capital and
// slot to the pool without committing.
func (m *Manager) ReleaseReservation(correlationID, reservationID, reason string) error {
	res, ok := m.reservations[reservationID]
	if !ok {
		return engineerr.New(engineerr.KindRiskLimit, "risk.ReleaseReservation", "unknown reservation id "+reservationID)
	}
	delete(m.reservations, reservationID)
	m.state.ReservedCapital = m.state.ReservedCapital.Sub(res.ReservedCapital)
	m.state.ReservedSlots -= res.ReservedSlots

	m.persist()
	m.bus.Publish(events.BudgetReleased, events.BudgetReleasedPayload{
		Envelope:      events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
		ReservationID: reservationID,
		Reason:        reason,
	})
	return nil
}

// ClosePosition decrements open count and deployed capital (floored
// at 0) and applies pnlDelta to the daily P&L.
func (m *Manager) ClosePosition(correlationID string, capitalReturned, pnlDelta money.Decimal) {
	m.state.OpenPositionCount--
	if m.state.OpenPositionCount < 0 {
		m.state.OpenPositionCount = 0
	}
	m.state.TotalCapitalDeployed = m.state.TotalCapitalDeployed.Sub(capitalReturned)
	if m.state.TotalCapitalDeployed.IsNegative() {
		m.state.TotalCapitalDeployed = money.Zero
	}
	m.UpdateDailyPnL(correlationID, pnlDelta)
	m.persist()
}

// UpdateDailyPnL applies delta to daily_pnl and evaluates the
// daily-loss halt/approach thresholds.
func (m *Manager) UpdateDailyPnL(correlationID string, delta money.Decimal) {
	m.state.DailyPnL = m.state.DailyPnL.Add(delta)

	absLoss := m.state.AbsoluteDailyLoss()
	limit := m.state.DailyLossLimit()

	if absLoss.GreaterOrEqual(limit) {
		if !m.state.ActiveHaltReasons[models.HaltDailyLossLimit] {
			m.haltTrading(correlationID, models.HaltDailyLossLimit)
			m.bus.Publish(events.LimitBreached, events.LimitBreachedPayload{
				Envelope: events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
				DailyPnL: m.state.DailyPnL.String(),
				LimitUSD: limit.String(),
			})
		}
		m.persist()
		return
	}

	eightyPct := limit.Mul(money.MustFromFloat(approachRatio))
	if absLoss.GreaterOrEqual(eightyPct) && absLoss.LessThan(limit) && !m.state.ApproachOnceFlag {
		m.state.ApproachOnceFlag = true
		m.bus.Publish(events.LimitApproached, events.LimitApproachedPayload{
			Envelope: events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
			Limit:    "daily_loss",
			Current:  absLoss.String(),
			Ceiling:  limit.String(),
		})
	}
	m.persist()
}

// HaltTrading idempotently inserts reason into the active halt set.
func (m *Manager) HaltTrading(correlationID string, reason models.HaltReason) {
	m.haltTrading(correlationID, reason)
	m.persist()
}

func (m *Manager) haltTrading(correlationID string, reason models.HaltReason) {
	if m.state.ActiveHaltReasons[reason] {
		return
	}
	firstHalt := len(m.state.ActiveHaltReasons) == 0
	m.state.ActiveHaltReasons[reason] = true
	if firstHalt {
		m.bus.Publish(events.SystemTradingHalted, events.SystemTradingHaltedPayload{
			Envelope: events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
			Reason:   string(reason),
		})
	}
}

// ResumeTrading idempotently removes reason from the active halt set,
// emitting system_trading_resumed only on an actual removal.
func (m *Manager) ResumeTrading(correlationID string, reason models.HaltReason) {
	if !m.state.ActiveHaltReasons[reason] {
		return
	}
	delete(m.state.ActiveHaltReasons, reason)
	m.persist()
	m.bus.Publish(events.SystemTradingResumed, events.SystemTradingResumedPayload{
		Envelope:         events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
		RemovedReason:    string(reason),
		RemainingReasons: m.state.HaltReasonStrings(),
	})
}

// ProcessOverride is the operator escape hatch. Denies only when a
// daily_loss_limit halt is active (inviolable); otherwise approves
// regardless of current deployment. Every call is audited.
func (m *Manager) ProcessOverride(correlationID, opportunityID, rationale string) (approved bool, maxPositionSize money.Decimal, err error) {
	approved = !m.state.ActiveHaltReasons[models.HaltDailyLossLimit]
	if approved {
		maxPositionSize = m.state.MaxPositionSize()
	}

	logErr := m.store.AppendOverrideLog(storage.OverrideRecord{
		At:            m.clk.Now(),
		OpportunityID: opportunityID,
		Rationale:     rationale,
		Approved:      approved,
		CorrelationID: correlationID,
	})
	if logErr != nil {
		m.log.WithError(logErr).Warn("failed to append override audit record")
	}

	if approved {
		m.bus.Publish(events.OverrideApplied, events.OverrideAppliedPayload{
			Envelope:      events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
			OpportunityID: opportunityID,
			Rationale:     rationale,
		})
	} else {
		m.bus.Publish(events.OverrideDenied, events.OverrideDeniedPayload{
			Envelope:      events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
			OpportunityID: opportunityID,
			Rationale:     rationale,
		})
	}
	return approved, maxPositionSize, nil
}

// RecalculateFromPositions is a forcible reset used only by
// reconciliation's budget recalculation phase.
func (m *Manager) RecalculateFromPositions(openCount int, capitalDeployed money.Decimal) {
	m.state.OpenPositionCount = openCount
	m.state.TotalCapitalDeployed = capitalDeployed
	m.persist()
}

// HandleMidnightReset zeroes daily P&L, resets the approach-once
// flag, removes the daily_loss_limit halt reason if present, and sets
// last_reset_timestamp to the UTC midnight that starts the current
// clock reading's day. Other halt reasons persist.
func (m *Manager) HandleMidnightReset(correlationID string) {
	m.state.DailyPnL = money.Zero
	m.state.ApproachOnceFlag = false
	if m.state.ActiveHaltReasons[models.HaltDailyLossLimit] {
		delete(m.state.ActiveHaltReasons, models.HaltDailyLossLimit)
		m.bus.Publish(events.SystemTradingResumed, events.SystemTradingResumedPayload{
			Envelope:         events.Envelope{CorrelationID: correlationID, At: m.clk.Now()},
			RemovedReason:    string(models.HaltDailyLossLimit),
			RemainingReasons: m.state.HaltReasonStrings(),
		})
	}
	now := m.clk.Now().UTC()
	m.state.LastResetTimestamp = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	m.persist()
}

func (m *Manager) persist() {
	snap := storage.RiskSnapshot{
		Bankroll:              m.state.Bankroll,
		DailyPnL:              m.state.DailyPnL,
		OpenPositionCount:     m.state.OpenPositionCount,
		TotalCapitalDeployed:  m.state.TotalCapitalDeployed,
		ReservedCapital:       m.state.ReservedCapital,
		ReservedSlots:         m.state.ReservedSlots,
		LastResetTimestamp:    m.state.LastResetTimestamp,
		ActiveHaltReasons:     m.state.HaltReasonStrings(),
		ApproachOnceFlag:      m.state.ApproachOnceFlag,
		OpenPairsApproachFlag: m.state.OpenPairsApproachFlag,
	}
	if err := m.store.SaveRiskState(snap); err != nil {
		m.log.WithError(err).Warn("persisting risk state failed; in-memory state remains authoritative")
	}
}
