// Package reconciliation implements startup reconciliation (spec
// section 4.6): runs once after risk-state reload, cross-checking
// local position/order state against the venues before the scheduler
// starts accepting new opportunities. Grounded on the teacher's
// cmd/bot/reconciler.go (Reconciler.ReconcilePositions' pass-by-pass
// structure, timeout-bounded broker fetch, heavy step logging),
// generalized from single-broker phantom/orphan detection to two-venue
// two-leg discrepancy detection, with per-venue-call budgeting done via
// golang.org/x/sync/errgroup the way web3guy0-polybot fans out
// concurrent venue calls.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arbitrate/engine/internal/events"
	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/risk"
	"github.com/arbitrate/engine/internal/storage"
	"github.com/arbitrate/engine/internal/venue"
)

// Budgets matching spec section 4.6: 60s overall, 10s per venue call.
const (
	OverallBudget = 60 * time.Second
	PerCallBudget = 10 * time.Second
)

// Report is the outcome of one reconciliation run.
type Report struct {
	DiscrepancyCount int
	TimedOut         bool
}

// Reconciler runs the four-phase startup reconciliation.
type Reconciler struct {
	store      storage.Interface
	polymarket venue.Client
	kalshi     venue.Client
	risk       *risk.Manager
	bus        *events.Bus
	log        *logrus.Entry
}

// New constructs a Reconciler.
func New(store storage.Interface, polymarket, kalshi venue.Client, riskMgr *risk.Manager, bus *events.Bus, log *logrus.Entry) *Reconciler {
	return &Reconciler{store: store, polymarket: polymarket, kalshi: kalshi, risk: riskMgr, bus: bus, log: log}
}

func (r *Reconciler) clientFor(platform models.Platform) venue.Client {
	if platform == models.PlatformPolymarket {
		return r.polymarket
	}
	return r.kalshi
}

// Run executes the four phases within the overall budget. If phase 1
// exceeds the deadline, phase 2 is skipped; an overrun in phase 1 or
// phase 2 sets TimedOut=true. Phase 3 runs for whatever discrepancies
// were found, and phase 4 (budget recalculation) and the
// reconciliation_complete event always run.
func (r *Reconciler) Run(ctx context.Context, correlationID string) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, OverallBudget)
	defer cancel()

	positions, err := r.store.ListPositions()
	if err != nil {
		return Report{}, err
	}

	timedOut := false

	if err := r.resolvePendingOrders(ctx, correlationID, positions); err != nil {
		r.log.WithError(err).Warn("pending-order resolution phase did not complete within budget")
		timedOut = true
	}

	var discrepant []models.Position
	if !timedOut {
		positions, err = r.store.ListPositions()
		if err != nil {
			return Report{}, err
		}
		discrepant, err = r.verifyActivePositions(ctx, correlationID, positions)
		if err != nil {
			r.log.WithError(err).Warn("active-position verification phase did not complete within budget")
			timedOut = true
		}
	}

	discrepancyCount := 0
	if len(discrepant) > 0 {
		discrepancyCount = r.handleDiscrepancies(correlationID, discrepant)
	}

	finalPositions, err := r.store.ListPositions()
	if err != nil {
		return Report{}, err
	}
	r.recalculateBudget(finalPositions)

	r.bus.Publish(events.ReconciliationComplete, events.ReconciliationCompletePayload{
		Envelope:         events.Envelope{CorrelationID: correlationID, At: time.Now()},
		DiscrepancyCount: discrepancyCount,
		TimedOut:         timedOut,
	})

	return Report{DiscrepancyCount: discrepancyCount, TimedOut: timedOut}, nil
}

// resolvePendingOrders is phase 1: for each locally-pending order,
// query the venue and reconcile terminal outcomes.
func (r *Reconciler) resolvePendingOrders(ctx context.Context, correlationID string, positions []models.Position) error {
	for _, pos := range positions {
		for _, leg := range []struct {
			ref models.OrderRef
			setLeg func(models.Position, models.OrderRef) models.Position
		}{
			{pos.LegA, func(p models.Position, o models.OrderRef) models.Position { p.LegA = o; return p }},
			{pos.LegB, func(p models.Position, o models.OrderRef) models.Position { p.LegB = o; return p }},
		} {
			if leg.ref.OrderID == "" || leg.ref.Status != string(venue.OrderPending) {
				continue
			}

			callCtx, cancel := context.WithTimeout(ctx, PerCallBudget)
			state, err := r.clientFor(leg.ref.Platform).GetOrder(callCtx, leg.ref.OrderID)
			cancel()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				r.log.WithError(err).WithField("order_id", leg.ref.OrderID).Warn("failed to query pending order during reconciliation")
				continue
			}

			updated := leg.ref
			updated.Status = string(state.Status)
			updated.FillPrice = state.FillPrice
			updated.FillSize = state.FillSize
			pos = leg.setLeg(pos, updated)

			if state.Status == venue.OrderFilled {
				r.attachFilledLeg(correlationID, &pos, updated)
			}
		}

		if err := r.store.UpsertPosition(pos); err != nil {
			r.log.WithError(err).WithField("position_id", pos.PositionID).Warn("failed to persist position during pending-order resolution")
		}
	}
	return nil
}

// attachFilledLeg promotes a SINGLE_LEG_EXPOSED position to OPEN once
// its missing leg's reference resolves to filled, emitting order_filled.
func (r *Reconciler) attachFilledLeg(correlationID string, pos *models.Position, filled models.OrderRef) {
	if pos.Status != models.PositionSingleLegExposed {
		return
	}
	pos.Status = models.PositionOpen
	legName := "A"
	if filled.Platform == pos.LegB.Platform {
		legName = "B"
	}
	r.bus.Publish(events.OrderFilled, events.OrderFilledPayload{
		Envelope:   events.Envelope{CorrelationID: correlationID, At: time.Now()},
		PositionID: pos.PositionID,
		OrderID:    filled.OrderID,
		Leg:        legName,
	})
}

// verifyActivePositions is phase 2: for every position not already
// RECONCILIATION_REQUIRED, compare local order status against the
// venue's, in parallel across positions bounded by the overall
// context deadline.
func (r *Reconciler) verifyActivePositions(ctx context.Context, correlationID string, positions []models.Position) ([]models.Position, error) {
	var discrepant []models.Position
	g, gctx := errgroup.WithContext(ctx)
	results := make(chan models.Position, len(positions))

	for _, pos := range positions {
		pos := pos
		if pos.Status == models.PositionReconciliationRequired || pos.Status == models.PositionClosed {
			continue
		}
		g.Go(func() error {
			discrepancyType, platformState, found := r.checkPosition(gctx, pos)
			if found {
				pos.Reconciliation = &models.ReconciliationContext{
					RecommendedStatus: pos.Status,
					DiscrepancyType:   discrepancyType,
					PlatformState:     platformState,
					DetectedAt:        time.Now(),
				}
				results <- pos
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	close(results)
	for pos := range results {
		discrepant = append(discrepant, pos)
	}
	return discrepant, err
}

// checkPosition compares one position's two legs against the venues,
// returning the first discrepancy found (if any).
func (r *Reconciler) checkPosition(ctx context.Context, pos models.Position) (discrepancyType, platformState string, found bool) {
	for _, leg := range []models.OrderRef{pos.LegA, pos.LegB} {
		if leg.OrderID == "" {
			continue
		}
		client := r.clientFor(leg.Platform)
		health, err := client.GetHealth(ctx)
		if err == nil && health.Status == venue.HealthDisconnected {
			return "platform_unavailable", string(health.Status), true
		}

		callCtx, cancel := context.WithTimeout(ctx, PerCallBudget)
		state, err := client.GetOrder(callCtx, leg.OrderID)
		cancel()
		if err != nil {
			return "order_not_found", "error:" + err.Error(), true
		}
		if state.Status == venue.OrderNotFound {
			return "order_not_found", string(state.Status), true
		}
		if leg.Status == string(venue.OrderPending) && state.Status == venue.OrderFilled {
			return "pending_filled", string(state.Status), true
		}
		if leg.Status != string(state.Status) {
			return "order_status_mismatch", string(state.Status), true
		}
	}
	return "", "", false
}

// handleDiscrepancies is phase 3: flag every discrepant position
// RECONCILIATION_REQUIRED, emit one event per position plus a single
// system_health_critical, and halt trading.
func (r *Reconciler) handleDiscrepancies(correlationID string, discrepant []models.Position) int {
	for _, pos := range discrepant {
		pos.Status = models.PositionReconciliationRequired
		if err := r.store.UpsertPosition(pos); err != nil {
			r.log.WithError(err).WithField("position_id", pos.PositionID).Error("failed to persist reconciliation-required position")
		}
		r.bus.Publish(events.ReconciliationDiscrepancy, events.ReconciliationDiscrepancyPayload{
			Envelope:        events.Envelope{CorrelationID: correlationID, At: time.Now()},
			PositionID:      pos.PositionID,
			DiscrepancyType: pos.Reconciliation.DiscrepancyType,
			PlatformState:   pos.Reconciliation.PlatformState,
		})
	}

	r.bus.Publish(events.SystemHealthCritical, events.SystemHealthCriticalPayload{
		Envelope: events.Envelope{CorrelationID: correlationID, At: time.Now()},
		Reason:   "reconciliation_discrepancy",
	})
	r.risk.HaltTrading(correlationID, models.HaltReconciliationRequired)
	return len(discrepant)
}

// recalculateBudget is phase 4, which always runs: open_count excludes
// RECONCILIATION_REQUIRED positions, capital_deployed includes them.
func (r *Reconciler) recalculateBudget(positions []models.Position) {
	openCount := 0
	total := money.Zero
	for _, pos := range positions {
		if pos.CountsTowardOpenCount() {
			openCount++
		}
		if pos.CountsTowardCapitalDeployed() {
			total = total.Add(pos.ActiveCapital())
		}
	}
	r.risk.RecalculateFromPositions(openCount, total)
}

// ResolveDiscrepancy is the operator's manual resolution path for a
// position flagged RECONCILIATION_REQUIRED.
func (r *Reconciler) ResolveDiscrepancy(correlationID, positionID, action, rationale string) error {
	pos, ok, err := r.store.GetPosition(positionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reconciliation: position %q not found", positionID)
	}

	switch action {
	case "acknowledge":
		if pos.Reconciliation != nil {
			pos.Status = pos.Reconciliation.RecommendedStatus
		}
		pos.Reconciliation = nil
	case "force_close":
		pos.Status = models.PositionClosed
		pos.ClosedAt = time.Now()
		pos.Reconciliation = nil
		r.risk.ClosePosition(correlationID, money.Zero, money.Zero)
	default:
		return fmt.Errorf("reconciliation: unknown resolution action %q", action)
	}

	if err := r.store.UpsertPosition(pos); err != nil {
		return err
	}

	return r.maybeResumeAfterResolution()
}

// maybeResumeAfterResolution removes the reconciliation_discrepancy
// halt once no position remains in RECONCILIATION_REQUIRED.
func (r *Reconciler) maybeResumeAfterResolution() error {
	positions, err := r.store.ListPositions()
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Status == models.PositionReconciliationRequired {
			return nil
		}
	}
	r.risk.ResumeTrading("reconciliation-resolution", models.HaltReconciliationRequired)
	return nil
}
