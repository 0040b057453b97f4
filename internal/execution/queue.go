// Package execution implements the sequential execution queue (spec
// section 4.5): consumes an ordered list of approved opportunities and
// processes each one strictly one at a time through its own
// OpportunityStateMachine, reserving and releasing/committing risk
// budget and submitting both legs. Grounded on the teacher's
// cmd/bot/trading_cycle.go (single-flight-per-cycle executeEntry/
// executeExit sequencing, heavy step-by-step logging) and
// internal/orders/manager.go (bounded-poll-then-handle-result idiom),
// adapted from options-strangle entry/exit to two-venue two-leg
// arbitrage with explicit single-leg-exposure handling.
package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arbitrate/engine/internal/clock"
	"github.com/arbitrate/engine/internal/events"
	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/risk"
	"github.com/arbitrate/engine/internal/storage"
	"github.com/arbitrate/engine/internal/venue"
)

// pollInterval and pollCap bound every leg's fill wait per spec
// section 4.5's "fixed interval, 5s cap" leg submission contract.
const (
	pollInterval = 250 * time.Millisecond
	pollCap      = 5 * time.Second
)

// Result is the per-opportunity outcome returned by Process.
type Result struct {
	OpportunityID string
	Committed     bool
	Reason        string
	FinalState    models.OpportunityState
}

// Queue processes opportunities strictly sequentially.
type Queue struct {
	risk       *risk.Manager
	store      storage.Interface
	polymarket venue.Client
	kalshi     venue.Client
	bus        *events.Bus
	clk        clock.Clock
	log        *logrus.Entry
}

// New constructs a Queue wired to the risk manager, storage, and the
// two venue clients.
func New(riskMgr *risk.Manager, store storage.Interface, polymarket, kalshi venue.Client, bus *events.Bus, clk clock.Clock, log *logrus.Entry) *Queue {
	return &Queue{risk: riskMgr, store: store, polymarket: polymarket, kalshi: kalshi, bus: bus, clk: clk, log: log}
}

// Run processes every opportunity in order (callers sort by net_edge
// descending before calling Run), returning one Result per input.
func (q *Queue) Run(ctx context.Context, correlationID string, opportunities []models.EnrichedOpportunity) []Result {
	results := make([]Result, 0, len(opportunities))
	for _, opp := range opportunities {
		results = append(results, q.Process(ctx, correlationID, opp))
	}
	return results
}

func (q *Queue) clientFor(platform models.Platform) venue.Client {
	if platform == models.PlatformPolymarket {
		return q.polymarket
	}
	return q.kalshi
}

// Process runs a single opportunity through the full state machine.
func (q *Queue) Process(ctx context.Context, correlationID string, opp models.EnrichedOpportunity) Result {
	sm := models.NewOpportunityStateMachine(opp.OpportunityID)
	log := q.log.WithFields(logrus.Fields{"opportunity_id": opp.OpportunityID, "correlation_id": correlationID})

	res, err := q.risk.ReserveBudget(correlationID, opp.OpportunityID, opp.RecommendedSize)
	if err != nil {
		_ = sm.Transition(models.StateSkipped, "reserve_failed")
		log.WithError(err).Info("reserve_budget rejected opportunity")
		return Result{OpportunityID: opp.OpportunityID, Committed: false, Reason: "reserve_failed", FinalState: sm.Current()}
	}
	_ = sm.Transition(models.StateReserved, "reserve_ok")
	log.WithField("reservation_id", res.ReservationID).Info("budget reserved")

	legA, ok := q.submitLeg(ctx, log, opp.BuyPlatform, opp.Pair, venue.SideBuy, opp.BuyPrice, res.ReservedCapital)
	if !ok {
		_ = sm.Transition(models.StateReleased, "leg_a_submit_failed")
		if relErr := q.risk.ReleaseReservation(correlationID, res.ReservationID, "leg_a_submit_failed"); relErr != nil {
			log.WithError(relErr).Error("failed to release reservation after leg-A failure")
		}
		log.Warn("leg-A did not fill, reservation released")
		return Result{OpportunityID: opp.OpportunityID, Committed: false, Reason: "leg_a_submit_failed", FinalState: sm.Current()}
	}
	_ = sm.Transition(models.StateLegAFilled, "leg_a_filled")
	log.WithField("leg_a_order_id", legA.OrderID).Info("leg A filled")

	legB, ok := q.submitLeg(ctx, log, opp.SellPlatform, opp.Pair, venue.SideSell, opp.SellPrice, res.ReservedCapital)
	if !ok {
		_ = sm.Transition(models.StateSingleLegExposed, "leg_b_submit_failed")
		if relErr := q.risk.ReleaseReservation(correlationID, res.ReservationID, "leg_b_submit_failed"); relErr != nil {
			log.WithError(relErr).Error("failed to release reservation after leg-B failure")
		}
		pos := q.buildPosition(opp, legA, models.OrderRef{Platform: opp.SellPlatform, Status: string(venue.OrderFailed)}, models.PositionSingleLegExposed)
		if saveErr := q.store.UpsertPosition(pos); saveErr != nil {
			log.WithError(saveErr).Error("failed to persist single-leg-exposed position")
		}
		log.Error("leg-B did not fill, position is single-leg exposed")
		return Result{OpportunityID: opp.OpportunityID, Committed: false, Reason: "single_leg_exposed", FinalState: sm.Current()}
	}
	_ = sm.Transition(models.StateBothFilled, "leg_b_filled")
	log.WithField("leg_b_order_id", legB.OrderID).Info("leg B filled")

	if err := q.risk.CommitReservation(correlationID, res.ReservationID); err != nil {
		log.WithError(err).Error("commit_reservation failed after both legs filled")
		return Result{OpportunityID: opp.OpportunityID, Committed: false, Reason: "commit_failed", FinalState: sm.Current()}
	}
	_ = sm.Transition(models.StateCommitted, "commit_reservation")

	pos := q.buildPosition(opp, legA, legB, models.PositionOpen)
	if saveErr := q.store.UpsertPosition(pos); saveErr != nil {
		log.WithError(saveErr).Error("failed to persist opened position")
	}
	log.WithField("position_id", pos.PositionID).Info("opportunity committed, position opened")

	return Result{OpportunityID: opp.OpportunityID, Committed: true, FinalState: sm.Current()}
}

// submitLeg places one leg, waits for a fill via the bounded poll when
// the submission comes back pending, and reports whether it ultimately
// filled.
func (q *Queue) submitLeg(ctx context.Context, log *logrus.Entry, platform models.Platform, pair models.ContractPair, side venue.OrderSide, price, size money.Decimal) (models.OrderRef, bool) {
	client := q.clientFor(platform)
	contractID := pair.PolymarketID
	if platform == models.PlatformKalshi {
		contractID = pair.KalshiID
	}

	submitted, err := client.SubmitOrder(ctx, venue.OrderRequest{
		ContractID: contractID,
		Side:       side,
		Quantity:   size,
		Price:      price,
		Type:       venue.OrderTypeLimit,
	})
	if err != nil {
		log.WithError(err).WithField("platform", platform).Warn("leg submission call failed")
		return models.OrderRef{}, false
	}

	status := submitted.Status
	fillPrice := submitted.FilledPrice
	fillSize := submitted.FilledSize

	if status == venue.OrderPending {
		state, pollErr := venue.PollFill(ctx, client, submitted.OrderID, pollInterval, pollCap)
		if pollErr != nil {
			log.WithError(pollErr).WithField("platform", platform).Warn("polling leg fill status failed")
			return models.OrderRef{}, false
		}
		status = state.Status
		fillPrice = state.FillPrice
		fillSize = state.FillSize
	}

	ref := models.OrderRef{
		OrderID:   submitted.OrderID,
		Platform:  platform,
		Status:    string(status),
		FillPrice: fillPrice,
		FillSize:  fillSize,
	}

	return ref, status == venue.OrderFilled
}

func (q *Queue) buildPosition(opp models.EnrichedOpportunity, legA, legB models.OrderRef, status models.PositionStatus) models.Position {
	return models.Position{
		PositionID: uuid.New().String(),
		PairID:     opp.Pair.PolymarketID,
		LegA:       legA,
		LegB:       legB,
		Status:     status,
		OpenedAt:   q.clk.Now(),
	}
}
