// Package edge implements the edge calculator (spec section 4.3):
// enriches each RawDislocation with fee-adjusted economics and
// filters out opportunities that are unprofitable or below threshold
// once fees, the degradation-adjusted multiplier, and a flat gas
// estimate are accounted for. Grounded on web3guy0-polybot's
// calculateFairOdds/calculateConfidence cost-accounting idiom,
// adapted to the spec's net_edge formula.
package edge

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arbitrate/engine/internal/clock"
	"github.com/arbitrate/engine/internal/events"
	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/venue"
)

// Summary is the per-cycle batch result returned by Run.
type Summary struct {
	TotalInput           int
	TotalFiltered        int
	TotalActionable      int
	SkippedErrors        int
	ProcessingDurationMs int64
}

// Config carries the three construction-time-validated detection
// parameters the edge calculator applies per opportunity.
type Config struct {
	MinEdgeThreshold money.Decimal
	GasEstimateUSD   money.Decimal
	PositionSizeUSD  money.Decimal
}

// Calculator enriches dislocations with net-of-fees economics.
type Calculator struct {
	cfg         Config
	polymarket  venue.Client
	kalshi      venue.Client
	degradation *venue.DegradationTracker
	bus         *events.Bus
	clk         clock.Clock
	log         *logrus.Entry
}

// New constructs a Calculator.
func New(cfg Config, polymarket, kalshi venue.Client, degradation *venue.DegradationTracker, bus *events.Bus, clk clock.Clock, log *logrus.Entry) *Calculator {
	return &Calculator{cfg: cfg, polymarket: polymarket, kalshi: kalshi, degradation: degradation, bus: bus, clk: clk, log: log}
}

// Run processes every dislocation, returning the actionable
// EnrichedOpportunity list (unsorted -- the execution queue's caller
// sorts by net_edge descending) plus the batch summary.
func (c *Calculator) Run(ctx context.Context, correlationID string, dislocations []models.RawDislocation) ([]models.EnrichedOpportunity, Summary) {
	start := time.Now()
	summary := Summary{TotalInput: len(dislocations)}
	var actionable []models.EnrichedOpportunity

	for _, d := range dislocations {
		opp, reason, err := c.enrich(ctx, d)
		if err != nil {
			summary.SkippedErrors++
			c.log.WithError(err).WithField("pair", d.Pair.PolymarketID).Debug("fee lookup failed, skipping dislocation")
			continue
		}
		if reason != "" {
			summary.TotalFiltered++
			c.bus.Publish(events.OpportunityFiltered, events.OpportunityFilteredPayload{
				Envelope: events.Envelope{CorrelationID: correlationID, At: c.clk.Now()},
				PairID:   d.Pair.PolymarketID,
				Reason:   reason,
				NetEdge:  opp.NetEdge.String(),
			})
			continue
		}
		summary.TotalActionable++
		c.bus.Publish(events.OpportunityIdentified, events.OpportunityIdentifiedPayload{
			Envelope:           events.Envelope{CorrelationID: correlationID, At: c.clk.Now()},
			OpportunityID:      opp.OpportunityID,
			PairID:             d.Pair.PolymarketID,
			NetEdge:            opp.NetEdge.String(),
			RecommendedSizeUSD: opp.RecommendedSize.String(),
		})
		actionable = append(actionable, opp)
	}

	summary.ProcessingDurationMs = time.Since(start).Milliseconds()
	return actionable, summary
}

// topOfBookDepth is the size actually available at the quoted prices:
// the smaller of the buy-side ask size and the sell-side bid size, the
// two-leg trade's binding constraint since neither leg can fill beyond
// the other.
func topOfBookDepth(d models.RawDislocation) money.Decimal {
	buyAsk, ok := d.BuyBook.BestAsk()
	if !ok {
		return money.NewFromInt(0)
	}
	sellBid, ok := d.SellBook.BestBid()
	if !ok {
		return money.NewFromInt(0)
	}
	return money.Min(buyAsk.Quantity, sellBid.Quantity)
}

func (c *Calculator) clientFor(platform models.Platform) venue.Client {
	if platform == models.PlatformPolymarket {
		return c.polymarket
	}
	return c.kalshi
}

// enrich computes net_edge and classifies the dislocation. A non-nil
// reason means the opportunity was filtered (negative_edge or
// below_threshold); a non-nil error means the fee lookup itself
// failed and the caller should count it as a skipped error.
func (c *Calculator) enrich(ctx context.Context, d models.RawDislocation) (models.EnrichedOpportunity, string, error) {
	buyClient := c.clientFor(d.BuyPlatform)
	sellClient := c.clientFor(d.SellPlatform)

	buySchedule, err := buyClient.GetFeeSchedule(ctx)
	if err != nil {
		return models.EnrichedOpportunity{}, "", err
	}
	sellSchedule, err := sellClient.GetFeeSchedule(ctx)
	if err != nil {
		return models.EnrichedOpportunity{}, "", err
	}

	hundred := money.NewFromInt(100)
	buyFeeCost := d.BuyPrice.Mul(buySchedule.TakerFeePercent).Div(hundred)
	sellFeeCost := d.SellPrice.Mul(sellSchedule.TakerFeePercent).Div(hundred)
	gasFraction := c.cfg.GasEstimateUSD.Div(c.cfg.PositionSizeUSD)

	netEdge := d.GrossEdge.Sub(buyFeeCost).Sub(sellFeeCost).Sub(gasFraction)
	totalCosts := buyFeeCost.Add(sellFeeCost).Add(gasFraction)

	opp := models.EnrichedOpportunity{
		OpportunityID:  uuid.New().String(),
		RawDislocation: d,
		NetEdge:        netEdge,
		FeeBreakdown: models.FeeBreakdown{
			BuyFeeCost:  buyFeeCost,
			SellFeeCost: sellFeeCost,
			GasFraction: gasFraction,
			TotalCosts:  totalCosts,
			Schedules: map[models.Platform]models.FeeSchedule{
				d.BuyPlatform:  buySchedule,
				d.SellPlatform: sellSchedule,
			},
		},
		LiquidityDepth:  topOfBookDepth(d),
		RecommendedSize: c.cfg.PositionSizeUSD,
		EnrichedAt:      c.clk.Now(),
	}

	if netEdge.IsNegative() {
		return opp, "negative_edge", nil
	}

	multiplier := c.degradation.ThresholdMultiplier(string(d.BuyPlatform), string(d.SellPlatform))
	effectiveThreshold := c.cfg.MinEdgeThreshold.Mul(multiplier)
	if netEdge.LessThan(effectiveThreshold) {
		return opp, "below_threshold", nil
	}

	return opp, "", nil
}
