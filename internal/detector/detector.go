// Package detector implements the cross-venue dislocation detector
// (spec section 4.2): once per cycle, for each active contract pair,
// it compares the buy venue's best ask against the sell venue's best
// bid in both directions and emits a RawDislocation for every
// direction where a true arbitrage gap exists. Grounded on
// web3guy0-polybot's internal/arbitrage engine (analyzeWindow),
// adapted from a single-venue window-price model to a two-venue
// best-ask/best-bid comparison using money.Decimal throughout.
package detector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arbitrate/engine/internal/clock"
	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/venue"
)

// Summary is the per-cycle result returned by Run.
type Summary struct {
	Dislocations  []models.RawDislocation
	PairsEvaluated int
	PairsSkipped   int
	DurationMs     int64
}

// Detector evaluates every configured pair once per cycle.
type Detector struct {
	polymarket  venue.Client
	kalshi      venue.Client
	degradation *venue.DegradationTracker
	clk         clock.Clock
	log         *logrus.Entry
}

// New constructs a Detector wired to the two venue clients.
func New(polymarket, kalshi venue.Client, degradation *venue.DegradationTracker, clk clock.Clock, log *logrus.Entry) *Detector {
	return &Detector{polymarket: polymarket, kalshi: kalshi, degradation: degradation, clk: clk, log: log}
}

// Run evaluates every pair, skipping any pair where either platform
// is degraded-to-disconnected, a book fetch fails, or any of the four
// sides is empty.
func (d *Detector) Run(ctx context.Context, pairs []models.ContractPair) Summary {
	start := time.Now()
	d.pollHealth(ctx)

	summary := Summary{}

	for _, pair := range pairs {
		dislocations, skipped := d.evaluatePair(ctx, pair)
		summary.Dislocations = append(summary.Dislocations, dislocations...)
		summary.PairsEvaluated++
		if skipped {
			summary.PairsSkipped++
		}
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	return summary
}

// pollHealth refreshes the degradation tracker once per cycle, ahead
// of evaluating any pair, so IsDisconnected/IsDegraded and the edge
// calculator's ThresholdMultiplier reflect the venues' latest reported
// health rather than a permanently-empty tracker.
func (d *Detector) pollHealth(ctx context.Context) {
	d.observeHealth(ctx, d.polymarket)
	d.observeHealth(ctx, d.kalshi)
}

func (d *Detector) observeHealth(ctx context.Context, client venue.Client) {
	health, err := client.GetHealth(ctx)
	if err != nil {
		d.log.WithError(err).WithField("platform", client.PlatformID()).
			Debug("health poll failed, treating venue as disconnected")
		d.degradation.Observe(client.PlatformID(), venue.HealthDisconnected)
		return
	}
	d.degradation.Observe(health.PlatformID, health.Status)
}

func (d *Detector) evaluatePair(ctx context.Context, pair models.ContractPair) ([]models.RawDislocation, bool) {
	if d.degradation.IsDisconnected(d.polymarket.PlatformID()) || d.degradation.IsDisconnected(d.kalshi.PlatformID()) {
		return nil, true
	}

	polyBook, err := d.polymarket.GetOrderBook(ctx, pair.PolymarketID)
	if err != nil {
		d.log.WithError(err).WithField("pair", pair.PolymarketID).Debug("fetching polymarket order book failed")
		return nil, true
	}
	kalshiBook, err := d.kalshi.GetOrderBook(ctx, pair.KalshiID)
	if err != nil {
		d.log.WithError(err).WithField("pair", pair.KalshiID).Debug("fetching kalshi order book failed")
		return nil, true
	}

	polyAsk, polyOK := polyBook.BestAsk()
	kalshiAsk, kalshiOK := kalshiBook.BestAsk()
	polyBid, polyBidOK := polyBook.BestBid()
	kalshiBid, kalshiBidOK := kalshiBook.BestBid()
	if !polyOK || !kalshiOK || !polyBidOK || !kalshiBidOK {
		return nil, true
	}

	now := d.clk.Now()
	var out []models.RawDislocation

	// Direction polymarket -> kalshi: buy on polymarket, sell on kalshi.
	if dl, ok := direction(pair, models.PlatformPolymarket, models.PlatformKalshi, polyAsk.Price, kalshiBid.Price, polyBook, kalshiBook, now); ok {
		out = append(out, dl)
	}
	// Direction kalshi -> polymarket: buy on kalshi, sell on polymarket.
	if dl, ok := direction(pair, models.PlatformKalshi, models.PlatformPolymarket, kalshiAsk.Price, polyBid.Price, kalshiBook, polyBook, now); ok {
		out = append(out, dl)
	}

	return out, false
}

// direction evaluates one arbitrage direction: buying at buyPrice on
// buyPlatform and selling at sellPrice on sellPlatform. Emits iff
// gross > 0 AND buyPrice < 1 - sellPrice (spec section 4.2).
func direction(pair models.ContractPair, buyPlatform, sellPlatform models.Platform, buyPrice, sellPrice money.Decimal, buyBook, sellBook models.OrderBook, now time.Time) (models.RawDislocation, bool) {
	complement := money.NewFromInt(1).Sub(sellPrice)
	gross := buyPrice.Sub(complement).Abs()

	if gross.IsZero() || !buyPrice.LessThan(complement) {
		return models.RawDislocation{}, false
	}

	return models.RawDislocation{
		Pair:         pair,
		BuyPlatform:  buyPlatform,
		SellPlatform: sellPlatform,
		BuyPrice:     buyPrice,
		SellPrice:    sellPrice,
		GrossEdge:    gross,
		BuyBook:      buyBook,
		SellBook:     sellBook,
		DetectedAt:   now,
	}, true
}
