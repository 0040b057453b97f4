// Package main is the arbitrage engine's process entry point.
// Grounded on the teacher's cmd/bot/main.go run()/Bot.Run (config
// flag, signal.Notify-driven graceful shutdown), rewired around this
// engine's storage -> risk -> venue -> detector/edge/execution ->
// reconciliation -> scheduler construction order. The first trading
// cycle runs on the scheduler's first tick, not immediately.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arbitrate/engine/internal/clock"
	"github.com/arbitrate/engine/internal/config"
	"github.com/arbitrate/engine/internal/corrid"
	"github.com/arbitrate/engine/internal/detector"
	"github.com/arbitrate/engine/internal/edge"
	"github.com/arbitrate/engine/internal/events"
	"github.com/arbitrate/engine/internal/execution"
	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/ntp"
	"github.com/arbitrate/engine/internal/reconciliation"
	"github.com/arbitrate/engine/internal/risk"
	"github.com/arbitrate/engine/internal/scheduler"
	"github.com/arbitrate/engine/internal/storage"
	"github.com/arbitrate/engine/internal/venue"
)

// shutdownGrace is the interval WaitForShutdown is given to drain
// in-flight cycles before the process exits anyway, matching the
// scheduler's "12s typical, below the orchestrator's 15s grace"
// contract.
const shutdownGrace = 12 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Error("failed to load config")
		return 1
	}

	log := newLogger(cfg)
	log.WithField("mode", cfg.Environment.Mode).Info("starting arbitrage engine")

	store, err := storage.NewJSONStorage(cfg.Storage.Path)
	if err != nil {
		log.WithError(err).Error("failed to initialize storage")
		return 1
	}

	bankroll, maxPositionPct, dailyLossPct, maxOpenPairs, err := cfg.RiskLimits()
	if err != nil {
		log.WithError(err).Error("failed to parse risk limits")
		return 1
	}

	bus := events.New()
	clk := clock.RealClock{}

	riskMgr, err := risk.New(risk.Config{
		Bankroll:       bankroll,
		MaxPositionPct: maxPositionPct,
		MaxOpenPairs:   maxOpenPairs,
		DailyLossPct:   dailyLossPct,
	}, store, bus, clk, log.WithField("component", "risk"))
	if err != nil {
		log.WithError(err).Error("failed to construct risk manager")
		return 1
	}

	if snap, ok, loadErr := store.LoadRiskState(); loadErr != nil {
		log.WithError(loadErr).Error("failed to load persisted risk state")
		return 1
	} else if ok {
		riskMgr.LoadFromSnapshot(snap, clk.Now())
		log.Info("restored risk state from persisted snapshot")
	} else {
		log.Info("no persisted risk state found, starting from a fresh bankroll")
	}

	polymarket := venue.NewCircuitBreakerClient(venue.NewPolymarketClient(
		cfg.Venues.Polymarket.BaseURL, cfg.Venues.Polymarket.APIKey, venue.Mode(cfg.Venues.Polymarket.Mode),
	))
	kalshi := venue.NewCircuitBreakerClient(venue.NewKalshiClient(
		cfg.Venues.Kalshi.BaseURL, cfg.Venues.Kalshi.APIKey, venue.Mode(cfg.Venues.Kalshi.Mode),
	))

	pairs := make([]models.ContractPair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, models.ContractPair{
			PolymarketID:     p.PolymarketID,
			KalshiID:         p.KalshiID,
			EventDescription: p.EventDescription,
			PrimaryLeg:       models.Leg(p.PrimaryLeg),
		})
	}

	degradation := venue.NewDegradationTracker()
	det := detector.New(polymarket, kalshi, degradation, clk, log.WithField("component", "detector"))

	minEdge, err := money.NewFromFloat(cfg.Detection.MinEdgeThreshold)
	if err != nil {
		log.WithError(err).Error("failed to parse detection.min_edge_threshold")
		return 1
	}
	gasEstimate, err := money.NewFromFloat(cfg.Detection.GasEstimateUSD)
	if err != nil {
		log.WithError(err).Error("failed to parse detection.gas_estimate_usd")
		return 1
	}
	positionSize, err := money.NewFromFloat(cfg.Detection.PositionSizeUSD)
	if err != nil {
		log.WithError(err).Error("failed to parse detection.position_size_usd")
		return 1
	}

	edgeCalc := edge.New(edge.Config{
		MinEdgeThreshold: minEdge,
		GasEstimateUSD:   gasEstimate,
		PositionSizeUSD:  positionSize,
	}, polymarket, kalshi, degradation, bus, clk, log.WithField("component", "edge"))

	execQueue := execution.New(riskMgr, store, polymarket, kalshi, bus, clk, log.WithField("component", "execution"))

	reconciler := reconciliation.New(store, polymarket, kalshi, riskMgr, bus, log.WithField("component", "reconciliation"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx := corrid.New(ctx, clk)
	report, err := reconciler.Run(startupCtx, corrid.ID(startupCtx))
	if err != nil {
		log.WithError(err).Error("startup reconciliation failed")
		return 1
	}
	log.WithField("discrepancy_count", report.DiscrepancyCount).
		WithField("timed_out", report.TimedOut).
		Info("startup reconciliation complete")

	sched := scheduler.New(scheduler.Config{
		PollingInterval: cfg.PollingInterval(),
	}, pairs, det, edgeCalc, execQueue, riskMgr, ntp.UDPTransport{}, bus, clk, log.WithField("component", "scheduler"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received, draining in-flight cycles")
		sched.InitiateShutdown()
		if !sched.WaitForShutdown(shutdownGrace) {
			log.Warn("shutdown grace period elapsed with work still in flight")
		}
		cancel()
	}()

	sched.Run(ctx)

	log.Info("arbitrage engine stopped")
	return 0
}

func newLogger(cfg *config.Config) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if cfg.Environment.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(l)
}

