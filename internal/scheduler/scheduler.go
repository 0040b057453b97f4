// Package scheduler implements the polling scheduler (spec section
// 4.4): a single-threaded cooperative tick loop that runs one
// detect-filter-validate-reserve-submit cycle per interval, gated by
// an execution_in_progress re-entrancy guard, alongside an
// out-of-band six-hourly NTP drift probe and a UTC-midnight daily
// reset. Grounded on the teacher's cmd/bot/main.go (Bot.Run's
// ticker/select/signal-handling loop) generalized from a single
// strangle-management tick into the full detector/edge/execution
// pipeline, with graceful shutdown adapted from the same function's
// sigChan-driven cancellation.
package scheduler

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arbitrate/engine/internal/clock"
	"github.com/arbitrate/engine/internal/corrid"
	"github.com/arbitrate/engine/internal/detector"
	"github.com/arbitrate/engine/internal/edge"
	"github.com/arbitrate/engine/internal/events"
	"github.com/arbitrate/engine/internal/execution"
	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/ntp"
	"github.com/arbitrate/engine/internal/risk"
)

// NTP drift classification thresholds (spec section 4.4's table).
const (
	driftWarningMs  = 100
	driftCriticalMs = 500
	driftHaltMs     = 1000
)

// Config carries the scheduler's cadence and NTP probe settings.
type Config struct {
	PollingInterval    time.Duration
	NTPProbeInterval   time.Duration // default 6h
	NTPRetryAttempts   int           // default 3
	NTPRetryDelay      time.Duration // default 2s
	NTPPrimaryServer   string
	NTPFallbackServer  string
	ShutdownPollPeriod time.Duration // default 100ms
}

func (c *Config) applyDefaults() {
	if c.NTPProbeInterval <= 0 {
		c.NTPProbeInterval = 6 * time.Hour
	}
	if c.NTPRetryAttempts <= 0 {
		c.NTPRetryAttempts = 3
	}
	if c.NTPRetryDelay <= 0 {
		c.NTPRetryDelay = 2 * time.Second
	}
	if c.NTPPrimaryServer == "" {
		c.NTPPrimaryServer = ntp.DefaultPrimaryServer
	}
	if c.NTPFallbackServer == "" {
		c.NTPFallbackServer = ntp.DefaultFallbackServer
	}
	if c.ShutdownPollPeriod <= 0 {
		c.ShutdownPollPeriod = 100 * time.Millisecond
	}
}

// Scheduler owns the tick loop, the NTP probe, and the midnight
// reset, coordinating all three through the risk manager.
type Scheduler struct {
	cfg       Config
	pairs     []models.ContractPair
	detector  *detector.Detector
	edge      *edge.Calculator
	execution *execution.Queue
	risk      *risk.Manager
	probe     *ntp.Probe
	bus       *events.Bus
	clk       clock.Clock
	log       *logrus.Entry

	inProgress       atomic.Bool
	inFlightOps      atomic.Int64
	shuttingDown     atomic.Bool
	lastMidnightDate atomic.Value // string, YYYY-MM-DD
}

// New constructs a Scheduler. transport is the NTP Transport used by
// the drift probe (UDPTransport in production).
func New(cfg Config, pairs []models.ContractPair, det *detector.Detector, edgeCalc *edge.Calculator, execQueue *execution.Queue, riskMgr *risk.Manager, transport ntp.Transport, bus *events.Bus, clk clock.Clock, log *logrus.Entry) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:       cfg,
		pairs:     pairs,
		detector:  det,
		edge:      edgeCalc,
		execution: execQueue,
		risk:      riskMgr,
		probe:     ntp.NewProbe(transport, clk.Now),
		bus:       bus,
		clk:       clk,
		log:       log,
	}
}

// Run is a single select loop over three tickers: the polling tick,
// the NTP probe interval, and a once-a-minute midnight-reset check.
// It blocks until ctx is cancelled; InitiateShutdown does not end the
// loop, it only makes later ticks skip their cycle.
// A one-shot startup NTP probe runs before the first tick; if drift
// is already >=1000ms, the engine halts before that first cycle.
func (s *Scheduler) Run(ctx context.Context) {
	s.runStartupDriftProbe(ctx)

	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	ntpTicker := time.NewTicker(s.cfg.NTPProbeInterval)
	defer ntpTicker.Stop()

	midnightTicker := time.NewTicker(time.Minute)
	defer midnightTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeRunCycle(ctx)
		case <-ntpTicker.C:
			s.runDriftProbe(ctx)
		case <-midnightTicker.C:
			s.maybeHandleMidnightReset(ctx)
		}
	}
}

// InitiateShutdown refuses new cycles; in-flight work is left to
// drain via WaitForShutdown.
func (s *Scheduler) InitiateShutdown() {
	s.shuttingDown.Store(true)
}

// WaitForShutdown polls in-flight operation count at ShutdownPollPeriod
// until it drains to zero or timeout elapses, matching spec section
// 5's "12s typical, below the orchestrator's 15s grace" contract.
func (s *Scheduler) WaitForShutdown(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.inFlightOps.Load() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(s.cfg.ShutdownPollPeriod)
	}
}

// maybeRunCycle is the re-entrancy-guarded tick handler: skips if a
// cycle is already in flight or shutdown has been initiated.
func (s *Scheduler) maybeRunCycle(ctx context.Context) {
	if s.shuttingDown.Load() {
		s.log.Debug("shutdown initiated, refusing new cycle")
		return
	}
	if !s.inProgress.CompareAndSwap(false, true) {
		s.log.Debug("skipping cycle: execution already in progress")
		return
	}
	defer s.inProgress.Store(false)

	s.inFlightOps.Add(1)
	defer s.inFlightOps.Add(-1)

	s.RunCycle(ctx)
}

// RunCycle executes one full detect->filter->validate->reserve->
// submit->commit/release pass, strictly sequential end to end.
func (s *Scheduler) RunCycle(ctx context.Context) {
	ctx = corrid.New(ctx, s.clk)
	correlationID := corrid.ID(ctx)
	log := corrid.Logger(ctx, s.log)

	detectSummary := s.detector.Run(ctx, s.pairs)
	log.WithFields(logrus.Fields{
		"pairs_evaluated": detectSummary.PairsEvaluated,
		"pairs_skipped":   detectSummary.PairsSkipped,
		"dislocations":    len(detectSummary.Dislocations),
	}).Debug("detection pass complete")

	if len(detectSummary.Dislocations) == 0 {
		return
	}

	opportunities, edgeSummary := s.edge.Run(ctx, correlationID, detectSummary.Dislocations)
	log.WithFields(logrus.Fields{
		"actionable": edgeSummary.TotalActionable,
		"filtered":   edgeSummary.TotalFiltered,
		"errors":     edgeSummary.SkippedErrors,
	}).Debug("edge calculation pass complete")

	if len(opportunities) == 0 {
		return
	}

	approved := s.validateAndSort(correlationID, opportunities)
	if len(approved) == 0 {
		return
	}

	results := s.execution.Run(ctx, correlationID, approved)
	committed := 0
	for _, r := range results {
		if r.Committed {
			committed++
		}
	}
	log.WithFields(logrus.Fields{
		"submitted": len(results),
		"committed": committed,
	}).Info("execution pass complete")
}

// validateAndSort runs validate_position over each opportunity (the
// pure pre-screen, distinct from reserve_budget's mutating check) and
// returns the survivors sorted by net_edge descending, per spec
// section 4.5's ordering contract.
func (s *Scheduler) validateAndSort(correlationID string, opportunities []models.EnrichedOpportunity) []models.EnrichedOpportunity {
	approved := make([]models.EnrichedOpportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		decision := s.risk.ValidatePosition(correlationID, opp.RecommendedSize)
		if decision.Approved {
			approved = append(approved, opp)
		} else {
			s.log.WithFields(logrus.Fields{
				"opportunity_id": opp.OpportunityID,
				"reason":         decision.Reason,
			}).Debug("opportunity failed pre-screen validation")
		}
	}
	sort.Slice(approved, func(i, j int) bool {
		return approved[i].NetEdge.GreaterThan(approved[j].NetEdge)
	})
	return approved
}

// maybeHandleMidnightReset fires handle_midnight_reset at most once
// per UTC calendar day.
func (s *Scheduler) maybeHandleMidnightReset(ctx context.Context) {
	today := s.clk.Now().UTC().Format("2006-01-02")
	last, _ := s.lastMidnightDate.Load().(string)
	if last == today {
		return
	}
	s.lastMidnightDate.Store(today)
	ctx = corrid.New(ctx, s.clk)
	s.risk.HandleMidnightReset(corrid.ID(ctx))
}

// runStartupDriftProbe is the one-shot probe that runs before the
// scheduler's first tick; a >=1000ms drift halts trading before any
// cycle runs.
func (s *Scheduler) runStartupDriftProbe(ctx context.Context) {
	s.runDriftProbeWithCorrelation(ctx)
}

// runDriftProbe is the recurring six-hourly out-of-band probe.
func (s *Scheduler) runDriftProbe(ctx context.Context) {
	s.runDriftProbeWithCorrelation(ctx)
}

func (s *Scheduler) runDriftProbeWithCorrelation(ctx context.Context) {
	ctx = corrid.New(ctx, s.clk)
	correlationID := corrid.ID(ctx)
	result, err := s.probe.QueryWithRetry(ctx, s.cfg.NTPPrimaryServer, s.cfg.NTPRetryAttempts, s.cfg.NTPRetryDelay)
	if err != nil {
		s.log.WithError(err).Warn("primary NTP server exhausted retries, trying fallback")
		result, err = s.probe.Query(ctx, s.cfg.NTPFallbackServer)
		if err != nil {
			s.log.WithError(err).Error("NTP drift probe failed against both primary and fallback")
			return
		}
	}

	s.classifyDrift(correlationID, result.DriftMs)
}

// classifyDrift applies spec section 4.4's drift_ms table.
func (s *Scheduler) classifyDrift(correlationID string, driftMs int64) {
	abs := driftMs
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs < driftWarningMs:
		s.log.WithField("drift_ms", driftMs).Info("NTP drift within tolerance")
	case abs < driftCriticalMs:
		s.bus.Publish(events.TimeDriftWarning, events.TimeDriftWarningPayload{
			Envelope: events.Envelope{CorrelationID: correlationID, At: s.clk.Now()},
			DriftMs:  driftMs,
		})
	case abs < driftHaltMs:
		s.bus.Publish(events.TimeDriftCritical, events.TimeDriftCriticalPayload{
			Envelope: events.Envelope{CorrelationID: correlationID, At: s.clk.Now()},
			DriftMs:  driftMs,
		})
	default:
		s.bus.Publish(events.TimeDriftHalt, events.TimeDriftHaltPayload{
			Envelope: events.Envelope{CorrelationID: correlationID, At: s.clk.Now()},
			DriftMs:  driftMs,
		})
		s.risk.HaltTrading(correlationID, models.HaltClockDrift)
	}
}
