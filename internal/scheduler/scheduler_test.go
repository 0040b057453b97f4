package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrate/engine/internal/clock"
	"github.com/arbitrate/engine/internal/detector"
	"github.com/arbitrate/engine/internal/edge"
	"github.com/arbitrate/engine/internal/events"
	"github.com/arbitrate/engine/internal/execution"
	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
	"github.com/arbitrate/engine/internal/ntp"
	"github.com/arbitrate/engine/internal/risk"
	"github.com/arbitrate/engine/internal/storage"
	"github.com/arbitrate/engine/internal/venue"
)

type stubVenue struct {
	platformID string
	book       models.OrderBook
	fee        models.FeeSchedule
	submit     venue.SubmitResult
}

func (s *stubVenue) PlatformID() string { return s.platformID }
func (s *stubVenue) GetHealth(ctx context.Context) (venue.Health, error) {
	return venue.Health{Status: venue.HealthHealthy}, nil
}
func (s *stubVenue) GetFeeSchedule(ctx context.Context) (models.FeeSchedule, error) { return s.fee, nil }
func (s *stubVenue) GetOrderBook(ctx context.Context, contractID string) (models.OrderBook, error) {
	return s.book, nil
}
func (s *stubVenue) SubmitOrder(ctx context.Context, req venue.OrderRequest) (venue.SubmitResult, error) {
	return s.submit, nil
}
func (s *stubVenue) GetOrder(ctx context.Context, orderID string) (venue.OrderState, error) {
	return venue.OrderState{Status: venue.OrderFilled}, nil
}

type fakeNTPTransport struct {
	reply []byte
}

func (f *fakeNTPTransport) Exchange(ctx context.Context, server string, request []byte) ([]byte, error) {
	return f.reply, nil
}

func buildTestScheduler(t *testing.T, poly, kalshi venue.Client) (*Scheduler, *events.Bus, *risk.Manager) {
	t.Helper()
	store, err := storage.NewJSONStorage(t.TempDir())
	require.NoError(t, err)
	riskCfg := risk.Config{
		Bankroll:       money.MustFromFloat(10000),
		MaxPositionPct: money.MustFromFloat(0.2),
		MaxOpenPairs:   5,
		DailyLossPct:   money.MustFromFloat(0.1),
	}
	bus := events.New()
	clk := clock.NewFakeClock(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	log := logrus.NewEntry(logrus.New())

	riskMgr, err := risk.New(riskCfg, store, bus, clk, log)
	require.NoError(t, err)

	degradation := venue.NewDegradationTracker()
	det := detector.New(poly, kalshi, degradation, clk, log)
	edgeCalc := edge.New(edge.Config{
		MinEdgeThreshold: money.MustFromFloat(0.005),
		GasEstimateUSD:   money.MustFromFloat(1),
		PositionSizeUSD:  money.MustFromFloat(100),
	}, poly, kalshi, degradation, bus, clk, log)
	execQueue := execution.New(riskMgr, store, poly, kalshi, bus, clk, log)

	pairs := []models.ContractPair{{PolymarketID: "p1", KalshiID: "k1", PrimaryLeg: models.LegA}}

	transport := &fakeNTPTransport{reply: make([]byte, 48)}
	sched := New(Config{PollingInterval: time.Second}, pairs, det, edgeCalc, execQueue, riskMgr, transport, bus, clk, log)
	return sched, bus, riskMgr
}

func TestRunCycleCommitsAnActionableDislocation(t *testing.T) {
	poly := &stubVenue{
		platformID: "polymarket",
		book: models.OrderBook{
			Asks: []models.PriceLevel{{Price: money.MustFromFloat(0.40), Quantity: money.MustFromFloat(500)}},
			Bids: []models.PriceLevel{{Price: money.MustFromFloat(0.39), Quantity: money.MustFromFloat(500)}},
		},
		fee:    models.FeeSchedule{TakerFeePercent: money.MustFromFloat(0.1), MakerFeePercent: money.MustFromFloat(0.1)},
		submit: venue.SubmitResult{OrderID: "o1", Status: venue.OrderFilled},
	}
	kalshi := &stubVenue{
		platformID: "kalshi",
		book: models.OrderBook{
			Asks: []models.PriceLevel{{Price: money.MustFromFloat(0.61), Quantity: money.MustFromFloat(500)}},
			Bids: []models.PriceLevel{{Price: money.MustFromFloat(0.58), Quantity: money.MustFromFloat(500)}},
		},
		fee:    models.FeeSchedule{TakerFeePercent: money.MustFromFloat(0.1), MakerFeePercent: money.MustFromFloat(0.1)},
		submit: venue.SubmitResult{OrderID: "o2", Status: venue.OrderFilled},
	}

	sched, _, riskMgr := buildTestScheduler(t, poly, kalshi)
	sched.RunCycle(context.Background())

	snap := riskMgr.Snapshot()
	assert.Equal(t, 1, snap.OpenPositionCount)
}

func TestClassifyDriftBelowWarningLogsOnly(t *testing.T) {
	sched, bus, _ := buildTestScheduler(t, &stubVenue{platformID: "polymarket"}, &stubVenue{platformID: "kalshi"})
	ch, unsubscribe := bus.Subscribe(events.TimeDriftWarning, 1)
	defer unsubscribe()

	sched.classifyDrift("c1", 50)

	select {
	case <-ch:
		t.Fatal("should not have published time_drift_warning for 50ms drift")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestClassifyDriftWarningRange(t *testing.T) {
	sched, bus, _ := buildTestScheduler(t, &stubVenue{platformID: "polymarket"}, &stubVenue{platformID: "kalshi"})
	ch, unsubscribe := bus.Subscribe(events.TimeDriftWarning, 1)
	defer unsubscribe()

	sched.classifyDrift("c1", 250)

	select {
	case payload := <-ch:
		assert.Equal(t, int64(250), payload.(events.TimeDriftWarningPayload).DriftMs)
	case <-time.After(time.Second):
		t.Fatal("expected time_drift_warning event")
	}
}

func TestClassifyDriftHaltTriggersRiskHalt(t *testing.T) {
	sched, _, riskMgr := buildTestScheduler(t, &stubVenue{platformID: "polymarket"}, &stubVenue{platformID: "kalshi"})

	sched.classifyDrift("c1", 1500)

	snap := riskMgr.Snapshot()
	assert.True(t, snap.ActiveHaltReasons[models.HaltClockDrift])
}

func TestMaybeHandleMidnightResetOnlyFiresOncePerDay(t *testing.T) {
	sched, _, riskMgr := buildTestScheduler(t, &stubVenue{platformID: "polymarket"}, &stubVenue{platformID: "kalshi"})
	riskMgr.UpdateDailyPnL("setup", money.MustFromFloat(-50))

	sched.maybeHandleMidnightReset(context.Background())
	afterFirst := riskMgr.Snapshot().DailyPnL

	riskMgr.UpdateDailyPnL("setup-2", money.MustFromFloat(-25))
	sched.maybeHandleMidnightReset(context.Background())
	afterSecond := riskMgr.Snapshot().DailyPnL

	assert.True(t, afterFirst.IsZero())
	assert.False(t, afterSecond.IsZero(), "second call same day should be a no-op, not reset again")
}

func TestWaitForShutdownReturnsTrueWhenDrained(t *testing.T) {
	sched, _, _ := buildTestScheduler(t, &stubVenue{platformID: "polymarket"}, &stubVenue{platformID: "kalshi"})
	sched.InitiateShutdown()
	ok := sched.WaitForShutdown(time.Second)
	assert.True(t, ok)
}

func TestWaitForShutdownTimesOutWithInFlightWork(t *testing.T) {
	sched, _, _ := buildTestScheduler(t, &stubVenue{platformID: "polymarket"}, &stubVenue{platformID: "kalshi"})
	sched.inFlightOps.Add(1)
	ok := sched.WaitForShutdown(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestMaybeRunCycleSkipsWhenAlreadyInProgress(t *testing.T) {
	sched, _, _ := buildTestScheduler(t, &stubVenue{platformID: "polymarket"}, &stubVenue{platformID: "kalshi"})
	sched.inProgress.Store(true)

	sched.maybeRunCycle(context.Background())

	assert.Equal(t, int64(0), sched.inFlightOps.Load())
}

func TestMaybeRunCycleRefusesAfterShutdownInitiated(t *testing.T) {
	sched, _, _ := buildTestScheduler(t, &stubVenue{platformID: "polymarket"}, &stubVenue{platformID: "kalshi"})
	sched.InitiateShutdown()

	sched.maybeRunCycle(context.Background())

	assert.False(t, sched.inProgress.Load())
}
