package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrate/engine/internal/models"
)

type stubClient struct {
	platformID string
	health     Health
	healthErr  error
	orderState OrderState
	orderErr   error
	getOrderCalls int
}

func (s *stubClient) PlatformID() string { return s.platformID }
func (s *stubClient) GetHealth(ctx context.Context) (Health, error) {
	return s.health, s.healthErr
}
func (s *stubClient) GetFeeSchedule(ctx context.Context) (models.FeeSchedule, error) {
	return models.FeeSchedule{}, nil
}
func (s *stubClient) GetOrderBook(ctx context.Context, contractID string) (models.OrderBook, error) {
	return models.OrderBook{}, nil
}
func (s *stubClient) SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error) {
	return SubmitResult{}, nil
}
func (s *stubClient) GetOrder(ctx context.Context, orderID string) (OrderState, error) {
	s.getOrderCalls++
	return s.orderState, s.orderErr
}

func TestPollFillReturnsImmediatelyWhenFilled(t *testing.T) {
	c := &stubClient{orderState: OrderState{Status: OrderFilled}}
	state, err := PollFill(context.Background(), c, "o1", 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, state.Status)
	assert.Equal(t, 1, c.getOrderCalls)
}

func TestPollFillTimesOutStillPending(t *testing.T) {
	c := &stubClient{orderState: OrderState{Status: OrderPending}}
	state, err := PollFill(context.Background(), c, "o1", 5*time.Millisecond, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OrderPending, state.Status)
	assert.GreaterOrEqual(t, c.getOrderCalls, 2)
}

func TestPollFillPropagatesError(t *testing.T) {
	c := &stubClient{orderErr: errors.New("boom")}
	_, err := PollFill(context.Background(), c, "o1", 5*time.Millisecond, time.Second)
	assert.Error(t, err)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := &stubClient{platformID: "kalshi", healthErr: errors.New("down")}
	cb := NewCircuitBreakerClientWithSettings(c, BreakerSettings{
		MaxRequestsHalfOpen: 1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 2,
	})

	_, _ = cb.GetHealth(context.Background())
	_, _ = cb.GetHealth(context.Background())

	_, err := cb.GetHealth(context.Background())
	require.Error(t, err)
}

func TestDegradationTrackerThresholdMultiplier(t *testing.T) {
	d := NewDegradationTracker()
	assert.True(t, d.ThresholdMultiplier("polymarket", "kalshi").Equal(d.ThresholdMultiplier("polymarket", "kalshi")))

	d.Observe("kalshi", HealthDegraded)
	assert.True(t, d.IsDegraded("kalshi"))
	assert.False(t, d.IsDisconnected("kalshi"))
	assert.True(t, d.ThresholdMultiplier("polymarket", "kalshi").Equal(d.DegradedMultiplier))
}

func TestDegradationTrackerDisconnected(t *testing.T) {
	d := NewDegradationTracker()
	d.Observe("polymarket", HealthDisconnected)
	assert.True(t, d.IsDisconnected("polymarket"))
}
