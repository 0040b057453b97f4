package venue

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arbitrate/engine/internal/models"
)

// BreakerSettings configures the per-venue circuit breaker. Mirrors
// gobreaker.Settings' shape, trimmed to the fields this engine tunes.
type BreakerSettings struct {
	MaxRequestsHalfOpen uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings trips after 5 consecutive failures and
// allows the breaker to probe again after 30s half-open.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequestsHalfOpen: 1,
	Interval:            60 * time.Second,
	Timeout:             30 * time.Second,
	ConsecutiveFailures: 5,
}

// CircuitBreakerClient wraps a Client so repeated platform failures
// trip a gobreaker.CircuitBreaker instead of hammering a degraded
// venue. Grounded on the teacher's gobreaker-backed
// NewCircuitBreakerBroker (referenced by internal/broker's tests),
// generalized to the venue.Client interface.
type CircuitBreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerClient wraps inner with DefaultBreakerSettings.
func NewCircuitBreakerClient(inner Client) *CircuitBreakerClient {
	return NewCircuitBreakerClientWithSettings(inner, DefaultBreakerSettings)
}

// NewCircuitBreakerClientWithSettings wraps inner with explicit settings.
func NewCircuitBreakerClientWithSettings(inner Client, s BreakerSettings) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:        "venue:" + inner.PlatformID(),
		MaxRequests: s.MaxRequestsHalfOpen,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
	}
	return &CircuitBreakerClient{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// State exposes the breaker's current state for health reporting.
func (c *CircuitBreakerClient) State() gobreaker.State { return c.breaker.State() }

func (c *CircuitBreakerClient) PlatformID() string { return c.inner.PlatformID() }

func (c *CircuitBreakerClient) GetHealth(ctx context.Context) (Health, error) {
	v, err := c.breaker.Execute(func() (any, error) { return c.inner.GetHealth(ctx) })
	if err != nil {
		return Health{}, err
	}
	return v.(Health), nil
}

func (c *CircuitBreakerClient) GetFeeSchedule(ctx context.Context) (models.FeeSchedule, error) {
	v, err := c.breaker.Execute(func() (any, error) { return c.inner.GetFeeSchedule(ctx) })
	if err != nil {
		return models.FeeSchedule{}, err
	}
	return v.(models.FeeSchedule), nil
}

func (c *CircuitBreakerClient) GetOrderBook(ctx context.Context, contractID string) (models.OrderBook, error) {
	v, err := c.breaker.Execute(func() (any, error) { return c.inner.GetOrderBook(ctx, contractID) })
	if err != nil {
		return models.OrderBook{}, err
	}
	return v.(models.OrderBook), nil
}

func (c *CircuitBreakerClient) SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error) {
	v, err := c.breaker.Execute(func() (any, error) { return c.inner.SubmitOrder(ctx, req) })
	if err != nil {
		return SubmitResult{}, err
	}
	return v.(SubmitResult), nil
}

func (c *CircuitBreakerClient) GetOrder(ctx context.Context, orderID string) (OrderState, error) {
	v, err := c.breaker.Execute(func() (any, error) { return c.inner.GetOrder(ctx, orderID) })
	if err != nil {
		return OrderState{}, err
	}
	return v.(OrderState), nil
}
