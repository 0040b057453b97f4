// Package venue defines the external trading-venue contract the core
// consumes (spec section 6, "Venue client (consumed)") plus a
// circuit-breaking Client decorator and the bounded fill-poll helper
// PollFill. Grounded on the teacher's internal/broker.Broker interface
// and its gobreaker-backed circuit-breaker tests
// (internal/broker/interface_test.go), generalized from a
// single-broker, options-trading shape to a multi-venue binary-market
// shape.
package venue

import (
	"context"
	"time"

	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
)

// HealthStatus is a venue's self-reported operating status.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthDegraded     HealthStatus = "degraded"
	HealthDisconnected HealthStatus = "disconnected"
)

// Mode distinguishes a venue's live trading endpoint from its paper
// (sandbox) endpoint, mirroring the teacher's sandbox bool on
// TradierClient generalized into an explicit enum.
type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
)

// Health is the result of Client.GetHealth.
type Health struct {
	PlatformID string
	Status     HealthStatus
	Mode       Mode
}

// OrderSide is which side of the book an order rests on.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is the only order type the engine submits.
const OrderTypeLimit = "limit"

// OrderRequest is the payload for Client.SubmitOrder.
type OrderRequest struct {
	ContractID string
	Side       OrderSide
	Quantity   money.Decimal
	Price      money.Decimal
	Type       string
}

// OrderStatus is the lifecycle state of a submitted order, as
// reported by the venue.
type OrderStatus string

const (
	OrderFilled    OrderStatus = "filled"
	OrderPending   OrderStatus = "pending"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
	OrderFailed    OrderStatus = "failed"
	OrderNotFound  OrderStatus = "not_found"
)

// SubmitResult is the immediate response to Client.SubmitOrder.
type SubmitResult struct {
	OrderID     string
	Status      OrderStatus
	FilledPrice money.Decimal
	FilledSize  money.Decimal
}

// OrderState is the response to Client.GetOrder, used by the bounded
// poll and by reconciliation.
type OrderState struct {
	Status    OrderStatus
	FillPrice money.Decimal
	FillSize  money.Decimal
}

// Client is the contract every venue adapter implements. All methods
// take a context so callers can enforce the spec's per-call deadlines
// (10s for reconciliation, 5s cap for fill polling).
type Client interface {
	PlatformID() string
	GetHealth(ctx context.Context) (Health, error)
	GetFeeSchedule(ctx context.Context) (models.FeeSchedule, error)
	GetOrderBook(ctx context.Context, contractID string) (models.OrderBook, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error)
	GetOrder(ctx context.Context, orderID string) (OrderState, error)
}

// PollFill repeatedly calls GetOrder at interval until the order
// leaves OrderPending, the context is cancelled, or cap elapses.
// A timeout leaves the order OrderPending -- the spec treats that as
// "not filled", never as a terminal failure.
func PollFill(ctx context.Context, c Client, orderID string, interval, pollCap time.Duration) (OrderState, error) {
	deadline := time.Now().Add(pollCap)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := c.GetOrder(ctx, orderID)
		if err != nil {
			return OrderState{}, err
		}
		if state.Status != OrderPending {
			return state, nil
		}
		if time.Now().After(deadline) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}
