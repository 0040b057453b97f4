// Kalshi REST adapter. Shares doJSONRequest's plumbing with
// PolymarketClient (both grounded on the teacher's
// broker.makeRequestCtx) but maps Kalshi's market/order wire shapes,
// which price levels in integer cents rather than Polymarket's
// decimal-string probabilities.
package venue

import (
	"context"
	"net/http"
	"time"

	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
)

// KalshiClient is a minimal REST client covering exactly the
// operations venue.Client names.
type KalshiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	mode       Mode
}

// NewKalshiClient constructs a client against baseURL (e.g.
// "https://trading-api.kalshi.com/trade-api/v2").
func NewKalshiClient(baseURL, apiKey string, mode Mode) *KalshiClient {
	return &KalshiClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		mode:       mode,
	}
}

func (c *KalshiClient) PlatformID() string { return string(models.PlatformKalshi) }

type kalshiExchangeStatus struct {
	TradingActive bool `json:"trading_active"`
}

func (c *KalshiClient) GetHealth(ctx context.Context) (Health, error) {
	var resp kalshiExchangeStatus
	if err := c.makeRequest(ctx, http.MethodGet, "/exchange/status", nil, &resp); err != nil {
		return Health{PlatformID: c.PlatformID(), Status: HealthDisconnected, Mode: c.mode}, err
	}
	status := HealthHealthy
	if !resp.TradingActive {
		status = HealthDegraded
	}
	return Health{PlatformID: c.PlatformID(), Status: status, Mode: c.mode}, nil
}

type kalshiFeeResponse struct {
	// MakerFeeBps/TakerFeeBps are basis points of notional, per
	// Kalshi's fee schedule endpoint.
	MakerFeeBps int64 `json:"maker_fee_bps"`
	TakerFeeBps int64 `json:"taker_fee_bps"`
}

func (c *KalshiClient) GetFeeSchedule(ctx context.Context) (models.FeeSchedule, error) {
	var resp kalshiFeeResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/exchange/fees", nil, &resp); err != nil {
		return models.FeeSchedule{}, err
	}
	bpsToPercent := money.NewFromInt(100)
	taker := money.NewFromInt(resp.TakerFeeBps).Div(bpsToPercent)
	maker := money.NewFromInt(resp.MakerFeeBps).Div(bpsToPercent)
	return models.FeeSchedule{TakerFeePercent: taker, MakerFeePercent: maker}, nil
}

type kalshiOrderbookResponse struct {
	Orderbook struct {
		Yes [][2]int64 `json:"yes"` // [price_cents, count]
		No  [][2]int64 `json:"no"`
	} `json:"orderbook"`
}

func (c *KalshiClient) GetOrderBook(ctx context.Context, contractID string) (models.OrderBook, error) {
	var resp kalshiOrderbookResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/markets/"+contractID+"/orderbook", nil, &resp); err != nil {
		return models.OrderBook{}, err
	}

	return models.OrderBook{
		PlatformID: c.PlatformID(),
		ContractID: contractID,
		Bids:       centsToPriceLevels(resp.Orderbook.Yes),
		Asks:       centsToPriceLevels(resp.Orderbook.No),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// centsToPriceLevels converts Kalshi's [price_cents, count] pairs into
// the engine's 0-1 probability-scaled PriceLevel, via exact integer
// decimal division rather than a float64 round-trip.
func centsToPriceLevels(raw [][2]int64) []models.PriceLevel {
	centsToUnit := money.NewFromInt(100)
	out := make([]models.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price := money.NewFromInt(pair[0]).Div(centsToUnit)
		qty := money.NewFromInt(pair[1])
		out = append(out, models.PriceLevel{Price: price, Quantity: qty})
	}
	return out
}

type kalshiOrderRequest struct {
	TickerID   string `json:"ticker"`
	Side       string `json:"side"`
	PriceCents int64  `json:"price"`
	Count      int64  `json:"count"`
	Type       string `json:"type"`
}

type kalshiOrderResponse struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	FilledPriceCents int64  `json:"filled_price"`
	FilledCount      int64  `json:"filled_count"`
}

func (c *KalshiClient) SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error) {
	body := kalshiOrderRequest{
		TickerID:   req.ContractID,
		Side:       string(req.Side),
		PriceCents: req.Price.Mul(money.NewFromInt(100)).IntPart(),
		Count:      req.Quantity.IntPart(),
		Type:       req.Type,
	}
	var resp kalshiOrderResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return SubmitResult{}, err
	}
	return kalshiOrderToResult(resp), nil
}

func (c *KalshiClient) GetOrder(ctx context.Context, orderID string) (OrderState, error) {
	var resp kalshiOrderResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/orders/"+orderID, nil, &resp); err != nil {
		return OrderState{}, err
	}
	result := kalshiOrderToResult(resp)
	return OrderState{Status: result.Status, FillPrice: result.FilledPrice, FillSize: result.FilledSize}, nil
}

func kalshiOrderToResult(resp kalshiOrderResponse) SubmitResult {
	price := money.NewFromInt(resp.FilledPriceCents).Div(money.NewFromInt(100))
	size := money.NewFromInt(resp.FilledCount)
	return SubmitResult{
		OrderID:     resp.OrderID,
		Status:      mapKalshiStatus(resp.Status),
		FilledPrice: price,
		FilledSize:  size,
	}
}

func mapKalshiStatus(raw string) OrderStatus {
	switch raw {
	case "executed", "filled":
		return OrderFilled
	case "resting", "pending":
		return OrderPending
	case "canceled", "cancelled":
		return OrderCancelled
	case "rejected":
		return OrderRejected
	case "not_found":
		return OrderNotFound
	default:
		return OrderFailed
	}
}

func (c *KalshiClient) makeRequest(ctx context.Context, method, path string, body, response any) error {
	return doJSONRequest(ctx, c.httpClient, c.baseURL+path, method, c.apiKey, c.PlatformID(), body, response)
}
