// Polymarket REST adapter. Grounded on the teacher's
// internal/broker/tradier.go makeRequestCtx (context-aware
// http.NewRequestWithContext, bearer auth header, status-code ->
// APIError mapping, json.Decoder straight into the response struct),
// generalized from Tradier's form-encoded options endpoints to
// Polymarket's CLOB JSON REST API.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
)

// PolymarketClient is a minimal CLOB REST client for one binary
// market per call, covering exactly the operations venue.Client
// names.
type PolymarketClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	mode       Mode
}

// NewPolymarketClient constructs a client against baseURL (e.g.
// "https://clob.polymarket.com"). mode is ModeLive or ModePaper; the
// client does not alter requests based on mode, it only reports it
// via GetHealth.
func NewPolymarketClient(baseURL, apiKey string, mode Mode) *PolymarketClient {
	return &PolymarketClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		mode:       mode,
	}
}

func (c *PolymarketClient) PlatformID() string { return string(models.PlatformPolymarket) }

type polymarketHealthResponse struct {
	Status string `json:"status"`
}

func (c *PolymarketClient) GetHealth(ctx context.Context) (Health, error) {
	var resp polymarketHealthResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return Health{PlatformID: c.PlatformID(), Status: HealthDisconnected, Mode: c.mode}, err
	}
	status := HealthHealthy
	if resp.Status != "" && resp.Status != "ok" && resp.Status != "healthy" {
		status = HealthDegraded
	}
	return Health{PlatformID: c.PlatformID(), Status: status, Mode: c.mode}, nil
}

type polymarketFeeResponse struct {
	TakerFeeBps int64 `json:"taker_fee_bps"`
	MakerFeeBps int64 `json:"maker_fee_bps"`
}

func (c *PolymarketClient) GetFeeSchedule(ctx context.Context) (models.FeeSchedule, error) {
	var resp polymarketFeeResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/fees", nil, &resp); err != nil {
		return models.FeeSchedule{}, err
	}
	bpsToPercent := money.NewFromInt(100)
	taker := money.NewFromInt(resp.TakerFeeBps).Div(bpsToPercent)
	maker := money.NewFromInt(resp.MakerFeeBps).Div(bpsToPercent)
	return models.FeeSchedule{TakerFeePercent: taker, MakerFeePercent: maker}, nil
}

type polymarketBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type polymarketBookResponse struct {
	Bids []polymarketBookLevel `json:"bids"`
	Asks []polymarketBookLevel `json:"asks"`
}

func (c *PolymarketClient) GetOrderBook(ctx context.Context, contractID string) (models.OrderBook, error) {
	var resp polymarketBookResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/book?token_id="+contractID, nil, &resp); err != nil {
		return models.OrderBook{}, err
	}
	bids, err := toPriceLevels(resp.Bids)
	if err != nil {
		return models.OrderBook{}, fmt.Errorf("polymarket: parsing bids: %w", err)
	}
	asks, err := toPriceLevels(resp.Asks)
	if err != nil {
		return models.OrderBook{}, fmt.Errorf("polymarket: parsing asks: %w", err)
	}
	return models.OrderBook{
		PlatformID: c.PlatformID(),
		ContractID: contractID,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func toPriceLevels(levels []polymarketBookLevel) ([]models.PriceLevel, error) {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := money.NewFromString(l.Price)
		if err != nil {
			return nil, err
		}
		qty, err := money.NewFromString(l.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, models.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

type polymarketOrderRequest struct {
	TokenID string `json:"token_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Type    string `json:"order_type"`
}

type polymarketOrderResponse struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	FilledPrice string `json:"filled_price"`
	FilledSize  string `json:"filled_size"`
}

func (c *PolymarketClient) SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error) {
	body := polymarketOrderRequest{
		TokenID: req.ContractID,
		Side:    string(req.Side),
		Price:   req.Price.String(),
		Size:    req.Quantity.String(),
		Type:    req.Type,
	}
	var resp polymarketOrderResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return SubmitResult{}, err
	}
	return polymarketOrderToResult(resp)
}

func (c *PolymarketClient) GetOrder(ctx context.Context, orderID string) (OrderState, error) {
	var resp polymarketOrderResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/order/"+orderID, nil, &resp); err != nil {
		return OrderState{}, err
	}
	result, err := polymarketOrderToResult(resp)
	if err != nil {
		return OrderState{}, err
	}
	return OrderState{Status: result.Status, FillPrice: result.FilledPrice, FillSize: result.FilledSize}, nil
}

func polymarketOrderToResult(resp polymarketOrderResponse) (SubmitResult, error) {
	price := money.Zero
	size := money.Zero
	var err error
	if resp.FilledPrice != "" {
		if price, err = money.NewFromString(resp.FilledPrice); err != nil {
			return SubmitResult{}, err
		}
	}
	if resp.FilledSize != "" {
		if size, err = money.NewFromString(resp.FilledSize); err != nil {
			return SubmitResult{}, err
		}
	}
	return SubmitResult{
		OrderID:     resp.OrderID,
		Status:      mapPolymarketStatus(resp.Status),
		FilledPrice: price,
		FilledSize:  size,
	}, nil
}

func mapPolymarketStatus(raw string) OrderStatus {
	switch raw {
	case "matched", "filled":
		return OrderFilled
	case "live", "open", "pending":
		return OrderPending
	case "cancelled", "canceled":
		return OrderCancelled
	case "rejected":
		return OrderRejected
	case "not_found":
		return OrderNotFound
	default:
		return OrderFailed
	}
}

// apiError mirrors the teacher's broker.APIError shape: status code
// plus the raw response body for operator diagnosis.
type apiError struct {
	Platform string
	Status   int
	Body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Platform, e.Status, e.Body)
}

func (c *PolymarketClient) makeRequest(ctx context.Context, method, path string, body, response any) error {
	return doJSONRequest(ctx, c.httpClient, c.baseURL+path, method, c.apiKey, c.PlatformID(), body, response)
}

// doJSONRequest is the shared REST plumbing both venue adapters use:
// context-bound request construction, bearer auth, JSON body
// encode/decode, and status-code -> apiError mapping.
func doJSONRequest(ctx context.Context, client *http.Client, url, method, apiKey, platform string, body, response any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request body: %w", platform, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", platform, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", platform, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &apiError{Platform: platform, Status: resp.StatusCode, Body: string(raw)}
	}
	if resp.StatusCode == http.StatusNoContent || response == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return fmt.Errorf("%s: decoding response: %w", platform, err)
	}
	return nil
}
