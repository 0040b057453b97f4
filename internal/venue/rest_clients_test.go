package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrate/engine/internal/money"
)

func TestPolymarketClientGetOrderBookParsesLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book?token_id=tok1", r.URL.String())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(polymarketBookResponse{
			Bids: []polymarketBookLevel{{Price: "0.39", Size: "500"}},
			Asks: []polymarketBookLevel{{Price: "0.40", Size: "500"}},
		})
	}))
	defer srv.Close()

	c := NewPolymarketClient(srv.URL, "secret", ModeLive)
	book, err := c.GetOrderBook(context.Background(), "tok1")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Bids[0].Price.Equal(money.MustFromFloat(0.39)))
	assert.True(t, book.Asks[0].Price.Equal(money.MustFromFloat(0.40)))
}

func TestPolymarketClientSubmitOrderMapsFilledStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body polymarketOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok1", body.TokenID)
		_ = json.NewEncoder(w).Encode(polymarketOrderResponse{
			OrderID: "o1", Status: "matched", FilledPrice: "0.40", FilledSize: "500",
		})
	}))
	defer srv.Close()

	c := NewPolymarketClient(srv.URL, "secret", ModeLive)
	result, err := c.SubmitOrder(context.Background(), OrderRequest{
		ContractID: "tok1", Side: SideBuy, Price: money.MustFromFloat(0.40), Quantity: money.MustFromFloat(500),
	})
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, result.Status)
	assert.True(t, result.FilledPrice.Equal(money.MustFromFloat(0.40)))
}

func TestPolymarketClientGetHealthReportsDisconnectedOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c := NewPolymarketClient(srv.URL, "secret", ModeLive)
	health, err := c.GetHealth(context.Background())
	require.Error(t, err)
	assert.Equal(t, HealthDisconnected, health.Status)
}

func TestKalshiClientGetOrderBookConvertsCentsToDecimal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/EVT-A/orderbook", r.URL.Path)
		resp := kalshiOrderbookResponse{}
		resp.Orderbook.Yes = [][2]int64{{58, 500}}
		resp.Orderbook.No = [][2]int64{{40, 500}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewKalshiClient(srv.URL, "secret", ModeLive)
	book, err := c.GetOrderBook(context.Background(), "EVT-A")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(money.MustFromFloat(0.58)))
	assert.True(t, book.Asks[0].Price.Equal(money.MustFromFloat(0.40)))
}

func TestKalshiClientSubmitOrderRoundsPriceToCents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body kalshiOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(58), body.PriceCents)
		_ = json.NewEncoder(w).Encode(kalshiOrderResponse{
			OrderID: "k1", Status: "executed", FilledPriceCents: 58, FilledCount: 500,
		})
	}))
	defer srv.Close()

	c := NewKalshiClient(srv.URL, "secret", ModeLive)
	result, err := c.SubmitOrder(context.Background(), OrderRequest{
		ContractID: "EVT-A", Side: SideSell, Price: money.MustFromFloat(0.58), Quantity: money.MustFromFloat(500),
	})
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, result.Status)
}

func TestKalshiClientGetHealthDegradedWhenTradingInactive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(kalshiExchangeStatus{TradingActive: false})
	}))
	defer srv.Close()

	c := NewKalshiClient(srv.URL, "secret", ModeLive)
	health, err := c.GetHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthDegraded, health.Status)
}

func TestPolymarketClientGetFeeScheduleConvertsBpsExactly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(polymarketFeeResponse{TakerFeeBps: 150, MakerFeeBps: 50})
	}))
	defer srv.Close()

	c := NewPolymarketClient(srv.URL, "secret", ModeLive)
	fees, err := c.GetFeeSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5", fees.TakerFeePercent.String())
	assert.Equal(t, "0.5", fees.MakerFeePercent.String())
}

func TestKalshiClientGetFeeScheduleConvertsBpsExactly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(kalshiFeeResponse{TakerFeeBps: 70, MakerFeeBps: 0})
	}))
	defer srv.Close()

	c := NewKalshiClient(srv.URL, "secret", ModeLive)
	fees, err := c.GetFeeSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.7", fees.TakerFeePercent.String())
	assert.Equal(t, "0", fees.MakerFeePercent.String())
}
