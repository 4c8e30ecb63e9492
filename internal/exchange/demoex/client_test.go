package demoex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/exchange"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	c := New(Config{BaseURL: server.URL, ApiKey: "key1", SecretKey: "secret1"}, zerolog.Nop())
	return c, server
}

func TestCreateOrderSignsRequestAndParsesResponse(t *testing.T) {
	var gotSig, gotKey, gotTs string
	c, server := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Demoex-Sign")
		gotKey = r.Header.Get("X-Demoex-Key")
		gotTs = r.Header.Get("X-Demoex-Timestamp")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		_ = json.NewEncoder(w).Encode(createOrderResponse{ExchangeOrderId: "ex1", Role: "maker"})
	})
	defer server.Close()

	pair, err := domain.InternCurrencyPair("BTC/USDT")
	require.NoError(t, err)
	order := domain.NewOrder(domain.OrderHeader{ClientOrderId: "c1", Pair: pair, Side: domain.Buy, Type: domain.Limit, Amount: 1, SourcePrice: 100})

	result := c.CreateOrder(context.Background(), order)
	require.Nil(t, result.Err)
	assert.Equal(t, "ex1", result.ExchangeOrderId)
	assert.Equal(t, domain.Maker, result.Role)
	assert.NotEmpty(t, gotSig)
	assert.Equal(t, "key1", gotKey)
	assert.NotEmpty(t, gotTs)

	blob, err := decodeCorrelation(order.Extension())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), blob.SentAt, time.Minute)
}

func TestCreateOrderSurfacesExchangeError(t *testing.T) {
	c, server := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid price"}`))
	})
	defer server.Close()

	pair, _ := domain.InternCurrencyPair("BTC/USDT")
	order := domain.NewOrder(domain.OrderHeader{ClientOrderId: "c1", Pair: pair, Side: domain.Buy, Type: domain.Limit, Amount: 1, SourcePrice: 100})

	result := c.CreateOrder(context.Background(), order)
	require.NotNil(t, result.Err)
}

func TestCancelOrderNotFoundMapsToOrderNotFoundKind(t *testing.T) {
	c, server := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	result := c.CancelOrder(context.Background(), exchange.CancelOrderCmd{ClientOrderId: "c1", ExchangeOrderId: "ex1"})
	require.NotNil(t, result.Err)
	assert.Equal(t, exchange.OrderNotFound, result.Err.Kind)
}

func TestGetOpenOrdersParsesList(t *testing.T) {
	c, server := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]orderInfoWire{
			{Pair: "BTC/USDT", ExchangeOrderId: "ex1", ClientOrderId: "c1", Side: "buy", Status: "created", Price: 100, Amount: 1},
		})
	})
	defer server.Close()

	orders, err := c.GetOpenOrders(context.Background())
	require.Nil(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ex1", orders[0].ExchangeOrderId)
	assert.Equal(t, domain.Created, orders[0].Status)
}

func TestDispatchOrderFilledInvokesCallback(t *testing.T) {
	c, server := testClient(t, func(w http.ResponseWriter, r *http.Request) {})
	defer server.Close()

	var captured domain.FillEvent
	c.SetOnOrderFilled(func(f domain.FillEvent) { captured = f })

	ss := &socketSet{client: c, log: zerolog.Nop(), sockets: map[exchange.WebSocketRole]*socket{}}
	frame, _ := json.Marshal(wireFrame{Channel: "order_filled", Payload: mustJSON(t, map[string]interface{}{
		"trade_id": "t1", "client_order_id": "c1", "exchange_order_id": "ex1",
		"price": 100.0, "amount": 0.5, "role": "taker",
	})})
	require.NoError(t, ss.dispatch(frame))

	assert.Equal(t, "t1", captured.TradeId)
	assert.Equal(t, domain.Taker, captured.Role)
	assert.InDelta(t, 0.5, captured.Amount, 1e-9)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestBackoffCapsAtMax(t *testing.T) {
	d := backoff(20)
	assert.LessOrEqual(t, d, maxReconnectDelay)
	assert.Greater(t, backoff(1), time.Duration(0))
}
