// Package demoex is one concrete REST+websocket adapter implementing the
// exchange.Client capability surface, illustrating how a venue-specific
// wire protocol gets normalized at the boundary. It speaks a synthetic
// protocol of its own invention, not any real exchange's API.
package demoex

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/exchange"
	"github.com/aristath/marketmaker/internal/utils"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Config holds the connection parameters for one exchange account.
type Config struct {
	Account   domain.ExchangeAccountId
	BaseURL   string
	WsURL     string
	ApiKey    string
	SecretKey string
}

// Client implements exchange.Client against demoex's REST and websocket
// endpoints.
type Client struct {
	cfg        Config
	log        zerolog.Logger
	httpClient *http.Client

	ws *socketSet

	onCreated   func(clientId, exchangeId string, source domain.EventSourceType)
	onCancelled func(clientId, exchangeId string, source domain.EventSourceType)
	onFilled    func(domain.FillEvent)
	onTrades    func(domain.TradesEvent)
	onOrderBook func(domain.OrderBookEvent)
}

// New constructs a demoex client for one exchange account. The websocket
// connection is established separately via Connect.
func New(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		log: log.With().Str("component", "demoex_client").Logger(),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			},
		},
	}
}

// FeatureDescriptor describes demoex's quirks to the driver: the open-orders
// strategy and the event sources accepted for create, cancel and fill
// notifications (§4.2).
func FeatureDescriptor() exchange.FeatureDescriptor {
	return exchange.FeatureDescriptor{
		OpenOrdersStrategy:       exchange.AllAtOnce,
		RestFillSource:           exchange.FillSourceMyTrades,
		SupportsClientIdLookup:   true,
		CreateAcceptedMeansDone:  false,
		CancelAcceptedMeansDone:  false,
		TolerateEmptyBody:        false,
		AllowedCreateEventSource: domain.SourceWebSocket,
		AllowedCancelEventSource: domain.SourceWebSocket,
		AllowedFillEventSource:   domain.SourceWebSocket,
	}
}

// sign computes the request signature: HMAC-SHA256 over method+path+body+
// timestamp, keyed by the account's secret. Demoex's own invented scheme,
// patterned after the payload+timestamp signing idiom common to REST
// trading APIs.
func sign(secret, method, path string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) signedRequest(method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Demoex-Key", c.cfg.ApiKey)
	req.Header.Set("X-Demoex-Timestamp", ts)
	req.Header.Set("X-Demoex-Sign", sign(c.cfg.SecretKey, method, path, body, ts))
	return req, nil
}

func (c *Client) do(method, path string, body []byte, out interface{}) *exchange.Error {
	timer := utils.NewTimer("demoex."+method+" "+path, c.log)
	defer timer.Stop()

	req, err := c.signedRequest(method, path, body)
	if err != nil {
		return exchange.Wrap(exchange.SendError, "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exchange.Wrap(exchange.SendError, "send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.Wrap(exchange.ParsingError, "read response body", err)
	}

	if resp.StatusCode >= 400 {
		kind := exchange.KindFromHTTPStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound {
			kind = exchange.OrderNotFound
		}
		return exchange.NewError(kind, fmt.Sprintf("demoex returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	if len(respBody) == 0 {
		if out == nil {
			return nil
		}
		return exchange.NewError(exchange.ParsingError, "empty response body")
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return exchange.Wrap(exchange.ParsingError, "decode response", err)
		}
	}
	return nil
}

type createOrderRequest struct {
	ClientOrderId string  `json:"client_order_id"`
	Pair          string  `json:"pair"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Price         float64 `json:"price,omitempty"`
}

type createOrderResponse struct {
	ExchangeOrderId string `json:"exchange_order_id"`
	Role            string `json:"role"`
}

// correlationBlob is demoex's own correlation payload, stashed on the
// order's opaque extension field (msgpack-encoded) at create time so a
// later diagnostic can recover which strategy and submission time
// produced a given exchange order without a side lookup table.
type correlationBlob struct {
	SentAt       time.Time `msgpack:"sent_at"`
	StrategyName string    `msgpack:"strategy_name"`
}

// decodeCorrelation unpacks the blob SetExtension stored, for diagnostics.
func decodeCorrelation(b []byte) (correlationBlob, error) {
	var blob correlationBlob
	if len(b) == 0 {
		return blob, nil
	}
	err := msgpack.Unmarshal(b, &blob)
	return blob, err
}

// CreateOrder submits order to the venue.
func (c *Client) CreateOrder(ctx context.Context, order *domain.Order) exchange.CreateOrderResult {
	h := order.Header
	body, _ := json.Marshal(createOrderRequest{
		ClientOrderId: h.ClientOrderId,
		Pair:          h.Pair.String(),
		Side:          sideString(h.Side),
		Type:          typeString(h.Type),
		Amount:        h.Amount,
		Price:         h.SourcePrice,
	})
	if blob, err := msgpack.Marshal(correlationBlob{SentAt: time.Now(), StrategyName: h.StrategyName}); err == nil {
		order.SetExtension(blob)
	}

	var resp createOrderResponse
	if err := c.do(http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return exchange.CreateOrderResult{Err: err}
	}
	return exchange.CreateOrderResult{ExchangeOrderId: resp.ExchangeOrderId, Role: roleFromString(resp.Role)}
}

// CancelOrder requests cancellation of a resting order.
func (c *Client) CancelOrder(ctx context.Context, cmd exchange.CancelOrderCmd) exchange.CancelOrderResult {
	path := fmt.Sprintf("/v1/orders/%s", cmd.ExchangeOrderId)
	if err := c.do(http.MethodDelete, path, nil, nil); err != nil {
		return exchange.CancelOrderResult{Err: err}
	}
	return exchange.CancelOrderResult{}
}

// CancelAll cancels every open order on pair.
func (c *Client) CancelAll(ctx context.Context, pair domain.CurrencyPair) *exchange.Error {
	path := fmt.Sprintf("/v1/orders?pair=%s", pair.String())
	return c.do(http.MethodDelete, path, nil, nil)
}

type orderInfoWire struct {
	Pair             string  `json:"pair"`
	ExchangeOrderId  string  `json:"exchange_order_id"`
	ClientOrderId    string  `json:"client_order_id"`
	Side             string  `json:"side"`
	Status           string  `json:"status"`
	Price            float64 `json:"price"`
	Amount           float64 `json:"amount"`
	AverageFillPrice float64 `json:"average_fill_price"`
	FilledAmount     float64 `json:"filled_amount"`
}

func (w orderInfoWire) toDomain() domain.OrderInfo {
	pair, _ := domain.InternCurrencyPair(w.Pair)
	return domain.OrderInfo{
		Pair:             pair,
		ExchangeOrderId:  w.ExchangeOrderId,
		ClientOrderId:    w.ClientOrderId,
		Side:             sideFromString(w.Side),
		Status:           statusFromString(w.Status),
		Price:            w.Price,
		Amount:           w.Amount,
		AverageFillPrice: w.AverageFillPrice,
		FilledAmount:     w.FilledAmount,
	}
}

// GetOpenOrders lists every resting order across all pairs (demoex
// supports AllAtOnce).
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.OrderInfo, *exchange.Error) {
	var wire []orderInfoWire
	if err := c.do(http.MethodGet, "/v1/orders/open", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.OrderInfo, len(wire))
	for i, w := range wire {
		out[i] = w.toDomain()
	}
	return out, nil
}

// GetOpenOrdersByCurrencyPair is unused for demoex (AllAtOnce strategy)
// but present to satisfy the capability surface.
func (c *Client) GetOpenOrdersByCurrencyPair(ctx context.Context, pair domain.CurrencyPair) ([]domain.OrderInfo, *exchange.Error) {
	var wire []orderInfoWire
	path := fmt.Sprintf("/v1/orders/open?pair=%s", pair.String())
	if err := c.do(http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.OrderInfo, len(wire))
	for i, w := range wire {
		out[i] = w.toDomain()
	}
	return out, nil
}

// GetOrderInfo fetches the current state of a single order by exchange id.
func (c *Client) GetOrderInfo(ctx context.Context, cmd exchange.CancelOrderCmd) (domain.OrderInfo, *exchange.Error) {
	var wire orderInfoWire
	path := fmt.Sprintf("/v1/orders/%s", cmd.ExchangeOrderId)
	if err := c.do(http.MethodGet, path, nil, &wire); err != nil {
		return domain.OrderInfo{}, err
	}
	return wire.toDomain(), nil
}

type balanceWire struct {
	Balances map[string]float64 `json:"balances"`
}

// GetBalance fetches spot balances only.
func (c *Client) GetBalance(ctx context.Context) (exchange.ExchangeBalancesAndPositions, *exchange.Error) {
	var wire balanceWire
	if err := c.do(http.MethodGet, "/v1/balance", nil, &wire); err != nil {
		return exchange.ExchangeBalancesAndPositions{}, err
	}
	return exchange.ExchangeBalancesAndPositions{Balances: internBalances(wire.Balances)}, nil
}

type positionWire struct {
	Pair   string  `json:"pair"`
	Side   string  `json:"side"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

// GetBalanceAndPositions fetches balances plus open derivative positions.
func (c *Client) GetBalanceAndPositions(ctx context.Context) (exchange.ExchangeBalancesAndPositions, *exchange.Error) {
	var wire struct {
		Balances  map[string]float64 `json:"balances"`
		Positions []positionWire     `json:"positions"`
	}
	if err := c.do(http.MethodGet, "/v1/balance?positions=true", nil, &wire); err != nil {
		return exchange.ExchangeBalancesAndPositions{}, err
	}
	positions := make([]exchange.Position, len(wire.Positions))
	for i, p := range wire.Positions {
		pair, _ := domain.InternCurrencyPair(p.Pair)
		positions[i] = exchange.Position{Pair: pair, Side: sideFromString(p.Side), Amount: p.Amount, Price: p.Price}
	}
	return exchange.ExchangeBalancesAndPositions{Balances: internBalances(wire.Balances), Positions: positions}, nil
}

// GetActivePositions fetches only the open derivative positions.
func (c *Client) GetActivePositions(ctx context.Context) ([]exchange.Position, *exchange.Error) {
	var wire []positionWire
	if err := c.do(http.MethodGet, "/v1/positions", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]exchange.Position, len(wire))
	for i, p := range wire {
		pair, _ := domain.InternCurrencyPair(p.Pair)
		out[i] = exchange.Position{Pair: pair, Side: sideFromString(p.Side), Amount: p.Amount, Price: p.Price}
	}
	return out, nil
}

// ClosePosition closes pos, optionally at a specific limit price (market
// close if price is nil).
func (c *Client) ClosePosition(ctx context.Context, pos exchange.Position, price *float64) *exchange.Error {
	body, _ := json.Marshal(struct {
		Pair  string   `json:"pair"`
		Price *float64 `json:"price,omitempty"`
	}{Pair: pos.Pair.String(), Price: price})
	return c.do(http.MethodPost, "/v1/positions/close", body, nil)
}

type tradeWire struct {
	TradeId       string  `json:"trade_id"`
	ClientOrderId string  `json:"client_order_id"`
	Pair          string  `json:"pair"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Amount        float64 `json:"amount"`
	Commission    float64 `json:"commission"`
	CommissionCcy string  `json:"commission_currency"`
	Time          int64   `json:"time"`
}

// GetMyTrades fetches historical trades for pair, optionally since a unix
// millisecond timestamp.
func (c *Client) GetMyTrades(ctx context.Context, pair domain.CurrencyPair, since *int64) ([]domain.OrderTrade, *exchange.Error) {
	path := fmt.Sprintf("/v1/trades?pair=%s", pair.String())
	if since != nil {
		path += fmt.Sprintf("&since=%d", *since)
	}
	var wire []tradeWire
	if err := c.do(http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.OrderTrade, len(wire))
	for i, w := range wire {
		p, _ := domain.InternCurrencyPair(w.Pair)
		out[i] = domain.OrderTrade{
			TradeId:       w.TradeId,
			ClientOrderId: w.ClientOrderId,
			Pair:          p,
			Side:          sideFromString(w.Side),
			Price:         w.Price,
			Amount:        w.Amount,
			Commission:    w.Commission,
			CommissionCcy: domain.InternCurrency(w.CommissionCcy),
			Time:          time.Unix(0, w.Time*int64(time.Millisecond)),
		}
	}
	return out, nil
}

type symbolWire struct {
	Pair             string  `json:"pair"`
	PricePrecision   int     `json:"price_precision"`
	AmountPrecision  int     `json:"amount_precision"`
	PriceTick        float64 `json:"price_tick"`
	AmountStep       float64 `json:"amount_step"`
	MinAmount        float64 `json:"min_amount"`
	MaxAmount        float64 `json:"max_amount"`
	IsDerivative     bool    `json:"is_derivative"`
	BalanceCurrency  string  `json:"balance_currency"`
	AmountMultiplier float64 `json:"amount_multiplier"`
}

// BuildAllSymbols fetches the venue's tradable symbol table.
func (c *Client) BuildAllSymbols(ctx context.Context) ([]domain.Symbol, *exchange.Error) {
	var wire []symbolWire
	if err := c.do(http.MethodGet, "/v1/symbols", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.Symbol, len(wire))
	for i, w := range wire {
		pair, _ := domain.InternCurrencyPair(w.Pair)
		out[i] = domain.Symbol{
			Pair:             pair,
			PricePrecision:   w.PricePrecision,
			AmountPrecision:  w.AmountPrecision,
			PriceTick:        w.PriceTick,
			AmountStep:       w.AmountStep,
			MinAmount:        w.MinAmount,
			MaxAmount:        w.MaxAmount,
			IsDerivative:     w.IsDerivative,
			BalanceCurrency:  domain.InternCurrency(w.BalanceCurrency),
			AmountMultiplier: w.AmountMultiplier,
		}
	}
	return out, nil
}

func internBalances(wire map[string]float64) map[domain.CurrencyId]float64 {
	out := make(map[domain.CurrencyId]float64, len(wire))
	for ccy, amount := range wire {
		out[domain.InternCurrency(ccy)] = amount
	}
	return out
}

func sideString(s domain.Side) string {
	if s == domain.Sell {
		return "sell"
	}
	return "buy"
}

func sideFromString(s string) domain.Side {
	if s == "sell" {
		return domain.Sell
	}
	return domain.Buy
}

func typeString(t domain.OrderType) string {
	if t == domain.Market {
		return "market"
	}
	return "limit"
}

func roleFromString(s string) domain.Role {
	if s == "taker" {
		return domain.Taker
	}
	return domain.Maker
}

func statusFromString(s string) domain.Status {
	switch s {
	case "created":
		return domain.Created
	case "canceling":
		return domain.Canceling
	case "canceled":
		return domain.Canceled
	case "completed":
		return domain.Completed
	case "failed_to_create":
		return domain.FailedToCreate
	case "failed_to_cancel":
		return domain.FailedToCancel
	default:
		return domain.Creating
	}
}
