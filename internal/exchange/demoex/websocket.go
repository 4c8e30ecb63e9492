package demoex

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/exchange"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout = 30 * time.Second
	writeWait   = 10 * time.Second

	baseReconnectDelay   = 2 * time.Second
	maxReconnectDelay    = 1 * time.Minute
	maxReconnectAttempts = 10
)

// socketSet owns the Main and optional Secondary websocket connections for
// one exchange account, reconnecting each independently with exponential
// backoff.
type socketSet struct {
	client *Client
	log    zerolog.Logger

	mu      sync.RWMutex
	sockets map[exchange.WebSocketRole]*socket
	stopped bool
}

type socket struct {
	role       exchange.WebSocketRole
	url        string
	httpClient *http.Client

	mu         sync.Mutex
	conn       *websocket.Conn
	cancelFunc context.CancelFunc
	connected  bool
}

// createHTTP1Client forces HTTP/1.1 for the websocket upgrade handshake,
// since some TLS terminators negotiate HTTP/2 via ALPN and break the
// Upgrade request otherwise.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// CreateWsUrl builds the websocket URL for role. Demoex exposes a single
// multiplexed channel for Main and none for Secondary.
func (c *Client) CreateWsUrl(role exchange.WebSocketRole) (string, bool) {
	if role == exchange.Main {
		return c.cfg.WsURL, true
	}
	return "", false
}

// Connect dials every supported role's websocket and starts its read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.ws = &socketSet{client: c, log: c.log, sockets: map[exchange.WebSocketRole]*socket{}}
	url, ok := c.CreateWsUrl(exchange.Main)
	if !ok {
		return fmt.Errorf("demoex: no main websocket url configured")
	}
	s := &socket{role: exchange.Main, url: url, httpClient: createHTTP1Client()}
	c.ws.mu.Lock()
	c.ws.sockets[exchange.Main] = s
	c.ws.mu.Unlock()

	if err := c.ws.dial(ctx, s); err != nil {
		c.log.Warn().Err(err).Msg("initial websocket connection failed, retrying in background")
		go c.ws.reconnectLoop(s)
		return nil
	}
	go c.ws.readLoop(s)
	return nil
}

// Disconnect tears down every open websocket connection.
func (c *Client) Disconnect() {
	if c.ws == nil {
		return
	}
	c.ws.mu.Lock()
	c.ws.stopped = true
	sockets := make([]*socket, 0, len(c.ws.sockets))
	for _, s := range c.ws.sockets {
		sockets = append(sockets, s)
	}
	c.ws.mu.Unlock()

	for _, s := range sockets {
		c.ws.close(s)
	}
}

func (ss *socketSet) dial(ctx context.Context, s *socket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPClient: s.httpClient})
	if err != nil {
		return fmt.Errorf("dial %s websocket: %w", s.role, err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancelFunc = connCancel
	s.connected = true

	auth := map[string]string{"api_key": ss.client.cfg.ApiKey}
	data, _ := json.Marshal([]interface{}{"auth", auth})
	writeCtx, writeCancel := context.WithTimeout(connCtx, writeWait)
	defer writeCancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "auth failed")
		s.conn = nil
		s.connected = false
		return fmt.Errorf("send auth frame: %w", err)
	}
	return nil
}

func (ss *socketSet) close(s *socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	if s.conn != nil {
		s.conn.Close(websocket.StatusNormalClosure, "")
		s.conn = nil
	}
	s.connected = false
}

func (ss *socketSet) readLoop(s *socket) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	ctx := context.Background()
	defer func() {
		ss.mu.RLock()
		stopped := ss.stopped
		ss.mu.RUnlock()
		if !stopped {
			go ss.reconnectLoop(s)
		}
	}()

	for {
		_, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				ss.log.Warn().Err(err).Int("role", int(s.role)).Msg("demoex websocket read error")
			}
			return
		}
		if err := ss.dispatch(message); err != nil {
			ss.log.Warn().Err(err).Msg("failed to dispatch demoex websocket frame")
		}
	}
}

func (ss *socketSet) reconnectLoop(s *socket) {
	attempt := 0
	for {
		ss.mu.RLock()
		stopped := ss.stopped
		ss.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := backoff(attempt)
		ss.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting demoex websocket")
		time.Sleep(delay)

		if err := ss.dial(context.Background(), s); err != nil {
			ss.log.Warn().Err(err).Int("attempt", attempt).Msg("demoex websocket reconnect failed")
			continue
		}
		go ss.readLoop(s)
		return
	}
}

func backoff(attempt int) time.Duration {
	d := float64(baseReconnectDelay) * math.Pow(2, float64(minInt(attempt, maxReconnectAttempts)-1))
	if d > float64(maxReconnectDelay) {
		d = float64(maxReconnectDelay)
	}
	return time.Duration(d)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// wireFrame is demoex's envelope: a JSON object with "channel" and
// "payload" fields.
type wireFrame struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func (ss *socketSet) dispatch(message []byte) error {
	var frame wireFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("parse frame: %w", err)
	}

	c := ss.client
	switch frame.Channel {
	case "order_created":
		var p struct {
			ClientOrderId   string `json:"client_order_id"`
			ExchangeOrderId string `json:"exchange_order_id"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return err
		}
		if c.onCreated != nil {
			c.onCreated(p.ClientOrderId, p.ExchangeOrderId, domain.SourceWebSocket)
		}
	case "order_cancelled":
		var p struct {
			ClientOrderId   string `json:"client_order_id"`
			ExchangeOrderId string `json:"exchange_order_id"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return err
		}
		if c.onCancelled != nil {
			c.onCancelled(p.ClientOrderId, p.ExchangeOrderId, domain.SourceWebSocket)
		}
	case "order_filled":
		var p struct {
			TradeId         string  `json:"trade_id"`
			ClientOrderId   string  `json:"client_order_id"`
			ExchangeOrderId string  `json:"exchange_order_id"`
			Price           float64 `json:"price"`
			Amount          float64 `json:"amount"`
			Cumulative      bool    `json:"cumulative"`
			Role            string  `json:"role"`
			CommissionCcy   string  `json:"commission_currency"`
			CommissionAmt   float64 `json:"commission_amount"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return err
		}
		kind := domain.FillIncremental
		if p.Cumulative {
			kind = domain.FillTotal
		}
		if c.onFilled != nil {
			c.onFilled(domain.FillEvent{
				TradeId:            p.TradeId,
				ClientOrderId:      p.ClientOrderId,
				ExchangeOrderId:    p.ExchangeOrderId,
				Price:              p.Price,
				AmountKind:         kind,
				Amount:             p.Amount,
				Role:               roleFromString(p.Role),
				CommissionCurrency: domain.InternCurrency(p.CommissionCcy),
				CommissionAmount:   p.CommissionAmt,
				Source:             domain.SourceWebSocket,
				ReceiveTime:        time.Now(),
			})
		}
	case "order_book":
		var p struct {
			Pair string             `json:"pair"`
			Kind string             `json:"kind"`
			Asks map[string]float64 `json:"asks"`
			Bids map[string]float64 `json:"bids"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return err
		}
		if c.onOrderBook != nil {
			pair, err := domain.InternCurrencyPair(p.Pair)
			if err != nil {
				return err
			}
			k := domain.Update
			if p.Kind == "snapshot" {
				k = domain.Snapshot
			}
			c.onOrderBook(domain.OrderBookEvent{
				MarketAccount: domain.MarketAccountId{Account: c.cfg.Account, Pair: pair},
				Kind:          k,
				Asks:          parseLevels(p.Asks),
				Bids:          parseLevels(p.Bids),
				CreationTime:  time.Now(),
			})
		}
	default:
		ss.log.Debug().Str("channel", frame.Channel).Msg("ignoring unrecognized demoex channel")
	}
	return nil
}

func parseLevels(wire map[string]float64) map[float64]float64 {
	out := make(map[float64]float64, len(wire))
	for k, v := range wire {
		var price float64
		fmt.Sscanf(k, "%f", &price)
		out[price] = v
	}
	return out
}

// SetOnOrderCreated registers the create-notification callback.
func (c *Client) SetOnOrderCreated(fn func(clientId, exchangeId string, source domain.EventSourceType)) {
	c.onCreated = fn
}

// SetOnOrderCancelled registers the cancel-notification callback.
func (c *Client) SetOnOrderCancelled(fn func(clientId, exchangeId string, source domain.EventSourceType)) {
	c.onCancelled = fn
}

// SetOnOrderFilled registers the fill-notification callback.
func (c *Client) SetOnOrderFilled(fn func(domain.FillEvent)) { c.onFilled = fn }

// SetOnTrades registers the out-of-band trades callback.
func (c *Client) SetOnTrades(fn func(domain.TradesEvent)) { c.onTrades = fn }

// SetOnOrderBook registers the order-book push callback.
func (c *Client) SetOnOrderBook(fn func(domain.OrderBookEvent)) { c.onOrderBook = fn }
