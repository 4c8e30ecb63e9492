package exchange

import (
	"context"

	"github.com/aristath/marketmaker/internal/domain"
)

// CreateOrderResult is the outcome of a create_order call: either a bound
// exchange order id or an Error.
type CreateOrderResult struct {
	ExchangeOrderId string
	Role            domain.Role
	Err             *Error
}

// CancelOrderResult is the outcome of a cancel_order call.
type CancelOrderResult struct {
	Err *Error
}

// CancelOrderCmd identifies the order to cancel, by whichever id the venue
// accepts.
type CancelOrderCmd struct {
	ClientOrderId   string
	ExchangeOrderId string
	Pair            domain.CurrencyPair
}

// ExchangeBalancesAndPositions is the normalized response of
// get_balance/get_balance_and_positions.
type ExchangeBalancesAndPositions struct {
	Balances  map[domain.CurrencyId]float64
	Positions []Position
}

// Position is one open derivative position.
type Position struct {
	Pair   domain.CurrencyPair
	Side   domain.Side
	Amount float64
	Price  float64
}

// WebSocketRole distinguishes the main and an optional secondary channel a
// venue may expose (§4.2).
type WebSocketRole int

const (
	Main WebSocketRole = iota
	Secondary
)

// Client is the closed capability surface every venue adapter implements
// (§4.2). The driver treats every adapter uniformly through this
// interface; adapter-specific correlation state travels through each
// domain.Order's opaque Extension blob instead of a wider interface.
type Client interface {
	CreateOrder(ctx context.Context, order *domain.Order) CreateOrderResult
	CancelOrder(ctx context.Context, cmd CancelOrderCmd) CancelOrderResult
	CancelAll(ctx context.Context, pair domain.CurrencyPair) *Error

	GetOpenOrders(ctx context.Context) ([]domain.OrderInfo, *Error)
	GetOpenOrdersByCurrencyPair(ctx context.Context, pair domain.CurrencyPair) ([]domain.OrderInfo, *Error)
	GetOrderInfo(ctx context.Context, cmd CancelOrderCmd) (domain.OrderInfo, *Error)

	GetBalance(ctx context.Context) (ExchangeBalancesAndPositions, *Error)
	GetBalanceAndPositions(ctx context.Context) (ExchangeBalancesAndPositions, *Error)
	GetActivePositions(ctx context.Context) ([]Position, *Error)
	ClosePosition(ctx context.Context, pos Position, price *float64) *Error

	GetMyTrades(ctx context.Context, pair domain.CurrencyPair, since *int64) ([]domain.OrderTrade, *Error)
	BuildAllSymbols(ctx context.Context) ([]domain.Symbol, *Error)

	// Websocket support.
	CreateWsUrl(role WebSocketRole) (string, bool)
	Connect(ctx context.Context) error
	Disconnect()

	SetOnOrderCreated(func(clientId, exchangeId string, source domain.EventSourceType))
	SetOnOrderCancelled(func(clientId, exchangeId string, source domain.EventSourceType))
	SetOnOrderFilled(func(domain.FillEvent))
	SetOnTrades(func(domain.TradesEvent))
	SetOnOrderBook(func(domain.OrderBookEvent))
}

// OpenOrdersStrategy describes how a venue lists open orders. With AllAtOnce
// the driver calls GetOpenOrders; with PerCurrencyPair the driver's startup
// reconciliation returns an error and calls neither listing method.
type OpenOrdersStrategy int

const (
	AllAtOnce OpenOrdersStrategy = iota
	PerCurrencyPair
)

// RestFillSource names the REST call a venue offers for fills. The driver
// does not read it: it has no REST fill-polling fallback and learns of fills
// only through SetOnOrderFilled.
type RestFillSource int

const (
	FillSourceMyTrades RestFillSource = iota
	FillSourceGetOrderInfo
)

// FeatureDescriptor captures per-exchange variations the driver must
// account for (§4.2).
type FeatureDescriptor struct {
	OpenOrdersStrategy    OpenOrdersStrategy
	RestFillSource        RestFillSource
	SupportsClientIdLookup bool
	CreateAcceptedMeansDone bool
	CancelAcceptedMeansDone bool
	TolerateEmptyBody     bool

	AllowedCreateEventSource domain.EventSourceType
	AllowedCancelEventSource domain.EventSourceType
	AllowedFillEventSource   domain.EventSourceType
}
