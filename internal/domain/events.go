package domain

import "time"

// OrderBookEventKind distinguishes a full snapshot from an incremental
// delta in an OrderBookEvent.
type OrderBookEventKind int

const (
	Snapshot OrderBookEventKind = iota
	Update
)

// OrderBookEvent is the adapter-normalized form of a venue's order book
// push, consumed by the local snapshot service (§4.3).
type OrderBookEvent struct {
	MarketAccount  MarketAccountId
	Kind           OrderBookEventKind
	Asks           map[float64]float64
	Bids           map[float64]float64
	CreationTime   time.Time
}

// OrderEventKind is the sub-type of OrderEvent carried on the broadcast
// bus — a created/cancelled notification or a fill.
type OrderEventKind int

const (
	OrderCreatedEvent OrderEventKind = iota
	OrderCancelledEvent
	OrderFilledEvent
	OrderCompletedEvent
)

// OrderEvent wraps an order-lifecycle notification for the broadcast bus.
type OrderEvent struct {
	Kind            OrderEventKind
	ClientOrderId   string
	ExchangeOrderId string
	Source          EventSourceType
	Order           *Order // nil for create/cancel notifications fired before binding
}

// BalanceUpdateEvent carries an authoritative exchange balance refresh.
type BalanceUpdateEvent struct {
	Account  ExchangeAccountId
	Balances map[CurrencyId]float64
}

// OrderTrade is one historical trade as returned by get_my_trades.
type OrderTrade struct {
	TradeId       string
	ClientOrderId string
	Pair          CurrencyPair
	Side          Side
	Price         float64
	Amount        float64
	Commission    float64
	CommissionCcy CurrencyId
	Time          time.Time
}

// TradesEvent carries a batch of trades observed out-of-band (e.g. a
// websocket public trade feed), distinct from this account's own fills.
type TradesEvent struct {
	Market MarketId
	Trades []OrderTrade
}

// LiquidationPriceEvent carries an updated liquidation price for a
// derivative position.
type LiquidationPriceEvent struct {
	MarketAccount MarketAccountId
	Price         float64
}

// ExchangeEventKind tags the variant carried by ExchangeEvent.
type ExchangeEventKind int

const (
	EventOrderBook ExchangeEventKind = iota
	EventOrder
	EventBalance
	EventLiquidationPrice
	EventTrades
)

// ExchangeEvent is the broadcast-bus envelope carrying exactly one of the
// typed payloads below, tagged by Kind.
type ExchangeEvent struct {
	Kind            ExchangeEventKind
	OrderBook       *OrderBookEvent
	Order           *OrderEvent
	Balance         *BalanceUpdateEvent
	LiquidationPrice *LiquidationPriceEvent
	Trades          *TradesEvent
}

// OrderInfo is the adapter-normalized view of a single order as reported by
// the exchange (get_order_info / get_open_orders).
type OrderInfo struct {
	Pair              CurrencyPair
	ExchangeOrderId   string
	ClientOrderId     string
	Side              Side
	Status            Status
	Price             float64
	Amount            float64
	AverageFillPrice  float64
	FilledAmount      float64
}

// Symbol is static per-market metadata: precisions, ticks, and whether the
// market is a derivative.
type Symbol struct {
	Pair              CurrencyPair
	PricePrecision    int
	AmountPrecision   int
	PriceTick         float64
	AmountStep        float64
	MinAmount         float64
	MaxAmount         float64
	IsDerivative      bool
	BalanceCurrency   CurrencyId
	AmountMultiplier  float64
}

// RoundPrice snaps price to the nearest valid tick for this symbol.
func (s Symbol) RoundPrice(price float64) float64 {
	if s.PriceTick <= 0 {
		return price
	}
	steps := roundHalfAwayFromZero(price / s.PriceTick)
	return steps * s.PriceTick
}

// RoundAmount snaps amount to the nearest valid step for this symbol.
func (s Symbol) RoundAmount(amount float64) float64 {
	if s.AmountStep <= 0 {
		return amount
	}
	steps := roundHalfAwayFromZero(amount / s.AmountStep)
	return steps * s.AmountStep
}

func roundHalfAwayFromZero(x float64) float64 {
	if x >= 0 {
		return float64(int64(x + 0.5))
	}
	return float64(int64(x - 0.5))
}
