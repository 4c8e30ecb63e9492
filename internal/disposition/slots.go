// Package disposition implements the per-market-account price-slot state
// machine (§4.6): a strategy proposes a target disposition per slot each
// cycle, and the executor diffs that target against the orders currently
// resting there, reserving balance and creating or cancelling orders as
// needed.
package disposition

import (
	"github.com/aristath/marketmaker/internal/domain"
)

// OrderRecord is one order resting in a slot, alongside the reservation it
// consumed.
type OrderRecord struct {
	Order         *domain.Order
	ReservationId int64
}

// CompositeOrder is the state of one price slot: at most a handful of
// orders (usually one) all quoting the same estimated price on one side.
type CompositeOrder struct {
	Side               domain.Side
	LastEstimatedPrice float64
	Orders             map[string]OrderRecord // keyed by ClientOrderId
}

// RemainingAmount sums the unfilled amount still resting across every
// order in the slot.
func (c *CompositeOrder) RemainingAmount() float64 {
	var total float64
	for _, rec := range c.Orders {
		total += rec.Order.Header.Amount - rec.Order.FilledAmount()
	}
	return total
}

// IsEmpty reports whether the slot holds no orders.
func (c *CompositeOrder) IsEmpty() bool { return len(c.Orders) == 0 }

// PriceSlot is one position in the ordered per-side slot list.
type PriceSlot struct {
	Index   int
	Current CompositeOrder
}

// OrdersStateBySide is the ordered list of price slots for one side of one
// market account.
type OrdersStateBySide struct {
	Slots []*PriceSlot
}

// OrdersState is the full per-market-account disposition state.
type OrdersState struct {
	BySide map[domain.Side]*OrdersStateBySide
}

// NewOrdersState constructs an empty state with n slots per side.
func NewOrdersState(slotsPerSide int) *OrdersState {
	mk := func(side domain.Side) *OrdersStateBySide {
		slots := make([]*PriceSlot, slotsPerSide)
		for i := range slots {
			slots[i] = &PriceSlot{Index: i, Current: CompositeOrder{Side: side, Orders: map[string]OrderRecord{}}}
		}
		return &OrdersStateBySide{Slots: slots}
	}
	return &OrdersState{BySide: map[domain.Side]*OrdersStateBySide{
		domain.Buy:  mk(domain.Buy),
		domain.Sell: mk(domain.Sell),
	}}
}

// TradeCycle is one slot's target disposition for this cycle, as computed
// by the strategy.
type TradeCycle struct {
	Side         domain.Side
	Price        float64
	Amount       float64
	Role         domain.Role
	StrategyName string
}

// Explained wraps a value with the reasoning that produced it, for the
// supplemented explanation log (§12): every per-slot decision records why
// it was made, not just what was decided.
type Explained[T any] struct {
	Value       T
	Explanation string
}

// TradingContext is the strategy's output for one cycle: a max amount and
// one (possibly absent) target trade cycle per slot, per side.
type TradingContext struct {
	MaxAmount map[domain.Side]float64
	Targets   map[domain.Side][]Explained[*TradeCycle] // nil Value means "no target for this slot"
}

// Strategy computes the per-cycle trading context and reacts to fills.
// Concrete strategies (e.g. a grid market-maker) implement this against a
// market's current order book snapshot and virtual balance.
type Strategy interface {
	Name() string
	ComputeTradingContext(market domain.MarketAccountId) TradingContext
	HandleOrderFill(slot *PriceSlot, fill domain.FillEvent)
}
