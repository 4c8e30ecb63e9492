package domain

import (
	"fmt"
	"sync"
	"time"
)

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderType is the kind of order.
type OrderType int

const (
	Limit OrderType = iota
	Market
	Liquidation
	ClosePosition
)

// ExecutionType distinguishes maker-only, taker-only, or unconstrained
// placement, mirrored on the header for adapters that need it at
// create_order time.
type ExecutionType int

const (
	ExecutionNormal ExecutionType = iota
	ExecutionMakerOnly
	ExecutionTakerOnly
)

// Role is whether an order/fill acted as maker or taker.
type Role int

const (
	RoleUnknown Role = iota
	Maker
	Taker
)

// Status is the mutable lifecycle state of an order.
type Status int

const (
	Creating Status = iota
	Created
	Canceling
	Canceled
	Completed
	FailedToCreate
	FailedToCancel
)

func (s Status) String() string {
	switch s {
	case Creating:
		return "creating"
	case Created:
		return "created"
	case Canceling:
		return "canceling"
	case Canceled:
		return "canceled"
	case Completed:
		return "completed"
	case FailedToCreate:
		return "failed_to_create"
	case FailedToCancel:
		return "failed_to_cancel"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a sticky terminal status: no further
// transition is permitted once reached.
func (s Status) Terminal() bool {
	switch s {
	case Canceled, Completed, FailedToCreate, FailedToCancel:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the one-shot status graph from §8: Creating →
// {Created, FailedToCreate}; Created → {Canceling, Completed}; Canceling →
// {Canceled, Completed, FailedToCancel}.
var validTransitions = map[Status]map[Status]bool{
	Creating:  {Created: true, FailedToCreate: true},
	Created:   {Canceling: true, Completed: true},
	Canceling: {Canceled: true, Completed: true, FailedToCancel: true},
}

// EventSourceType is the provenance tag on an observed state change, used
// for cross-transport deduplication.
type EventSourceType int

const (
	SourceRest EventSourceType = iota
	SourceRestFallback
	SourceWebSocket
	SourceRpc
)

// FillType distinguishes a normal user trade from system-driven fills.
type FillType int

const (
	FillUserTrade FillType = iota
	FillLiquidation
	FillFunding
	FillClosePosition
)

// OrderHeader is the immutable identity and intent of an order. Safe for
// concurrent read without synchronization once constructed.
type OrderHeader struct {
	ClientOrderId   string
	CreationTime    time.Time
	Account         ExchangeAccountId
	Pair            CurrencyPair
	Type            OrderType
	Side            Side
	Amount          float64
	Execution       ExecutionType
	ReservationId   int64
	StrategyName    string
	SourcePrice     float64 // zero for Market orders
	AllowedCreate   EventSourceType
	AllowedCancel   EventSourceType
	AllowedFill     EventSourceType
}

// Validate checks the header invariants required before create().
func (h *OrderHeader) Validate() error {
	if h.Amount <= 0 {
		return fmt.Errorf("order amount must be positive, got %v", h.Amount)
	}
	if h.Type == Limit && h.SourcePrice <= 0 {
		return fmt.Errorf("limit order requires a positive source price")
	}
	if h.ClientOrderId == "" {
		return fmt.Errorf("order requires a client order id")
	}
	return nil
}

// StatusChange records one transition with its timestamp.
type StatusChange struct {
	Status Status
	At     time.Time
}

// Order is the shared mutable order state referenced from the order pool.
// The header is immutable and safe to read without the lock; every other
// field requires holding mu.
type Order struct {
	Header OrderHeader

	mu              sync.RWMutex
	status          Status
	exchangeOrderId string
	fills           []OrderFill
	filledAmount    float64
	history         []StatusChange
	role            Role
	extension       []byte // opaque venue-specific correlation blob (msgpack-encoded)
}

// NewOrder constructs a fresh order in the Creating state.
func NewOrder(header OrderHeader) *Order {
	o := &Order{Header: header, status: Creating}
	o.recordTransition(Creating)
	return o
}

func (o *Order) recordTransition(s Status) {
	o.history = append(o.history, StatusChange{Status: s, At: time.Now()})
}

// Status returns the current lifecycle status.
func (o *Order) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// ExchangeOrderId returns the exchange-assigned id, or "" if not yet bound.
func (o *Order) ExchangeOrderId() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.exchangeOrderId
}

// FilledAmount returns the cumulative filled amount.
func (o *Order) FilledAmount() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.filledAmount
}

// Fills returns a copy of the fill list.
func (o *Order) Fills() []OrderFill {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]OrderFill, len(o.fills))
	copy(out, o.fills)
	return out
}

// History returns a copy of the status-change history.
func (o *Order) History() []StatusChange {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]StatusChange, len(o.history))
	copy(out, o.history)
	return out
}

// transition applies a status change if legal, returning false (no error)
// if the order is already terminal or the transition is not in the graph —
// callers treat that as "someone else already finished this order".
func (o *Order) transition(to Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Terminal() {
		return false
	}
	allowed := validTransitions[o.status]
	if !allowed[to] {
		return false
	}
	o.status = to
	o.recordTransition(to)
	return true
}

// BindExchangeOrderId sets the exchange id exactly once; later calls with a
// different id are ignored (first writer wins, matching the one-shot
// creation race in §4.1).
func (o *Order) BindExchangeOrderId(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.exchangeOrderId == "" {
		o.exchangeOrderId = id
	}
}

// MarkCreated transitions Creating -> Created and binds the exchange id.
func (o *Order) MarkCreated(exchangeOrderId string, role Role) bool {
	o.BindExchangeOrderId(exchangeOrderId)
	o.mu.Lock()
	if role != RoleUnknown {
		o.role = role
	}
	o.mu.Unlock()
	return o.transition(Created)
}

// MarkFailedToCreate transitions Creating -> FailedToCreate.
func (o *Order) MarkFailedToCreate() bool { return o.transition(FailedToCreate) }

// MarkCanceling transitions Created -> Canceling. No-op (returns false) if
// already Canceling/Canceled/Completed.
func (o *Order) MarkCanceling() bool {
	o.mu.Lock()
	if o.status == Canceling {
		o.mu.Unlock()
		return false
	}
	o.mu.Unlock()
	return o.transition(Canceling)
}

// MarkCanceled finalizes Canceling -> Canceled.
func (o *Order) MarkCanceled() bool { return o.transition(Canceled) }

// MarkFailedToCancel finalizes Canceling -> FailedToCancel.
func (o *Order) MarkFailedToCancel() bool { return o.transition(FailedToCancel) }

// ApplyFill appends a fill, updates cumulative filled amount, and
// transitions to Completed if the order is now fully filled or the fill
// type is a terminal special kind (Liquidation/ClosePosition). Returns the
// updated cumulative amount and whether this call made the order terminal.
func (o *Order) ApplyFill(f OrderFill) (cumulative float64, becameTerminal bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.fills = append(o.fills, f)
	o.filledAmount += f.Amount
	if o.filledAmount > o.Header.Amount {
		o.filledAmount = o.Header.Amount
	}
	cumulative = o.filledAmount

	if o.status.Terminal() {
		return cumulative, false
	}

	complete := cumulative >= o.Header.Amount || f.Type == FillLiquidation || f.Type == FillClosePosition
	if !complete {
		return cumulative, false
	}
	allowed := validTransitions[o.status]
	if !allowed[Completed] {
		return cumulative, false
	}
	o.status = Completed
	o.recordTransition(Completed)
	return cumulative, true
}

// HasFill reports whether a fill with the given trade id was already
// recorded, for REST/websocket duplicate-delivery rejection.
func (o *Order) HasFill(tradeId string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, f := range o.fills {
		if f.TradeId == tradeId {
			return true
		}
	}
	return false
}

// Extension returns the opaque venue-specific correlation blob.
func (o *Order) Extension() []byte {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.extension
}

// SetExtension stores a venue-specific correlation blob (expected to be
// msgpack-encoded by the adapter that owns its shape).
func (o *Order) SetExtension(b []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extension = b
}
