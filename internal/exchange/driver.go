package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/orderpool"
	"github.com/aristath/marketmaker/internal/timeout"
	"github.com/rs/zerolog"
)

// Driver sits above one Client and owns the create/cancel/reconcile flow
// for one exchange account (§4.1, §4.2): it dispatches commands subject to
// the timeout manager's admission control, reconciles fills that arrive
// out of order with order creation, and replays buffered fills once an
// order binds its exchange id.
type Driver struct {
	log     zerolog.Logger
	account domain.ExchangeAccountId
	client  Client
	feature FeatureDescriptor

	pool     *orderpool.Pool
	buffered *orderpool.BufferedFills
	timeouts *timeout.Manager

	onOrderEvent func(domain.OrderEvent)
	onFill       func(domain.FillEvent, *domain.Order)
}

// New constructs a Driver wired to client for account, using pool for order
// state, buffered for out-of-order fill reconciliation and timeouts for
// per-account admission control.
func New(log zerolog.Logger, account domain.ExchangeAccountId, client Client, feature FeatureDescriptor, pool *orderpool.Pool, buffered *orderpool.BufferedFills, timeouts *timeout.Manager) *Driver {
	d := &Driver{
		log:      log.With().Str("component", "exchange_driver").Int("account", account.AccountIndex).Logger(),
		account:  account,
		client:   client,
		feature:  feature,
		pool:     pool,
		buffered: buffered,
		timeouts: timeouts,
	}
	client.SetOnOrderCreated(d.raiseOrderCreated)
	client.SetOnOrderCancelled(d.raiseOrderCancelled)
	client.SetOnOrderFilled(d.handleOrderFilled)
	return d
}

// OnOrderEvent registers the callback invoked whenever an order transitions.
func (d *Driver) OnOrderEvent(fn func(domain.OrderEvent)) { d.onOrderEvent = fn }

// OnFill registers the callback invoked whenever a fill is applied to a
// bound order.
func (d *Driver) OnFill(fn func(domain.FillEvent, *domain.Order)) { d.onFill = fn }

// CreateOrder admits the request against the timeout manager and dispatches
// it to the client, inserting the order into the pool beforehand so fills
// racing the REST response still have somewhere to land once bound.
func (d *Driver) CreateOrder(ctx context.Context, header domain.OrderHeader) (*domain.Order, *Error) {
	if err := header.Validate(); err != nil {
		return nil, Wrap(InvalidOrder, "invalid order header", err)
	}
	if !d.timeouts.TryReserveInstant(d.account, "create_order") {
		return nil, NewError(RateLimit, "create_order admission window exhausted")
	}

	header.AllowedCreate = d.feature.AllowedCreateEventSource
	header.AllowedCancel = d.feature.AllowedCancelEventSource
	header.AllowedFill = d.feature.AllowedFillEventSource
	order := d.pool.AddSnapshotInitial(domain.NewOrder(header))
	result := d.client.CreateOrder(ctx, order)
	if result.Err != nil {
		if order.MarkFailedToCreate() {
			d.pool.MarkFinishedIfTerminal(order)
			d.emitOrder(domain.OrderCreatedEvent, order)
		}
		return order, result.Err
	}

	d.pool.BindExchangeId(order, result.ExchangeOrderId)
	if order.MarkCreated(result.ExchangeOrderId, result.Role) {
		d.replayBuffered(order)
		d.emitOrder(domain.OrderCreatedEvent, order)
	}
	return order, nil
}

// CancelOrder admits and dispatches a cancel request for an already-bound
// order (§9: "cancellation is one-shot" — the order's own transition guard
// enforces this even if the caller invokes CancelOrder twice).
func (d *Driver) CancelOrder(ctx context.Context, order *domain.Order) *Error {
	if order.Status().Terminal() {
		return NewError(OrderCompleted, "order already finished")
	}
	if !d.timeouts.TryReserveInstant(d.account, "cancel_order") {
		return NewError(RateLimit, "cancel_order admission window exhausted")
	}
	if !order.MarkCanceling() {
		return nil // already canceling, not an error
	}

	result := d.client.CancelOrder(ctx, CancelOrderCmd{
		ClientOrderId:   order.Header.ClientOrderId,
		ExchangeOrderId: order.ExchangeOrderId(),
		Pair:            order.Header.Pair,
	})
	if result.Err != nil {
		switch result.Err.Kind {
		case OrderCompleted:
			// The venue filled it before the cancel landed; the fill
			// notification (websocket or reconciliation) will complete it.
			return nil
		case OrderNotFound:
			// The venue no longer knows this order (scenario: a market fill
			// raced our cancel and the order dropped off the open-orders
			// list before any fill notification reached us). We have no
			// fill evidence, so the cancel wins: finalize as Canceled.
			if order.MarkCanceled() {
				d.pool.MarkFinishedIfTerminal(order)
				d.emitOrder(domain.OrderCancelledEvent, order)
			}
			return nil
		}
		if order.MarkFailedToCancel() {
			d.pool.MarkFinishedIfTerminal(order)
			d.emitOrder(domain.OrderCancelledEvent, order)
		}
		return result.Err
	}
	return nil
}

// WaitCancelOrder blocks, subject to ctx, until order reaches a terminal
// state — used by callers that must know the cancel has actually landed
// before proceeding (e.g. before freeing a reservation).
func (d *Driver) WaitCancelOrder(ctx context.Context, order *domain.Order) *Error {
	if order.Status().Terminal() {
		return nil
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Wrap(ServiceUnavailable, "wait_cancel_order timed out", ctx.Err())
		case <-ticker.C:
			if order.Status().Terminal() {
				return nil
			}
		}
	}
}

// raiseOrderCreated is invoked by the client when the venue confirms
// creation out of band (e.g. over the websocket, ahead of or instead of
// the REST response).
func (d *Driver) raiseOrderCreated(clientId, exchangeId string, source domain.EventSourceType) {
	order, ok := d.pool.ByClientId(clientId)
	if !ok {
		d.log.Warn().Str("client_order_id", clientId).Msg("order_created for unknown client id")
		return
	}
	if order.Header.AllowedCreate != source {
		return
	}
	d.pool.BindExchangeId(order, exchangeId)
	if order.MarkCreated(exchangeId, domain.RoleUnknown) {
		d.replayBuffered(order)
		d.emitOrder(domain.OrderCreatedEvent, order)
	}
}

// raiseOrderCancelled is invoked by the client when the venue confirms a
// cancellation out of band.
func (d *Driver) raiseOrderCancelled(clientId, exchangeId string, source domain.EventSourceType) {
	order, ok := d.resolveOrder(clientId, exchangeId)
	if !ok {
		d.log.Warn().Str("exchange_order_id", exchangeId).Msg("order_cancelled for unknown order")
		return
	}
	if order.Header.AllowedCancel != source {
		return
	}
	order.MarkCanceled()
	d.pool.MarkFinishedIfTerminal(order)
	d.emitOrder(domain.OrderCancelledEvent, order)
}

// handleOrderFilled applies a fill reported by the client. If the order
// hasn't bound its exchange id yet (the REST create response is still in
// flight while a websocket fill already arrived), the fill is buffered for
// replay once CreateOrder or raiseOrderCreated binds it (§12).
func (d *Driver) handleOrderFilled(fill domain.FillEvent) {
	order, ok := d.pool.ByExchangeId(fill.ExchangeOrderId)
	if !ok {
		d.buffered.Buffer(fill.ExchangeOrderId, fill)
		return
	}
	d.applyFill(order, fill)
}

func (d *Driver) applyFill(order *domain.Order, fill domain.FillEvent) {
	if order.Header.AllowedFill != fill.Source {
		return
	}
	if order.HasFill(fill.TradeId) {
		return // dedup: this trade id was already applied to this order
	}
	amount := fill.Amount
	if fill.AmountKind == domain.FillTotal {
		amount = fill.Amount - order.FilledAmount()
		if amount <= 0 {
			return // this cumulative total was already reflected
		}
	}
	_, becameTerminal := order.ApplyFill(domain.OrderFill{
		TradeId:            fill.TradeId,
		ReceiveTime:        fill.ReceiveTime,
		Price:              fill.Price,
		Amount:             amount,
		Role:               fill.Role,
		CommissionCurrency: fill.CommissionCurrency,
		CommissionAmount:   fill.CommissionAmount,
		Source:             fill.Source,
		Type:               fill.Type,
	})
	if becameTerminal {
		d.pool.MarkFinishedIfTerminal(order)
	}
	if d.onFill != nil {
		d.onFill(fill, order)
	}
	d.emitOrder(domain.OrderFilledEvent, order)
	if becameTerminal {
		d.emitOrder(domain.OrderCompletedEvent, order)
	}
}

// replayBuffered drains any fills that arrived before order was bound.
func (d *Driver) replayBuffered(order *domain.Order) {
	for _, fill := range d.buffered.TakeAll(order.ExchangeOrderId()) {
		d.applyFill(order, fill)
	}
}

func (d *Driver) resolveOrder(clientId, exchangeId string) (*domain.Order, bool) {
	if exchangeId != "" {
		if o, ok := d.pool.ByExchangeId(exchangeId); ok {
			return o, true
		}
	}
	if clientId != "" {
		return d.pool.ByClientId(clientId)
	}
	return nil, false
}

func (d *Driver) emitOrder(kind domain.OrderEventKind, order *domain.Order) {
	if d.onOrderEvent == nil {
		return
	}
	d.onOrderEvent(domain.OrderEvent{
		Kind:            kind,
		ClientOrderId:   order.Header.ClientOrderId,
		ExchangeOrderId: order.ExchangeOrderId(),
		Order:           order,
	})
}

// ReconcileOnStartup cancels every order the venue still reports open that
// this process does not track not-finished, matching the startup
// reconciliation flow in §4.2.
func (d *Driver) ReconcileOnStartup(ctx context.Context) *Error {
	open, err := d.fetchOpenOrders(ctx)
	if err != nil {
		return err
	}
	known := map[string]bool{}
	for _, o := range d.pool.NotFinished() {
		if id := o.ExchangeOrderId(); id != "" {
			known[id] = true
		}
	}
	for _, info := range open {
		if known[info.ExchangeOrderId] {
			continue
		}
		if cancelErr := d.client.CancelOrder(ctx, CancelOrderCmd{ExchangeOrderId: info.ExchangeOrderId, Pair: info.Pair}); cancelErr.Err != nil {
			d.log.Warn().Str("exchange_order_id", info.ExchangeOrderId).Err(cancelErr.Err).Msg("failed to cancel stale order on startup reconciliation")
		}
	}
	return nil
}

func (d *Driver) fetchOpenOrders(ctx context.Context) ([]domain.OrderInfo, *Error) {
	if d.feature.OpenOrdersStrategy == PerCurrencyPair {
		return nil, NewError(Unknown, fmt.Sprintf("driver for account %d uses per-pair open order polling, which startup reconciliation does not support", d.account.AccountIndex))
	}
	return d.client.GetOpenOrders(ctx)
}
