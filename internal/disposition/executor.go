package disposition

import (
	"context"
	"time"

	"github.com/aristath/marketmaker/internal/balance"
	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/exchange"
	"github.com/aristath/marketmaker/internal/timeout"
	"github.com/rs/zerolog"
)

// defaultPriceMatchTolerance is the slack within which a resting order's
// price or amount is considered unchanged from the target (the "within
// tick/step" language in §4.6); matchesCurrent uses it only when the
// symbol's PriceTick or AmountStep is not set.
const defaultPriceMatchTolerance = 1e-9

// Executor runs the per-event cycle for one market account: diff the
// strategy's target disposition against the current slot state, and
// reserve/create/cancel orders to close the gap (§4.6).
type Executor struct {
	log      zerolog.Logger
	market   domain.MarketAccountId
	symbol   domain.Symbol
	strategy Strategy
	state    *OrdersState

	balances *balance.Manager
	driver   *exchange.Driver
	timeouts *timeout.Manager

	nextClientOrderId func() string
}

// NewExecutor constructs an Executor for one market account.
func NewExecutor(log zerolog.Logger, market domain.MarketAccountId, symbol domain.Symbol, strategy Strategy, slotsPerSide int, balances *balance.Manager, driver *exchange.Driver, timeouts *timeout.Manager, nextClientOrderId func() string) *Executor {
	return &Executor{
		log:               log.With().Str("component", "disposition_executor").Str("market", market.String()).Logger(),
		market:            market,
		symbol:            symbol,
		strategy:          strategy,
		state:             NewOrdersState(slotsPerSide),
		balances:          balances,
		driver:            driver,
		timeouts:          timeouts,
		nextClientOrderId: nextClientOrderId,
	}
}

// RunCycle computes the current trading context and reconciles every slot
// against it (step 1-2 of §4.6).
func (e *Executor) RunCycle(ctx context.Context) {
	tc := e.strategy.ComputeTradingContext(e.market)
	for _, side := range []domain.Side{domain.Buy, domain.Sell} {
		e.reconcileSide(ctx, side, tc)
	}
}

func (e *Executor) reconcileSide(ctx context.Context, side domain.Side, tc TradingContext) {
	bySide := e.state.BySide[side]
	targets := tc.Targets[side]
	maxAmount := tc.MaxAmount[side]

	var consumed float64
	// Cancellations take precedence within the cycle: run a first pass that
	// only cancels, then a second pass that only creates, so a slot whose
	// cancel just landed doesn't race its own create this same cycle.
	toCreate := make([]createJob, 0, len(bySide.Slots))

	for i, slot := range bySide.Slots {
		var target *TradeCycle
		if i < len(targets) {
			target = targets[i].Value
		}

		if slot.Current.IsEmpty() {
			if target == nil {
				continue
			}
			if consumed+target.Amount > maxAmount {
				e.log.Debug().Int("slot", i).Msg("skipping lower-priority slot: max_amount exceeded")
				continue
			}
			consumed += target.Amount
			toCreate = append(toCreate, createJob{index: i})
			continue
		}

		if target == nil {
			e.cancelSlot(ctx, slot)
			continue
		}

		consumed += target.Amount
		if e.matchesCurrent(slot, target) {
			continue
		}
		// Differ: pre-reserve admission for both the cancel and the
		// replacement create before sending the cancel, so a saturated
		// admission window is discovered before the slot is left
		// order-less rather than after the cancel already landed.
		group, admitted := e.timeouts.TryReserveGroup(e.market.Account, "create_order", 2)
		if !admitted {
			e.log.Debug().Int("slot", i).Msg("admission window exhausted for price replacement, skipping this cycle")
			continue
		}
		e.cancelSlot(ctx, slot)
		toCreate = append(toCreate, createJob{index: i, group: group})
	}

	for _, job := range toCreate {
		slot := bySide.Slots[job.index]
		if job.index >= len(targets) || targets[job.index].Value == nil {
			continue
		}
		e.createForSlot(ctx, slot, targets[job.index].Value, job.group)
	}
}

// createJob names a slot queued for the create pass, carrying the
// RequestGroupId pre-reserved by a price-replacement cancel, if any; a zero
// value means createForSlot must reserve its own single-slot admission.
type createJob struct {
	index int
	group timeout.RequestGroupId
}

func (e *Executor) matchesCurrent(slot *PriceSlot, target *TradeCycle) bool {
	tolerance := e.symbol.PriceTick
	if tolerance <= 0 {
		tolerance = defaultPriceMatchTolerance
	}
	for _, rec := range slot.Current.Orders {
		if absDiff(rec.Order.Header.SourcePrice, target.Price) > tolerance {
			return false
		}
		if absDiff(rec.Order.Header.Amount, target.Amount) > e.amountTolerance() {
			return false
		}
	}
	return true
}

func (e *Executor) amountTolerance() float64 {
	if e.symbol.AmountStep > 0 {
		return e.symbol.AmountStep
	}
	return defaultPriceMatchTolerance
}

func (e *Executor) cancelSlot(ctx context.Context, slot *PriceSlot) {
	for id, rec := range slot.Current.Orders {
		if err := e.driver.CancelOrder(ctx, rec.Order); err != nil {
			e.log.Warn().Err(err).Str("client_order_id", id).Msg("failed to cancel slot order")
			continue
		}
		e.balances.Unreserve("default", balance.ReservationId(rec.ReservationId), rec.Order.FilledAmount())
		delete(slot.Current.Orders, id)
	}
}

func (e *Executor) createForSlot(ctx context.Context, slot *PriceSlot, target *TradeCycle, preReserved timeout.RequestGroupId) {
	reservationId, ok := e.balances.Reserve(balance.ReserveParams{
		Configuration: "default",
		Account:       e.market.Account,
		Symbol:        e.symbol,
		Side:          target.Side,
		Price:         target.Price,
		Amount:        target.Amount,
	})
	if !ok {
		e.log.Debug().Str("strategy", target.StrategyName).Msg("insufficient balance for slot target, skipping this cycle")
		return
	}

	group := preReserved
	if group == "" {
		var admitted bool
		group, admitted = e.timeouts.TryReserveGroup(e.market.Account, "create_order", 1)
		if !admitted {
			e.balances.Unreserve("default", reservationId, 0)
			e.log.Debug().Msg("admission window exhausted for slot create, skipping this cycle")
			return
		}
	}
	_ = group

	clientId := e.nextClientOrderId()
	header := domain.OrderHeader{
		ClientOrderId: clientId,
		CreationTime:  timeNow(),
		Account:       e.market.Account,
		Pair:          e.market.Pair,
		Type:          domain.Limit,
		Side:          target.Side,
		Amount:        target.Amount,
		SourcePrice:   target.Price,
		StrategyName:  target.StrategyName,
	}
	order, err := e.driver.CreateOrder(ctx, header)
	if err != nil {
		e.balances.Unreserve("default", reservationId, 0)
		e.log.Warn().Err(err).Str("client_order_id", clientId).Msg("failed to create slot order")
		return
	}
	slot.Current.LastEstimatedPrice = target.Price
	slot.Current.Orders[clientId] = OrderRecord{Order: order, ReservationId: int64(reservationId)}
}

// HandleFill runs step 3 of §4.6: routes a fill to the strategy with its
// owning slot, then clears the slot if the order is now fully consumed.
func (e *Executor) HandleFill(fill domain.FillEvent, order *domain.Order) {
	for _, side := range []domain.Side{domain.Buy, domain.Sell} {
		bySide := e.state.BySide[side]
		for _, slot := range bySide.Slots {
			rec, ok := slot.Current.Orders[order.Header.ClientOrderId]
			if !ok {
				continue
			}
			e.strategy.HandleOrderFill(slot, fill)
			if rec.Order.Status().Terminal() {
				delete(slot.Current.Orders, order.Header.ClientOrderId)
			}
			return
		}
	}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func timeNow() (t time.Time) { return time.Now() }
