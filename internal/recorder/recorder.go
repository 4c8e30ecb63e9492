// Package recorder implements the event sink persisted-state boundary
// (§6): save(event) is non-blocking and batched, flush_and_stop() is
// bounded at 5 seconds. It subscribes to the event bus as a critical
// subscriber, so an event the bus drops for it is logged at error level
// with critical=true; the drop does not stop the recorder or the engine.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/marketmaker/internal/database"
	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/events"
	"github.com/rs/zerolog"
)

// batchSize bounds how many pending rows accumulate before a flush is
// forced, independent of the flush ticker.
const batchSize = 200

// Recorder batches order/fill events and persists them to a ledger
// database on a ticker, with FlushAndStop available for a final, bounded
// write (shutdown step 7).
type Recorder struct {
	log  zerolog.Logger
	db   *database.DB
	seq  uint64

	pending chan recordedEvent
	done    chan struct{}
}

type recordedEvent struct {
	order *domain.OrderEvent
	fill  *fillRecord
}

type fillRecord struct {
	TradeId         string
	ClientOrderId   string
	ExchangeOrderId string
	Price           float64
	Amount          float64
	Role            domain.Role
	CommissionCcy   string
	CommissionAmt   float64
}

// New constructs a Recorder backed by db, running its own drain loop.
// Subscribe wires it to bus as the critical subscriber (§5).
func New(log zerolog.Logger, db *database.DB, bus *events.Bus) *Recorder {
	r := &Recorder{
		log:     log.With().Str("component", "recorder").Logger(),
		db:      db,
		pending: make(chan recordedEvent, 4096),
		done:    make(chan struct{}),
	}
	ch, _ := bus.Subscribe(true)
	go r.drain()
	go r.consume(ch)
	return r
}

func (r *Recorder) consume(ch <-chan events.Envelope) {
	for env := range ch {
		switch env.Event.Kind {
		case domain.EventOrder:
			if env.Event.Order != nil {
				r.Save(*env.Event.Order)
			}
		}
	}
}

// Save enqueues an order-lifecycle event for persistence; non-blocking —
// if the internal queue is momentarily full the event is written
// synchronously as a single-row fallback rather than dropped.
func (r *Recorder) Save(ev domain.OrderEvent) {
	select {
	case r.pending <- recordedEvent{order: &ev}:
	default:
		r.writeOrderEvent(ev)
	}
}

// SaveFill enqueues a fill for persistence.
func (r *Recorder) SaveFill(f domain.FillEvent) {
	rec := fillRecord{
		TradeId:         f.TradeId,
		ClientOrderId:   f.ClientOrderId,
		ExchangeOrderId: f.ExchangeOrderId,
		Price:           f.Price,
		Amount:          f.Amount,
		Role:            f.Role,
		CommissionCcy:   f.CommissionCurrency.String(),
		CommissionAmt:   f.CommissionAmount,
	}
	select {
	case r.pending <- recordedEvent{fill: &rec}:
	default:
		r.writeFill(rec)
	}
}

func (r *Recorder) drain() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]recordedEvent, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			r.writeOne(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-r.pending:
			if !ok {
				flush()
				close(r.done)
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (r *Recorder) writeOne(e recordedEvent) {
	if e.order != nil {
		r.writeOrderEvent(*e.order)
	}
	if e.fill != nil {
		r.writeFill(*e.fill)
	}
}

func (r *Recorder) writeOrderEvent(ev domain.OrderEvent) {
	r.seq++
	status := ""
	if ev.Order != nil {
		status = ev.Order.Status().String()
	}
	_, err := r.db.Exec(
		`INSERT INTO order_events (seq, kind, client_order_id, exchange_order_id, status, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.seq, orderEventKindString(ev.Kind), ev.ClientOrderId, ev.ExchangeOrderId, status, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		r.log.Error().Err(err).Str("client_order_id", ev.ClientOrderId).Msg("failed to persist order event")
	}
}

func (r *Recorder) writeFill(f fillRecord) {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO fill_events (trade_id, client_order_id, exchange_order_id, price, amount, role, commission_currency, commission_amount, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.TradeId, f.ClientOrderId, f.ExchangeOrderId, f.Price, f.Amount, roleString(f.Role), f.CommissionCcy, f.CommissionAmt, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		r.log.Error().Err(err).Str("trade_id", f.TradeId).Msg("failed to persist fill event")
	}
}

// FlushAndStop closes the pending queue, waits for the drain loop to write
// everything out, and returns an error if that takes longer than 5
// seconds (§6).
func (r *Recorder) FlushAndStop(ctx context.Context) error {
	close(r.pending)
	timeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	select {
	case <-r.done:
		return nil
	case <-timeout.Done():
		return fmt.Errorf("recorder flush_and_stop exceeded 5s bound")
	}
}

func orderEventKindString(k domain.OrderEventKind) string {
	switch k {
	case domain.OrderCreatedEvent:
		return "created"
	case domain.OrderCancelledEvent:
		return "cancelled"
	case domain.OrderFilledEvent:
		return "filled"
	case domain.OrderCompletedEvent:
		return "completed"
	default:
		return "unknown"
	}
}

func roleString(r domain.Role) string {
	switch r {
	case domain.Maker:
		return "maker"
	case domain.Taker:
		return "taker"
	default:
		return "unknown"
	}
}
