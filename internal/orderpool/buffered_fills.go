package orderpool

import (
	"sync"

	"github.com/aristath/marketmaker/internal/domain"
)

// bufferedFillsCap bounds per-exchange-id retention so a venue that never
// binds an order (e.g. a fill for an order this process never created,
// replayed after a restart) doesn't leak memory indefinitely.
const bufferedFillsCap = 64

// BufferedFills holds FillEvents that arrived before their order was bound
// in the pool — a race between the REST creation response and a websocket
// fill notification (§12). Buffered under exchange_order_id and replayed
// once BindExchangeId binds that id.
type BufferedFills struct {
	mu  sync.Mutex
	buf map[string][]domain.FillEvent
}

// NewBufferedFills constructs an empty buffer.
func NewBufferedFills() *BufferedFills {
	return &BufferedFills{buf: map[string][]domain.FillEvent{}}
}

// Buffer appends fill under its exchange order id, dropping the oldest
// entry if the per-id cap is exceeded.
func (b *BufferedFills) Buffer(exchangeOrderId string, fill domain.FillEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := append(b.buf[exchangeOrderId], fill)
	if len(entries) > bufferedFillsCap {
		entries = entries[len(entries)-bufferedFillsCap:]
	}
	b.buf[exchangeOrderId] = entries
}

// TakeAll removes and returns every buffered fill for exchangeOrderId, for
// replay once the order binds.
func (b *BufferedFills) TakeAll(exchangeOrderId string) []domain.FillEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	fills := b.buf[exchangeOrderId]
	delete(b.buf, exchangeOrderId)
	return fills
}
