// Package events implements the typed broadcast bus described in §5
// ("Channels"): exchange adapters publish normalized events, and each
// subscriber receives them independently. In cmd/server the event recorder
// is the only subscriber; the local order book service and the disposition
// executors are fed directly from the adapter's order-book callback and do
// not read from the bus. Slow consumers
// that fall behind drop the oldest buffered event rather than block the
// publisher.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultCapacity is the per-subscriber buffer size from §5.
const DefaultCapacity = 200_000

// Envelope wraps a published event with a monotonic sequence number so a
// consumer can detect that it has fallen behind and events were dropped.
type Envelope struct {
	Seq   uint64
	Event domain.ExchangeEvent
}

type subscriber struct {
	id       uint64
	ch       chan Envelope
	dropped  atomic.Uint64
	critical bool
}

// Bus is a multi-subscriber broadcast channel of ExchangeEvent.
type Bus struct {
	log zerolog.Logger

	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextSubId uint64
	seq       atomic.Uint64

	capacity int
}

// New constructs a bus whose subscriber buffers are sized to capacity
// (DefaultCapacity in production).
func New(log zerolog.Logger, capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		log:      log.With().Str("component", "events.bus").Logger(),
		subs:     map[uint64]*subscriber{},
		capacity: capacity,
	}
}

// Unsubscribe detaches a subscriber and closes its channel.
type Unsubscribe func()

// Subscribe registers a new consumer and returns a receive-only channel of
// events along with a function to detach it. Every dropped event is counted
// in DroppedCount and logged at error level; if critical is true the log
// line also carries critical=true (the event recorder subscribes this way).
func (b *Bus) Subscribe(critical bool) (<-chan Envelope, Unsubscribe) {
	b.mu.Lock()
	id := b.nextSubId
	b.nextSubId++
	sub := &subscriber{id: id, ch: make(chan Envelope, b.capacity), critical: critical}
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.ch)
	}
}

// Publish fans ev out to every subscriber. A subscriber whose buffer is
// full has its oldest buffered envelope dropped to make room — the
// publisher never blocks.
func (b *Bus) Publish(ev domain.ExchangeEvent) {
	env := Envelope{Seq: b.seq.Add(1), Event: ev}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		b.deliver(sub, env)
	}
}

func (b *Bus) deliver(sub *subscriber, env Envelope) {
	select {
	case sub.ch <- env:
		return
	default:
	}

	// Buffer full: drop the oldest to make room for the newest, matching
	// "slow consumers ... drop oldest events" in §5.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}

	select {
	case sub.ch <- env:
	default:
		// Another publisher raced us; give up silently rather than spin.
		sub.dropped.Add(1)
		return
	}

	logEvt := b.log.Error()
	if sub.critical {
		logEvt = b.log.Error().Bool("critical", true)
	}
	logEvt.Uint64("subscriber_id", sub.id).Uint64("total_dropped", sub.dropped.Load()).
		Msg("subscriber buffer full, dropped oldest event")
}

// DroppedCount returns how many events have been dropped for a subscriber,
// identified by the channel returned from Subscribe.
func (b *Bus) DroppedCount(ch <-chan Envelope) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if (<-chan Envelope)(sub.ch) == ch {
			return sub.dropped.Load()
		}
	}
	return 0
}
