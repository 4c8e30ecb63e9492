// Package orderpool implements the shared mutable order-state arena (§9):
// orders are indexed by client id and, once assigned, by exchange id, with
// a separate "not finished" index pruned on terminal transitions. An order
// reference is the pool's shared handle — the header is read without
// synchronization; the mutable part goes through domain.Order's own lock.
package orderpool

import (
	"sync"

	"github.com/aristath/marketmaker/internal/domain"
)

// Pool indexes orders by client id and exchange id, and tracks which are
// still not-finished (non-terminal).
type Pool struct {
	mu sync.RWMutex

	byClientId   map[string]*domain.Order
	byExchangeId map[string]*domain.Order
	notFinished  map[string]*domain.Order // keyed by client id
}

// New constructs an empty pool.
func New() *Pool {
	return &Pool{
		byClientId:   map[string]*domain.Order{},
		byExchangeId: map[string]*domain.Order{},
		notFinished:  map[string]*domain.Order{},
	}
}

// AddSnapshotInitial inserts order keyed by its client id. If an order
// with that client id already exists, the existing reference is returned
// unchanged (no duplicate state), matching the idempotence property in
// §8.
func (p *Pool) AddSnapshotInitial(order *domain.Order) *domain.Order {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byClientId[order.Header.ClientOrderId]; ok {
		return existing
	}
	p.byClientId[order.Header.ClientOrderId] = order
	if !order.Status().Terminal() {
		p.notFinished[order.Header.ClientOrderId] = order
	}
	return order
}

// BindExchangeId indexes order under its exchange order id, populated once
// the exchange assigns one. Safe to call multiple times; only the first
// binding takes effect (see domain.Order.BindExchangeOrderId).
func (p *Pool) BindExchangeId(order *domain.Order, exchangeOrderId string) {
	order.BindExchangeOrderId(exchangeOrderId)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byExchangeId[exchangeOrderId]; !exists {
		p.byExchangeId[exchangeOrderId] = order
	}
}

// ByClientId looks up an order by client id.
func (p *Pool) ByClientId(clientId string) (*domain.Order, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.byClientId[clientId]
	return o, ok
}

// ByExchangeId looks up an order by exchange id.
func (p *Pool) ByExchangeId(exchangeOrderId string) (*domain.Order, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o, ok := p.byExchangeId[exchangeOrderId]
	return o, ok
}

// MarkFinishedIfTerminal removes order from the not-finished index if its
// current status is terminal. Call after any transition that might have
// finalized the order.
func (p *Pool) MarkFinishedIfTerminal(order *domain.Order) {
	if !order.Status().Terminal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.notFinished, order.Header.ClientOrderId)
}

// NotFinished returns a snapshot slice of every order still in a
// non-terminal state.
func (p *Pool) NotFinished() []*domain.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*domain.Order, 0, len(p.notFinished))
	for _, o := range p.notFinished {
		out = append(out, o)
	}
	return out
}

// All returns every order known to the pool, terminal or not.
func (p *Pool) All() []*domain.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*domain.Order, 0, len(p.byClientId))
	for _, o := range p.byClientId {
		out = append(out, o)
	}
	return out
}
