// Package blocker implements the exchange blocker: a per-exchange-account
// record of blocking reason codes. An account stays blocked until every
// blocking reason is cleared. The blocker does not gate anything itself:
// neither the exchange driver nor the disposition executor consults it, so
// a blocked account still accepts new order creations through them.
package blocker

import (
	"sync"

	"github.com/aristath/marketmaker/internal/domain"
)

// Reason is a typed cause for blocking an exchange account. Multiple
// reasons can be active simultaneously; the account stays blocked until
// all are cleared.
type Reason int

const (
	ProfitLossStopper Reason = iota
	GracefulShutdown
	Manual
)

func (r Reason) String() string {
	switch r {
	case ProfitLossStopper:
		return "profit_loss_stopper"
	case GracefulShutdown:
		return "graceful_shutdown"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// Blocker tracks, per exchange account, the set of currently active
// blocking reasons.
type Blocker struct {
	mu      sync.RWMutex
	reasons map[domain.ExchangeAccountId]map[Reason]bool
}

// New constructs an empty blocker (no account blocked).
func New() *Blocker {
	return &Blocker{reasons: map[domain.ExchangeAccountId]map[Reason]bool{}}
}

// Block adds reason to account's active block set.
func (b *Blocker) Block(account domain.ExchangeAccountId, reason Reason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.reasons[account]
	if !ok {
		set = map[Reason]bool{}
		b.reasons[account] = set
	}
	set[reason] = true
}

// Unblock removes reason from account's active block set. The account may
// remain blocked if other reasons are still active.
func (b *Blocker) Unblock(account domain.ExchangeAccountId, reason Reason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.reasons[account]
	if !ok {
		return
	}
	delete(set, reason)
	if len(set) == 0 {
		delete(b.reasons, account)
	}
}

// IsBlocked reports whether account currently has any active blocking
// reason.
func (b *Blocker) IsBlocked(account domain.ExchangeAccountId) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.reasons[account]) > 0
}

// Reasons returns the currently active reasons for account.
func (b *Blocker) Reasons(account domain.ExchangeAccountId) []Reason {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Reason, 0, len(b.reasons[account]))
	for r := range b.reasons[account] {
		out = append(out, r)
	}
	return out
}

// BlockAll blocks every account passed with the same reason.
func (b *Blocker) BlockAll(accounts []domain.ExchangeAccountId, reason Reason) {
	for _, a := range accounts {
		b.Block(a, reason)
	}
}
