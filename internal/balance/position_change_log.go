package balance

import (
	"sync"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
)

// PositionChange is one append-only entry recording a position sign
// change (long -> short, or either -> flat) for a market-account.
type PositionChange struct {
	ClientOrderFillId string
	ChangeTime        time.Time
	Portion           float64 // in (0, 1]
}

// PositionChangeLog is an append-only, per-market-account log of position
// sign changes, queried by the balance-change period selector to decide
// which queued entries remain relevant to the current window (§4.5).
type PositionChangeLog struct {
	mu  sync.Mutex
	log map[domain.MarketAccountId][]PositionChange
}

// NewPositionChangeLog constructs an empty log.
func NewPositionChangeLog() *PositionChangeLog {
	return &PositionChangeLog{log: map[domain.MarketAccountId][]PositionChange{}}
}

// Append records a new change. Entries must be appended in non-decreasing
// ChangeTime order (the only order in which fills are observed).
func (l *PositionChangeLog) Append(market domain.MarketAccountId, change PositionChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log[market] = append(l.log[market], change)
}

// LastBefore returns the latest entry with ChangeTime <= at, or false if
// none exists.
func (l *PositionChangeLog) LastBefore(market domain.MarketAccountId, at time.Time) (PositionChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.log[market]
	// Entries are appended in time order; scan from the back for the
	// first one at or before `at`.
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].ChangeTime.After(at) {
			return entries[i], true
		}
	}
	return PositionChange{}, false
}
