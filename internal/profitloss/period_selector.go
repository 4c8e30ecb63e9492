// Package profitloss implements the periodic USD-denominated profit/loss
// circuit breaker (§4.5): a per-market-account windowed queue of balance
// changes, a USD conversion layer over that window, and a stopper that
// blocks an exchange account when a configured period's loss limit is
// breached.
package profitloss

import (
	"sync"
	"time"

	"github.com/aristath/marketmaker/internal/balance"
	"github.com/aristath/marketmaker/internal/domain"
)

// BalanceChange is one queued balance-changing event, keyed to the fill
// that produced it so the position-change log can identify which entries
// remain relevant across a position flip.
type BalanceChange struct {
	ChangeDate        time.Time
	Currency          domain.CurrencyId
	Amount            float64
	ClientOrderFillId string
	UsdAmount         float64
}

// PeriodSelector keeps, per market-account, a FIFO queue of BalanceChange
// bounded by a configured retention period P, pruning on every touch per
// §4.5's synchronize_period rule.
type PeriodSelector struct {
	mu       sync.Mutex
	period   time.Duration
	queues   map[domain.MarketAccountId][]BalanceChange
	balances *balance.Manager
}

// NewPeriodSelector constructs a selector with retention period and a
// balance manager consulted for the latest position change.
func NewPeriodSelector(period time.Duration, balances *balance.Manager) *PeriodSelector {
	return &PeriodSelector{period: period, queues: map[domain.MarketAccountId][]BalanceChange{}, balances: balances}
}

// Add appends change to market's queue and re-synchronizes the window.
func (s *PeriodSelector) Add(market domain.MarketAccountId, change BalanceChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[market] = append(s.queues[market], change)
	s.synchronize(market, change.ChangeDate)
}

// Synchronize re-applies the retention rule for market as of now, without
// adding a new entry — used by the stopper's periodic tick so the window
// shrinks even without new fills.
func (s *PeriodSelector) Synchronize(market domain.MarketAccountId, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synchronize(market, now)
}

// synchronize drops entries from the front of the queue while either (a) a
// last-position-change exists and the front's fill id differs from it, or
// (b) no position-change exists and the front predates the window start.
// Caller holds s.mu.
func (s *PeriodSelector) synchronize(market domain.MarketAccountId, now time.Time) {
	start := now.Add(-s.period)
	last, hasLast := s.balances.GetLastPositionChangeBeforePeriod(market, start)

	queue := s.queues[market]
	i := 0
	for i < len(queue) {
		front := queue[i]
		if hasLast {
			if front.ClientOrderFillId == last.ClientOrderFillId {
				break
			}
		} else if !front.ChangeDate.Before(start) {
			break
		}
		i++
	}
	s.queues[market] = queue[i:]
}

// Window returns a copy of the currently retained entries for market.
func (s *PeriodSelector) Window(market domain.MarketAccountId) []BalanceChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[market]
	out := make([]BalanceChange, len(q))
	copy(out, q)
	return out
}
