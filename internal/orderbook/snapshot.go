// Package orderbook maintains per-market local order book snapshots built
// from snapshot+delta events, repairing crossed books as they arrive.
package orderbook

import (
	"sort"
	"time"
)

// Snapshot is a price-keyed view of both sides of a book. Levels with zero
// amount are never stored.
type Snapshot struct {
	Asks           map[float64]float64
	Bids           map[float64]float64
	LastUpdateTime time.Time
}

func newSnapshot() *Snapshot {
	return &Snapshot{Asks: map[float64]float64{}, Bids: map[float64]float64{}}
}

// clone returns a defensive copy suitable for handing to readers without
// sharing the updater's backing maps.
func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		Asks:           make(map[float64]float64, len(s.Asks)),
		Bids:           make(map[float64]float64, len(s.Bids)),
		LastUpdateTime: s.LastUpdateTime,
	}
	for p, a := range s.Asks {
		out.Asks[p] = a
	}
	for p, a := range s.Bids {
		out.Bids[p] = a
	}
	return out
}

// TopAsk returns the lowest ask price and whether one exists.
func (s *Snapshot) TopAsk() (float64, bool) {
	return extreme(s.Asks, true)
}

// TopBid returns the highest bid price and whether one exists.
func (s *Snapshot) TopBid() (float64, bool) {
	return extreme(s.Bids, false)
}

func extreme(levels map[float64]float64, min bool) (float64, bool) {
	first := true
	var best float64
	for p := range levels {
		if first || (min && p < best) || (!min && p > best) {
			best = p
			first = false
		}
	}
	return best, !first
}

// AsksAscending returns ask levels sorted by ascending price.
func (s *Snapshot) AsksAscending() []Level {
	return sortedLevels(s.Asks, true)
}

// BidsDescending returns bid levels sorted by descending price (top bid
// first).
func (s *Snapshot) BidsDescending() []Level {
	return sortedLevels(s.Bids, false)
}

// Level is one (price, amount) entry in a book side.
type Level struct {
	Price  float64
	Amount float64
}

func sortedLevels(levels map[float64]float64, ascending bool) []Level {
	out := make([]Level, 0, len(levels))
	for p, a := range levels {
		out = append(out, Level{Price: p, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].Price < out[j].Price
		}
		return out[i].Price > out[j].Price
	})
	return out
}

// MiddlePrice returns (top_ask + top_bid) / 2, or false if either side is
// empty.
func (s *Snapshot) MiddlePrice() (float64, bool) {
	ask, okA := s.TopAsk()
	bid, okB := s.TopBid()
	if !okA || !okB {
		return 0, false
	}
	return (ask + bid) / 2, true
}

// ExcludeOwnAmounts returns a copy of the snapshot with ownAsks/ownBids
// subtracted from the corresponding levels (floored at zero, and the level
// dropped if it reaches zero), used by strategies to plan against book
// depth net of their own resting orders.
func (s *Snapshot) ExcludeOwnAmounts(ownAsks, ownBids map[float64]float64) *Snapshot {
	out := s.clone()
	subtract(out.Asks, ownAsks)
	subtract(out.Bids, ownBids)
	return out
}

func subtract(levels, own map[float64]float64) {
	for p, amt := range own {
		if cur, ok := levels[p]; ok {
			remaining := cur - amt
			if remaining <= 0 {
				delete(levels, p)
			} else {
				levels[p] = remaining
			}
		}
	}
}
