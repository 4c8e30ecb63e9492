package orderbook

import (
	"sync"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/rs/zerolog"
)

// Service maintains a map of market -> LocalOrderBookSnapshot, applying
// snapshot and delta events and repairing crossed books (§4.3). Apply runs
// under the service's mutex; readers obtain copies via Get, never the live
// maps.
type Service struct {
	mu   sync.RWMutex
	log  zerolog.Logger
	byMarket map[domain.MarketAccountId]*Snapshot
}

// New constructs an empty order book service.
func New(log zerolog.Logger) *Service {
	return &Service{
		log:      log.With().Str("component", "orderbook").Logger(),
		byMarket: map[domain.MarketAccountId]*Snapshot{},
	}
}

// Apply applies a snapshot or delta event to the market's book, repairing
// any resulting crossed state.
func (s *Service) Apply(ev domain.OrderBookEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.byMarket[ev.MarketAccount]
	if !ok {
		book = newSnapshot()
		s.byMarket[ev.MarketAccount] = book
	}

	switch ev.Kind {
	case domain.Snapshot:
		book.Asks = filterZero(ev.Asks)
		book.Bids = filterZero(ev.Bids)
	case domain.Update:
		mergeLevels(book.Asks, ev.Asks)
		mergeLevels(book.Bids, ev.Bids)
	}
	book.LastUpdateTime = ev.CreationTime

	s.repair(ev.MarketAccount, book)
}

func filterZero(src map[float64]float64) map[float64]float64 {
	out := make(map[float64]float64, len(src))
	for p, a := range src {
		if a != 0 {
			out[p] = a
		}
	}
	return out
}

func mergeLevels(dst, delta map[float64]float64) {
	for p, a := range delta {
		if a == 0 {
			delete(dst, p)
		} else {
			dst[p] = a
		}
	}
}

// repair removes crossing levels until top_bid < top_ask or one side is
// empty, logging the original and repaired tops at warn level. Must be
// called with mu held.
func (s *Service) repair(market domain.MarketAccountId, book *Snapshot) {
	topBid, hasBid := book.TopBid()
	topAsk, hasAsk := book.TopAsk()
	if !hasBid || !hasAsk || topBid < topAsk {
		return
	}

	origBid, origAsk := topBid, topAsk

	for {
		bid, hasBid := book.TopBid()
		ask, hasAsk := book.TopAsk()
		if !hasBid || !hasAsk || bid < ask {
			break
		}
		removedAny := false
		for p := range book.Bids {
			if p >= ask {
				delete(book.Bids, p)
				removedAny = true
			}
		}
		for p := range book.Asks {
			if p <= bid {
				delete(book.Asks, p)
				removedAny = true
			}
		}
		if !removedAny {
			break
		}
	}

	newBid, _ := book.TopBid()
	newAsk, _ := book.TopAsk()
	s.log.Warn().
		Stringer("market", market).
		Float64("orig_top_bid", origBid).
		Float64("orig_top_ask", origAsk).
		Float64("new_top_bid", newBid).
		Float64("new_top_ask", newAsk).
		Msg("crossed order book repaired")
}

// Get returns a defensive copy of the current snapshot for market, or
// false if no events have been observed for it.
func (s *Service) Get(market domain.MarketAccountId) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.byMarket[market]
	if !ok {
		return nil, false
	}
	return book.clone(), true
}
