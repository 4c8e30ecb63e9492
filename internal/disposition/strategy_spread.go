package disposition

import (
	"fmt"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/aristath/marketmaker/internal/orderbook"
)

// SpreadStrategy is the one example strategy named by the spec's
// Non-goals ("strategy library beyond a single example slot-based
// strategy"): it quotes a fixed number of price slots symmetrically
// around the local order book's mid-price, each slot's distance widening
// by one spread step and its amount shrinking by a per-slot decay factor,
// so the book gets thinner and further from mid the deeper a slot sits.
type SpreadStrategy struct {
	book         *orderbook.Service
	market       domain.MarketAccountId
	symbol       domain.Symbol
	spreadStep   float64 // fraction of mid-price between adjacent slots
	baseAmount   float64
	amountDecay  float64 // multiplier applied to amount per slot deeper
	maxAmount    float64
}

// NewSpreadStrategy constructs a SpreadStrategy quoting against book's
// snapshot for market.
func NewSpreadStrategy(book *orderbook.Service, market domain.MarketAccountId, symbol domain.Symbol, spreadStep, baseAmount, amountDecay, maxAmount float64) *SpreadStrategy {
	return &SpreadStrategy{
		book:        book,
		market:      market,
		symbol:      symbol,
		spreadStep:  spreadStep,
		baseAmount:  baseAmount,
		amountDecay: amountDecay,
		maxAmount:   maxAmount,
	}
}

func (s *SpreadStrategy) Name() string { return "spread" }

// ComputeTradingContext proposes, per slot, a price offset from mid by
// (index+1)*spreadStep and an amount decayed by amountDecay^index. With no
// book snapshot yet (no mid-price available) every slot's target is None,
// so the executor cancels anything resting and places nothing.
func (s *SpreadStrategy) ComputeTradingContext(market domain.MarketAccountId) TradingContext {
	tc := TradingContext{
		MaxAmount: map[domain.Side]float64{domain.Buy: s.maxAmount, domain.Sell: s.maxAmount},
		Targets:   map[domain.Side][]Explained[*TradeCycle]{domain.Buy: {}, domain.Sell: {}},
	}

	snap, ok := s.book.Get(market)
	if !ok {
		return tc
	}
	mid, ok := snap.MiddlePrice()
	if !ok {
		return tc
	}

	for _, side := range []domain.Side{domain.Buy, domain.Sell} {
		tc.Targets[side] = s.slotsForSide(side, mid)
	}
	return tc
}

func (s *SpreadStrategy) slotsForSide(side domain.Side, mid float64) []Explained[*TradeCycle] {
	const slotCount = 5
	out := make([]Explained[*TradeCycle], 0, slotCount)
	sign := 1.0
	if side == domain.Buy {
		sign = -1.0
	}
	amount := s.baseAmount
	for i := 0; i < slotCount; i++ {
		offset := mid * s.spreadStep * float64(i+1)
		price := roundToTick(mid+sign*offset, s.symbol.PriceTick)
		cycle := &TradeCycle{
			Side:         side,
			Price:        price,
			Amount:       roundToStep(amount, s.symbol.AmountStep),
			Role:         domain.Maker,
			StrategyName: s.Name(),
		}
		out = append(out, Explained[*TradeCycle]{
			Value:       cycle,
			Explanation: fmt.Sprintf("slot %d: mid %.8f offset %.8f", i, mid, offset),
		})
		amount *= s.amountDecay
	}
	return out
}

// HandleOrderFill is a no-op for the example strategy: the executor
// already clears a slot once its order reaches a terminal status, and a
// partial fill simply leaves the remaining amount resting until the next
// cycle's diff recomputes the target.
func (s *SpreadStrategy) HandleOrderFill(slot *PriceSlot, fill domain.FillEvent) {}

func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	steps := price / tick
	return float64(int64(steps+0.5)) * tick
}

func roundToStep(amount, step float64) float64 {
	if step <= 0 {
		return amount
	}
	steps := amount / step
	return float64(int64(steps+0.5)) * step
}
