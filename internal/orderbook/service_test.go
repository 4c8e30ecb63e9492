package orderbook

import (
	"testing"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMarket(t *testing.T) domain.MarketAccountId {
	t.Helper()
	pair := domain.MustInternCurrencyPair("BTC/USDT")
	return domain.MarketAccountId{
		Account: domain.ExchangeAccountId{Exchange: domain.InternExchange("demoex"), AccountIndex: 0},
		Pair:    pair,
	}
}

func TestSnapshotThenUpdate(t *testing.T) {
	svc := New(zerolog.Nop())
	market := testMarket(t)

	svc.Apply(domain.OrderBookEvent{
		MarketAccount: market,
		Kind:          domain.Snapshot,
		Asks:          map[float64]float64{3.4: 1.2, 3.0: 4.2},
		Bids:          map[float64]float64{2.9: 7.8, 1.0: 2.1},
		CreationTime:  time.Now(),
	})

	svc.Apply(domain.OrderBookEvent{
		MarketAccount: market,
		Kind:          domain.Update,
		Asks:          map[float64]float64{3.4: 0},
		Bids:          map[float64]float64{2.9: 7.8, 1.0: 2.1},
		CreationTime:  time.Now(),
	})

	book, ok := svc.Get(market)
	require.True(t, ok)
	assert.Equal(t, map[float64]float64{3.0: 4.2}, book.Asks)
	assert.Equal(t, map[float64]float64{2.9: 7.8, 1.0: 2.1}, book.Bids)
}

func TestCrossedBookRepairOnSnapshot(t *testing.T) {
	svc := New(zerolog.Nop())
	market := testMarket(t)

	svc.Apply(domain.OrderBookEvent{
		MarketAccount: market,
		Kind:          domain.Snapshot,
		Asks:          map[float64]float64{3.4: 1.2, 2.9: 7.8},
		Bids:          map[float64]float64{3.0: 4.2, 1.0: 2.1},
		CreationTime:  time.Now(),
	})

	book, ok := svc.Get(market)
	require.True(t, ok)
	assert.Equal(t, map[float64]float64{3.4: 1.2}, book.Asks)
	assert.Equal(t, map[float64]float64{1.0: 2.1}, book.Bids)
}

func TestUnknownMarketReturnsFalse(t *testing.T) {
	svc := New(zerolog.Nop())
	_, ok := svc.Get(testMarket(t))
	assert.False(t, ok)
}

func TestMiddlePriceRequiresBothSides(t *testing.T) {
	svc := New(zerolog.Nop())
	market := testMarket(t)

	svc.Apply(domain.OrderBookEvent{
		MarketAccount: market,
		Kind:          domain.Snapshot,
		Asks:          map[float64]float64{3.0: 1},
		Bids:          map[float64]float64{},
		CreationTime:  time.Now(),
	})
	book, _ := svc.Get(market)
	_, ok := book.MiddlePrice()
	assert.False(t, ok)

	svc.Apply(domain.OrderBookEvent{
		MarketAccount: market,
		Kind:          domain.Update,
		Asks:          map[float64]float64{},
		Bids:          map[float64]float64{2.0: 1},
		CreationTime:  time.Now(),
	})
	book, _ = svc.Get(market)
	mid, ok := book.MiddlePrice()
	require.True(t, ok)
	assert.Equal(t, 2.5, mid)
}

func TestExcludeOwnAmounts(t *testing.T) {
	svc := New(zerolog.Nop())
	market := testMarket(t)

	svc.Apply(domain.OrderBookEvent{
		MarketAccount: market,
		Kind:          domain.Snapshot,
		Asks:          map[float64]float64{3.0: 5},
		Bids:          map[float64]float64{2.0: 5},
		CreationTime:  time.Now(),
	})
	book, _ := svc.Get(market)

	excluded := book.ExcludeOwnAmounts(map[float64]float64{3.0: 2}, map[float64]float64{2.0: 5})
	assert.Equal(t, map[float64]float64{3.0: 3}, excluded.Asks)
	assert.Equal(t, map[float64]float64{}, excluded.Bids)
}
