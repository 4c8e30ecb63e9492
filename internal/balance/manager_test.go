package balance

import (
	"testing"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAndUnreserve(t *testing.T) {
	account := testAccount()
	pair := testPair(t)
	usdt := domain.InternCurrency("USDT")

	holder := NewHolder()
	holder.UpdateBalances(account, map[domain.CurrencyId]float64{usdt: 1000})
	mgr := NewManager(holder)

	symbol := domain.Symbol{Pair: pair}
	id, ok := mgr.Reserve(ReserveParams{Configuration: "default", Account: account, Symbol: symbol, Side: domain.Buy, Price: 10, Amount: 5})
	require.True(t, ok)

	key := DiffKey{Configuration: "default", Account: account, Pair: pair, Currency: usdt}
	amt, _ := holder.GetVirtualBalance(key, symbol, nil)
	assert.Equal(t, 950.0, amt) // 1000 - 5*10

	mgr.Unreserve("default", id, 5) // fully filled, nothing returned
	amt, _ = holder.GetVirtualBalance(key, symbol, nil)
	assert.Equal(t, 950.0, amt)
}

func TestReserveRejectsInsufficientBalance(t *testing.T) {
	account := testAccount()
	pair := testPair(t)
	usdt := domain.InternCurrency("USDT")

	holder := NewHolder()
	holder.UpdateBalances(account, map[domain.CurrencyId]float64{usdt: 10})
	mgr := NewManager(holder)
	symbol := domain.Symbol{Pair: pair}

	_, ok := mgr.Reserve(ReserveParams{Configuration: "default", Account: account, Symbol: symbol, Side: domain.Buy, Price: 10, Amount: 5})
	assert.False(t, ok)
}

func TestUnreserveCreditsBackUnfilledPortion(t *testing.T) {
	account := testAccount()
	pair := testPair(t)
	usdt := domain.InternCurrency("USDT")

	holder := NewHolder()
	holder.UpdateBalances(account, map[domain.CurrencyId]float64{usdt: 1000})
	mgr := NewManager(holder)
	symbol := domain.Symbol{Pair: pair}

	id, ok := mgr.Reserve(ReserveParams{Configuration: "default", Account: account, Symbol: symbol, Side: domain.Buy, Price: 10, Amount: 5})
	require.True(t, ok)

	mgr.Unreserve("default", id, 2) // only 2 of 5 filled, 3 credited back

	key := DiffKey{Configuration: "default", Account: account, Pair: pair, Currency: usdt}
	amt, _ := holder.GetVirtualBalance(key, symbol, nil)
	assert.Equal(t, 980.0, amt) // 1000 - 50 + 30
}

func TestLeverageMultipliesAvailableAmount(t *testing.T) {
	account := testAccount()
	pair := testPair(t)
	btc := domain.InternCurrency("BTC")

	holder := NewHolder()
	holder.UpdateBalances(account, map[domain.CurrencyId]float64{btc: 1})
	mgr := NewManager(holder)
	mgr.LeverageByPair[pair] = 3
	symbol := domain.Symbol{Pair: pair}

	amt, ok := mgr.GetLeveragedBalanceInAmountCurrency("default", account, symbol, domain.Sell, 0)
	require.True(t, ok)
	assert.Equal(t, 3.0, amt)
}

func TestTargetAmountLimitCaps(t *testing.T) {
	account := testAccount()
	pair := testPair(t)
	btc := domain.InternCurrency("BTC")

	holder := NewHolder()
	holder.UpdateBalances(account, map[domain.CurrencyId]float64{btc: 10})
	mgr := NewManager(holder)
	mgr.TargetAmountLimits[limitKey("default", account, pair)] = 2
	symbol := domain.Symbol{Pair: pair}

	amt, ok := mgr.GetLeveragedBalanceInAmountCurrency("default", account, symbol, domain.Sell, 0)
	require.True(t, ok)
	assert.Equal(t, 2.0, amt)
}

func TestPositionChangeLogLastBefore(t *testing.T) {
	log := NewPositionChangeLog()
	market := domain.MarketAccountId{Account: testAccount(), Pair: testPair(t)}

	t0 := time.Now().Add(-time.Hour)
	t1 := t0.Add(10 * time.Minute)
	log.Append(market, PositionChange{ClientOrderFillId: "a", ChangeTime: t0, Portion: 1})
	log.Append(market, PositionChange{ClientOrderFillId: "b", ChangeTime: t1, Portion: 0.5})

	change, ok := log.LastBefore(market, t0.Add(5*time.Minute))
	require.True(t, ok)
	assert.Equal(t, "a", change.ClientOrderFillId)

	_, ok = log.LastBefore(market, t0.Add(-time.Minute))
	assert.False(t, ok)
}
