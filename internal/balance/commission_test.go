package balance

import (
	"testing"

	"github.com/aristath/marketmaker/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestComputeBalanceDeltaNonDerivativeBuy(t *testing.T) {
	pair := domain.MustInternCurrencyPair("PHB/BTC")
	phb := domain.InternCurrency("PHB")
	symbol := domain.Symbol{Pair: pair}

	deltaBase, deltaQuote := ComputeBalanceDelta(domain.Buy, symbol, 1, 0.1, phb, 0.001, nil)
	assert.InDelta(t, 0.999, deltaBase, 1e-9)
	assert.InDelta(t, -0.1, deltaQuote, 1e-9)
}

func TestComputeBalanceDeltaNonDerivativeSellQuoteCommission(t *testing.T) {
	pair := domain.MustInternCurrencyPair("PHB/BTC")
	btc := domain.InternCurrency("BTC")
	symbol := domain.Symbol{Pair: pair}

	deltaBase, deltaQuote := ComputeBalanceDelta(domain.Sell, symbol, 2, 10, btc, 0.5, nil)
	assert.InDelta(t, -2.0, deltaBase, 1e-9)
	assert.InDelta(t, 19.5, deltaQuote, 1e-9) // 2*10 - 0.5
}

func TestConvertCommissionDiscountTokenFallback(t *testing.T) {
	pair := domain.MustInternCurrencyPair("BTC/USDT")
	bnb := domain.InternCurrency("BNB")
	rates := DiscountRateTable{bnb: 300}

	ccy, amt := ConvertCommission(pair, bnb, 2, 50000, rates)
	assert.Equal(t, pair.Quote(), ccy)
	assert.Equal(t, 600.0, amt)
}

func TestConvertCommissionUnknownTokenPassesThrough(t *testing.T) {
	pair := domain.MustInternCurrencyPair("BTC/USDT")
	unknown := domain.InternCurrency("XYZ")

	ccy, amt := ConvertCommission(pair, unknown, 2, 50000, nil)
	assert.Equal(t, unknown, ccy)
	assert.Equal(t, 2.0, amt)
}
