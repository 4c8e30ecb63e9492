package balance

import "github.com/aristath/marketmaker/internal/domain"

// DiscountRateTable supplies a static fallback conversion rate (quote
// units per one unit of a discount-token currency) for commission
// currencies that are neither the market's base nor quote, used only when
// no quote-conversion market is known for that token (§12, supplemented
// from the original commission-currency handling).
type DiscountRateTable map[domain.CurrencyId]float64

// ConvertCommission computes the commission re-expressed in quote currency.
// If commissionCurrency is the pair's base or quote, fillPrice converts it
// directly (a first-order approximation per §12). Otherwise rates supplies
// a static quote-per-token rate; if absent, the commission is returned
// unconverted (logged by the caller as a configuration gap, not fabricated
// here).
func ConvertCommission(pair domain.CurrencyPair, commissionCurrency domain.CurrencyId, commissionAmount, fillPrice float64, rates DiscountRateTable) (domain.CurrencyId, float64) {
	quote := pair.Quote()
	switch commissionCurrency {
	case quote:
		return quote, commissionAmount
	case pair.Base():
		return quote, commissionAmount * fillPrice
	default:
		if rate, ok := rates[commissionCurrency]; ok {
			return quote, commissionAmount * rate
		}
		return commissionCurrency, commissionAmount
	}
}

// ComputeBalanceDelta computes (deltaBase, deltaQuote) for one fill per
// §4.4's balance-change calculator. Non-derivative sell:
// (-fill_amount, convert(quote, fill_amount, price) - commission).
// Non-derivative buy:
// (fill_amount - commission, convert(quote, -fill_amount, price)).
// Commission reduces whichever side's balance it was actually charged in —
// base currency commission subtracts from deltaBase unconverted, anything
// else is converted to quote via ConvertCommission and subtracted from
// deltaQuote. Derivative cases branch on whether the symbol's balance
// currency is base or quote; any other balance currency is a
// misconfiguration and panics, matching the source's unchecked invariant.
func ComputeBalanceDelta(side domain.Side, symbol domain.Symbol, fillAmount, price float64, commissionCurrency domain.CurrencyId, commissionAmount float64, rates DiscountRateTable) (deltaBase, deltaQuote float64) {
	if !symbol.IsDerivative {
		if side == domain.Sell {
			deltaBase = -fillAmount
			deltaQuote = fillAmount * price
		} else {
			deltaBase = fillAmount
			deltaQuote = -fillAmount * price
		}
	} else {
		switch symbol.BalanceCurrency {
		case symbol.Pair.Quote():
			if side == domain.Sell {
				deltaQuote = fillAmount * price * symbol.AmountMultiplier
			} else {
				deltaQuote = -fillAmount * price * symbol.AmountMultiplier
			}
		case symbol.Pair.Base():
			if side == domain.Sell {
				deltaBase = -fillAmount * symbol.AmountMultiplier / price
			} else {
				deltaBase = fillAmount * symbol.AmountMultiplier / price
			}
		default:
			panic("balance currency is neither base nor quote of the derivative's pair: misconfigured symbol")
		}
	}

	if commissionCurrency == symbol.Pair.Base() {
		deltaBase -= commissionAmount
	} else {
		_, converted := ConvertCommission(symbol.Pair, commissionCurrency, commissionAmount, price, rates)
		deltaQuote -= converted
	}
	return deltaBase, deltaQuote
}
