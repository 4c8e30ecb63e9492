package profitloss

import (
	"time"

	"github.com/aristath/marketmaker/internal/domain"
)

// UsdConverter supplies current USD conversion for the over-market
// recalculation; ConvertToUsd uses the live mark price for currency,
// distinct from the UsdAmount already stored on each BalanceChange (which
// was computed at fill time).
type UsdConverter interface {
	ConvertToUsd(currency domain.CurrencyId, amount float64) (float64, error)
}

// UsdPeriodicCalculator wraps a PeriodSelector for one named period
// (e.g. "hour", "day") with a USD converter, per §4.5.
type UsdPeriodicCalculator struct {
	Name      string
	Period    time.Duration
	Limit     float64
	selector  *PeriodSelector
	converter UsdConverter
}

// NewUsdPeriodicCalculator constructs a calculator for one configured
// period/limit pair.
func NewUsdPeriodicCalculator(name string, period time.Duration, limit float64, selector *PeriodSelector, converter UsdConverter) *UsdPeriodicCalculator {
	return &UsdPeriodicCalculator{Name: name, Period: period, Limit: limit, selector: selector, converter: converter}
}

// RawUsdChange sums the USD amount recorded at fill time for every entry
// currently retained in market's window.
func (c *UsdPeriodicCalculator) RawUsdChange(market domain.MarketAccountId) float64 {
	var total float64
	for _, ch := range c.selector.Window(market) {
		total += ch.UsdAmount
	}
	return total
}

// OverMarketUsdChange recomputes each window entry's USD value at the
// current mark price rather than its fill-time value, giving a notional
// profit/loss figure against current market rather than realized cash
// flow (the GLOSSARY's "over-market profit").
func (c *UsdPeriodicCalculator) OverMarketUsdChange(market domain.MarketAccountId) (float64, error) {
	var total float64
	for _, ch := range c.selector.Window(market) {
		usd, err := c.converter.ConvertToUsd(ch.Currency, ch.Amount)
		if err != nil {
			return 0, err
		}
		total += usd
	}
	return total, nil
}
