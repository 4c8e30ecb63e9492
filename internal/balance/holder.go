// Package balance implements the virtual balance holder and balance
// manager (§4.4): authoritative exchange-reported balances combined with
// locally tracked pending diffs from reservations and observed fills, plus
// reservation bookkeeping, leverage-aware available-balance queries, and
// the per-market-account position change log consumed by the profit/loss
// stopper.
package balance

import (
	"sync"

	"github.com/aristath/marketmaker/internal/domain"
)

// DiffKey identifies one pending-diff bucket: a strategy configuration
// operating on one exchange account and currency pair, for one currency.
type DiffKey struct {
	Configuration string
	Account       domain.ExchangeAccountId
	Pair          domain.CurrencyPair
	Currency      domain.CurrencyId
}

// Holder stores exchange-reported balances and pending local diffs, and
// answers virtual-balance queries that combine the two. A single coarse
// mutex guards both trees, per §5; callers must copy results out rather
// than retain references.
type Holder struct {
	mu sync.Mutex

	// exchange[account][currency] = authoritative amount last reported by
	// the exchange.
	exchange map[domain.ExchangeAccountId]map[domain.CurrencyId]float64

	// diff[key] = pending local delta not yet reflected by the exchange.
	diff map[DiffKey]float64
}

// NewHolder constructs an empty holder.
func NewHolder() *Holder {
	return &Holder{
		exchange: map[domain.ExchangeAccountId]map[domain.CurrencyId]float64{},
		diff:     map[DiffKey]float64{},
	}
}

// UpdateBalances replaces the authoritative balance map for account and
// resets to zero every diff entry for a currency present in the update —
// the exchange side now reflects what was previously only projected
// locally.
func (h *Holder) UpdateBalances(account domain.ExchangeAccountId, balances map[domain.CurrencyId]float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	updated := make(map[domain.CurrencyId]float64, len(balances))
	for c, a := range balances {
		updated[c] = a
	}
	h.exchange[account] = updated

	for key := range h.diff {
		if key.Account != account {
			continue
		}
		if _, touched := balances[key.Currency]; touched {
			delete(h.diff, key)
		}
	}
}

// AddBalance increments the diff entry for key by delta.
func (h *Holder) AddBalance(key DiffKey, delta float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.diff[key] += delta
}

// AddBalanceBySymbol converts deltaInAmountCurrency into the bucket
// currency (the request currency for non-derivatives, the symbol's balance
// currency for derivatives) using price, then applies it as a diff.
func (h *Holder) AddBalanceBySymbol(key DiffKey, symbol domain.Symbol, deltaInAmountCurrency, price float64) {
	target := key.Currency
	if symbol.IsDerivative {
		target = symbol.BalanceCurrency
	}
	converted := ConvertAmount(deltaInAmountCurrency, symbol.Pair.Base(), target, symbol.Pair, price)
	key.Currency = target
	h.AddBalance(key, converted)
}

// GetVirtualBalance returns the exchange-reported balance for
// (account, currency) plus the current diff for the given key. For
// derivatives, if price is required to convert and absent, ok is false.
// When the symbol's balance currency differs from the request currency,
// both the exchange balance and the diff are converted using price.
func (h *Holder) GetVirtualBalance(key DiffKey, symbol domain.Symbol, price *float64) (amount float64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	requestCurrency := key.Currency
	sourceCurrency := requestCurrency
	if symbol.IsDerivative {
		sourceCurrency = symbol.BalanceCurrency
	}

	needsConversion := sourceCurrency != requestCurrency
	if needsConversion && price == nil {
		return 0, false
	}

	exchangeAmt := h.exchange[key.Account][sourceCurrency]
	diffKey := key
	diffKey.Currency = sourceCurrency
	diffAmt := h.diff[diffKey]

	total := exchangeAmt + diffAmt
	if needsConversion {
		total = ConvertAmount(total, sourceCurrency, requestCurrency, symbol.Pair, *price)
	}
	return total, true
}

// ConvertAmount converts amount from currency `from` to currency `to`
// using pair's base/quote relationship and price expressed as quote-per-
// base. Returns amount unchanged if from == to.
func ConvertAmount(amount float64, from, to domain.CurrencyId, pair domain.CurrencyPair, price float64) float64 {
	if from == to {
		return amount
	}
	switch {
	case from == pair.Base() && to == pair.Quote():
		return amount * price
	case from == pair.Quote() && to == pair.Base():
		if price == 0 {
			return 0
		}
		return amount / price
	default:
		// Neither currency participates in pair — nothing sound to do but
		// pass the amount through; callers dealing with discount tokens
		// use ConvertCommission instead, which has its own fallback table.
		return amount
	}
}
