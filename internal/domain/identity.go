// Package domain holds the shared value types for the trading engine:
// exchange identity, order headers and mutable order state, fills, order
// book snapshots and the typed events adapters normalize into.
package domain

import (
	"fmt"
	"strings"
	"sync"
)

// ExchangeId is an interned exchange name, e.g. "binance".
type ExchangeId struct{ s string }

// ExchangeAccountId identifies one account on one exchange, e.g. a second
// sub-account on the same venue.
type ExchangeAccountId struct {
	Exchange     ExchangeId
	AccountIndex int
}

// CurrencyId is an interned currency code, e.g. "BTC".
type CurrencyId struct{ s string }

// CurrencyPair is an interned "base/quote" pair with a cheap derived split.
type CurrencyPair struct {
	s           string
	base, quote CurrencyId
}

// MarketId identifies one currency pair on one exchange.
type MarketId struct {
	Exchange ExchangeId
	Pair     CurrencyPair
}

// MarketAccountId identifies one currency pair traded by one exchange
// account — the "market-account" of the specification.
type MarketAccountId struct {
	Account ExchangeAccountId
	Pair    CurrencyPair
}

var (
	exchangeInternMu sync.Mutex
	exchangeIntern    = map[string]ExchangeId{}

	currencyInternMu sync.Mutex
	currencyIntern    = map[string]CurrencyId{}

	pairInternMu sync.Mutex
	pairIntern    = map[string]CurrencyPair{}
)

// InternExchange returns the canonical ExchangeId for name, interning it on
// first use so later comparisons and copies are cheap.
func InternExchange(name string) ExchangeId {
	exchangeInternMu.Lock()
	defer exchangeInternMu.Unlock()
	if id, ok := exchangeIntern[name]; ok {
		return id
	}
	id := ExchangeId{s: name}
	exchangeIntern[name] = id
	return id
}

func (e ExchangeId) String() string { return e.s }

// IsZero reports whether e was never assigned an interned value.
func (e ExchangeId) IsZero() bool { return e.s == "" }

// InternCurrency returns the canonical CurrencyId for code.
func InternCurrency(code string) CurrencyId {
	currencyInternMu.Lock()
	defer currencyInternMu.Unlock()
	if id, ok := currencyIntern[code]; ok {
		return id
	}
	id := CurrencyId{s: code}
	currencyIntern[code] = id
	return id
}

func (c CurrencyId) String() string { return c.s }

// InternCurrencyPair parses and interns a "base/quote" string.
func InternCurrencyPair(s string) (CurrencyPair, error) {
	pairInternMu.Lock()
	defer pairInternMu.Unlock()
	if p, ok := pairIntern[s]; ok {
		return p, nil
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CurrencyPair{}, fmt.Errorf("invalid currency pair %q: want \"base/quote\"", s)
	}
	p := CurrencyPair{
		s:     s,
		base:  InternCurrency(parts[0]),
		quote: InternCurrency(parts[1]),
	}
	pairIntern[s] = p
	return p, nil
}

// MustInternCurrencyPair is InternCurrencyPair for call sites with a known
// well-formed constant, e.g. tests and static config defaults.
func MustInternCurrencyPair(s string) CurrencyPair {
	p, err := InternCurrencyPair(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p CurrencyPair) String() string    { return p.s }
func (p CurrencyPair) Base() CurrencyId  { return p.base }
func (p CurrencyPair) Quote() CurrencyId { return p.quote }
func (p CurrencyPair) IsZero() bool      { return p.s == "" }

func (a ExchangeAccountId) String() string {
	return fmt.Sprintf("%s:%d", a.Exchange, a.AccountIndex)
}

func (m MarketId) String() string {
	return fmt.Sprintf("%s/%s", m.Exchange, m.Pair)
}

func (m MarketAccountId) String() string {
	return fmt.Sprintf("%s/%s", m.Account, m.Pair)
}
