package balance

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/marketmaker/internal/domain"
)

// ReservationId identifies one locally recorded claim on available balance
// backing a pending or planned order.
type ReservationId int64

// Reservation is a recorded claim on balance for a not-yet-final order.
type Reservation struct {
	Account  domain.ExchangeAccountId
	Pair     domain.CurrencyPair
	Side     domain.Side
	Price    float64
	Amount   float64
	Currency domain.CurrencyId
}

// ReserveParams are the inputs to Manager.Reserve.
type ReserveParams struct {
	Configuration string
	Account       domain.ExchangeAccountId
	Symbol        domain.Symbol
	Side          domain.Side
	Price         float64
	Amount        float64
}

// Manager sits above Holder, adding reservation bookkeeping, leverage- and
// limit-aware available-balance queries, and the position-change log the
// profit/loss stopper consults.
type Manager struct {
	Holder *Holder
	Log    *PositionChangeLog

	mu              sync.Mutex
	nextReservation int64
	reservations    map[ReservationId]Reservation

	// LeverageByPair maps a currency pair to its configured leverage
	// multiplier (1.0 if unset / not a derivative).
	LeverageByPair map[domain.CurrencyPair]float64

	// TargetAmountLimits caps the amount (in amount-currency) a single
	// configuration/account/symbol combination may reserve at once.
	TargetAmountLimits map[string]float64
}

// NewManager constructs a balance manager over holder.
func NewManager(holder *Holder) *Manager {
	return &Manager{
		Holder:             holder,
		Log:                NewPositionChangeLog(),
		reservations:       map[ReservationId]Reservation{},
		LeverageByPair:     map[domain.CurrencyPair]float64{},
		TargetAmountLimits: map[string]float64{},
	}
}

func limitKey(cfg string, account domain.ExchangeAccountId, pair domain.CurrencyPair) string {
	return fmt.Sprintf("%s|%s|%s", cfg, account, pair)
}

// leverage returns the configured leverage for pair, defaulting to 1.
func (m *Manager) leverage(pair domain.CurrencyPair) float64 {
	if l, ok := m.LeverageByPair[pair]; ok && l > 0 {
		return l
	}
	return 1
}

// Reserve records a pending claim on balance, rejecting it if available
// balance is insufficient. Returns the new reservation id.
func (m *Manager) Reserve(p ReserveParams) (ReservationId, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available, ok := m.availableLocked(p.Configuration, p.Account, p.Symbol, p.Side, p.Price)
	if !ok || available < p.Amount {
		return 0, false
	}

	m.nextReservation++
	id := ReservationId(m.nextReservation)

	reserveCurrency := p.Symbol.Pair.Quote()
	delta := -p.Amount * p.Price
	if p.Side == domain.Buy {
		// buying spends quote currency
	} else {
		reserveCurrency = p.Symbol.Pair.Base()
		delta = -p.Amount
	}

	key := DiffKey{Configuration: p.Configuration, Account: p.Account, Pair: p.Symbol.Pair, Currency: reserveCurrency}
	m.Holder.AddBalance(key, delta)

	m.reservations[id] = Reservation{
		Account: p.Account, Pair: p.Symbol.Pair, Side: p.Side,
		Price: p.Price, Amount: p.Amount, Currency: reserveCurrency,
	}
	return id, true
}

// Unreserve releases a reservation, crediting back the unfilled portion
// (Amount - fillAmount).
func (m *Manager) Unreserve(cfg string, id ReservationId, fillAmount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return
	}
	delete(m.reservations, id)

	remaining := r.Amount - fillAmount
	if remaining <= 0 {
		return
	}
	delta := remaining
	if r.Side == domain.Buy {
		delta = remaining * r.Price
	}
	key := DiffKey{Configuration: cfg, Account: r.Account, Pair: r.Pair, Currency: r.Currency}
	m.Holder.AddBalance(key, delta)
}

// GetLeveragedBalanceInAmountCurrency returns the amount the strategy may
// use for one new order of the given side, applying leverage and any
// configured target-amount limit.
func (m *Manager) GetLeveragedBalanceInAmountCurrency(cfg string, account domain.ExchangeAccountId, symbol domain.Symbol, side domain.Side, price float64) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableLocked(cfg, account, symbol, side, price)
}

func (m *Manager) availableLocked(cfg string, account domain.ExchangeAccountId, symbol domain.Symbol, side domain.Side, price float64) (float64, bool) {
	currency := symbol.Pair.Quote()
	if side == domain.Sell {
		currency = symbol.Pair.Base()
	}

	key := DiffKey{Configuration: cfg, Account: account, Pair: symbol.Pair, Currency: currency}
	var priceRef *float64
	if symbol.IsDerivative {
		priceRef = &price
	}
	balance, ok := m.Holder.GetVirtualBalance(key, symbol, priceRef)
	if !ok {
		return 0, false
	}

	amountCurrency := balance
	if side == domain.Buy {
		if price <= 0 {
			return 0, false
		}
		amountCurrency = balance / price
	}

	amountCurrency *= m.leverage(symbol.Pair)

	if limit, ok := m.TargetAmountLimits[limitKey(cfg, account, symbol.Pair)]; ok && limit < amountCurrency {
		amountCurrency = limit
	}
	if amountCurrency < 0 {
		amountCurrency = 0
	}
	return amountCurrency, true
}

// UpdateExchangeBalance is the authoritative update path invoked from the
// exchange event handler when a fresh balance snapshot arrives.
func (m *Manager) UpdateExchangeBalance(account domain.ExchangeAccountId, balances map[domain.CurrencyId]float64) {
	m.Holder.UpdateBalances(account, balances)
}

// Clone returns a snapshot Manager sharing LeverageByPair/TargetAmountLimits
// configuration but with its own copy of balances and reservations, so
// strategies can plan hypothetically without mutating live state.
func (m *Manager) Clone() *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()

	clonedHolder := NewHolder()
	m.Holder.mu.Lock()
	for acct, bals := range m.Holder.exchange {
		cp := make(map[domain.CurrencyId]float64, len(bals))
		for c, a := range bals {
			cp[c] = a
		}
		clonedHolder.exchange[acct] = cp
	}
	for k, v := range m.Holder.diff {
		clonedHolder.diff[k] = v
	}
	m.Holder.mu.Unlock()

	clone := NewManager(clonedHolder)
	clone.LeverageByPair = m.LeverageByPair
	clone.TargetAmountLimits = m.TargetAmountLimits
	clone.Log = m.Log
	for id, r := range m.reservations {
		clone.reservations[id] = r
	}
	clone.nextReservation = m.nextReservation
	return clone
}

// CloneAndSubtractNotApprovedData returns a snapshot with reservations
// reconciled against a provided set of currently-open orders: a reservation
// that reservationOrder maps to a client order id absent from
// openClientOrderIds is assumed settled and dropped from the clone.
// Reservations with no entry in reservationOrder are kept, and balances are
// copied unchanged.
func (m *Manager) CloneAndSubtractNotApprovedData(openClientOrderIds map[string]bool, reservationOrder map[ReservationId]string) *Manager {
	clone := m.Clone()
	clone.mu.Lock()
	defer clone.mu.Unlock()
	for id := range clone.reservations {
		clientId, known := reservationOrder[id]
		if known && !openClientOrderIds[clientId] {
			delete(clone.reservations, id)
		}
	}
	return clone
}

// GetLastPositionChangeBeforePeriod returns the latest position change at
// or before start for market, consulted by the balance-change period
// selector (§4.5) to decide which queued entries remain relevant.
func (m *Manager) GetLastPositionChangeBeforePeriod(market domain.MarketAccountId, start time.Time) (PositionChange, bool) {
	return m.Log.LastBefore(market, start)
}
