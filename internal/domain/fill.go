package domain

import "time"

// OrderFill records one execution of an order.
type OrderFill struct {
	TradeId     string
	ReceiveTime time.Time
	Price       float64
	Amount      float64
	Cost        float64
	Role        Role

	CommissionCurrency CurrencyId
	CommissionAmount   float64

	// ConvertedCommissionCurrency/Amount hold the commission re-expressed in
	// the market's quote currency when CommissionCurrency is neither the
	// market's base nor quote currency (a venue discount token). Equal to
	// CommissionCurrency/Amount when no conversion was necessary.
	ConvertedCommissionCurrency CurrencyId
	ConvertedCommissionAmount   float64

	Source EventSourceType
	Type   FillType
}

// FillAmountKind distinguishes whether a wire fill event reports the
// incremental execution size or the cumulative filled amount to date.
type FillAmountKind int

const (
	FillIncremental FillAmountKind = iota
	FillTotal
)

// FillEvent is the adapter-normalized notification of an execution, prior
// to reconciliation against the order's current state.
type FillEvent struct {
	TradeId         string
	ClientOrderId   string
	ExchangeOrderId string
	Price           float64
	AmountKind      FillAmountKind
	Amount          float64 // meaning depends on AmountKind
	Role            Role
	CommissionCurrency CurrencyId
	CommissionRate     float64
	CommissionAmount   float64
	Type            FillType
	Source          EventSourceType
	ReceiveTime     time.Time
}
