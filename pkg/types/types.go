// Package types holds the shared data model for the execution monitor:
// positions, portfolio snapshots, orders and the actions the policy engine
// emits. Every monetary and quantity field here uses decimal.Decimal so
// that value comparisons (a circuit breaker at exactly -2.0%) are exact
// rather than float-approximate. VIX readings and configuration fractions
// are float64 and live outside this package.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of a submitted order.
type OrderSide string

const (
	Buy   OrderSide = "BUY"
	Sell  OrderSide = "SELL"
	Short OrderSide = "SHORT"
	Cover OrderSide = "COVER"
)

// OrderType is the execution style of a submitted order.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus is the broker-reported outcome of a submitted order.
type OrderStatus string

const (
	StatusFilled   OrderStatus = "filled"
	StatusPartial  OrderStatus = "partial"
	StatusRejected OrderStatus = "rejected"
	StatusError    OrderStatus = "error"
)

// TechnicalSignal is the Quote Port's per-ticker signal classification.
type TechnicalSignal string

const (
	StrongBuy  TechnicalSignal = "STRONG_BUY"
	SignalBuy  TechnicalSignal = "BUY"
	Hold       TechnicalSignal = "HOLD"
	SignalSell TechnicalSignal = "SELL"
	StrongSell TechnicalSignal = "STRONG_SELL"
	Unknown    TechnicalSignal = "UNKNOWN"
)

// VIXRegime buckets the volatility index into stop-loss tightness tiers.
type VIXRegime string

const (
	Calm     VIXRegime = "CALM"
	Normal   VIXRegime = "NORMAL"
	Elevated VIXRegime = "ELEVATED"
	High     VIXRegime = "HIGH"
)

// Position is a single open holding. A ticker has at most one Position;
// the sign of Quantity is stable for its lifetime (positive = long,
// negative = short) and closing a position removes the record entirely.
type Position struct {
	Ticker       string          `json:"ticker"`
	Quantity     decimal.Decimal `json:"quantity"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// IsLong reports whether the position is a long holding.
func (p Position) IsLong() bool { return p.Quantity.IsPositive() }

// IsShort reports whether the position is a short holding.
func (p Position) IsShort() bool { return p.Quantity.IsNegative() }

// Notional is the signed market value of the position.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// UnrealizedPnLPct is the sign-corrected return from average cost as a
// fraction (0.10 = 10%): positive for a long that has gained, positive for
// a short that has fallen.
func (p Position) UnrealizedPnLPct() decimal.Decimal {
	if p.AverageCost.IsZero() {
		return decimal.Zero
	}
	raw := p.CurrentPrice.Sub(p.AverageCost).Div(p.AverageCost)
	if p.IsShort() {
		return raw.Neg()
	}
	return raw
}

// PortfolioSnapshot is an immutable view of the account taken once per
// monitor cycle. Cash may be negative (margin debit).
type PortfolioSnapshot struct {
	Cash      decimal.Decimal     `json:"cash"`
	Positions map[string]Position `json:"positions"`
	AsOf      time.Time           `json:"as_of"`
}

// TotalValue is cash plus the sum of every position's notional value.
func (s PortfolioSnapshot) TotalValue() decimal.Decimal {
	total := s.Cash
	for _, p := range s.Positions {
		total = total.Add(p.Notional())
	}
	return total
}

// LongPositions returns every position with positive quantity.
func (s PortfolioSnapshot) LongPositions() []Position {
	out := make([]Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		if p.IsLong() {
			out = append(out, p)
		}
	}
	return out
}

// ShortCount returns the number of currently open short positions.
func (s PortfolioSnapshot) ShortCount() int {
	n := 0
	for _, p := range s.Positions {
		if p.IsShort() {
			n++
		}
	}
	return n
}

// ActionType names the kind of order the policy engine proposes.
type ActionType string

const (
	StopLossExit         ActionType = "stop_loss_exit"
	ProfitProtectionExit ActionType = "profit_protection_exit"
	DipBuy               ActionType = "dip_buy"
	DefensiveTrim        ActionType = "defensive_trim"
	DefensiveExit        ActionType = "defensive_exit"
)

// Action is a proposed order the Monitor Loop executes through the Broker
// Port. The Policy Engine only ever produces these; it never performs I/O.
type Action struct {
	Type     ActionType      `json:"type"`
	Ticker   string          `json:"ticker"`
	Side     OrderSide       `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
	// RequestReview, when set, tells the monitor loop to also write a
	// scheduled-review alert file (profit-protection entries that mark
	// trigger_review).
	RequestReview bool `json:"request_review,omitempty"`
}

// Order is a request submitted to the Broker Port.
type Order struct {
	Ticker     string          `json:"ticker"`
	Side       OrderSide       `json:"side"`
	Type       OrderType       `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
}

// OrderResult is the Broker Port's response to a submitted order.
type OrderResult struct {
	OrderID   string          `json:"order_id"`
	Status    OrderStatus     `json:"status"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	FillPrice decimal.Decimal `json:"fill_price"`
	Message   string          `json:"message,omitempty"`
}
