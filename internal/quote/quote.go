// Package quote defines the abstraction over the market-data provider:
// spot prices, the VIX reading and per-ticker technical signals. The
// provider itself is out of scope per spec.md §1; this package defines
// the port plus a stub implementation for tests and -paper runs.
package quote

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// Quote is the abstract market-data port. Every method returns an
// "unknown" zero value on error rather than propagating the error. A
// position whose spot price is unknown keeps the broker snapshot's last
// price for the cycle; the policy layer does not skip it.
type Quote interface {
	// Spot returns the last trade price for ticker, or (zero, false) if
	// unavailable.
	Spot(ctx context.Context, ticker string) (decimal.Decimal, bool)

	// VIX returns the current volatility-index spot, or (zero, false) if
	// unavailable.
	VIX(ctx context.Context) (decimal.Decimal, bool)

	// TechnicalSignal returns the current signal classification for
	// ticker. Always returns a value; UNKNOWN on any failure.
	TechnicalSignal(ctx context.Context, ticker string) types.TechnicalSignal
}

// Stub is a deterministic, in-memory Quote used for tests and -paper
// runs: it serves whatever prices/signals have been seeded and reports
// everything else unknown.
type Stub struct {
	Prices  map[string]decimal.Decimal
	VIXSpot decimal.Decimal
	HaveVIX bool
	Signals map[string]types.TechnicalSignal
}

// NewStub creates an empty Stub.
func NewStub() *Stub {
	return &Stub{
		Prices:  map[string]decimal.Decimal{},
		Signals: map[string]types.TechnicalSignal{},
	}
}

func (s *Stub) Spot(ctx context.Context, ticker string) (decimal.Decimal, bool) {
	p, ok := s.Prices[ticker]
	return p, ok
}

func (s *Stub) VIX(ctx context.Context) (decimal.Decimal, bool) {
	return s.VIXSpot, s.HaveVIX
}

func (s *Stub) TechnicalSignal(ctx context.Context, ticker string) types.TechnicalSignal {
	if sig, ok := s.Signals[ticker]; ok {
		return sig
	}
	return types.Unknown
}
