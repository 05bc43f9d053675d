// Package broker defines the abstraction over the brokerage account: a
// portfolio snapshot, order submission, open-order query and cancel. The
// brokerage client itself (order routing, account auth) is out of scope
// per spec.md §1 — this package defines the port and a registry of
// pluggable implementations, the way NitinKhare-trader's internal/broker
// package does, plus a paper broker usable for tests and -paper runs.
package broker

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// Broker is the only contract between the monitor and any concrete
// brokerage integration. Implementations hold no monitor state: all of
// the monitor's durable state lives in its own State Store, never inside
// a Broker (the paper broker keeps only its simulated account in memory).
type Broker interface {
	// GetPortfolio returns the current account snapshot.
	GetPortfolio(ctx context.Context) (types.PortfolioSnapshot, error)

	// SubmitOrder places an order and returns its outcome. Mixing long
	// and short quantity on the same ticker is forbidden at this level:
	// implementations must reject a SHORT request on a ticker already
	// long (and vice versa) rather than silently flip the position sign.
	SubmitOrder(ctx context.Context, order types.Order) (types.OrderResult, error)

	// GetOpenOrders lists orders that have not yet reached a terminal
	// status.
	GetOpenOrders(ctx context.Context) ([]types.OrderResult, error)

	// CancelOrder cancels a pending/open order by ID.
	CancelOrder(ctx context.Context, orderID string) error
}

// Factory builds a Broker from raw JSON configuration.
type Factory func(configJSON []byte) (Broker, error)

// Registry maps broker names to their factories. Concrete integrations
// register themselves here at init time; this package only ships the
// "paper" factory since any real brokerage client is out of scope.
var Registry = map[string]Factory{
	"paper": func([]byte) (Broker, error) { return NewPaper(), nil },
}

// New builds a Broker instance by registry name.
func New(name string, configJSON []byte) (Broker, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown broker %q (registered: %v)", name, names())
	}
	return factory(configJSON)
}

func names() []string {
	out := make([]string, 0, len(Registry))
	for n := range Registry {
		out = append(out, n)
	}
	return out
}

// ErrSignMismatch is returned when an order would flip a position's sign
// instead of passing through flat first.
var ErrSignMismatch = fmt.Errorf("broker: order would flip position sign without passing through flat")

// ErrMaxShortPositions is returned when a SHORT order would open a new
// short ticker while the account is already at its configured short
// position cap.
var ErrMaxShortPositions = fmt.Errorf("broker: account is at its maximum short position count")
