package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// Paper is an in-memory, no-network Broker used for -paper runs and
// tests. It fills every order immediately at the position's last known
// price (or the order's limit price for limit orders) and enforces the
// same long/short sign invariant a real broker must.
type Paper struct {
	mu                sync.Mutex
	cash              decimal.Decimal
	positions         map[string]types.Position
	maxShortPositions int
}

// NewPaper creates a Paper broker seeded with $100,000 cash and no
// positions.
func NewPaper() *Paper {
	return &Paper{
		cash:      decimal.NewFromInt(100000),
		positions: map[string]types.Position{},
	}
}

// SetMaxShortPositions configures the distinct-short-ticker cap SubmitOrder
// enforces for new SHORT orders. Zero (the default) means no cap.
func (p *Paper) SetMaxShortPositions(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxShortPositions = n
}

func (p *Paper) shortTickerCount() int {
	n := 0
	for _, pos := range p.positions {
		if pos.Quantity.IsNegative() {
			n++
		}
	}
	return n
}

// Seed replaces the paper account's cash and positions wholesale — used
// by tests to set up a scenario's starting snapshot.
func (p *Paper) Seed(cash decimal.Decimal, positions map[string]types.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = cash
	p.positions = positions
}

func (p *Paper) GetPortfolio(ctx context.Context) (types.PortfolioSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := types.PortfolioSnapshot{
		Cash:      p.cash,
		Positions: make(map[string]types.Position, len(p.positions)),
		AsOf:      time.Now(),
	}
	for k, v := range p.positions {
		snap.Positions[k] = v
	}
	return snap, nil
}

func (p *Paper) SubmitOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, exists := p.positions[order.Ticker]

	if order.Side == types.Short && p.maxShortPositions > 0 {
		opensNewShort := !exists || !pos.Quantity.IsNegative()
		if opensNewShort && p.shortTickerCount() >= p.maxShortPositions {
			return types.OrderResult{Status: types.StatusRejected, Message: ErrMaxShortPositions.Error()}, ErrMaxShortPositions
		}
	}

	price := pos.CurrentPrice
	if order.Type == types.Limit && !order.LimitPrice.IsZero() {
		price = order.LimitPrice
	}

	delta := order.Quantity
	switch order.Side {
	case types.Sell, types.Short:
		delta = delta.Neg()
	case types.Buy, types.Cover:
		// positive delta
	}

	if exists && !pos.Quantity.IsZero() {
		newQty := pos.Quantity.Add(delta)
		// Reject a sign flip that doesn't pass through flat: the
		// resulting quantity must not have the opposite sign of the
		// existing quantity unless the existing quantity is fully
		// closed out first (newQty and pos.Quantity share sign, or
		// newQty is zero, or pos.Quantity was zero).
		if !pos.Quantity.IsZero() && !newQty.IsZero() {
			sameSign := (pos.Quantity.IsPositive() && newQty.IsPositive()) ||
				(pos.Quantity.IsNegative() && newQty.IsNegative())
			if !sameSign {
				return types.OrderResult{Status: types.StatusRejected, Message: ErrSignMismatch.Error()}, ErrSignMismatch
			}
		}
		pos.Quantity = newQty
		if pos.Quantity.IsZero() {
			delete(p.positions, order.Ticker)
		} else {
			p.positions[order.Ticker] = pos
		}
	} else {
		p.positions[order.Ticker] = types.Position{
			Ticker:       order.Ticker,
			Quantity:     delta,
			AverageCost:  price,
			CurrentPrice: price,
		}
	}

	p.cash = p.cash.Sub(delta.Mul(price))

	return types.OrderResult{
		OrderID:   uuid.NewString(),
		Status:    types.StatusFilled,
		FilledQty: order.Quantity,
		FillPrice: price,
	}, nil
}

func (p *Paper) GetOpenOrders(ctx context.Context) ([]types.OrderResult, error) {
	return nil, nil // paper orders fill synchronously; never stay open
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}
