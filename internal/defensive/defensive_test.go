package defensive

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/state"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

type fakeBroker struct {
	snapshot types.PortfolioSnapshot
	orders   []types.Order
}

func (f *fakeBroker) GetPortfolio(ctx context.Context) (types.PortfolioSnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	f.orders = append(f.orders, order)
	// Apply the order to the snapshot so the post-action snapshot reflects it.
	pos, ok := f.snapshot.Positions[order.Ticker]
	if ok {
		switch order.Side {
		case types.Sell, types.Cover:
			delete(f.snapshot.Positions, order.Ticker)
			f.snapshot.Cash = f.snapshot.Cash.Add(order.Quantity.Mul(pos.CurrentPrice))
		}
	}
	return types.OrderResult{Status: types.StatusFilled}, nil
}

func (f *fakeBroker) GetOpenOrders(ctx context.Context) ([]types.OrderResult, error) { return nil, nil }
func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error          { return nil }

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return st
}

func TestEnter_ClosesDeepLosersAndCoversShorts(t *testing.T) {
	b := &fakeBroker{snapshot: types.PortfolioSnapshot{
		Cash: decimal.NewFromInt(10000),
		Positions: map[string]types.Position{
			"LOSER": {Ticker: "LOSER", Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(85)},
			"SHORT": {Ticker: "SHORT", Quantity: decimal.NewFromInt(-5), AverageCost: decimal.NewFromInt(50), CurrentPrice: decimal.NewFromInt(50)},
		},
	}}
	st := newTestStore(t)
	c := New(b, nil, nil, st, 0.10, zap.NewNop())

	if err := c.Enter(context.Background(), 0.02, "2026-03-04"); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	if len(b.orders) != 2 {
		t.Fatalf("expected 2 orders (close loser + cover short), got %d", len(b.orders))
	}
	rec := c.CurrentState()
	if !rec.Active {
		t.Fatal("expected defensive mode active after Enter")
	}
	if rec.EnteredOnDate != "2026-03-04" {
		t.Fatalf("unexpected entered-on date: %s", rec.EnteredOnDate)
	}
}

func TestEnter_RetainsStrongPerformers(t *testing.T) {
	b := &fakeBroker{snapshot: types.PortfolioSnapshot{
		Cash: decimal.NewFromInt(10000),
		Positions: map[string]types.Position{
			"WINNER": {Ticker: "WINNER", Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(110)},
		},
	}}
	st := newTestStore(t)
	c := New(b, nil, nil, st, 0.10, zap.NewNop())

	if err := c.Enter(context.Background(), 0.02, "2026-03-04"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if len(b.orders) != 0 {
		t.Fatalf("expected no orders against a strong performer, got %d", len(b.orders))
	}
}

func TestShouldExit_NewTradingDay(t *testing.T) {
	st := newTestStore(t)
	c := New(&fakeBroker{}, nil, nil, st, 0.10, zap.NewNop())
	if err := st.WriteAtomic(state.FileDefensiveMode, state.DefensiveModeState{Active: true, PreValue: 10000, EnteredOnDate: "2026-03-04"}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	should, reason := c.ShouldExit(decimal.NewFromInt(9000), "2026-03-05")
	if !should || reason == "" {
		t.Fatalf("expected exit on a new trading day, got should=%v reason=%q", should, reason)
	}
}

func TestShouldExit_RecoveredMoreThanOnePercentAboveEntry(t *testing.T) {
	st := newTestStore(t)
	c := New(&fakeBroker{}, nil, nil, st, 0.10, zap.NewNop())
	if err := st.WriteAtomic(state.FileDefensiveMode, state.DefensiveModeState{Active: true, PreValue: 10000, EnteredOnDate: "2026-03-04"}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	should, _ := c.ShouldExit(decimal.NewFromInt(10101), "2026-03-04")
	if !should {
		t.Fatal("expected exit once recovered more than 1% above the pre-defensive value")
	}
}

func TestShouldExit_StaysActiveJustAtOnePercent(t *testing.T) {
	st := newTestStore(t)
	c := New(&fakeBroker{}, nil, nil, st, 0.10, zap.NewNop())
	if err := st.WriteAtomic(state.FileDefensiveMode, state.DefensiveModeState{Active: true, PreValue: 10000, EnteredOnDate: "2026-03-04"}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	// Exactly at entry value (and exactly at the 1% ceiling) must not exit -
	// defensive mode should persist until a genuine recovery above 1%.
	should, _ := c.ShouldExit(decimal.NewFromInt(10000), "2026-03-04")
	if should {
		t.Fatal("expected to remain in defensive mode immediately after entry")
	}
	should, _ = c.ShouldExit(decimal.NewFromInt(10100), "2026-03-04")
	if should {
		t.Fatal("expected to remain in defensive mode exactly at the 1% ceiling")
	}
}

func TestShouldExit_StaysActiveWhenNeitherConditionHolds(t *testing.T) {
	st := newTestStore(t)
	c := New(&fakeBroker{}, nil, nil, st, 0.10, zap.NewNop())
	if err := st.WriteAtomic(state.FileDefensiveMode, state.DefensiveModeState{Active: true, PreValue: 10000, EnteredOnDate: "2026-03-04"}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	should, _ := c.ShouldExit(decimal.NewFromInt(8000), "2026-03-04")
	if should {
		t.Fatal("expected to remain in defensive mode")
	}
}

func TestShouldExit_InactiveIsNoOp(t *testing.T) {
	st := newTestStore(t)
	c := New(&fakeBroker{}, nil, nil, st, 0.10, zap.NewNop())
	should, reason := c.ShouldExit(decimal.NewFromInt(10000), "2026-03-04")
	if should || reason != "" {
		t.Fatalf("expected no-op when not active, got should=%v reason=%q", should, reason)
	}
}
