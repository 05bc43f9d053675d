package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/config"
	"github.com/atlas-desktop/execution-monitor/internal/quote"
	"github.com/atlas-desktop/execution-monitor/internal/state"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	st, err := state.New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	return New(nil, st, zap.NewNop())
}

func snapshotWithSignals(q *quote.Stub, tickers []string, sig types.TechnicalSignal) types.PortfolioSnapshot {
	positions := map[string]types.Position{}
	for _, tk := range tickers {
		positions[tk] = types.Position{Ticker: tk, Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(100)}
		q.Signals[tk] = sig
	}
	return types.PortfolioSnapshot{Positions: positions}
}

func TestEvaluate_EntersRotationOnStrongSellMajority(t *testing.T) {
	c := newTestController(t)
	q := quote.NewStub()
	snap := snapshotWithSignals(q, []string{"A", "B", "C"}, types.StrongSell)
	cfg := config.RotationTrigger{Enabled: true, StrongSellThreshold: 0.6, RecoveryThreshold: 0.6}

	if err := c.Evaluate(context.Background(), snap, q, cfg, time.Now()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !c.CurrentState().Active {
		t.Fatal("expected rotation mode to be active")
	}
}

func TestEvaluate_DisabledNeverEnters(t *testing.T) {
	c := newTestController(t)
	q := quote.NewStub()
	snap := snapshotWithSignals(q, []string{"A", "B"}, types.StrongSell)
	cfg := config.RotationTrigger{Enabled: false, StrongSellThreshold: 0.5}

	if err := c.Evaluate(context.Background(), snap, q, cfg, time.Now()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.CurrentState().Active {
		t.Fatal("expected rotation mode to stay inactive when disabled")
	}
}

func TestEvaluate_ExitsOnRecoveryThreshold(t *testing.T) {
	c := newTestController(t)
	enteredAt := time.Now().Add(-time.Hour)
	if err := c.State.WriteAtomic(state.FileRotationMode, state.RotationModeState{Active: true, EnteredAt: enteredAt}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	q := quote.NewStub()
	snap := snapshotWithSignals(q, []string{"A", "B"}, types.StrongBuy)
	cfg := config.RotationTrigger{Enabled: true, StrongSellThreshold: 0.6, RecoveryThreshold: 0.5}

	if err := c.Evaluate(context.Background(), snap, q, cfg, time.Now()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.CurrentState().Active {
		t.Fatal("expected rotation mode to exit on recovery")
	}
}

func TestEvaluate_ExitsOnMaxDays(t *testing.T) {
	c := newTestController(t)
	enteredAt := time.Now().Add(-240 * time.Hour)
	if err := c.State.WriteAtomic(state.FileRotationMode, state.RotationModeState{Active: true, EnteredAt: enteredAt}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	q := quote.NewStub()
	snap := snapshotWithSignals(q, []string{"A", "B"}, types.Hold)
	cfg := config.RotationTrigger{Enabled: true, StrongSellThreshold: 0.6, RecoveryThreshold: 0.9, MaxDays: 5}

	if err := c.Evaluate(context.Background(), snap, q, cfg, time.Now()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.CurrentState().Active {
		t.Fatal("expected rotation mode to exit once MaxDays is exceeded")
	}
}

func TestEvaluate_NoLongPositionsIsNoOp(t *testing.T) {
	c := newTestController(t)
	q := quote.NewStub()
	snap := types.PortfolioSnapshot{Positions: map[string]types.Position{}}
	cfg := config.RotationTrigger{Enabled: true, StrongSellThreshold: 0.5}

	if err := c.Evaluate(context.Background(), snap, q, cfg, time.Now()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.CurrentState().Active {
		t.Fatal("expected no state change with no long positions")
	}
}
