package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/broker"
	"github.com/atlas-desktop/execution-monitor/internal/clock"
	"github.com/atlas-desktop/execution-monitor/internal/config"
	"github.com/atlas-desktop/execution-monitor/internal/defensive"
	"github.com/atlas-desktop/execution-monitor/internal/fallback"
	"github.com/atlas-desktop/execution-monitor/internal/quote"
	"github.com/atlas-desktop/execution-monitor/internal/rotation"
	"github.com/atlas-desktop/execution-monitor/internal/state"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

func nyFixed(t *testing.T, hh, mm int) clock.Fixed {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	ny := time.Date(2026, 3, 4, hh, mm, 0, 0, loc)
	return clock.Fixed{Exchange: ny, Local: ny}
}

func newTestMonitor(t *testing.T, cl clock.Clock) (*Monitor, *broker.Paper, *state.Store) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	body := `{
		"default_stop_loss": 0.20,
		"daily_loss_limit_pct": 0.02,
		"review_intervals": {"strategy_hours": 2, "discovery_hours": 4, "discovery_start_clock": "09:30"}
	}`
	writeFile(t, configPath, body)

	cfgStore := config.New(configPath, zap.NewNop())
	if _, err := cfgStore.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	st, err := state.New(filepath.Join(dir, "state"), zap.NewNop())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}

	b := broker.NewPaper()
	q := quote.NewStub()
	fb := fallback.New(b, st, zap.NewNop())
	defCtl := defensive.New(b, nil, nil, st, 0.10, zap.NewNop())
	rotCtl := rotation.New(nil, st, zap.NewNop())

	m := New(cl, cfgStore, st, b, q, nil, fb, defCtl, rotCtl, zap.NewNop())
	return m, b, st
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestRunCycle_OutOfMarketUsesOutOfMarketInterval(t *testing.T) {
	cl := nyFixed(t, 20, 0)
	m, _, _ := newTestMonitor(t, cl)
	if got := m.runCycle(context.Background()); got != OutOfMarketInterval {
		t.Fatalf("expected OutOfMarketInterval outside market hours, got %v", got)
	}
}

func TestRunCycle_InMarketUsesCheckInterval(t *testing.T) {
	cl := nyFixed(t, 10, 0)
	m, _, _ := newTestMonitor(t, cl)
	if got := m.runCycle(context.Background()); got != CheckInterval {
		t.Fatalf("expected CheckInterval in market hours, got %v", got)
	}
}

func TestRunCycle_StopLossTriggersOrderExecution(t *testing.T) {
	cl := nyFixed(t, 10, 0)
	m, b, _ := newTestMonitor(t, cl)
	b.Seed(decimal.NewFromInt(10000), map[string]types.Position{
		"AAPL": {Ticker: "AAPL", Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(79)},
	})

	m.runCycle(context.Background())

	snap, err := b.GetPortfolio(context.Background())
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if _, ok := snap.Positions["AAPL"]; ok {
		t.Fatal("expected the stop-loss position to be closed out")
	}
}

func TestRunCycle_VIXElevatedTrimsAndTightensPerTickerStop(t *testing.T) {
	cl := nyFixed(t, 10, 0)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	body := `{
		"default_stop_loss": 0.20,
		"daily_loss_limit_pct": 0.02,
		"review_intervals": {"strategy_hours": 2, "discovery_hours": 4, "discovery_start_clock": "09:30"},
		"high_beta_positions": {"AMD": {"beta": 2.0, "extreme": true}}
	}`
	writeFile(t, configPath, body)

	cfgStore := config.New(configPath, zap.NewNop())
	if _, err := cfgStore.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	st, err := state.New(filepath.Join(dir, "state"), zap.NewNop())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}
	b := broker.NewPaper()
	b.Seed(decimal.NewFromInt(10000), map[string]types.Position{
		"AMD": {Ticker: "AMD", Quantity: decimal.NewFromInt(10), AverageCost: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(100)},
	})
	q := quote.NewStub()
	q.HaveVIX = true
	q.VIXSpot = decimal.NewFromInt(25) // ELEVATED

	fb := fallback.New(b, st, zap.NewNop())
	defCtl := defensive.New(b, nil, nil, st, 0.10, zap.NewNop())
	rotCtl := rotation.New(nil, st, zap.NewNop())
	m := New(cl, cfgStore, st, b, q, nil, fb, defCtl, rotCtl, zap.NewNop())
	// The previous reading was NORMAL, so VIX 25 is a significant transition.
	m.lastVIXRegime = types.Normal
	m.haveVIXRegime = true

	m.runCycle(context.Background())

	snap, err := b.GetPortfolio(context.Background())
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	pos, ok := snap.Positions["AMD"]
	if !ok {
		t.Fatal("expected AMD position to remain after a 50% trim")
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected AMD trimmed to 5 shares, got %v", pos.Quantity)
	}
	if got := m.stopOverrides["AMD"]; got != 0.10 {
		t.Fatalf("expected per-ticker stop override of 0.10 for AMD, got %v", got)
	}
}

func TestRunCycle_CircuitBreakerEntersDefensiveMode(t *testing.T) {
	cl := nyFixed(t, 10, 0)
	m, b, st := newTestMonitor(t, cl)
	b.Seed(decimal.NewFromInt(10000), nil)

	// First cycle establishes dayStartValue.
	m.runCycle(context.Background())

	// Drop the account value by more than the 2% daily loss limit.
	b.Seed(decimal.NewFromInt(9700), nil)
	m.runCycle(context.Background())

	var def state.DefensiveModeState
	if err := st.Read(state.FileDefensiveMode, &def); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !def.Active {
		t.Fatal("expected defensive mode to activate after a circuit-breaker-triggering drop")
	}
}
