// Package defensive implements the Defensive Controller: the state
// machine that tightens stops, closes losers and shorts, and offers the
// agent a safe-haven redeployment prompt when the circuit breaker or the
// overnight gap check fires.
package defensive

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/agent"
	"github.com/atlas-desktop/execution-monitor/internal/broker"
	"github.com/atlas-desktop/execution-monitor/internal/state"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// NewsScanner is the out-of-scope emergency-news-scan collaborator. This
// package only depends on the interface so the ordering invariant (scan
// before closing positions) is testable with a stub even though the real
// analytics provider is out of scope (spec.md §1, §4.7 step 1).
type NewsScanner interface {
	EmergencyScan(ctx context.Context) (summary string, err error)
}

// NoopScanner is a NewsScanner that returns an empty summary.
type NoopScanner struct{}

func (NoopScanner) EmergencyScan(ctx context.Context) (string, error) { return "", nil }

// Controller owns the defensive-mode state machine.
type Controller struct {
	Broker             broker.Broker
	Agent              agent.Port
	Scanner            NewsScanner
	State              *state.Store
	Log                *zap.Logger
	OpportunityReserveFraction float64
}

// New creates a Defensive Controller.
func New(b broker.Broker, a agent.Port, scanner NewsScanner, st *state.Store, reserveFraction float64, log *zap.Logger) *Controller {
	if scanner == nil {
		scanner = NoopScanner{}
	}
	return &Controller{Broker: b, Agent: a, Scanner: scanner, State: st, OpportunityReserveFraction: reserveFraction, Log: log.Named("defensive")}
}

// CurrentState reads the durable defensive-mode record.
func (c *Controller) CurrentState() state.DefensiveModeState {
	var s state.DefensiveModeState
	_ = c.State.Read(state.FileDefensiveMode, &s)
	return s
}

// Enter runs the ordered defensive-mode entry sequence: emergency scan,
// snapshot, close deep losers, close all shorts, compute excess cash and
// offer the agent a safe-haven prompt if it exceeds $1000, then persist
// state. The recorded pre-defensive value, used for the recovery-based
// exit condition, is the first snapshot's total value before any order.
// entryDate is the exchange-local YYYY-MM-DD the entry happened on.
func (c *Controller) Enter(ctx context.Context, triggerLossPct float64, entryDate string) error {
	var actions []string

	summary, err := c.Scanner.EmergencyScan(ctx)
	if err != nil {
		c.Log.Warn("emergency news scan failed, continuing", zap.Error(err))
	}
	actions = append(actions, fmt.Sprintf("emergency news scan: %s", summary))

	snapshot, err := c.Broker.GetPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("defensive: snapshot: %w", err)
	}

	for _, pos := range snapshot.Positions {
		pnl := pos.UnrealizedPnLPct()
		switch {
		case pos.IsLong() && pnl.LessThan(decimal.NewFromFloat(-0.10)):
			if _, err := c.Broker.SubmitOrder(ctx, types.Order{Ticker: pos.Ticker, Side: types.Sell, Type: types.Market, Quantity: pos.Quantity}); err != nil {
				c.Log.Error("defensive: close deep loser failed", zap.String("ticker", pos.Ticker), zap.Error(err))
				continue
			}
			actions = append(actions, fmt.Sprintf("closed long %s at %s P/L (deep loss)", pos.Ticker, pnl.Mul(decimal.NewFromInt(100)).StringFixed(1)))
		case pos.IsShort():
			if _, err := c.Broker.SubmitOrder(ctx, types.Order{Ticker: pos.Ticker, Side: types.Cover, Type: types.Market, Quantity: pos.Quantity.Abs()}); err != nil {
				c.Log.Error("defensive: cover short failed", zap.String("ticker", pos.Ticker), zap.Error(err))
				continue
			}
			actions = append(actions, fmt.Sprintf("covered short %s", pos.Ticker))
		case pos.IsLong() && pnl.GreaterThan(decimal.NewFromFloat(0.05)):
			actions = append(actions, fmt.Sprintf("retained strong performer %s (+%s%%)", pos.Ticker, pnl.Mul(decimal.NewFromInt(100)).StringFixed(1)))
		}
	}

	postSnapshot, err := c.Broker.GetPortfolio(ctx)
	if err != nil {
		return fmt.Errorf("defensive: post-action snapshot: %w", err)
	}
	totalValue := postSnapshot.TotalValue()
	reserve := totalValue.Mul(decimal.NewFromFloat(c.OpportunityReserveFraction))
	excess := postSnapshot.Cash.Sub(reserve)

	if excess.GreaterThan(decimal.NewFromInt(1000)) && c.Agent != nil {
		prompt := agent.BuildPrompt(agent.TriggerDefensive, agent.PromptContext{
			Snapshot: postSnapshot,
			Extra:    fmt.Sprintf("Excess cash available for redeployment: $%s", excess.StringFixed(2)),
		})
		if _, err := c.Agent.Invoke(ctx, agent.TriggerDefensive, "defensive", prompt); err != nil {
			c.Log.Warn("defensive redeployment agent invocation failed", zap.Error(err))
		}
		actions = append(actions, fmt.Sprintf("offered agent redeployment of excess cash $%s", excess.StringFixed(2)))
	}

	rec := state.DefensiveModeState{
		Active:         true,
		EnteredAt:      time.Now(),
		PreValue:       snapshot.TotalValue().InexactFloat64(),
		TriggerLossPct: triggerLossPct,
		Actions:        actions,
		EnteredOnDate:  entryDate,
	}
	return c.State.WriteAtomic(state.FileDefensiveMode, rec)
}

// ShouldExit reports whether defensive mode should end: a new
// exchange-local trading day has begun (currentDate differs from the
// entry date), or the portfolio has recovered to more than 1% above the
// pre-defensive entry value.
func (c *Controller) ShouldExit(currentValue decimal.Decimal, currentDate string) (bool, string) {
	rec := c.CurrentState()
	if !rec.Active {
		return false, ""
	}
	if currentDate != rec.EnteredOnDate {
		return true, "new trading day"
	}
	recoveryCeiling := decimal.NewFromFloat(rec.PreValue).Mul(decimal.NewFromFloat(1.01))
	if currentValue.GreaterThan(recoveryCeiling) {
		return true, "recovered more than 1% above pre-defensive value"
	}
	return false, ""
}

// Exit clears defensive-mode state, reverting the stop-loss policy to
// config-driven on the caller's next read of config.StopLossFor (which
// takes defensiveMode as a parameter, not a stored flag).
func (c *Controller) Exit(reason string) error {
	c.Log.Info("exiting defensive mode", zap.String("reason", reason))
	return c.State.WriteAtomic(state.FileDefensiveMode, state.DefensiveModeState{Active: false})
}
