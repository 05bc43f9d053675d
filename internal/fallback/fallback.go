// Package fallback implements the deterministic trimmer that runs when
// the Agent Port is unavailable: it applies the policy package's fallback
// rules to the live portfolio and places the resulting market orders
// directly through the Broker Port, journaling every action taken.
package fallback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/broker"
	"github.com/atlas-desktop/execution-monitor/internal/config"
	"github.com/atlas-desktop/execution-monitor/internal/policy"
	"github.com/atlas-desktop/execution-monitor/internal/state"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// Engine applies policy.FallbackRules and executes the resulting orders.
// It never opens new positions — every rule it runs is a trim or exit.
type Engine struct {
	Broker broker.Broker
	State  *state.Store
	Log    *zap.Logger
}

// New creates a Fallback Engine.
func New(b broker.Broker, st *state.Store, log *zap.Logger) *Engine {
	return &Engine{Broker: b, State: st, Log: log.Named("fallback")}
}

// Run fetches the current portfolio, evaluates the fallback rules and
// submits every resulting order, then journals the set of actions taken
// to fallback_actions.json with the cause "Claude API unavailable".
func (e *Engine) Run(ctx context.Context, cfg config.FallbackRules, rsi policy.RSIProvider) error {
	snapshot, err := e.Broker.GetPortfolio(ctx)
	if err != nil {
		return err
	}

	actions := policy.FallbackRules(snapshot, cfg, rsi)
	if len(actions) == 0 {
		return nil
	}

	var executed []map[string]any
	for _, a := range actions {
		result, err := e.Broker.SubmitOrder(ctx, types.Order{
			Ticker:   a.Ticker,
			Side:     a.Side,
			Type:     types.Market,
			Quantity: a.Quantity,
		})
		entry := map[string]any{
			"ticker":   a.Ticker,
			"side":     a.Side,
			"quantity": a.Quantity.String(),
			"reason":   a.Reason,
		}
		if err != nil {
			e.Log.Error("fallback order failed", zap.String("ticker", a.Ticker), zap.Error(err))
			entry["status"] = "error"
			entry["error"] = err.Error()
		} else {
			entry["status"] = string(result.Status)
			entry["order_id"] = result.OrderID
		}
		executed = append(executed, entry)
	}

	record := state.Alert{
		Timestamp:      time.Now(),
		AlertType:      "FALLBACK_ACTIONS",
		Status:         state.AlertCompleted,
		Payload:        map[string]any{"cause": "Claude API unavailable"},
		ExecutedTrades: executed,
	}
	return e.State.WriteAtomic(state.AlertFallbackActions, record)
}
