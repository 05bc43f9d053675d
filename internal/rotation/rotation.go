// Package rotation implements the Rotation Controller: it watches the
// aggregate technical-signal mix across long holdings during scheduled
// reviews and directs the agent to rotate into or out of a configured
// "vice" ticker set. It never places trades itself — the agent is the
// sole decider once the controller fires (spec.md §4.8).
package rotation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/agent"
	"github.com/atlas-desktop/execution-monitor/internal/config"
	"github.com/atlas-desktop/execution-monitor/internal/quote"
	"github.com/atlas-desktop/execution-monitor/internal/state"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// Controller owns the rotation-mode state machine.
type Controller struct {
	Agent agent.Port
	State *state.Store
	Log   *zap.Logger
}

// New creates a Rotation Controller.
func New(a agent.Port, st *state.Store, log *zap.Logger) *Controller {
	return &Controller{Agent: a, State: st, Log: log.Named("rotation")}
}

// CurrentState reads the durable rotation-mode record.
func (c *Controller) CurrentState() state.RotationModeState {
	var s state.RotationModeState
	_ = c.State.Read(state.FileRotationMode, &s)
	return s
}

// Evaluate is called during scheduled reviews, before the Policy Engine
// runs for the cycle; neither it nor its caller checks whether the Policy
// Engine has actions to execute in that cycle. It computes
// the signal mix across long holdings, applies the enter/exit thresholds
// and, on a transition, invokes the agent with the rotation prompt.
func (c *Controller) Evaluate(ctx context.Context, snapshot types.PortfolioSnapshot, q quote.Quote, cfg config.RotationTrigger, now time.Time) error {
	if !cfg.Enabled {
		return nil
	}
	longs := snapshot.LongPositions()
	if len(longs) == 0 {
		return nil
	}

	var strongSell, strongBuy int
	for _, pos := range longs {
		switch q.TechnicalSignal(ctx, pos.Ticker) {
		case types.StrongSell:
			strongSell++
		case types.StrongBuy:
			strongBuy++
		}
	}
	sellFrac := float64(strongSell) / float64(len(longs))
	buyFrac := float64(strongBuy) / float64(len(longs))

	current := c.CurrentState()

	if !current.Active && sellFrac >= cfg.StrongSellThreshold {
		return c.enter(ctx, cfg, now, sellFrac)
	}

	if current.Active {
		daysSince := now.Sub(current.EnteredAt).Hours() / 24
		if buyFrac >= cfg.RecoveryThreshold || (cfg.MaxDays > 0 && int(daysSince) >= cfg.MaxDays) {
			return c.exit(ctx, cfg, buyFrac, daysSince)
		}
	}
	return nil
}

func (c *Controller) enter(ctx context.Context, cfg config.RotationTrigger, now time.Time, sellFrac float64) error {
	c.Log.Info("entering rotation mode", zap.Float64("strong_sell_fraction", sellFrac))
	if err := c.State.WriteAtomic(state.FileRotationMode, state.RotationModeState{Active: true, EnteredAt: now}); err != nil {
		return err
	}
	if c.Agent != nil {
		prompt := agent.BuildPrompt(agent.TriggerRotation, agent.PromptContext{
			Extra: fmt.Sprintf("Rotating INTO the vice ticker set %v, capped at %.0f%% of portfolio. %.0f%% of long holdings are STRONG_SELL.",
				cfg.ViceTickers, cfg.MaxVicePortfolioPct*100, sellFrac*100),
		})
		if _, err := c.Agent.Invoke(ctx, agent.TriggerRotation, "rotation_enter", prompt); err != nil {
			c.Log.Warn("rotation-enter agent invocation failed", zap.Error(err))
		}
	}
	return nil
}

func (c *Controller) exit(ctx context.Context, cfg config.RotationTrigger, buyFrac float64, daysSince float64) error {
	c.Log.Info("exiting rotation mode", zap.Float64("strong_buy_fraction", buyFrac), zap.Float64("days_since_entry", daysSince))
	if err := c.State.WriteAtomic(state.FileRotationMode, state.RotationModeState{Active: false}); err != nil {
		return err
	}
	if c.Agent != nil {
		prompt := agent.BuildPrompt(agent.TriggerRotation, agent.PromptContext{
			Extra: fmt.Sprintf("Rotating OUT OF the vice ticker set %v back into growth holdings. %.0f%% of long holdings are now STRONG_BUY.",
				cfg.ViceTickers, buyFrac*100),
		})
		if _, err := c.Agent.Invoke(ctx, agent.TriggerRotation, "rotation_exit", prompt); err != nil {
			c.Log.Warn("rotation-exit agent invocation failed", zap.Error(err))
		}
	}
	return nil
}
