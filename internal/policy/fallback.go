package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/execution-monitor/internal/config"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// RSIProvider supplies an out-of-scope technicals reading for a ticker.
// The Fallback Engine is the only caller; RSI computation itself belongs
// to the (out-of-scope) technicals analytics component.
type RSIProvider func(ticker string) (float64, bool)

// FallbackRules evaluates the four deterministic trim rules over a live
// portfolio snapshot, applying spec.md §4.3's mutual-exclusion contract:
// rules (a)-(c) are evaluated per position with the first match winning,
// and rule (d) (cash-reserve floor) runs at most once per invocation,
// against the single best-performing position, after the per-position
// pass.
func FallbackRules(snapshot types.PortfolioSnapshot, cfg config.FallbackRules, rsi RSIProvider) []types.Action {
	var actions []types.Action
	totalValue := snapshot.TotalValue()

	for _, pos := range snapshot.LongPositions() {
		if a := perPositionFallback(pos, cfg, rsi); a != nil {
			actions = append(actions, *a)
			continue
		}
		if a := positionSizeFallback(pos, totalValue, cfg); a != nil {
			actions = append(actions, *a)
		}
	}

	if a := cashReserveFallback(snapshot, totalValue, cfg); a != nil {
		actions = append(actions, *a)
	}

	return actions
}

func perPositionFallback(pos types.Position, cfg config.FallbackRules, rsi RSIProvider) *types.Action {
	r, ok := rsi(pos.Ticker)
	if !ok {
		return nil
	}
	pnlPct := pos.UnrealizedPnLPct().InexactFloat64() * 100

	// (b) extreme overbought takes priority over (a) RSI profit-taking
	// since it fires on a strictly higher bar.
	if r > cfg.ExtremeOverboughtRSI && pnlPct > cfg.ExtremeOverboughtPnLPct {
		return trimAction(pos, cfg.ExtremeOverboughtTrimPct,
			fmt.Sprintf("fallback: extreme overbought (RSI %.0f, P/L +%.0f%%)", r, pnlPct))
	}
	if r > cfg.RSIProfitTakeThreshold && pnlPct > cfg.RSIProfitTakePnLPct {
		return trimAction(pos, cfg.RSIProfitTakeTrimPct,
			fmt.Sprintf("fallback: RSI profit-taking (RSI %.0f, P/L +%.0f%%)", r, pnlPct))
	}
	return nil
}

func positionSizeFallback(pos types.Position, totalValue decimal.Decimal, cfg config.FallbackRules) *types.Action {
	if totalValue.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	weightPct := pos.Notional().Div(totalValue).Mul(decimal.NewFromInt(100))
	maxWeight := decimal.NewFromFloat(cfg.MaxPositionWeightPct)
	if weightPct.LessThanOrEqual(maxWeight) {
		return nil
	}
	targetPct := decimal.NewFromFloat(cfg.PositionLimitTargetPct)
	trimFraction := decimal.NewFromInt(1).Sub(targetPct.Div(weightPct))
	qty := pos.Quantity.Mul(trimFraction).Floor()
	if qty.LessThan(decimal.NewFromInt(1)) {
		return nil
	}
	return &types.Action{
		Type:     types.DefensiveTrim,
		Ticker:   pos.Ticker,
		Side:     types.Sell,
		Quantity: qty,
		Reason:   fmt.Sprintf("fallback: position size limit (%.0f%% of portfolio, trimming to %.0f%%)", weightPct.InexactFloat64(), cfg.PositionLimitTargetPct),
	}
}

func cashReserveFallback(snapshot types.PortfolioSnapshot, totalValue decimal.Decimal, cfg config.FallbackRules) *types.Action {
	if totalValue.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	cashWeightPct := snapshot.Cash.Div(totalValue).Mul(decimal.NewFromInt(100))
	if cashWeightPct.GreaterThanOrEqual(decimal.NewFromFloat(cfg.CashReserveFloorPct)) {
		return nil
	}

	var best *types.Position
	var bestPnL decimal.Decimal
	for i, pos := range snapshot.LongPositions() {
		pnl := pos.UnrealizedPnLPct()
		if i == 0 || pnl.GreaterThan(bestPnL) {
			p := pos
			best = &p
			bestPnL = pnl
		}
	}
	if best == nil {
		return nil
	}
	if bestPnL.Mul(decimal.NewFromInt(100)).LessThanOrEqual(decimal.NewFromFloat(cfg.CashReserveBestPerformerPnLPct)) {
		return nil
	}
	return trimAction(*best, cfg.CashReserveTrimPct,
		fmt.Sprintf("fallback: cash reserve floor breached (cash %.1f%%), trimming best performer", cashWeightPct.InexactFloat64()))
}

func trimAction(pos types.Position, trimPct float64, reason string) *types.Action {
	qty := pos.Quantity.Mul(decimal.NewFromFloat(trimPct / 100)).Floor()
	if qty.LessThan(decimal.NewFromInt(1)) {
		return nil
	}
	return &types.Action{
		Type:     types.DefensiveTrim,
		Ticker:   pos.Ticker,
		Side:     types.Sell,
		Quantity: qty,
		Reason:   reason,
	}
}
