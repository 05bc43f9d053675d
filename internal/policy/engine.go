package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/execution-monitor/internal/config"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// EvaluatePosition runs the stop-loss, profit-protection and dip-buy
// checks for a single position, in that priority order, and returns at
// most one Action (invariant 2: stop-loss and profit-protection never
// coexist for one ticker in one cycle, and dip-buy never coexists with
// either). cash is the portfolio's current cash balance, needed to size
// a dip-buy.
func EvaluatePosition(pos types.Position, cfg config.Policy, regime string, defensiveMode bool, cash decimal.Decimal) *types.Action {
	if a := evaluateStopLoss(pos, cfg, regime, defensiveMode); a != nil {
		return a
	}
	if a := evaluateProfitProtection(pos, cfg); a != nil {
		return a
	}
	if !defensiveMode {
		if a := evaluateDipBuy(pos, cfg.DipBuying, cash); a != nil {
			return a
		}
	}
	return nil
}

func evaluateStopLoss(pos types.Position, cfg config.Policy, regime string, defensiveMode bool) *types.Action {
	frac := cfg.StopLossFor(pos.Ticker, regime, defensiveMode)
	if frac <= 0 {
		return nil
	}
	s := decimal.NewFromFloat(frac)
	if pos.IsLong() {
		trigger := pos.AverageCost.Mul(decimal.NewFromInt(1).Sub(s))
		if pos.CurrentPrice.LessThanOrEqual(trigger) {
			return &types.Action{
				Type:     types.StopLossExit,
				Ticker:   pos.Ticker,
				Side:     types.Sell,
				Quantity: pos.Quantity,
				Reason:   fmt.Sprintf("stop-loss at -%s%% (price fell to $%s)", s.Mul(decimal.NewFromInt(100)).StringFixed(0), pos.CurrentPrice.StringFixed(2)),
			}
		}
		return nil
	}
	// short
	trigger := pos.AverageCost.Mul(decimal.NewFromInt(1).Add(s))
	if pos.CurrentPrice.GreaterThanOrEqual(trigger) {
		return &types.Action{
			Type:     types.StopLossExit,
			Ticker:   pos.Ticker,
			Side:     types.Cover,
			Quantity: pos.Quantity.Abs(),
			Reason:   fmt.Sprintf("stop-loss at +%s%% (price rose to $%s)", s.Mul(decimal.NewFromInt(100)).StringFixed(0), pos.CurrentPrice.StringFixed(2)),
		}
	}
	return nil
}

func evaluateProfitProtection(pos types.Position, cfg config.Policy) *types.Action {
	pp, ok := cfg.ProfitProtection[pos.Ticker]
	if !ok {
		return nil
	}
	if pp.PositionType == "long" || pp.PositionType == "" {
		if pp.MinPrice != nil && pos.CurrentPrice.LessThanOrEqual(decimal.NewFromFloat(*pp.MinPrice)) {
			return &types.Action{
				Type:          types.ProfitProtectionExit,
				Ticker:        pos.Ticker,
				Side:          types.Sell,
				Quantity:      pos.Quantity,
				Reason:        pp.Reason,
				RequestReview: pp.TriggerReview,
			}
		}
	}
	if pp.PositionType == "short" {
		if pp.MaxPrice != nil && pos.CurrentPrice.GreaterThanOrEqual(decimal.NewFromFloat(*pp.MaxPrice)) {
			return &types.Action{
				Type:          types.ProfitProtectionExit,
				Ticker:        pos.Ticker,
				Side:          types.Cover,
				Quantity:      pos.Quantity.Abs(),
				Reason:        pp.Reason,
				RequestReview: pp.TriggerReview,
			}
		}
	}
	return nil
}

func evaluateDipBuy(pos types.Position, cfg config.DipBuying, cash decimal.Decimal) *types.Action {
	if !cfg.Enabled || !pos.IsLong() {
		return nil
	}
	inList := false
	for _, t := range cfg.Tickers {
		if t == pos.Ticker {
			inList = true
			break
		}
	}
	if !inList {
		return nil
	}
	pct := pos.UnrealizedPnLPct() // negative when underwater
	minPct := decimal.NewFromFloat(cfg.MinPct)
	maxPct := decimal.NewFromFloat(cfg.MaxPct)
	lowerBound := maxPct.Neg() // e.g. -max_pct
	upperBound := minPct.Neg() // e.g. -min_pct
	if pct.LessThan(lowerBound) || pct.GreaterThan(upperBound) {
		return nil
	}

	tenPctNotional := pos.Notional().Abs().Mul(decimal.NewFromFloat(0.10))
	halfCash := cash.Mul(decimal.NewFromFloat(0.50))
	buyNotional := decimal.Min(tenPctNotional, halfCash)
	if buyNotional.LessThanOrEqual(decimal.Zero) || pos.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	qty := buyNotional.Div(pos.CurrentPrice).Floor()
	if qty.LessThan(decimal.NewFromInt(1)) {
		return nil
	}
	return &types.Action{
		Type:     types.DipBuy,
		Ticker:   pos.Ticker,
		Side:     types.Buy,
		Quantity: qty,
		Reason:   fmt.Sprintf("dip-buy: %s%% below entry", pct.Neg().Mul(decimal.NewFromInt(100)).StringFixed(1)),
	}
}

// CircuitBreakerTriggered reports whether currentValue has fallen from
// startingValue by at least limitPct (a positive fraction, e.g. 0.02 for
// 2%). Exactly -2.0% triggers (spec.md §8 boundary behavior: the
// comparison is "at least", i.e. >=).
func CircuitBreakerTriggered(startingValue, currentValue decimal.Decimal, limitPct float64) bool {
	if startingValue.LessThanOrEqual(decimal.Zero) {
		return false
	}
	drop := startingValue.Sub(currentValue).Div(startingValue)
	return drop.GreaterThanOrEqual(decimal.NewFromFloat(limitPct))
}

// OvernightGapTriggered reports whether currentValue gapped down from
// priorClose by more than thresholdPct.
func OvernightGapTriggered(priorClose, currentValue decimal.Decimal, thresholdPct float64) bool {
	if priorClose.LessThanOrEqual(decimal.Zero) {
		return false
	}
	drop := priorClose.Sub(currentValue).Div(priorClose)
	return drop.GreaterThan(decimal.NewFromFloat(thresholdPct))
}
