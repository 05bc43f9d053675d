// Package monitor wires every other package into the top-level Monitor
// Loop: reload config, snapshot portfolio and prices, run the scheduler,
// dispatch to the policy engine and controllers, execute resulting
// orders through the broker, and sleep to the next tick. The loop driver
// itself is grounded on Atlas's autonomous/agent.go mainLoop/
// riskMonitorLoop ticker+select shape and NitinKhare's cmd/engine/main.go
// signal.NotifyContext + runContinuousMarketLoop idiom.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/execution-monitor/internal/agent"
	"github.com/atlas-desktop/execution-monitor/internal/broker"
	"github.com/atlas-desktop/execution-monitor/internal/clock"
	"github.com/atlas-desktop/execution-monitor/internal/config"
	"github.com/atlas-desktop/execution-monitor/internal/defensive"
	"github.com/atlas-desktop/execution-monitor/internal/fallback"
	"github.com/atlas-desktop/execution-monitor/internal/policy"
	"github.com/atlas-desktop/execution-monitor/internal/quote"
	"github.com/atlas-desktop/execution-monitor/internal/rotation"
	"github.com/atlas-desktop/execution-monitor/internal/scheduler"
	"github.com/atlas-desktop/execution-monitor/internal/state"
	"github.com/atlas-desktop/execution-monitor/internal/statusapi"
	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// CheckInterval is the default in-market sleep between cycles.
const CheckInterval = 300 * time.Second

// OutOfMarketInterval is the sleep used outside market hours.
const OutOfMarketInterval = time.Minute

// Monitor is the top-level driver. Apart from the VIX-transition trims in
// applyVIXDefensiveTrims, it holds no business logic of its own beyond
// sequencing — every other decision is delegated to policy, scheduler,
// defensive and rotation.
type Monitor struct {
	Clock     clock.Clock
	Config    *config.Store
	State     *state.Store
	Broker    broker.Broker
	Quote     quote.Quote
	Agent     agent.Port
	Fallback  *fallback.Engine
	Defensive *defensive.Controller
	Rotation  *rotation.Controller
	Log       *zap.Logger

	// Metrics and Status are optional: nil leaves the loop fully
	// functional with no observability surface (set by the caller after
	// New when the internal status/metrics server is enabled).
	Metrics *statusapi.Metrics
	Status  *statusapi.Server

	wasInMarket   bool
	dayStartValue decimal.Decimal
	dayStartDate  string
	lastVIXRegime types.VIXRegime
	haveVIXRegime bool

	// stopOverrides and globalStopOverride are runtime stop-loss
	// tightenings applied by a VIX regime transition (spec.md §4.9 step 3).
	// They are not part of the policy configuration document and survive a
	// config reload, mirroring the original monitor mutating its own
	// in-memory position_stop_losses / stop_loss_pct rather than the
	// on-disk policy.
	stopOverrides      map[string]float64
	globalStopOverride *float64
}

// New builds a Monitor from its fully-wired collaborators.
func New(c clock.Clock, cfg *config.Store, st *state.Store, b broker.Broker, q quote.Quote, a agent.Port, fb *fallback.Engine, def *defensive.Controller, rot *rotation.Controller, log *zap.Logger) *Monitor {
	return &Monitor{
		Clock: c, Config: cfg, State: st, Broker: b, Quote: q, Agent: a,
		Fallback: fb, Defensive: def, Rotation: rot, Log: log.Named("monitor"),
	}
}

// Run is the top-level loop. It blocks until ctx is cancelled, which it
// checks between cycles (and honors during the in-flight agent call and
// sleep, since both select on ctx.Done()).
func (m *Monitor) Run(ctx context.Context) error {
	for {
		interval := m.runCycle(ctx)
		select {
		case <-ctx.Done():
			m.Log.Info("monitor loop shutting down")
			return nil
		case <-time.After(interval):
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context) time.Duration {
	exchangeNow, localNow := m.Clock.Now()
	inMarket := clock.IsMarketHours(m.Clock)

	if !inMarket {
		if m.wasInMarket {
			m.persistPriorClose(ctx, exchangeNow)
		}
		m.wasInMarket = false
		m.runOutOfMarketSchedule(ctx, localNow)
		return OutOfMarketInterval
	}

	cfg, _ := m.Config.MaybeReload()

	if !m.wasInMarket {
		m.onMarketOpen(ctx, exchangeNow)
	}
	m.wasInMarket = true

	snapshot, err := m.Broker.GetPortfolio(ctx)
	if err != nil {
		m.Log.Error("portfolio snapshot failed, skipping cycle", zap.Error(err))
		return CheckInterval
	}

	today := exchangeNow.Format("2006-01-02")
	m.maybeRunGapCheck(ctx, snapshot, today)

	m.applyPrices(ctx, snapshot)
	m.checkVIXRegime(ctx, cfg, snapshot)

	m.maybeRunScheduledReview(ctx, cfg, snapshot, exchangeNow)
	m.maybeRunDiscovery(ctx, cfg, exchangeNow)

	m.executePolicyActions(ctx, cfg, snapshot)

	m.checkCircuitBreaker(ctx, cfg, today)

	if m.Metrics != nil {
		if execAgent, ok := m.Agent.(*agent.Exec); ok {
			m.Metrics.ConsecutiveFailures.Set(float64(execAgent.ConsecutiveFailures()))
		}
	}

	m.broadcast("cycle", fmt.Sprintf("cycle complete at %s, %d positions", today, len(snapshot.Positions)))

	return CheckInterval
}

// broadcast pushes a cycle/action event to the status surface's websocket
// feed. A nil Status (no -status-addr configured) makes this a no-op.
func (m *Monitor) broadcast(kind, detail string) {
	if m.Status == nil {
		return
	}
	m.Status.Broadcast(statusapi.Event{Timestamp: time.Now(), Kind: kind, Detail: detail})
}

func (m *Monitor) onMarketOpen(ctx context.Context, exchangeNow time.Time) {
	today := exchangeNow.Format("2006-01-02")
	if m.dayStartDate != today {
		snapshot, err := m.Broker.GetPortfolio(ctx)
		if err == nil {
			m.dayStartValue = snapshot.TotalValue()
			m.dayStartDate = today
		}
	}
}

func (m *Monitor) persistPriorClose(ctx context.Context, exchangeNow time.Time) {
	snapshot, err := m.Broker.GetPortfolio(ctx)
	if err != nil {
		return
	}
	rec := state.PriorCloseState{
		Value: snapshot.TotalValue().InexactFloat64(),
		Date:  exchangeNow.Format("2006-01-02"),
		AsOf:  exchangeNow,
	}
	if err := m.State.WriteAtomic(state.FilePriorClose, rec); err != nil {
		m.Log.Error("persist prior close failed", zap.Error(err))
	}
}

func (m *Monitor) runOutOfMarketSchedule(ctx context.Context, localNow time.Time) {
	cfg, _ := m.Config.MaybeReload()
	var ov state.OvernightState
	_ = m.State.Read(state.FileOvernightState, &ov)

	if scheduler.OvernightScanDue(ov.LastScan, cfg.Schedules.OvernightScanTimes, localNow) {
		m.Log.Info("running overnight news scan")
		ov.LastScan = localNow
		_ = m.State.WriteAtomic(state.FileOvernightState, ov)
	}
	if scheduler.PreMarketBriefingDue(ov.LastPreMarketDate, cfg.Schedules.PreMarketClock, localNow) {
		m.Log.Info("running pre-market briefing")
		if m.Agent != nil {
			prompt := agent.BuildPrompt(agent.TriggerPremarket, agent.PromptContext{})
			_, _ = m.Agent.Invoke(ctx, agent.TriggerPremarket, "premarket", prompt)
		}
		ov.LastPreMarketDate = localNow.Format("2006-01-02")
		_ = m.State.WriteAtomic(state.FileOvernightState, ov)
	}
	if scheduler.WeekendBriefingDue(ov.LastWeekendDate, cfg.Schedules.WeekendClock, localNow) {
		m.Log.Info("running weekend briefing")
		if m.Agent != nil {
			prompt := agent.BuildPrompt(agent.TriggerWeekend, agent.PromptContext{})
			_, _ = m.Agent.Invoke(ctx, agent.TriggerWeekend, "weekend", prompt)
		}
		ov.LastWeekendDate = localNow.Format("2006-01-02")
		_ = m.State.WriteAtomic(state.FileOvernightState, ov)
	}
}

func (m *Monitor) maybeRunGapCheck(ctx context.Context, snapshot types.PortfolioSnapshot, today string) {
	var ov state.OvernightState
	_ = m.State.Read(state.FileOvernightState, &ov)
	if ov.GapCheckDoneForDate == today {
		return
	}

	var prior state.PriorCloseState
	_ = m.State.Read(state.FilePriorClose, &prior)
	if prior.Value > 0 {
		cfg := m.Config.Current()
		gapThreshold := cfg.GapThresholdPct
		if gapThreshold <= 0 {
			gapThreshold = 0.02
		}
		if policy.OvernightGapTriggered(decimal.NewFromFloat(prior.Value), snapshot.TotalValue(), gapThreshold) {
			m.Log.Warn("overnight gap triggered, entering defensive mode")
			_ = m.Defensive.Enter(ctx, gapThreshold, today)
		}
	}

	ov.GapCheckDoneForDate = today
	_ = m.State.WriteAtomic(state.FileOvernightState, ov)
}

func (m *Monitor) applyPrices(ctx context.Context, snapshot types.PortfolioSnapshot) {
	tickers := make([]string, 0, len(snapshot.Positions))
	for t := range snapshot.Positions {
		tickers = append(tickers, t)
	}
	prices := quote.FetchAll(ctx, m.Quote, tickers)
	for t, price := range prices {
		if pos, ok := snapshot.Positions[t]; ok {
			pos.CurrentPrice = price
			snapshot.Positions[t] = pos
		}
	}
}

func (m *Monitor) checkVIXRegime(ctx context.Context, cfg config.Policy, snapshot types.PortfolioSnapshot) {
	vixPrice, ok := m.Quote.VIX(ctx)
	if !ok {
		return
	}
	vix := vixPrice.InexactFloat64()
	regime := policy.ClassifyVIXRegime(vix)

	var hist state.VIXHistory
	_ = m.State.Read(state.FileVIXLog, &hist)
	prevRegime := m.lastVIXRegime
	if !m.haveVIXRegime {
		if last, ok := hist.Latest(); ok {
			prevRegime = types.VIXRegime(last.Regime)
		} else {
			prevRegime = regime
		}
	}

	significant := policy.IsSignificantTransition(prevRegime, regime)

	hist.Append(state.VIXEntry{Timestamp: time.Now(), VIX: vix, Regime: string(regime), PrevRegime: string(prevRegime)})
	_ = m.State.WriteAtomic(state.FileVIXLog, hist)

	m.lastVIXRegime = regime
	m.haveVIXRegime = true

	if m.Metrics != nil && regime != prevRegime {
		m.Metrics.VIXRegimeGauge.WithLabelValues(string(prevRegime)).Set(0)
		m.Metrics.VIXRegimeGauge.WithLabelValues(string(regime)).Set(1)
	}

	if !significant {
		return
	}

	m.broadcast("vix_regime_change", fmt.Sprintf("VIX regime %s -> %s (%.2f)", prevRegime, regime, vix))

	alert := state.Alert{
		Timestamp: time.Now(),
		AlertType: "VIX_REGIME_CHANGE",
		Status:    state.AlertPending,
		Payload:   map[string]any{"vix": vix, "from": prevRegime, "to": regime},
	}
	_ = m.State.WriteAtomic(state.AlertStrategyReview, alert)

	m.applyVIXDefensiveTrims(ctx, cfg, snapshot, regime)

	if m.Agent != nil {
		prompt := agent.BuildPrompt(agent.TriggerVIXAlert, agent.PromptContext{Snapshot: snapshot})
		_, _ = m.Agent.Invoke(ctx, agent.TriggerVIXAlert, "vix_alert", prompt)
	}
}

// applyVIXDefensiveTrims implements spec.md §4.9 step 3: on transition
// into ELEVATED, trim extreme-beta positions 50% and set their per-ticker
// stop to 10%; on transition into HIGH, exit extreme-beta positions 100%
// and tighten the global stop to 10%.
func (m *Monitor) applyVIXDefensiveTrims(ctx context.Context, cfg config.Policy, snapshot types.PortfolioSnapshot, regime types.VIXRegime) {
	switch regime {
	case types.Elevated:
		for ticker, hb := range cfg.HighBetaPositions {
			if !hb.Extreme {
				continue
			}
			pos, ok := snapshot.Positions[ticker]
			if !ok || !pos.IsLong() {
				continue
			}
			half := pos.Quantity.Div(decimal.NewFromInt(2)).Floor()
			if half.LessThan(decimal.NewFromInt(1)) {
				continue
			}
			if _, err := m.Broker.SubmitOrder(ctx, types.Order{Ticker: ticker, Side: types.Sell, Type: types.Market, Quantity: half}); err != nil {
				m.Log.Error("VIX elevated trim failed", zap.String("ticker", ticker), zap.Error(err))
				continue
			}
			if m.stopOverrides == nil {
				m.stopOverrides = make(map[string]float64)
			}
			m.stopOverrides[ticker] = 0.10
			m.Log.Info("tightened per-ticker stop after VIX elevated trim", zap.String("ticker", ticker), zap.Float64("stop", 0.10))
		}
	case types.High:
		for ticker, hb := range cfg.HighBetaPositions {
			if !hb.Extreme {
				continue
			}
			pos, ok := snapshot.Positions[ticker]
			if !ok || !pos.IsLong() {
				continue
			}
			if _, err := m.Broker.SubmitOrder(ctx, types.Order{Ticker: ticker, Side: types.Sell, Type: types.Market, Quantity: pos.Quantity}); err != nil {
				m.Log.Error("VIX high exit failed", zap.String("ticker", ticker), zap.Error(err))
				continue
			}
		}
		tightened := 0.10
		m.globalStopOverride = &tightened
		m.Log.Info("tightened global default stop after VIX high exit", zap.Float64("stop", tightened))
	}
}

// effectiveConfig merges cfg with any VIX-driven stop-loss overrides
// accumulated on m. The overrides are runtime-only (spec.md §4.9 step 3):
// they are never written back to the config store, so a config reload
// never clobbers them and they never leak into the on-disk policy
// document. StopLossFor's priority chain is unchanged; it simply observes
// a Policy value whose PositionStopLosses/DefaultStopLoss have been
// tightened in memory.
func (m *Monitor) effectiveConfig(cfg config.Policy) config.Policy {
	if len(m.stopOverrides) == 0 && m.globalStopOverride == nil {
		return cfg
	}
	out := cfg
	if len(m.stopOverrides) > 0 {
		merged := make(map[string]config.PositionStopLoss, len(cfg.PositionStopLosses)+len(m.stopOverrides))
		for k, v := range cfg.PositionStopLosses {
			merged[k] = v
		}
		for ticker, frac := range m.stopOverrides {
			merged[ticker] = config.PositionStopLoss{Threshold: frac}
		}
		out.PositionStopLosses = merged
	}
	if m.globalStopOverride != nil {
		out.DefaultStopLoss = *m.globalStopOverride
	}
	return out
}

func (m *Monitor) maybeRunScheduledReview(ctx context.Context, cfg config.Policy, snapshot types.PortfolioSnapshot, exchangeNow time.Time) {
	var last state.LastReviewState
	_ = m.State.Read(state.FileLastReview, &last)
	var lastPtr *time.Time
	hasReviewToday := false
	if !last.Timestamp.IsZero() {
		lastPtr = &last.Timestamp
		hasReviewToday = last.Timestamp.Format("2006-01-02") == exchangeNow.Format("2006-01-02")
	}

	due := scheduler.ScheduledReviewDue(lastPtr, hasReviewToday, cfg.ReviewIntervals.StrategyHours, exchangeNow, clock.MinutesToClose(m.Clock))
	if !due {
		return
	}

	m.Log.Info("scheduled review due")
	alert := state.Alert{Timestamp: time.Now(), AlertType: "SCHEDULED_REVIEW", Status: state.AlertPending}
	_ = m.State.WriteAtomic(state.AlertScheduledReview, alert)
	_ = m.State.WriteAtomic(state.FileLastReview, state.LastReviewState{Timestamp: exchangeNow})

	if m.Rotation != nil {
		_ = m.Rotation.Evaluate(ctx, snapshot, m.Quote, cfg.RotationTrigger, exchangeNow)
	}

	if m.Agent != nil {
		shortTickers := shortTickerList(snapshot)
		prompt := agent.BuildPrompt(agent.TriggerScheduled, agent.PromptContext{
			Snapshot: snapshot, ShortTickers: shortTickers, MaxShortPositions: cfg.ShortSelling.MaxShortPositions,
		})
		_, _ = m.Agent.Invoke(ctx, agent.TriggerScheduled, "scheduled", prompt)
	}
}

func shortTickerList(snapshot types.PortfolioSnapshot) []string {
	var out []string
	for t, p := range snapshot.Positions {
		if p.IsShort() {
			out = append(out, t)
		}
	}
	return out
}

func (m *Monitor) maybeRunDiscovery(ctx context.Context, cfg config.Policy, exchangeNow time.Time) {
	var last state.LastDiscoveryState
	_ = m.State.Read(state.FileLastDiscovery, &last)
	var lastPtr *time.Time
	if !last.Timestamp.IsZero() {
		lastPtr = &last.Timestamp
	}

	if !scheduler.DiscoveryDue(lastPtr, cfg.ReviewIntervals.DiscoveryHours, cfg.ReviewIntervals.DiscoveryStartClock, exchangeNow) {
		return
	}

	m.Log.Info("discovery due")
	alert := state.Alert{Timestamp: time.Now(), AlertType: "DISCOVERY", Status: state.AlertPending}
	_ = m.State.WriteAtomic(state.AlertDiscoveryNeeded, alert)
	_ = m.State.WriteAtomic(state.FileLastDiscovery, state.LastDiscoveryState{Timestamp: exchangeNow})

	if m.Agent != nil {
		prompt := agent.BuildPrompt(agent.TriggerDiscovery, agent.PromptContext{Watchlist: cfg.ScanUniverse})
		_, _ = m.Agent.Invoke(ctx, agent.TriggerDiscovery, "discovery", prompt)
	}
}

func (m *Monitor) executePolicyActions(ctx context.Context, cfg config.Policy, snapshot types.PortfolioSnapshot) {
	defState := m.Defensive.CurrentState()
	regime := string(m.lastVIXRegime)
	effective := m.effectiveConfig(cfg)

	for _, pos := range snapshot.Positions {
		action := policy.EvaluatePosition(pos, effective, regime, defState.Active, snapshot.Cash)
		if action == nil {
			continue
		}
		result, err := m.Broker.SubmitOrder(ctx, types.Order{Ticker: action.Ticker, Side: action.Side, Type: types.Market, Quantity: action.Quantity})
		if err != nil {
			m.Log.Error("policy action order failed", zap.String("ticker", action.Ticker), zap.String("reason", action.Reason), zap.Error(err))
			continue
		}
		m.Log.Info("policy action executed", zap.String("ticker", action.Ticker), zap.String("type", string(action.Type)), zap.String("reason", action.Reason), zap.String("status", string(result.Status)))
		if m.Metrics != nil {
			m.Metrics.ActionsTotal.WithLabelValues(string(action.Type)).Inc()
		}
		m.broadcast("policy_action", fmt.Sprintf("%s %s: %s", action.Type, action.Ticker, action.Reason))
		if action.RequestReview {
			alert := state.Alert{Timestamp: time.Now(), AlertType: "SCHEDULED_REVIEW", Status: state.AlertPending,
				Payload: map[string]any{"trigger": "profit_protection", "ticker": action.Ticker, "reason": action.Reason}}
			_ = m.State.WriteAtomic(state.AlertScheduledReview, alert)
			if m.Agent != nil {
				prompt := agent.BuildPrompt(agent.TriggerProfitProtection, agent.PromptContext{Snapshot: snapshot, Extra: fmt.Sprintf("Redeployment context: %s", action.Reason)})
				_, _ = m.Agent.Invoke(ctx, agent.TriggerProfitProtection, "profit_protection", prompt)
			}
		}
	}
}

func (m *Monitor) checkCircuitBreaker(ctx context.Context, cfg config.Policy, today string) {
	snapshot, err := m.Broker.GetPortfolio(ctx)
	if err != nil {
		return
	}

	defState := m.Defensive.CurrentState()
	if !defState.Active {
		limit := cfg.DailyLossLimitPct
		if limit <= 0 {
			limit = 0.02
		}
		if m.dayStartDate == today && policy.CircuitBreakerTriggered(m.dayStartValue, snapshot.TotalValue(), limit) {
			m.Log.Warn("circuit breaker triggered, entering defensive mode")
			_ = m.Defensive.Enter(ctx, limit, today)
			if m.Metrics != nil {
				m.Metrics.CircuitBreakerTrips.Inc()
			}
			m.broadcast("circuit_breaker_trip", fmt.Sprintf("daily loss limit %.2f%% breached, entering defensive mode", limit*100))
		}
		return
	}

	if shouldExit, reason := m.Defensive.ShouldExit(snapshot.TotalValue(), today); shouldExit {
		_ = m.Defensive.Exit(reason)
		m.broadcast("defensive_exit", reason)
	}
}
