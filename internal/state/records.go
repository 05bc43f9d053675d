package state

import "time"

// Filenames for every durable state and alert file. Schemas are stable;
// unknown fields on read are ignored by encoding/json.
const (
	FileLastReview      = "last_review.json"
	FileLastDiscovery   = "last_discovery.json"
	FilePriorClose      = "prior_close_state.json"
	FileVIXLog          = "vix_log.json"
	FileDefensiveMode   = "defensive_mode_state.json"
	FileRotationMode    = "rotation_state.json"
	FileOvernightState  = "overnight_state.json"

	AlertScheduledReview = "scheduled_review_needed.json"
	AlertStrategyReview  = "strategy_review_needed.json"
	AlertDiscoveryNeeded = "discovery_needed.json"
	AlertAPIFailure      = "api_failure_alert.json"
	AlertFallbackActions = "fallback_actions.json"
	FileLastAgentResponse = "last_agent_response.json"
)

// VIXHistoryCap bounds the append-only VIX ring (spec.md §3: ≤1000 entries).
const VIXHistoryCap = 1000

// LastReviewState records the last scheduled-review timestamp.
type LastReviewState struct {
	Timestamp time.Time `json:"timestamp"`
}

// LastDiscoveryState records the last discovery-run timestamp.
type LastDiscoveryState struct {
	Timestamp time.Time `json:"timestamp"`
}

// PriorCloseState records the portfolio value at the most recent market
// close, used by the overnight gap check on the next day's first cycle.
type PriorCloseState struct {
	Value float64   `json:"value"`
	Date  string    `json:"date"` // YYYY-MM-DD, exchange-local
	AsOf  time.Time `json:"as_of"`
}

// VIXEntry is one point in the VIX history ring. PrevRegime is carried so
// that "significant transition" detection survives a process restart
// without re-deriving it purely from the bare VIX number sequence.
type VIXEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	VIX        float64   `json:"vix"`
	Regime     string    `json:"regime"`
	PrevRegime string    `json:"prev_regime,omitempty"`
}

// VIXHistory is the append-only, capped ring of VIX readings.
type VIXHistory struct {
	Entries []VIXEntry `json:"entries"`
}

// Append adds an entry, trimming the oldest once the cap is exceeded.
func (h *VIXHistory) Append(e VIXEntry) {
	h.Entries = append(h.Entries, e)
	if len(h.Entries) > VIXHistoryCap {
		h.Entries = h.Entries[len(h.Entries)-VIXHistoryCap:]
	}
}

// Latest returns the most recent entry and true, or the zero value and
// false if the history is empty.
func (h VIXHistory) Latest() (VIXEntry, bool) {
	if len(h.Entries) == 0 {
		return VIXEntry{}, false
	}
	return h.Entries[len(h.Entries)-1], true
}

// DefensiveModeState is the durable record of defensive mode.
type DefensiveModeState struct {
	Active          bool      `json:"active"`
	EnteredAt       time.Time `json:"entered_at"`
	PreValue        float64   `json:"pre_value"`
	TriggerLossPct  float64   `json:"trigger_loss_pct"`
	Actions         []string  `json:"actions"`
	EnteredOnDate   string    `json:"entered_on_date"` // exchange-local YYYY-MM-DD
}

// RotationModeState is the durable record of rotation mode.
type RotationModeState struct {
	Active    bool      `json:"active"`
	EnteredAt time.Time `json:"entered_at"`
}

// OvernightState tracks the once-per-day/once-per-Sunday briefing jobs and
// the last overnight-scan timestamp, plus the per-day gap-check flag.
type OvernightState struct {
	LastScan             time.Time `json:"last_scan"`
	LastPreMarketDate    string    `json:"last_premarket_date"`    // YYYY-MM-DD
	LastWeekendDate      string    `json:"last_weekend_date"`      // YYYY-MM-DD (Sunday)
	GapCheckDoneForDate  string    `json:"gap_check_done_for_date"` // YYYY-MM-DD
}

// Alert is the envelope shared by every single-writer alert file.
type Alert struct {
	Timestamp      time.Time      `json:"timestamp"`
	AlertType      string         `json:"alert_type"`
	Status         string         `json:"status"` // "pending" | "completed"
	Payload        map[string]any `json:"payload,omitempty"`
	ExecutedTrades []map[string]any `json:"executed_trades,omitempty"`
}

const (
	AlertPending   = "pending"
	AlertCompleted = "completed"
)
