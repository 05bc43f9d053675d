package agent

import (
	"fmt"
	"strings"

	"github.com/atlas-desktop/execution-monitor/pkg/types"
)

// PromptContext carries everything a prompt template may embed: the
// portfolio snapshot, a free-form health summary, the watchlist and any
// trigger-specific constraints.
type PromptContext struct {
	Snapshot          types.PortfolioSnapshot
	HealthSummary     string
	Watchlist         []string
	ShortTickers      []string
	MaxShortPositions int
	Extra             string
}

// BuildPrompt renders the trigger-specific template described in spec.md
// §4.5. The "scheduled" template is the only one with a hard textual
// block: when the account is already at its short-position cap, the
// agent is explicitly instructed to open no new shorts. The monitor never
// relies on this text alone — the paper broker also rejects a new SHORT
// order once it is at its configured max_short_positions count
// (internal/broker/paper.go's SubmitOrder).
func BuildPrompt(trigger Trigger, ctx PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger: %s\n", trigger)
	fmt.Fprintf(&b, "Portfolio total value: %s\n", ctx.Snapshot.TotalValue().StringFixed(2))
	fmt.Fprintf(&b, "Cash: %s\n", ctx.Snapshot.Cash.StringFixed(2))
	if ctx.HealthSummary != "" {
		fmt.Fprintf(&b, "Health: %s\n", ctx.HealthSummary)
	}

	switch trigger {
	case TriggerScheduled:
		fmt.Fprintf(&b, "Current short positions: %s\n", strings.Join(ctx.ShortTickers, ", "))
		if ctx.MaxShortPositions > 0 && len(ctx.ShortTickers) >= ctx.MaxShortPositions {
			fmt.Fprintf(&b, "CONSTRAINT: short-position cap reached (%d/%d). Do not open any new short positions this review.\n",
				len(ctx.ShortTickers), ctx.MaxShortPositions)
		}
		b.WriteString("Conduct the scheduled strategy review and propose adjustments.\n")
	case TriggerProfitProtection:
		b.WriteString("A profit-protection exit fired and flagged this position for redeployment review. Propose where to redeploy the freed capital.\n")
	case TriggerVIXAlert:
		b.WriteString("The VIX regime has transitioned significantly. Review defensive positioning already applied and propose any further adjustment.\n")
	case TriggerDiscovery:
		fmt.Fprintf(&b, "Scan universe / watchlist: %s\n", strings.Join(ctx.Watchlist, ", "))
		b.WriteString("Run discovery over the scan universe and propose new candidates, respecting the short-selling constraints above.\n")
	case TriggerPremarket:
		b.WriteString("Produce the pre-market briefing: overnight developments, today's watchlist, and any planned actions.\n")
	case TriggerWeekend:
		b.WriteString("Produce the weekend briefing: the past week's performance and the outlook for next week.\n")
	case TriggerRotation:
		b.WriteString("Rotation has been triggered by the signal mix across long holdings. Propose a rotation plan within the configured vice-ticker cap. No autonomous rotation trades are placed by the monitor — you are the sole decider.\n")
	case TriggerDefensive:
		b.WriteString("Defensive mode has just been entered. Given the excess cash figure below, propose one of: add to the strongest performer, a broad market ETF, a defensive sector ETF, or hold cash.\n")
	}

	if ctx.Extra != "" {
		b.WriteString(ctx.Extra)
		b.WriteString("\n")
	}

	return b.String()
}
