// Package policy implements every deterministic trading rule as a pure
// function over an immutable portfolio snapshot, current prices and the
// hot-reloaded configuration. Nothing in this package performs I/O; the
// Monitor Loop is the only caller permitted to act on what these
// functions return.
package policy

import "github.com/atlas-desktop/execution-monitor/pkg/types"

// ClassifyVIXRegime buckets a VIX reading into right-open intervals:
// CALM [0,15), NORMAL [15,20), ELEVATED [20,30), HIGH [30,∞). A reading of
// exactly 15.0 is NORMAL (spec.md §8 boundary behavior).
func ClassifyVIXRegime(vix float64) types.VIXRegime {
	switch {
	case vix < 15:
		return types.Calm
	case vix < 20:
		return types.Normal
	case vix < 30:
		return types.Elevated
	default:
		return types.High
	}
}

// regimeOrder gives each regime a rank so adjacency can be computed
// without enumerating every pair by hand.
var regimeOrder = map[types.VIXRegime]int{
	types.Calm:     0,
	types.Normal:   1,
	types.Elevated: 2,
	types.High:     3,
}

// IsSignificantTransition reports whether moving from prev to curr is one
// of the three adjacent-tier transitions the spec treats as significant:
// CALM<->NORMAL, NORMAL<->ELEVATED, ELEVATED<->HIGH. A same-regime
// "transition" or a skip (e.g. CALM straight to HIGH when the VIX jumps
// across a bucket between two readings) is not significant.
func IsSignificantTransition(prev, curr types.VIXRegime) bool {
	if prev == curr {
		return false
	}
	po, pok := regimeOrder[prev]
	co, cok := regimeOrder[curr]
	if !pok || !cok {
		return false
	}
	diff := po - co
	if diff < 0 {
		diff = -diff
	}
	return diff == 1
}
