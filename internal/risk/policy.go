// Package risk holds the entry gating logic: the pure per-decision policy
// evaluator and the account-level risk state service.
package risk

import (
	"fmt"

	"binance-liq-engine/internal/database"
)

// PolicyConfig holds the per-entry validation thresholds
type PolicyConfig struct {
	// MinStopDistancePct is the stop floor as a fraction of entry price
	MinStopDistancePct float64
	// MinRewardRisk is the minimum first-target reward:risk ratio
	MinRewardRisk float64
}

// EntryVerdict is the result of evaluating a proposed entry. Reasons carries
// every failing check, not just the first, for a complete diagnosis.
type EntryVerdict struct {
	Allow   bool
	Reasons []string
}

// EvaluateEntry validates a decision before any order is placed. Pure: no
// I/O, no side effects.
func EvaluateEntry(decision *database.Decision, cfg PolicyConfig) EntryVerdict {
	var reasons []string

	if decision.Action != database.ActionLong && decision.Action != database.ActionShort {
		reasons = append(reasons, fmt.Sprintf("side must be long or short, got %q", decision.Action))
		return EntryVerdict{Allow: false, Reasons: reasons}
	}

	entry, ok := decision.EntryPrice()
	if !ok || entry <= 0 {
		reasons = append(reasons, "entry price cannot be resolved")
	}
	if decision.StopLoss == nil || *decision.StopLoss <= 0 {
		reasons = append(reasons, "stop-loss price is missing")
	}
	if decision.TakeProfit1 == nil || *decision.TakeProfit1 <= 0 {
		reasons = append(reasons, "take-profit-1 price is missing")
	}
	if len(reasons) > 0 {
		return EntryVerdict{Allow: false, Reasons: reasons}
	}

	sl := *decision.StopLoss
	tp1 := *decision.TakeProfit1

	// stop must sit on the loss side of entry
	if decision.Action == database.ActionLong && sl >= entry {
		reasons = append(reasons, fmt.Sprintf("long stop %.8g must be below entry %.8g", sl, entry))
	}
	if decision.Action == database.ActionShort && sl <= entry {
		reasons = append(reasons, fmt.Sprintf("short stop %.8g must be above entry %.8g", sl, entry))
	}

	// first target must sit on the profit side of entry, otherwise it would
	// read as hit on the very first exit tick
	if decision.Action == database.ActionLong && tp1 <= entry {
		reasons = append(reasons, fmt.Sprintf("long take-profit-1 %.8g must be above entry %.8g", tp1, entry))
	}
	if decision.Action == database.ActionShort && tp1 >= entry {
		reasons = append(reasons, fmt.Sprintf("short take-profit-1 %.8g must be below entry %.8g", tp1, entry))
	}

	stopDistance := abs(entry - sl)
	minDistance := entry * cfg.MinStopDistancePct
	if stopDistance < minDistance {
		reasons = append(reasons, fmt.Sprintf(
			"stop distance %.8g below floor %.8g (%.4g%% of entry)",
			stopDistance, minDistance, cfg.MinStopDistancePct*100))
	}

	if stopDistance > 0 {
		rr := abs(tp1-entry) / stopDistance
		if rr < cfg.MinRewardRisk {
			reasons = append(reasons, fmt.Sprintf(
				"reward:risk %.4g below minimum %.4g", rr, cfg.MinRewardRisk))
		}
	}

	return EntryVerdict{Allow: len(reasons) == 0, Reasons: reasons}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
