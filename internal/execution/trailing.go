package execution

import (
	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/position"
)

// TrailingConfig holds the trailing-stop parameters
type TrailingConfig struct {
	// TrailPct is the default distance behind price, as a fraction
	TrailPct float64
	// TightenedTrailPct replaces TrailPct when price is near a liq zone
	TightenedTrailPct float64
	// LiqZoneProximity is the price proximity fraction that triggers the
	// tightened trail
	LiqZoneProximity float64
}

// trailingCandidate computes the stop a trailing update would propose, or
// (0, false) when no improvement is possible. Trailing runs only for the
// structure_plus_liq mode (or an unset one) and only once price has cleared
// the policy's activation threshold. The candidate trails the current price
// by the policy's percentage, tightens near a referenced liquidation zone,
// and is clamped to never sit worse than breakeven. Only a candidate
// strictly better than the current stop is proposed; the never-widen rule
// in the position manager is the final gate.
func trailingCandidate(pos *database.Position, price float64, zone *database.LiquidationZone, policy position.ManagementPolicy, cfg TrailingConfig) (float64, bool) {
	if policy.TrailingMode != "" && policy.TrailingMode != position.TrailingModeStructureLiq {
		return 0, false
	}
	if price <= 0 {
		return 0, false
	}

	if policy.TrailActivationPct > 0 && pos.AvgEntryPrice > 0 {
		profit := (price - pos.AvgEntryPrice) / pos.AvgEntryPrice
		if pos.Side == database.SideShort {
			profit = -profit
		}
		if profit < policy.TrailActivationPct {
			return 0, false
		}
	}

	trailPct := policy.TrailPct
	if trailPct <= 0 {
		trailPct = cfg.TrailPct
	}
	if zone != nil && zone.PriceLevel > 0 {
		proximity := abs(price-zone.PriceLevel) / price
		if proximity <= cfg.LiqZoneProximity {
			trailPct = cfg.TightenedTrailPct
		}
	}

	var candidate float64
	if pos.Side == database.SideLong {
		candidate = price * (1 - trailPct)
		if candidate < pos.AvgEntryPrice {
			candidate = pos.AvgEntryPrice // clamp at breakeven
		}
		if pos.StopLoss != nil && candidate <= *pos.StopLoss {
			return 0, false
		}
	} else {
		candidate = price * (1 + trailPct)
		if candidate > pos.AvgEntryPrice {
			candidate = pos.AvgEntryPrice
		}
		if pos.StopLoss != nil && candidate >= *pos.StopLoss {
			return 0, false
		}
	}
	return candidate, true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
