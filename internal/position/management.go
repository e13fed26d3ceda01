// Package position owns the single-open-position invariant per symbol and
// all mutations of an open position: target hits, stop tightening, close.
package position

import "encoding/json"

// Trailing modes carried in the management policy blob
const (
	TrailingModeStructureLiq = "structure_plus_liq"
	TrailingModeOff          = "off"
)

// ManagementPolicy is the free-form per-position management blob, written at
// open from the decision and read by the trailing logic.
type ManagementPolicy struct {
	TrailingMode string  `json:"trailing_mode"`
	TrailPct     float64 `json:"trail_pct"`
	// TrailActivationPct is the minimum profit, as a fraction of entry,
	// before trailing starts. Zero means the first target is the only gate.
	TrailActivationPct float64 `json:"trail_activation_pct"`
}

// DefaultManagementPolicy returns the policy applied when a decision carries
// no management blob.
func DefaultManagementPolicy(trailPct float64) ManagementPolicy {
	return ManagementPolicy{
		TrailingMode: TrailingModeStructureLiq,
		TrailPct:     trailPct,
	}
}

// ParseManagement decodes a position's management blob, falling back to the
// given default when the blob is absent or malformed.
func ParseManagement(raw *string, fallback ManagementPolicy) ManagementPolicy {
	if raw == nil || *raw == "" {
		return fallback
	}
	var policy ManagementPolicy
	if err := json.Unmarshal([]byte(*raw), &policy); err != nil {
		return fallback
	}
	if policy.TrailingMode == "" {
		policy.TrailingMode = fallback.TrailingMode
	}
	if policy.TrailPct <= 0 {
		policy.TrailPct = fallback.TrailPct
	}
	if policy.TrailActivationPct < 0 {
		policy.TrailActivationPct = fallback.TrailActivationPct
	}
	return policy
}

// Encode serializes the policy for the management_json column
func (p ManagementPolicy) Encode() *string {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}
