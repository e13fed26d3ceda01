package execution

import (
	"testing"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/position"
)

func trailingTestConfig() TrailingConfig {
	return TrailingConfig{
		TrailPct:          0.005,
		TightenedTrailPct: 0.003,
		LiqZoneProximity:  0.01,
	}
}

func longPosition(stop float64) *database.Position {
	return &database.Position{
		Symbol:        "BTCUSDT",
		Side:          database.SideLong,
		AvgEntryPrice: 100000,
		StopLoss:      &stop,
		Status:        database.PositionStatusOpen,
	}
}

func TestTrailingCandidate(t *testing.T) {
	tests := []struct {
		name     string
		pos      *database.Position
		price    float64
		zone     *database.LiquidationZone
		policy   position.ManagementPolicy
		wantOK   bool
		wantStop float64
	}{
		{
			name:     "plain trail above breakeven",
			pos:      longPosition(100000),
			price:    104000,
			policy:   position.ManagementPolicy{TrailingMode: position.TrailingModeStructureLiq, TrailPct: 0.005},
			wantOK:   true,
			wantStop: 104000 * 0.995,
		},
		{
			name:   "unset mode trails",
			pos:    longPosition(100000),
			price:  104000,
			policy: position.ManagementPolicy{TrailPct: 0.005},
			wantOK: true,
		},
		{
			name:   "off mode never trails",
			pos:    longPosition(100000),
			price:  104000,
			policy: position.ManagementPolicy{TrailingMode: position.TrailingModeOff, TrailPct: 0.005},
			wantOK: false,
		},
		{
			name:   "unknown mode never trails",
			pos:    longPosition(100000),
			price:  104000,
			policy: position.ManagementPolicy{TrailingMode: "fixed_target", TrailPct: 0.005},
			wantOK: false,
		},
		{
			name:  "below activation threshold no trail",
			pos:   longPosition(100000),
			price: 101000, // 1% profit < 2% activation
			policy: position.ManagementPolicy{
				TrailingMode:       position.TrailingModeStructureLiq,
				TrailPct:           0.005,
				TrailActivationPct: 0.02,
			},
			wantOK: false,
		},
		{
			name:  "at activation threshold trails",
			pos:   longPosition(100000),
			price: 102000, // exactly 2% profit
			policy: position.ManagementPolicy{
				TrailingMode:       position.TrailingModeStructureLiq,
				TrailPct:           0.005,
				TrailActivationPct: 0.02,
			},
			wantOK:   true,
			wantStop: 102000 * 0.995,
		},
		{
			name:     "tightens near liq zone",
			pos:      longPosition(100000),
			price:    104000,
			zone:     &database.LiquidationZone{PriceLevel: 104500}, // within 1%
			policy:   position.ManagementPolicy{TrailingMode: position.TrailingModeStructureLiq, TrailPct: 0.005},
			wantOK:   true,
			wantStop: 104000 * 0.997,
		},
		{
			name:   "candidate not better than current stop",
			pos:    longPosition(103800),
			price:  104000, // trail 103480 < current 103800
			policy: position.ManagementPolicy{TrailingMode: position.TrailingModeStructureLiq, TrailPct: 0.005},
			wantOK: false,
		},
		{
			name:     "clamped at breakeven",
			pos:      longPosition(99000),
			price:    100200, // trail 99699 < entry, clamp to 100000
			policy:   position.ManagementPolicy{TrailingMode: position.TrailingModeStructureLiq, TrailPct: 0.005},
			wantOK:   true,
			wantStop: 100000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := trailingCandidate(tt.pos, tt.price, tt.zone, tt.policy, trailingTestConfig())
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (candidate %v)", ok, tt.wantOK, got)
			}
			if tt.wantStop != 0 && got != tt.wantStop {
				t.Errorf("candidate = %v, want %v", got, tt.wantStop)
			}
		})
	}
}

func TestTrailingCandidateShortActivation(t *testing.T) {
	stop := 101000.0
	pos := &database.Position{
		Symbol:        "BTCUSDT",
		Side:          database.SideShort,
		AvgEntryPrice: 100000,
		StopLoss:      &stop,
		Status:        database.PositionStatusOpen,
	}
	policy := position.ManagementPolicy{
		TrailingMode:       position.TrailingModeStructureLiq,
		TrailPct:           0.005,
		TrailActivationPct: 0.02,
	}

	// 1% in profit for a short: below activation
	if _, ok := trailingCandidate(pos, 99000, nil, policy, trailingTestConfig()); ok {
		t.Error("short trailed below activation threshold")
	}
	// 3% in profit: trails down
	got, ok := trailingCandidate(pos, 97000, nil, policy, trailingTestConfig())
	if !ok {
		t.Fatal("short did not trail above activation threshold")
	}
	if want := 97000 * 1.005; got != want {
		t.Errorf("candidate = %v, want %v", got, want)
	}
}
