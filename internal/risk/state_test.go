package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"binance-liq-engine/internal/database"
)

// fakeStateStore is an in-memory StateStore for tests
type fakeStateStore struct {
	dailyPnL    float64
	weeklyPnL   float64
	tradesToday int
	streak      int
	equity      *database.EquityPoint
	inserted    []*database.EquityPoint
}

func (f *fakeStateStore) SumTradePnLSince(_ context.Context, _ string, since time.Time) (float64, error) {
	// the weekly window opens earlier than the daily one
	if time.Since(since) > 36*time.Hour {
		return f.weeklyPnL, nil
	}
	return f.dailyPnL, nil
}

func (f *fakeStateStore) CountTradesSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.tradesToday, nil
}

func (f *fakeStateStore) GetLosingStreak(_ context.Context, _ string, _ int) (int, error) {
	return f.streak, nil
}

func (f *fakeStateStore) GetLatestEquity(_ context.Context, _ string) (*database.EquityPoint, error) {
	return f.equity, nil
}

func (f *fakeStateStore) InsertEquityPoint(_ context.Context, p *database.EquityPoint) error {
	f.inserted = append(f.inserted, p)
	return nil
}

func testStateConfig() StateConfig {
	return StateConfig{
		MaxDailyDDPct:      5,
		MaxWeeklyDDPct:     10,
		MaxTradesPerDay:    5,
		MaxLosingStreak:    3,
		StartingEquityUSDT: 10000,
	}
}

// midweek noon avoids the daily and weekly windows collapsing into each other
var testNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func TestCanTrade(t *testing.T) {
	tests := []struct {
		name        string
		store       *fakeStateStore
		wantAllowed bool
		wantMode    string
		wantReason  string
	}{
		{
			name:        "clean slate",
			store:       &fakeStateStore{},
			wantAllowed: true,
			wantMode:    ModeNormal,
		},
		{
			name:        "daily drawdown exceeded",
			store:       &fakeStateStore{dailyPnL: -600, weeklyPnL: -600}, // budget 500
			wantAllowed: false,
			wantMode:    ModeHalted,
			wantReason:  "daily drawdown",
		},
		{
			name:        "weekly drawdown exceeded",
			store:       &fakeStateStore{dailyPnL: -100, weeklyPnL: -1100}, // budget 1000
			wantAllowed: false,
			wantMode:    ModeHalted,
			wantReason:  "weekly drawdown",
		},
		{
			name:        "trade count at limit",
			store:       &fakeStateStore{tradesToday: 5},
			wantAllowed: false,
			wantMode:    ModeHalted,
			wantReason:  "daily limit",
		},
		{
			name:        "losing streak at limit",
			store:       &fakeStateStore{streak: 3},
			wantAllowed: false,
			wantMode:    ModeHalted,
			wantReason:  "losing streak",
		},
		{
			name:        "safe mode above 80 percent of daily budget",
			store:       &fakeStateStore{dailyPnL: -450, weeklyPnL: -450}, // 90% of 500
			wantAllowed: true,
			wantMode:    ModeSafe,
		},
		{
			name:        "just under safe threshold stays normal",
			store:       &fakeStateStore{dailyPnL: -300, weeklyPnL: -300}, // 60% of 500
			wantAllowed: true,
			wantMode:    ModeNormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewStateService(tt.store, testStateConfig())
			verdict, err := svc.CanTrade(context.Background(), "BTCUSDT", testNow)
			if err != nil {
				t.Fatalf("CanTrade() error = %v", err)
			}
			if verdict.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (reasons: %v)", verdict.Allowed, tt.wantAllowed, verdict.Reasons)
			}
			if verdict.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", verdict.Mode, tt.wantMode)
			}
			if tt.wantReason != "" {
				found := false
				for _, r := range verdict.Reasons {
					if strings.Contains(r, tt.wantReason) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("reasons %v do not mention %q", verdict.Reasons, tt.wantReason)
				}
			}
		})
	}
}

func TestCanTradeReportsAllLimits(t *testing.T) {
	store := &fakeStateStore{dailyPnL: -600, weeklyPnL: -1200, tradesToday: 6, streak: 4}
	svc := NewStateService(store, testStateConfig())
	verdict, err := svc.CanTrade(context.Background(), "BTCUSDT", testNow)
	if err != nil {
		t.Fatalf("CanTrade() error = %v", err)
	}
	if verdict.Allowed {
		t.Fatal("expected block")
	}
	if len(verdict.Reasons) != 4 {
		t.Errorf("expected 4 reasons, got %d: %v", len(verdict.Reasons), verdict.Reasons)
	}
}

func TestRecordTradeClose(t *testing.T) {
	store := &fakeStateStore{
		equity:   &database.EquityPoint{EquityUSDT: 10200},
		dailyPnL: -150,
	}
	svc := NewStateService(store, testStateConfig())

	trade := &database.Trade{
		Symbol:   "BTCUSDT",
		PnLUSDT:  -150,
		ClosedAt: testNow,
	}
	if err := svc.RecordTradeClose(context.Background(), trade); err != nil {
		t.Fatalf("RecordTradeClose() error = %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 equity point, got %d", len(store.inserted))
	}
	point := store.inserted[0]
	if point.EquityUSDT != 10050 {
		t.Errorf("EquityUSDT = %v, want 10050", point.EquityUSDT)
	}
	if point.RealizedPnL != -150 {
		t.Errorf("RealizedPnL = %v, want -150", point.RealizedPnL)
	}
}

func TestCanTradeUsesStartingEquityWhenCurveEmpty(t *testing.T) {
	// daily budget from starting equity 10000 is 500; a 499 loss is SAFE not HALTED
	store := &fakeStateStore{dailyPnL: -499, weeklyPnL: -499}
	svc := NewStateService(store, testStateConfig())
	verdict, err := svc.CanTrade(context.Background(), "BTCUSDT", testNow)
	if err != nil {
		t.Fatalf("CanTrade() error = %v", err)
	}
	if !verdict.Allowed || verdict.Mode != ModeSafe {
		t.Errorf("verdict = %+v, want allowed SAFE", verdict)
	}
}

func TestWindowBoundariesUseUTC(t *testing.T) {
	// 2026-08-24 01:00 in UTC+3 is still Sunday 22:00 UTC of the prior
	// week; local-clock fields must not leak into the window math
	plus3 := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2026, time.August, 24, 1, 0, 0, 0, plus3)

	if got, want := startOfDay(local), time.Date(2026, time.August, 23, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("startOfDay = %v, want %v", got, want)
	}
	if got, want := startOfWeek(local), time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("startOfWeek = %v, want %v", got, want)
	}
}
