package risk

import (
	"context"
	"fmt"
	"time"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/logging"
)

// Trading modes derived from how much of the daily loss budget is spent
const (
	ModeNormal = "NORMAL"
	ModeSafe   = "SAFE"
	ModeHalted = "HALTED"
)

// StateConfig holds the account-level risk limits
type StateConfig struct {
	MaxDailyDDPct      float64 // daily loss budget as % of equity
	MaxWeeklyDDPct     float64
	MaxTradesPerDay    int
	MaxLosingStreak    int
	StartingEquityUSDT float64
}

// SafeModeThreshold is the share of the daily budget that flips the engine
// into SAFE mode before the hard limit halts entries.
const SafeModeThreshold = 0.8

// losingStreakLookback bounds how many recent trades the streak query scans
const losingStreakLookback = 20

// StateStore is the persistence surface the state service needs
type StateStore interface {
	SumTradePnLSince(ctx context.Context, symbol string, since time.Time) (float64, error)
	CountTradesSince(ctx context.Context, symbol string, since time.Time) (int, error)
	GetLosingStreak(ctx context.Context, symbol string, lookback int) (int, error)
	GetLatestEquity(ctx context.Context, symbol string) (*database.EquityPoint, error)
	InsertEquityPoint(ctx context.Context, point *database.EquityPoint) error
}

// Verdict is the result of a global risk-state check
type Verdict struct {
	Allowed bool
	Mode    string
	Reasons []string
}

// StateService gates new entries on account-level limits: daily and weekly
// drawdown, trade count, losing streak. It only restricts opening new risk;
// exits of an existing position are never blocked here.
type StateService struct {
	store  StateStore
	cfg    StateConfig
	logger *logging.Logger
}

// NewStateService creates a risk state service
func NewStateService(store StateStore, cfg StateConfig) *StateService {
	return &StateService{
		store:  store,
		cfg:    cfg,
		logger: logging.WithComponent("risk-state"),
	}
}

// CanTrade evaluates every account-level limit for a new entry at the given
// time. All failing limits are reported together.
func (s *StateService) CanTrade(ctx context.Context, symbol string, now time.Time) (*Verdict, error) {
	equity, err := s.currentEquity(ctx, symbol)
	if err != nil {
		return nil, err
	}

	dayStart := startOfDay(now)
	weekStart := startOfWeek(now)

	dailyPnL, err := s.store.SumTradePnLSince(ctx, symbol, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily pnl: %w", err)
	}
	weeklyPnL, err := s.store.SumTradePnLSince(ctx, symbol, weekStart)
	if err != nil {
		return nil, fmt.Errorf("failed to compute weekly pnl: %w", err)
	}
	tradesToday, err := s.store.CountTradesSince(ctx, symbol, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count trades: %w", err)
	}
	streak, err := s.store.GetLosingStreak(ctx, symbol, losingStreakLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to compute losing streak: %w", err)
	}

	dailyBudget := equity * s.cfg.MaxDailyDDPct / 100
	weeklyBudget := equity * s.cfg.MaxWeeklyDDPct / 100

	var reasons []string
	if dailyPnL <= -dailyBudget {
		reasons = append(reasons, fmt.Sprintf(
			"daily drawdown %.2f exceeds budget %.2f USDT", -dailyPnL, dailyBudget))
	}
	if weeklyPnL <= -weeklyBudget {
		reasons = append(reasons, fmt.Sprintf(
			"weekly drawdown %.2f exceeds budget %.2f USDT", -weeklyPnL, weeklyBudget))
	}
	if tradesToday >= s.cfg.MaxTradesPerDay {
		reasons = append(reasons, fmt.Sprintf(
			"trade count %d reached daily limit %d", tradesToday, s.cfg.MaxTradesPerDay))
	}
	if streak >= s.cfg.MaxLosingStreak {
		reasons = append(reasons, fmt.Sprintf(
			"losing streak %d reached limit %d", streak, s.cfg.MaxLosingStreak))
	}

	verdict := &Verdict{
		Allowed: len(reasons) == 0,
		Mode:    ModeNormal,
		Reasons: reasons,
	}
	if !verdict.Allowed {
		verdict.Mode = ModeHalted
	} else if dailyPnL < 0 && -dailyPnL >= dailyBudget*SafeModeThreshold {
		verdict.Mode = ModeSafe
	}

	return verdict, nil
}

// RecordTradeClose appends an equity point after a trade settles
func (s *StateService) RecordTradeClose(ctx context.Context, trade *database.Trade) error {
	equity, err := s.currentEquity(ctx, trade.Symbol)
	if err != nil {
		return err
	}

	now := trade.ClosedAt
	if now.IsZero() {
		now = time.Now()
	}
	dayStart := startOfDay(now)

	dailyPnL, err := s.store.SumTradePnLSince(ctx, trade.Symbol, dayStart)
	if err != nil {
		return fmt.Errorf("failed to compute daily pnl: %w", err)
	}
	weeklyPnL, err := s.store.SumTradePnLSince(ctx, trade.Symbol, startOfWeek(now))
	if err != nil {
		return fmt.Errorf("failed to compute weekly pnl: %w", err)
	}

	point := &database.EquityPoint{
		Symbol:      trade.Symbol,
		EquityUSDT:  equity + trade.PnLUSDT,
		RealizedPnL: trade.PnLUSDT,
		DailyPnL:    dailyPnL,
		WeeklyPnL:   weeklyPnL,
		Timestamp:   now,
	}
	if err := s.store.InsertEquityPoint(ctx, point); err != nil {
		return err
	}

	s.logger.Info("Equity updated after trade",
		"symbol", trade.Symbol, "pnl", trade.PnLUSDT, "equity", point.EquityUSDT)
	return nil
}

func (s *StateService) currentEquity(ctx context.Context, symbol string) (float64, error) {
	point, err := s.store.GetLatestEquity(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest equity: %w", err)
	}
	if point == nil {
		return s.cfg.StartingEquityUSDT, nil
	}
	return point.EquityUSDT, nil
}

// startOfWeek returns Monday 00:00 UTC of the week containing t
// startOfDay truncates to UTC midnight. The UTC conversion matters: the
// caller's clock may carry a local zone, and the windows are defined in UTC.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfWeek returns Monday 00:00 UTC of the week containing t
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}
