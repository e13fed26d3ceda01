package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ==================== TRADES / EQUITY ====================

// SumTradePnLSince returns total realized PnL for trades closed at or after
// the given time. Used for daily and weekly drawdown accounting.
func (db *DB) SumTradePnLSince(ctx context.Context, symbol string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(pnl_usdt), 0)
		FROM trades WHERE symbol = $1 AND closed_at >= $2`

	var total float64
	if err := db.Pool.QueryRow(ctx, query, symbol, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum trade pnl: %w", err)
	}
	return total, nil
}

// CountTradesSince counts trades closed at or after the given time
func (db *DB) CountTradesSince(ctx context.Context, symbol string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM trades WHERE symbol = $1 AND closed_at >= $2`

	var count int
	if err := db.Pool.QueryRow(ctx, query, symbol, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

// GetLosingStreak returns how many of the most recent trades, newest first,
// are consecutive losers. The streak breaks at the first non-losing trade.
func (db *DB) GetLosingStreak(ctx context.Context, symbol string, lookback int) (int, error) {
	query := `
		SELECT pnl_usdt FROM trades
		WHERE symbol = $1 ORDER BY closed_at DESC LIMIT $2`

	rows, err := db.Pool.Query(ctx, query, symbol, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, fmt.Errorf("failed to scan trade pnl: %w", err)
		}
		if pnl >= 0 {
			break
		}
		streak++
	}
	return streak, rows.Err()
}

// GetLatestEquity returns the most recent equity snapshot, or nil when the
// curve is empty (fresh deploy, starting equity applies).
func (db *DB) GetLatestEquity(ctx context.Context, symbol string) (*EquityPoint, error) {
	query := `
		SELECT id, symbol, equity_usdt, realized_pnl, daily_pnl, weekly_pnl, timestamp
		FROM equity_curve WHERE symbol = $1 ORDER BY timestamp DESC LIMIT 1`

	point := &EquityPoint{}
	err := db.Pool.QueryRow(ctx, query, symbol).Scan(
		&point.ID, &point.Symbol, &point.EquityUSDT, &point.RealizedPnL,
		&point.DailyPnL, &point.WeeklyPnL, &point.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest equity: %w", err)
	}
	return point, nil
}

// InsertEquityPoint appends an equity-curve row
func (db *DB) InsertEquityPoint(ctx context.Context, point *EquityPoint) error {
	query := `
		INSERT INTO equity_curve (symbol, equity_usdt, realized_pnl, daily_pnl, weekly_pnl, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	if point.Timestamp.IsZero() {
		point.Timestamp = time.Now()
	}
	err := db.Pool.QueryRow(ctx, query,
		point.Symbol,
		point.EquityUSDT,
		point.RealizedPnL,
		point.DailyPnL,
		point.WeeklyPnL,
		point.Timestamp,
	).Scan(&point.ID)

	if err != nil {
		return fmt.Errorf("failed to insert equity point: %w", err)
	}
	return nil
}
