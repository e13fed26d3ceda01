package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ==================== POSITIONS ====================

// CreatePosition inserts a new open position. The partial unique index on
// (symbol) WHERE status='open' rejects a second open position per symbol.
func (db *DB) CreatePosition(ctx context.Context, pos *Position) error {
	query := `
		INSERT INTO positions (
			symbol, side, status, entry_price, avg_entry_price, size, max_size,
			leverage, stop_loss, take_profit_1, take_profit_2,
			tp1_hit, tp2_hit, liq_exit_used, management_json, risk_mode_at_open,
			decision_id, opened_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		) RETURNING id`

	now := time.Now()
	err := db.Pool.QueryRow(ctx, query,
		pos.Symbol,
		pos.Side,
		pos.Status,
		pos.EntryPrice,
		pos.AvgEntryPrice,
		pos.Size,
		pos.MaxSize,
		pos.Leverage,
		pos.StopLoss,
		pos.TakeProfit1,
		pos.TakeProfit2,
		pos.TP1Hit,
		pos.TP2Hit,
		pos.LiqExitUsed,
		pos.ManagementJSON,
		pos.RiskModeAtOpen,
		pos.DecisionID,
		pos.OpenedAt,
		now,
		now,
	).Scan(&pos.ID)

	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}

	pos.CreatedAt = now
	pos.UpdatedAt = now
	return nil
}

const positionColumns = `
	id, symbol, side, status, entry_price, avg_entry_price, size, max_size,
	leverage, stop_loss, take_profit_1, take_profit_2,
	tp1_hit, tp2_hit, liq_exit_used, realized_pnl, realized_pnl_pct,
	management_json, risk_mode_at_open, decision_id,
	opened_at, closed_at, created_at, updated_at`

func scanPosition(row pgx.Row) (*Position, error) {
	pos := &Position{}
	err := row.Scan(
		&pos.ID, &pos.Symbol, &pos.Side, &pos.Status, &pos.EntryPrice,
		&pos.AvgEntryPrice, &pos.Size, &pos.MaxSize, &pos.Leverage,
		&pos.StopLoss, &pos.TakeProfit1, &pos.TakeProfit2,
		&pos.TP1Hit, &pos.TP2Hit, &pos.LiqExitUsed,
		&pos.RealizedPnL, &pos.RealizedPnLPct,
		&pos.ManagementJSON, &pos.RiskModeAtOpen, &pos.DecisionID,
		&pos.OpenedAt, &pos.ClosedAt, &pos.CreatedAt, &pos.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// GetOpenPosition returns the open position for a symbol, or nil when flat.
func (db *DB) GetOpenPosition(ctx context.Context, symbol string) (*Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions WHERE symbol = $1 AND status = 'open'`

	pos, err := scanPosition(db.Pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open position: %w", err)
	}
	return pos, nil
}

// GetPositionByID retrieves a position by ID
func (db *DB) GetPositionByID(ctx context.Context, id int64) (*Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions WHERE id = $1`

	pos, err := scanPosition(db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return pos, nil
}

// UpdatePosition persists the mutable fields of an open position
func (db *DB) UpdatePosition(ctx context.Context, pos *Position) error {
	query := `
		UPDATE positions SET
			avg_entry_price = $2,
			size = $3,
			max_size = $4,
			stop_loss = $5,
			take_profit_1 = $6,
			take_profit_2 = $7,
			tp1_hit = $8,
			tp2_hit = $9,
			liq_exit_used = $10,
			management_json = $11,
			updated_at = $12
		WHERE id = $1`

	now := time.Now()
	_, err := db.Pool.Exec(ctx, query,
		pos.ID,
		pos.AvgEntryPrice,
		pos.Size,
		pos.MaxSize,
		pos.StopLoss,
		pos.TakeProfit1,
		pos.TakeProfit2,
		pos.TP1Hit,
		pos.TP2Hit,
		pos.LiqExitUsed,
		pos.ManagementJSON,
		now,
	)

	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	pos.UpdatedAt = now
	return nil
}

// CloseAndRecordTrade closes an open position and inserts its settlement
// Trade in a single transaction. Returns (false, nil) when the position was
// already closed, so close paths stay single-shot under races.
func (db *DB) CloseAndRecordTrade(ctx context.Context, pos *Position, trade *Trade) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin close transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	closeQuery := `
		UPDATE positions SET
			status = 'closed',
			realized_pnl = $2,
			realized_pnl_pct = $3,
			tp1_hit = $4,
			tp2_hit = $5,
			liq_exit_used = $6,
			closed_at = $7,
			updated_at = $7
		WHERE id = $1 AND status = 'open'`

	tag, err := tx.Exec(ctx, closeQuery,
		pos.ID,
		trade.PnLUSDT,
		trade.PnLPct,
		pos.TP1Hit,
		pos.TP2Hit,
		pos.LiqExitUsed,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// already closed by an earlier cycle
		return false, nil
	}

	tradeQuery := `
		INSERT INTO trades (
			position_id, decision_id, symbol, side, entry_price, avg_entry_price,
			exit_price, quantity, pnl_usdt, pnl_pct, exit_reason,
			tp1_hit, tp2_hit, management_json, opened_at, closed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		) RETURNING id`

	err = tx.QueryRow(ctx, tradeQuery,
		trade.PositionID,
		trade.DecisionID,
		trade.Symbol,
		trade.Side,
		trade.EntryPrice,
		trade.AvgEntryPrice,
		trade.ExitPrice,
		trade.Quantity,
		trade.PnLUSDT,
		trade.PnLPct,
		trade.ExitReason,
		trade.TP1Hit,
		trade.TP2Hit,
		trade.ManagementJSON,
		trade.OpenedAt,
		now,
	).Scan(&trade.ID)
	if err != nil {
		return false, fmt.Errorf("failed to record trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit close transaction: %w", err)
	}

	pos.Status = PositionStatusClosed
	pos.ClosedAt = &now
	pos.UpdatedAt = now
	trade.ClosedAt = now
	trade.CreatedAt = now
	return true, nil
}
