package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ==================== DECISIONS ====================

const decisionColumns = `
	id, symbol, action, entry_min_price, entry_max_price,
	sl_price, tp1_price, tp2_price, position_size_usdt, leverage,
	risk_level, confidence, risk_checks_json, position_management_json,
	liq_tp_zone_id, created_at`

func scanDecision(row pgx.Row) (*Decision, error) {
	d := &Decision{}
	err := row.Scan(
		&d.ID, &d.Symbol, &d.Action, &d.EntryMinPrice, &d.EntryMaxPrice,
		&d.StopLoss, &d.TakeProfit1, &d.TakeProfit2, &d.PositionSizeUSDT,
		&d.Leverage, &d.RiskLevel, &d.Confidence, &d.RiskChecksJSON,
		&d.ManagementJSON, &d.LiqZoneID, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetLatestActionableDecision returns the newest long/short decision for a
// symbol created after the staleness cutoff, or nil when there is none.
// Flat decisions never open positions, so they are excluded here.
func (db *DB) GetLatestActionableDecision(ctx context.Context, symbol string, maxAge time.Duration) (*Decision, error) {
	query := `SELECT` + decisionColumns + `
		FROM decisions
		WHERE symbol = $1 AND action IN ('long', 'short') AND created_at > $2
		ORDER BY created_at DESC LIMIT 1`

	cutoff := time.Now().Add(-maxAge)
	d, err := scanDecision(db.Pool.QueryRow(ctx, query, symbol, cutoff))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest decision: %w", err)
	}
	return d, nil
}

// GetDecisionByID retrieves a decision by ID
func (db *DB) GetDecisionByID(ctx context.Context, id int64) (*Decision, error) {
	query := `SELECT` + decisionColumns + `
		FROM decisions WHERE id = $1`

	d, err := scanDecision(db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

// GetLiquidationZoneByID retrieves the liquidation zone a decision targets
func (db *DB) GetLiquidationZoneByID(ctx context.Context, id int64) (*LiquidationZone, error) {
	query := `
		SELECT id, symbol, side, price_level, strength, source, created_at
		FROM liquidation_zones WHERE id = $1`

	zone := &LiquidationZone{}
	err := db.Pool.QueryRow(ctx, query, id).Scan(
		&zone.ID, &zone.Symbol, &zone.Side, &zone.PriceLevel,
		&zone.Strength, &zone.Source, &zone.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get liquidation zone: %w", err)
	}
	return zone, nil
}
