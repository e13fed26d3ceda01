package database

import (
	"context"
	"fmt"
	"time"
)

// ==================== RISK EVENTS / EXECUTION LOGS ====================

// InsertRiskEvent appends a row to the risk-events log
func (db *DB) InsertRiskEvent(ctx context.Context, event *RiskEvent) error {
	query := `
		INSERT INTO risk_events (event_type, symbol, details, details_json, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	now := time.Now()
	err := db.Pool.QueryRow(ctx, query,
		event.EventType,
		event.Symbol,
		event.Details,
		event.DetailsJSON,
		now,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert risk event: %w", err)
	}

	event.CreatedAt = now
	return nil
}

// InsertExecutionLog appends a row to the execution log
func (db *DB) InsertExecutionLog(ctx context.Context, entry *ExecutionLog) error {
	query := `
		INSERT INTO execution_logs (source, level, message, context_json, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	now := time.Now()
	err := db.Pool.QueryRow(ctx, query,
		entry.Source,
		entry.Level,
		entry.Message,
		entry.ContextJSON,
		now,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}

	entry.CreatedAt = now
	return nil
}

// GetRecentRiskEvents returns the newest risk events, most recent first
func (db *DB) GetRecentRiskEvents(ctx context.Context, symbol string, limit int) ([]*RiskEvent, error) {
	query := `
		SELECT id, event_type, symbol, details, details_json, created_at
		FROM risk_events WHERE symbol = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk events: %w", err)
	}
	defer rows.Close()

	var events []*RiskEvent
	for rows.Next() {
		event := &RiskEvent{}
		if err := rows.Scan(
			&event.ID, &event.EventType, &event.Symbol,
			&event.Details, &event.DetailsJSON, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan risk event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
