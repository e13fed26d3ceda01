// Package events persists the append-only risk and execution event streams.
package events

import (
	"context"
	"encoding/json"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/logging"
)

// Risk event types
const (
	EventEntryBlocked        = "ENTRY_BLOCKED"
	EventRiskLimitHit        = "RISK_LIMIT_HIT"
	EventExchangeCallFailed  = "EXCHANGE_CALL_FAILED"
	EventDecisionStale       = "DECISION_STALE"
	EventOrderMissing        = "RECONCILE_ORDER_MISSING_ON_EXCHANGE"
	EventOrderStatusMismatch = "RECONCILE_ORDER_STATUS_MISMATCH"
	EventPhantomPosition     = "RECONCILE_PHANTOM_EXCHANGE_POSITION"
	EventMissingPosition     = "RECONCILE_MISSING_EXCHANGE_POSITION"
	EventQtyMismatch         = "RECONCILE_POSITION_QTY_MISMATCH"
)

// EventStore is the persistence surface the recorder needs
type EventStore interface {
	InsertRiskEvent(ctx context.Context, event *database.RiskEvent) error
	InsertExecutionLog(ctx context.Context, entry *database.ExecutionLog) error
}

// Recorder writes risk events and execution logs to the database and mirrors
// them to the structured logger. Persistence failures are logged and
// swallowed: an event sink outage must never abort a trading cycle.
type Recorder struct {
	store  EventStore
	logger *logging.Logger
}

// NewRecorder creates an event recorder
func NewRecorder(store EventStore) *Recorder {
	return &Recorder{
		store:  store,
		logger: logging.WithComponent("events"),
	}
}

// RiskEvent records one risk event. The details map is serialized into the
// details_json column; pass nil when there is nothing structured to keep.
func (r *Recorder) RiskEvent(ctx context.Context, eventType, symbol, details string, extra map[string]interface{}) {
	event := &database.RiskEvent{
		EventType: eventType,
		Symbol:    symbol,
		Details:   details,
	}
	if len(extra) > 0 {
		if raw, err := json.Marshal(extra); err == nil {
			s := string(raw)
			event.DetailsJSON = &s
		}
	}

	r.logger.Warn("Risk event", "event_type", eventType, "symbol", symbol, "details", details)

	if r.store == nil {
		return
	}
	if err := r.store.InsertRiskEvent(ctx, event); err != nil {
		r.logger.Error("Failed to persist risk event", "event_type", eventType, "error", err.Error())
	}
}

// Execution records one execution log entry
func (r *Recorder) Execution(ctx context.Context, source, level, message string, extra map[string]interface{}) {
	entry := &database.ExecutionLog{
		Source:  source,
		Level:   level,
		Message: message,
	}
	if len(extra) > 0 {
		if raw, err := json.Marshal(extra); err == nil {
			s := string(raw)
			entry.ContextJSON = &s
		}
	}

	if r.store == nil {
		return
	}
	if err := r.store.InsertExecutionLog(ctx, entry); err != nil {
		r.logger.Error("Failed to persist execution log", "source", source, "error", err.Error())
	}
}
