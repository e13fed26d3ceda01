package database

import (
	"time"
)

// Position side values
const (
	SideLong  = "long"
	SideShort = "short"
)

// Position status values
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Order roles within a position lifecycle
const (
	RoleEntry       = "entry"
	RoleStopLoss    = "sl"
	RoleTakeProfit1 = "tp1"
	RoleTakeProfit2 = "tp2"
	RoleManualExit  = "close"
)

// Order sides (exchange vocabulary)
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Order types
const (
	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"
	OrderTypeStop   = "stop"
)

// Order status values. An order is "active" while new or working.
const (
	OrderStatusNew      = "new"
	OrderStatusWorking  = "working"
	OrderStatusFilled   = "filled"
	OrderStatusCanceled = "canceled"
)

// Exit reasons recorded on a Trade
const (
	ExitReasonStopLoss    = "stop-loss"
	ExitReasonTakeProfit2 = "take-profit-2"
	ExitReasonLiqZone     = "liquidation-zone-exit"
	ExitReasonManual      = "manual"
)

// Decision actions
const (
	ActionLong  = "long"
	ActionShort = "short"
	ActionFlat  = "flat"
)

// Position represents one opened trade attempt. At most one row per symbol
// has status=open at any time.
type Position struct {
	ID             int64      `json:"id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`   // long, short
	Status         string     `json:"status"` // open, closed
	EntryPrice     float64    `json:"entry_price"`
	AvgEntryPrice  float64    `json:"avg_entry_price"`
	Size           float64    `json:"size"`
	MaxSize        float64    `json:"max_size"`
	Leverage       *float64   `json:"leverage,omitempty"`
	StopLoss       *float64   `json:"stop_loss,omitempty"`
	TakeProfit1    *float64   `json:"take_profit_1,omitempty"`
	TakeProfit2    *float64   `json:"take_profit_2,omitempty"`
	TP1Hit         bool       `json:"tp1_hit"`
	TP2Hit         bool       `json:"tp2_hit"`
	LiqExitUsed    bool       `json:"liq_exit_used"`
	RealizedPnL    *float64   `json:"realized_pnl,omitempty"`
	RealizedPnLPct *float64   `json:"realized_pnl_pct,omitempty"`
	ManagementJSON *string    `json:"management_json,omitempty"` // free-form trailing policy blob
	RiskModeAtOpen *string    `json:"risk_mode_at_open,omitempty"`
	DecisionID     *int64     `json:"decision_id,omitempty"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Order represents one exchange order the engine has placed or intends to
// place. For a given (position, role) at most one order is active.
type Order struct {
	ID              int64     `json:"id"`
	ClientOrderID   string    `json:"client_order_id"`
	ExchangeOrderID *string   `json:"exchange_order_id,omitempty"`
	Symbol          string    `json:"symbol"`
	Role            string    `json:"role"` // entry, sl, tp1, tp2, close
	Side            string    `json:"side"` // buy, sell
	OrderType       string    `json:"order_type"`
	Price           *float64  `json:"price,omitempty"`
	StopPrice       *float64  `json:"stop_price,omitempty"`
	OrigQty         float64   `json:"orig_qty"`
	ExecutedQty     float64   `json:"executed_qty"`
	Status          string    `json:"status"`
	PositionID      int64     `json:"position_id"`
	DecisionID      *int64    `json:"decision_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsActive reports whether the order still counts against the one-active-
// order-per-role invariant.
func (o *Order) IsActive() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusWorking
}

// Trade is the append-only settlement record emitted exactly once when a
// position closes.
type Trade struct {
	ID             int64     `json:"id"`
	PositionID     int64     `json:"position_id"`
	DecisionID     *int64    `json:"decision_id,omitempty"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	EntryPrice     float64   `json:"entry_price"`
	AvgEntryPrice  float64   `json:"avg_entry_price"`
	ExitPrice      float64   `json:"exit_price"`
	Quantity       float64   `json:"quantity"`
	PnLUSDT        float64   `json:"pnl_usdt"`
	PnLPct         float64   `json:"pnl_pct"`
	ExitReason     string    `json:"exit_reason"`
	TP1Hit         bool      `json:"tp1_hit"`
	TP2Hit         bool      `json:"tp2_hit"`
	ManagementJSON *string   `json:"management_json,omitempty"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Decision is the externally produced directional signal. Read-only to the
// execution core; rows are written by the decision engine.
type Decision struct {
	ID               int64     `json:"id"`
	Symbol           string    `json:"symbol"`
	Action           string    `json:"action"` // long, short, flat
	EntryMinPrice    *float64  `json:"entry_min_price,omitempty"`
	EntryMaxPrice    *float64  `json:"entry_max_price,omitempty"`
	StopLoss         *float64  `json:"sl_price,omitempty"`
	TakeProfit1      *float64  `json:"tp1_price,omitempty"`
	TakeProfit2      *float64  `json:"tp2_price,omitempty"`
	PositionSizeUSDT *float64  `json:"position_size_usdt,omitempty"`
	Leverage         *float64  `json:"leverage,omitempty"`
	RiskLevel        int       `json:"risk_level"`
	Confidence       *float64  `json:"confidence,omitempty"`
	RiskChecksJSON   *string   `json:"risk_checks_json,omitempty"`
	LiqZoneID        *int64    `json:"liq_tp_zone_id,omitempty"`
	ManagementJSON   *string   `json:"position_management_json,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// EntryPrice resolves the decision's entry band to a single price: the
// midpoint when both bounds are present, the single bound otherwise.
// Returns false when no bound is set.
func (d *Decision) EntryPrice() (float64, bool) {
	switch {
	case d.EntryMinPrice != nil && d.EntryMaxPrice != nil:
		return (*d.EntryMinPrice + *d.EntryMaxPrice) / 2, true
	case d.EntryMinPrice != nil:
		return *d.EntryMinPrice, true
	case d.EntryMaxPrice != nil:
		return *d.EntryMaxPrice, true
	default:
		return 0, false
	}
}

// LiquidationZone is a precomputed forced-liquidation cluster level produced
// by the external heatmap analytics.
type LiquidationZone struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	PriceLevel float64   `json:"price_level"`
	Strength   int       `json:"strength"`
	Source     *string   `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RiskEvent is one row in the append-only risk-events log: blocked actions,
// reconciliation divergence, exchange-call exhaustion.
type RiskEvent struct {
	ID          int64     `json:"id"`
	EventType   string    `json:"event_type"`
	Symbol      string    `json:"symbol"`
	Details     string    `json:"details"`
	DetailsJSON *string   `json:"details_json,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExecutionLog is a structured execution event persisted for the dashboard
type ExecutionLog struct {
	ID          int64     `json:"id"`
	Source      string    `json:"source"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	ContextJSON *string   `json:"context_json,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EquityPoint is one row of the equity curve, appended after every closed
// trade.
type EquityPoint struct {
	ID          int64     `json:"id"`
	Symbol      string    `json:"symbol"`
	EquityUSDT  float64   `json:"equity_usdt"`
	RealizedPnL float64   `json:"realized_pnl"`
	DailyPnL    float64   `json:"daily_pnl"`
	WeeklyPnL   float64   `json:"weekly_pnl"`
	Timestamp   time.Time `json:"timestamp"`
}
