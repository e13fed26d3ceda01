package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/events"
	"binance-liq-engine/internal/logging"
)

// Errors returned by the manager
var (
	ErrPositionExists   = errors.New("an open position already exists for symbol")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position is already closed")
)

// PositionRepository defines the persistence surface the manager needs
type PositionRepository interface {
	CreatePosition(ctx context.Context, pos *database.Position) error
	GetOpenPosition(ctx context.Context, symbol string) (*database.Position, error)
	GetPositionByID(ctx context.Context, id int64) (*database.Position, error)
	UpdatePosition(ctx context.Context, pos *database.Position) error
	CloseAndRecordTrade(ctx context.Context, pos *database.Position, trade *database.Trade) (bool, error)
}

// Config holds the position-level risk parameters
type Config struct {
	// MinStopDistancePct is the closest a stop may sit to entry, as a
	// fraction of entry price. A stop at or beyond breakeven is exempt.
	MinStopDistancePct float64
	// DefaultTrailPct seeds the management policy when the decision has none
	DefaultTrailPct float64
}

// Manager enforces the position invariants: one open position per symbol,
// stop-loss never widens, close happens exactly once and always emits a
// Trade in the same transaction.
type Manager struct {
	repo     PositionRepository
	recorder *events.Recorder
	cfg      Config
	logger   *logging.Logger
}

// NewManager creates a position lifecycle manager
func NewManager(repo PositionRepository, recorder *events.Recorder, cfg Config) *Manager {
	return &Manager{
		repo:     repo,
		recorder: recorder,
		cfg:      cfg,
		logger:   logging.WithComponent("position"),
	}
}

// GetOpenPosition returns the open position for a symbol, nil when flat
func (m *Manager) GetOpenPosition(ctx context.Context, symbol string) (*database.Position, error) {
	return m.repo.GetOpenPosition(ctx, symbol)
}

// CreateFromDecision opens a position from a validated decision. Fails with
// ErrPositionExists when the symbol already has an open position; this is
// the enforcement point of the single-position invariant.
func (m *Manager) CreateFromDecision(ctx context.Context, decision *database.Decision, size float64, riskMode string) (*database.Position, error) {
	existing, err := m.repo.GetOpenPosition(ctx, decision.Symbol)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPositionExists
	}

	entry, ok := decision.EntryPrice()
	if !ok || entry <= 0 {
		return nil, fmt.Errorf("decision %d has no resolvable entry price", decision.ID)
	}
	if size <= 0 {
		return nil, fmt.Errorf("position size must be positive, got %v", size)
	}

	side := database.SideLong
	if decision.Action == database.ActionShort {
		side = database.SideShort
	}

	management := decision.ManagementJSON
	if management == nil {
		management = DefaultManagementPolicy(m.cfg.DefaultTrailPct).Encode()
	}

	now := time.Now()
	pos := &database.Position{
		Symbol:         decision.Symbol,
		Side:           side,
		Status:         database.PositionStatusOpen,
		EntryPrice:     entry,
		AvgEntryPrice:  entry,
		Size:           size,
		MaxSize:        size,
		Leverage:       decision.Leverage,
		StopLoss:       decision.StopLoss,
		TakeProfit1:    decision.TakeProfit1,
		TakeProfit2:    decision.TakeProfit2,
		ManagementJSON: management,
		DecisionID:     &decision.ID,
		OpenedAt:       now,
	}
	if riskMode != "" {
		pos.RiskModeAtOpen = &riskMode
	}

	if err := m.repo.CreatePosition(ctx, pos); err != nil {
		return nil, err
	}

	m.logger.Info("Position opened",
		"symbol", pos.Symbol, "side", pos.Side, "entry", entry, "size", size, "decision_id", decision.ID)
	return pos, nil
}

// MarkTP1Hit sets the tp1 flag once. Calling it again with the flag already
// set is a no-op.
func (m *Manager) MarkTP1Hit(ctx context.Context, positionID int64, price float64) (*database.Position, error) {
	pos, err := m.mustOpen(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos.TP1Hit {
		return pos, nil
	}

	pos.TP1Hit = true
	if err := m.repo.UpdatePosition(ctx, pos); err != nil {
		return nil, err
	}
	m.logger.Info("TP1 hit", "position_id", pos.ID, "symbol", pos.Symbol, "price", price)
	return pos, nil
}

// UpdateSLTP applies stop-loss and take-profit changes. Stop-loss updates
// enforce the never-widen rule: for a long position a proposed stop below
// the current one is refused (symmetric for short), recorded as a blocked
// risk event rather than an error. A stop tighter than the minimum distance
// from entry is refused unless it is at or beyond breakeven.
func (m *Manager) UpdateSLTP(ctx context.Context, positionID int64, sl, tp1, tp2 *float64) (*database.Position, error) {
	pos, err := m.mustOpen(ctx, positionID)
	if err != nil {
		return nil, err
	}

	changed := false
	if sl != nil {
		if reason := m.stopLossBlockReason(pos, *sl); reason != "" {
			m.recorder.RiskEvent(ctx, events.EventRiskLimitHit, pos.Symbol,
				fmt.Sprintf("stop-loss update blocked: %s", reason),
				map[string]interface{}{
					"position_id": pos.ID,
					"proposed_sl": *sl,
				})
		} else if pos.StopLoss == nil || *pos.StopLoss != *sl {
			pos.StopLoss = sl
			changed = true
		}
	}
	if tp1 != nil && (pos.TakeProfit1 == nil || *pos.TakeProfit1 != *tp1) {
		pos.TakeProfit1 = tp1
		changed = true
	}
	if tp2 != nil && (pos.TakeProfit2 == nil || *pos.TakeProfit2 != *tp2) {
		pos.TakeProfit2 = tp2
		changed = true
	}

	if !changed {
		return pos, nil
	}
	if err := m.repo.UpdatePosition(ctx, pos); err != nil {
		return nil, err
	}
	m.logger.Info("Position levels updated",
		"position_id", pos.ID, "stop_loss", deref(pos.StopLoss), "tp1", deref(pos.TakeProfit1), "tp2", deref(pos.TakeProfit2))
	return pos, nil
}

// ClosePosition transitions a position to closed exactly once, computing
// realized PnL and emitting the Trade in the same transaction. The second
// return value reports whether this call performed the close; false means
// the position was already closed and nothing changed.
func (m *Manager) ClosePosition(ctx context.Context, positionID int64, exitPrice float64, reason string) (*database.Trade, bool, error) {
	pos, err := m.repo.GetPositionByID(ctx, positionID)
	if err != nil {
		return nil, false, err
	}
	if pos == nil {
		return nil, false, ErrPositionNotFound
	}
	if pos.Status != database.PositionStatusOpen {
		return nil, false, nil
	}

	pnl := (exitPrice - pos.AvgEntryPrice) * pos.Size
	if pos.Side == database.SideShort {
		pnl = (pos.AvgEntryPrice - exitPrice) * pos.Size
	}
	pnlPct := 0.0
	if pos.AvgEntryPrice > 0 {
		pnlPct = pnl / (pos.AvgEntryPrice * pos.Size) * 100
	}

	trade := &database.Trade{
		PositionID:     pos.ID,
		DecisionID:     pos.DecisionID,
		Symbol:         pos.Symbol,
		Side:           pos.Side,
		EntryPrice:     pos.EntryPrice,
		AvgEntryPrice:  pos.AvgEntryPrice,
		ExitPrice:      exitPrice,
		Quantity:       pos.Size,
		PnLUSDT:        pnl,
		PnLPct:         pnlPct,
		ExitReason:     reason,
		TP1Hit:         pos.TP1Hit,
		TP2Hit:         pos.TP2Hit,
		ManagementJSON: pos.ManagementJSON,
		OpenedAt:       pos.OpenedAt,
	}
	if reason == database.ExitReasonTakeProfit2 {
		pos.TP2Hit = true
		trade.TP2Hit = true
	}
	if reason == database.ExitReasonLiqZone {
		pos.LiqExitUsed = true
	}

	closed, err := m.repo.CloseAndRecordTrade(ctx, pos, trade)
	if err != nil {
		return nil, false, err
	}
	if !closed {
		// lost the race against another close path
		return nil, false, nil
	}

	m.logger.Info("Position closed",
		"position_id", pos.ID, "symbol", pos.Symbol, "reason", reason,
		"exit_price", exitPrice, "pnl", pnl, "pnl_pct", pnlPct)
	return trade, true, nil
}

// stopLossBlockReason returns a non-empty reason when a proposed stop must
// be refused.
func (m *Manager) stopLossBlockReason(pos *database.Position, proposed float64) string {
	if proposed <= 0 {
		return "stop must be positive"
	}

	if pos.StopLoss != nil {
		if pos.Side == database.SideLong && proposed < *pos.StopLoss {
			return fmt.Sprintf("long stop %.8g would widen below current %.8g", proposed, *pos.StopLoss)
		}
		if pos.Side == database.SideShort && proposed > *pos.StopLoss {
			return fmt.Sprintf("short stop %.8g would widen above current %.8g", proposed, *pos.StopLoss)
		}
	}

	// a stop at breakeven or better is always allowed regardless of the
	// entry-distance floor
	atBreakeven := (pos.Side == database.SideLong && proposed >= pos.AvgEntryPrice) ||
		(pos.Side == database.SideShort && proposed <= pos.AvgEntryPrice)
	if atBreakeven {
		return ""
	}

	minDistance := pos.AvgEntryPrice * m.cfg.MinStopDistancePct
	distance := pos.AvgEntryPrice - proposed
	if pos.Side == database.SideShort {
		distance = proposed - pos.AvgEntryPrice
	}
	if distance < minDistance {
		return fmt.Sprintf("stop %.8g within minimum distance %.8g of entry %.8g", proposed, minDistance, pos.AvgEntryPrice)
	}
	return ""
}

func (m *Manager) mustOpen(ctx context.Context, positionID int64) (*database.Position, error) {
	pos, err := m.repo.GetPositionByID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	if pos.Status != database.PositionStatusOpen {
		return nil, ErrPositionClosed
	}
	return pos, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
