// Package execution drives the per-tick trading cycle: it reads the latest
// decision and price, opens positions through the risk gates, and walks an
// open position through its exit checks in a fixed order.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/events"
	"binance-liq-engine/internal/exchange"
	"binance-liq-engine/internal/logging"
	"binance-liq-engine/internal/orders"
	"binance-liq-engine/internal/position"
	"binance-liq-engine/internal/risk"
)

// DecisionStore is the read-only surface onto the external decision engine
type DecisionStore interface {
	GetLatestActionableDecision(ctx context.Context, symbol string, maxAge time.Duration) (*database.Decision, error)
	GetDecisionByID(ctx context.Context, id int64) (*database.Decision, error)
	GetLiquidationZoneByID(ctx context.Context, id int64) (*database.LiquidationZone, error)
}

// PriceCache is the optional fast path for the mark price, fed by the
// websocket stream. A miss falls back to a REST lookup.
type PriceCache interface {
	GetMarkPrice(ctx context.Context, symbol string) (float64, bool)
}

// Config holds the orchestrator settings
type Config struct {
	Symbol            string
	DecisionStaleness time.Duration
	Trailing          TrailingConfig
	// LiqExitAdverse selects the liquidation-exit cross direction: true
	// exits a long when price falls through the zone (adverse cross),
	// false when price rises through it.
	LiqExitAdverse bool
	// DryRun suppresses nothing here; it selects the mock exchange at
	// wiring time. Kept for visibility in logs.
	DryRun bool
}

// Orchestrator is the execution cycle state machine. One call to RunCycle
// is one tick; the caller serializes ticks per symbol with the run lock.
type Orchestrator struct {
	cfg       Config
	policy    risk.PolicyConfig
	decisions DecisionStore
	positions *position.Manager
	orders    *orders.Manager
	riskState *risk.StateService
	exchange  exchange.Client
	prices    PriceCache // may be nil
	recorder  *events.Recorder
	logger    *logging.Logger
}

// NewOrchestrator wires the execution cycle
func NewOrchestrator(
	cfg Config,
	policy risk.PolicyConfig,
	decisions DecisionStore,
	positions *position.Manager,
	orderMgr *orders.Manager,
	riskState *risk.StateService,
	ex exchange.Client,
	prices PriceCache,
	recorder *events.Recorder,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		policy:    policy,
		decisions: decisions,
		positions: positions,
		orders:    orderMgr,
		riskState: riskState,
		exchange:  ex,
		prices:    prices,
		recorder:  recorder,
		logger:    logging.WithComponent("execution"),
	}
}

// RunCycle executes one tick. Errors returned here are infrastructure
// failures; business outcomes (blocked entry, no decision, position held)
// all return nil so the scheduler just ticks again.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	logger := o.logger.WithTraceID(uuid.NewString())

	pos, err := o.positions.GetOpenPosition(ctx, o.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to load open position: %w", err)
	}

	if pos == nil {
		return o.runEntryCycle(ctx, logger)
	}
	return o.runExitCycle(ctx, logger, pos)
}

// runEntryCycle handles the NoPosition state: stale or absent decisions are
// a no-op; a fresh one runs the policy and account-level gates before any
// order is placed.
func (o *Orchestrator) runEntryCycle(ctx context.Context, logger *logging.Logger) error {
	decision, err := o.decisions.GetLatestActionableDecision(ctx, o.cfg.Symbol, o.cfg.DecisionStaleness)
	if err != nil {
		return fmt.Errorf("failed to load decision: %w", err)
	}
	if decision == nil {
		logger.Debug("No fresh actionable decision", "symbol", o.cfg.Symbol)
		return nil
	}

	verdict := risk.EvaluateEntry(decision, o.policy)
	if !verdict.Allow {
		o.recorder.RiskEvent(ctx, events.EventEntryBlocked, o.cfg.Symbol,
			fmt.Sprintf("entry policy rejected decision %d", decision.ID),
			map[string]interface{}{"decision_id": decision.ID, "reasons": verdict.Reasons})
		return nil
	}

	state, err := o.riskState.CanTrade(ctx, o.cfg.Symbol, time.Now())
	if err != nil {
		return fmt.Errorf("failed to evaluate risk state: %w", err)
	}
	if !state.Allowed {
		o.recorder.RiskEvent(ctx, events.EventRiskLimitHit, o.cfg.Symbol,
			fmt.Sprintf("entry blocked by account risk state for decision %d", decision.ID),
			map[string]interface{}{"decision_id": decision.ID, "reasons": state.Reasons, "mode": state.Mode})
		return nil
	}

	entry, _ := decision.EntryPrice()
	if decision.PositionSizeUSDT == nil || *decision.PositionSizeUSDT <= 0 {
		o.recorder.RiskEvent(ctx, events.EventEntryBlocked, o.cfg.Symbol,
			fmt.Sprintf("decision %d has no position size", decision.ID), nil)
		return nil
	}
	size := *decision.PositionSizeUSDT / entry

	pos, err := o.positions.CreateFromDecision(ctx, decision, size, state.Mode)
	if err != nil {
		if errors.Is(err, position.ErrPositionExists) {
			// another run won the race; nothing to do
			return nil
		}
		return fmt.Errorf("failed to create position: %w", err)
	}

	logger.Info("Entering position",
		"symbol", pos.Symbol, "side", pos.Side, "entry", entry, "size", size,
		"decision_id", decision.ID, "risk_mode", state.Mode)

	o.placeEntryLegs(ctx, logger, pos, decision)
	o.recorder.Execution(ctx, "execution", "info",
		fmt.Sprintf("position %d opened from decision %d", pos.ID, decision.ID),
		map[string]interface{}{"position_id": pos.ID, "side": pos.Side, "size": size})
	return nil
}

// placeEntryLegs places the entry order first, then the protective legs.
// Legs are placed once, at open: each leg failure is logged independently
// and the remaining legs are still attempted.
func (o *Orchestrator) placeEntryLegs(ctx context.Context, logger *logging.Logger, pos *database.Position, decision *database.Decision) {
	entrySide, exitSide := sidesFor(pos)

	entryPrice := pos.EntryPrice
	if _, err := o.orders.EnsureOrder(ctx, pos, decision.ID, orders.LegSpec{
		Role:      database.RoleEntry,
		Side:      entrySide,
		OrderType: database.OrderTypeLimit,
		Price:     &entryPrice,
		Quantity:  pos.Size,
	}); err != nil {
		logger.Error("Entry leg placement failed", "position_id", pos.ID, "error", err.Error())
	}

	if pos.StopLoss != nil {
		if _, err := o.orders.EnsureOrder(ctx, pos, decision.ID, orders.LegSpec{
			Role:      database.RoleStopLoss,
			Side:      exitSide,
			OrderType: database.OrderTypeStop,
			StopPrice: pos.StopLoss,
			Quantity:  pos.Size,
		}); err != nil {
			logger.Error("Stop-loss leg placement failed", "position_id", pos.ID, "error", err.Error())
		}
	}

	// TP1 takes half the size when a TP2 exists, the full size otherwise
	if pos.TakeProfit1 != nil {
		qty := pos.Size
		if pos.TakeProfit2 != nil {
			qty = pos.Size / 2
		}
		if _, err := o.orders.EnsureOrder(ctx, pos, decision.ID, orders.LegSpec{
			Role:      database.RoleTakeProfit1,
			Side:      exitSide,
			OrderType: database.OrderTypeLimit,
			Price:     pos.TakeProfit1,
			Quantity:  qty,
		}); err != nil {
			logger.Error("TP1 leg placement failed", "position_id", pos.ID, "error", err.Error())
		}
	}
	if pos.TakeProfit2 != nil {
		if _, err := o.orders.EnsureOrder(ctx, pos, decision.ID, orders.LegSpec{
			Role:      database.RoleTakeProfit2,
			Side:      exitSide,
			OrderType: database.OrderTypeLimit,
			Price:     pos.TakeProfit2,
			Quantity:  pos.Size / 2,
		}); err != nil {
			logger.Error("TP2 leg placement failed", "position_id", pos.ID, "error", err.Error())
		}
	}
}

// runExitCycle walks the fixed exit-check order: stop-loss, take-profit-2,
// take-profit-1, liquidation exit, trailing. The cycle returns immediately
// after the first close so at most one exit reason is recorded per trade.
func (o *Orchestrator) runExitCycle(ctx context.Context, logger *logging.Logger, pos *database.Position) error {
	if err := o.orders.SyncStatus(ctx, pos); err != nil {
		logger.Warn("Order status sync failed", "position_id", pos.ID, "error", err.Error())
	}

	price, ok := o.currentPrice(ctx)
	if !ok {
		// never guess: without a price, skip exit evaluation this tick
		logger.Warn("Price unavailable, skipping exit checks", "position_id", pos.ID)
		return nil
	}

	long := pos.Side == database.SideLong

	// 1. stop-loss always takes priority over targets
	if pos.StopLoss != nil && crossedDown(long, price, *pos.StopLoss) {
		return o.closePosition(ctx, logger, pos, price, database.ExitReasonStopLoss)
	}

	// 2. final target
	if pos.TakeProfit2 != nil && crossedUp(long, price, *pos.TakeProfit2) {
		return o.closePosition(ctx, logger, pos, price, database.ExitReasonTakeProfit2)
	}

	// 3. first target: mark the hit and move the stop to breakeven
	if !pos.TP1Hit && pos.TakeProfit1 != nil && crossedUp(long, price, *pos.TakeProfit1) {
		updated, err := o.positions.MarkTP1Hit(ctx, pos.ID, price)
		if err != nil {
			return fmt.Errorf("failed to mark tp1 hit: %w", err)
		}
		breakeven := updated.AvgEntryPrice
		updated, err = o.positions.UpdateSLTP(ctx, pos.ID, &breakeven, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to move stop to breakeven: %w", err)
		}
		o.refreshStopLeg(ctx, logger, updated)
		logger.Info("TP1 reached, stop moved to breakeven",
			"position_id", pos.ID, "price", price, "stop_loss", breakeven)
		return nil
	}

	zone := o.linkedZone(ctx, pos)

	// 4. liquidation-zone exit, only armed once TP1 has hit
	if pos.TP1Hit && !pos.LiqExitUsed && zone != nil && o.liqExitTriggered(long, price, zone.PriceLevel) {
		return o.closePosition(ctx, logger, pos, price, database.ExitReasonLiqZone)
	}

	// 5. trailing-stop update
	if pos.TP1Hit {
		policy := position.ParseManagement(pos.ManagementJSON, position.DefaultManagementPolicy(o.cfg.Trailing.TrailPct))
		if candidate, ok := trailingCandidate(pos, price, zone, policy, o.cfg.Trailing); ok {
			updated, err := o.positions.UpdateSLTP(ctx, pos.ID, &candidate, nil, nil)
			if err != nil {
				return fmt.Errorf("failed to apply trailing stop: %w", err)
			}
			o.refreshStopLeg(ctx, logger, updated)
			logger.Info("Trailing stop advanced",
				"position_id", pos.ID, "price", price, "stop_loss", candidate)
		}
	}
	return nil
}

// closePosition forces a market exit, settles the position and cleans up
// its remaining orders.
func (o *Orchestrator) closePosition(ctx context.Context, logger *logging.Logger, pos *database.Position, price float64, reason string) error {
	_, exitSide := sidesFor(pos)

	decisionID := int64(0)
	if pos.DecisionID != nil {
		decisionID = *pos.DecisionID
	}
	if _, err := o.orders.EnsureOrder(ctx, pos, decisionID, orders.LegSpec{
		Role:      database.RoleManualExit,
		Side:      exitSide,
		OrderType: database.OrderTypeMarket,
		Quantity:  pos.Size,
	}); err != nil {
		// unknown outcome: abandon this tick, the next one re-evaluates
		logger.Error("Exit order failed, will retry next tick",
			"position_id", pos.ID, "reason", reason, "error", err.Error())
		return nil
	}

	trade, closed, err := o.positions.ClosePosition(ctx, pos.ID, price, reason)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	if !closed {
		return nil
	}

	if _, err := o.orders.CancelStale(ctx, pos); err != nil {
		logger.Warn("Stale order cleanup failed", "position_id", pos.ID, "error", err.Error())
	}
	if err := o.riskState.RecordTradeClose(ctx, trade); err != nil {
		logger.Warn("Equity update failed", "position_id", pos.ID, "error", err.Error())
	}

	o.recorder.Execution(ctx, "execution", "info",
		fmt.Sprintf("position %d closed: %s", pos.ID, reason),
		map[string]interface{}{
			"position_id": pos.ID,
			"exit_reason": reason,
			"exit_price":  price,
			"pnl_usdt":    trade.PnLUSDT,
		})
	logger.Info("Position closed", "position_id", pos.ID, "reason", reason, "pnl", trade.PnLUSDT)
	return nil
}

// refreshStopLeg re-submits the stop-loss leg after the stop moved
func (o *Orchestrator) refreshStopLeg(ctx context.Context, logger *logging.Logger, pos *database.Position) {
	if pos.StopLoss == nil {
		return
	}
	_, exitSide := sidesFor(pos)
	decisionID := int64(0)
	if pos.DecisionID != nil {
		decisionID = *pos.DecisionID
	}
	if _, err := o.orders.EnsureOrder(ctx, pos, decisionID, orders.LegSpec{
		Role:      database.RoleStopLoss,
		Side:      exitSide,
		OrderType: database.OrderTypeStop,
		StopPrice: pos.StopLoss,
		Quantity:  pos.Size,
	}); err != nil {
		logger.Error("Stop leg refresh failed", "position_id", pos.ID, "error", err.Error())
	}
}

// currentPrice reads the cached mark price, falling back to REST
func (o *Orchestrator) currentPrice(ctx context.Context) (float64, bool) {
	if o.prices != nil {
		if price, ok := o.prices.GetMarkPrice(ctx, o.cfg.Symbol); ok {
			return price, true
		}
	}
	price, err := o.exchange.GetPrice(ctx, o.cfg.Symbol)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// linkedZone resolves the liquidation zone referenced by the position's
// originating decision, nil when absent.
func (o *Orchestrator) linkedZone(ctx context.Context, pos *database.Position) *database.LiquidationZone {
	if pos.DecisionID == nil {
		return nil
	}
	decision, err := o.decisions.GetDecisionByID(ctx, *pos.DecisionID)
	if err != nil || decision == nil || decision.LiqZoneID == nil {
		return nil
	}
	zone, err := o.decisions.GetLiquidationZoneByID(ctx, *decision.LiqZoneID)
	if err != nil {
		return nil
	}
	return zone
}

// liqExitTriggered reports whether the liquidation-exit cross condition
// holds for the configured direction.
func (o *Orchestrator) liqExitTriggered(long bool, price, zoneLevel float64) bool {
	if o.cfg.LiqExitAdverse {
		return crossedDown(long, price, zoneLevel)
	}
	return crossedUp(long, price, zoneLevel)
}

// crossedDown reports a cross through a level on the loss side
func crossedDown(long bool, price, level float64) bool {
	if long {
		return price <= level
	}
	return price >= level
}

// crossedUp reports a cross through a level on the profit side
func crossedUp(long bool, price, level float64) bool {
	if long {
		return price >= level
	}
	return price <= level
}

func sidesFor(pos *database.Position) (entrySide, exitSide string) {
	if pos.Side == database.SideLong {
		return exchange.SideBuy, exchange.SideSell
	}
	return exchange.SideSell, exchange.SideBuy
}
