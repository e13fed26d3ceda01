// Package reconcile compares the locally tracked position and orders against
// what the exchange reports and emits a risk event for every divergence. It
// never repairs anything: the events are the alert surface for an operator.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/events"
	"binance-liq-engine/internal/exchange"
	"binance-liq-engine/internal/logging"
)

// Store is the local-state read surface the checker compares against
type Store interface {
	GetOpenPosition(ctx context.Context, symbol string) (*database.Position, error)
	GetActiveOrdersBySymbol(ctx context.Context, symbol string) ([]*database.Order, error)
}

// Config holds checker settings
type Config struct {
	Symbol string
	// QtyEpsilon is the tolerance when comparing signed position sizes
	QtyEpsilon float64
}

// Checker runs one read-only comparison pass per Run call
type Checker struct {
	cfg      Config
	store    Store
	exchange exchange.Client
	recorder *events.Recorder
	logger   *logging.Logger
}

func NewChecker(cfg Config, store Store, ex exchange.Client, recorder *events.Recorder) *Checker {
	if cfg.QtyEpsilon <= 0 {
		cfg.QtyEpsilon = 1e-6
	}
	return &Checker{
		cfg:      cfg,
		store:    store,
		exchange: ex,
		recorder: recorder,
		logger:   logging.WithComponent("reconcile"),
	}
}

// Run performs one reconciliation pass and returns the number of
// divergences found. Exchange or store failures abort the pass; a partial
// comparison would produce false alerts.
func (c *Checker) Run(ctx context.Context) (int, error) {
	divergences := 0

	n, err := c.checkOrders(ctx)
	if err != nil {
		return divergences, err
	}
	divergences += n

	n, err = c.checkPosition(ctx)
	if err != nil {
		return divergences, err
	}
	divergences += n

	if divergences > 0 {
		c.logger.Warn("Reconciliation found divergences",
			"symbol", c.cfg.Symbol, "count", divergences)
	} else {
		c.logger.Debug("Reconciliation clean", "symbol", c.cfg.Symbol)
	}
	return divergences, nil
}

func (c *Checker) checkOrders(ctx context.Context) (int, error) {
	local, err := c.store.GetActiveOrdersBySymbol(ctx, c.cfg.Symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to load local orders: %w", err)
	}
	remote, err := c.exchange.GetOpenOrders(ctx, c.cfg.Symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to load exchange orders: %w", err)
	}

	remoteByID := make(map[string]*exchange.RemoteOrder, len(remote))
	for _, o := range remote {
		remoteByID[o.ClientOrderID] = o
	}

	divergences := 0
	for _, o := range local {
		r, ok := remoteByID[o.ClientOrderID]
		if !ok {
			// locally active, nothing on the exchange under that client id
			c.recorder.RiskEvent(ctx, events.EventOrderMissing, c.cfg.Symbol,
				fmt.Sprintf("active order %s (%s) not found on exchange", o.ClientOrderID, o.Role),
				map[string]interface{}{
					"client_order_id": o.ClientOrderID,
					"role":            o.Role,
					"local_status":    o.Status,
				})
			divergences++
			continue
		}
		if r.Status != o.Status {
			c.recorder.RiskEvent(ctx, events.EventOrderStatusMismatch, c.cfg.Symbol,
				fmt.Sprintf("order %s status drift: local %s, exchange %s", o.ClientOrderID, o.Status, r.Status),
				map[string]interface{}{
					"client_order_id": o.ClientOrderID,
					"role":            o.Role,
					"local_status":    o.Status,
					"remote_status":   r.Status,
				})
			divergences++
		}
	}
	return divergences, nil
}

func (c *Checker) checkPosition(ctx context.Context) (int, error) {
	local, err := c.store.GetOpenPosition(ctx, c.cfg.Symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to load local position: %w", err)
	}
	remote, err := c.exchange.GetPosition(ctx, c.cfg.Symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to load exchange position: %w", err)
	}

	localQty := 0.0
	if local != nil {
		localQty = local.Size
		if local.Side == database.SideShort {
			localQty = -localQty
		}
	}
	remoteQty := 0.0
	if remote != nil {
		remoteQty = remote.Quantity
	}

	localFlat := math.Abs(localQty) <= c.cfg.QtyEpsilon
	remoteFlat := math.Abs(remoteQty) <= c.cfg.QtyEpsilon

	switch {
	case localFlat && remoteFlat:
		return 0, nil
	case localFlat && !remoteFlat:
		c.recorder.RiskEvent(ctx, events.EventPhantomPosition, c.cfg.Symbol,
			fmt.Sprintf("exchange reports position qty %.8g with no local open position", remoteQty),
			map[string]interface{}{"remote_qty": remoteQty})
		return 1, nil
	case !localFlat && remoteFlat:
		c.recorder.RiskEvent(ctx, events.EventMissingPosition, c.cfg.Symbol,
			fmt.Sprintf("local position %d (qty %.8g) has no exchange position", local.ID, localQty),
			map[string]interface{}{"position_id": local.ID, "local_qty": localQty})
		return 1, nil
	case math.Abs(localQty-remoteQty) > c.cfg.QtyEpsilon:
		c.recorder.RiskEvent(ctx, events.EventQtyMismatch, c.cfg.Symbol,
			fmt.Sprintf("position qty drift: local %.8g, exchange %.8g", localQty, remoteQty),
			map[string]interface{}{"position_id": local.ID, "local_qty": localQty, "remote_qty": remoteQty})
		return 1, nil
	}
	return 0, nil
}

// RunLoop ticks Run on the given interval until ctx is canceled. Failures
// are logged and the loop keeps going.
func (c *Checker) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Run(ctx); err != nil {
				c.logger.Error("Reconciliation pass failed", "error", err.Error())
			}
		}
	}
}
