package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/exchange"
)

// priceEpsilon bounds float comparison when matching an existing leg
const priceEpsilon = 1e-8

// OrderRepository defines the persistence surface the manager needs
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *database.Order) error
	UpdateOrder(ctx context.Context, order *database.Order) error
	GetActiveOrder(ctx context.Context, positionID int64, role string) (*database.Order, error)
	GetOrdersByPosition(ctx context.Context, positionID int64) ([]*database.Order, error)
	CancelActiveOrdersForPosition(ctx context.Context, positionID int64) error
}

// LegSpec describes the order a position leg should currently have
type LegSpec struct {
	Role      string
	Side      string // exchange side: BUY or SELL
	OrderType string
	Price     *float64 // limit price
	StopPrice *float64 // stop trigger
	Quantity  float64
}

// Manager owns order rows and their exchange counterparts. EnsureOrder is
// the idempotence point: repeated cycles with an unchanged leg spec issue no
// exchange calls.
type Manager struct {
	repo     OrderRepository
	exchange exchange.Client
	logger   zerolog.Logger
}

// NewManager creates an order lifecycle manager
func NewManager(repo OrderRepository, ex exchange.Client, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		exchange: ex,
		logger:   logger.With().Str("component", "OrderManager").Logger(),
	}
}

// EnsureOrder makes the active order for (position, role) match the spec.
// A matching acked order is returned unchanged without touching the
// exchange. A mismatched one is canceled on the exchange and resubmitted on
// its existing row: client order ids are unique across all rows, so a
// replaced leg never inserts a second row under the same id. A missing one
// is created. The exchange ack's id and status are persisted before
// returning.
func (m *Manager) EnsureOrder(ctx context.Context, pos *database.Position, decisionID int64, spec LegSpec) (*database.Order, error) {
	existing, err := m.repo.GetActiveOrder(ctx, pos.ID, spec.Role)
	if err != nil {
		return nil, err
	}

	var order *database.Order
	switch {
	case existing == nil:
		order = &database.Order{
			ClientOrderID: BuildClientOrderID(decisionID, pos.ID, spec.Role),
			Symbol:        pos.Symbol,
			Role:          spec.Role,
			Side:          spec.Side,
			OrderType:     spec.OrderType,
			Price:         spec.Price,
			StopPrice:     spec.StopPrice,
			OrigQty:       spec.Quantity,
			Status:        database.OrderStatusNew,
			PositionID:    pos.ID,
			DecisionID:    &decisionID,
		}
		if err := m.repo.CreateOrder(ctx, order); err != nil {
			return nil, err
		}
	case m.specMatches(existing, spec):
		if existing.ExchangeOrderID != nil {
			return existing, nil
		}
		// the row exists but the last placement never got an ack;
		// submit again under the same client order id
		order = existing
	default:
		if err := m.exchange.CancelOrder(ctx, existing.Symbol, existing.ClientOrderID); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to replace %s order: %w", spec.Role, err)
		}
		existing.Side = spec.Side
		existing.OrderType = spec.OrderType
		existing.Price = spec.Price
		existing.StopPrice = spec.StopPrice
		existing.OrigQty = spec.Quantity
		existing.ExecutedQty = 0
		existing.ExchangeOrderID = nil
		existing.Status = database.OrderStatusNew
		if err := m.repo.UpdateOrder(ctx, existing); err != nil {
			return nil, err
		}
		order = existing
	}

	clientOrderID := order.ClientOrderID
	ack, err := m.place(ctx, pos.Symbol, spec, clientOrderID)
	if err != nil {
		// leave the row in status new with no exchange id; the next call
		// for this leg resubmits under the same client order id
		m.logger.Error().Err(err).
			Str("role", spec.Role).
			Str("client_order_id", clientOrderID).
			Msg("Order placement failed")
		return nil, err
	}

	order.ExchangeOrderID = &ack.ExchangeOrderID
	order.Status = ack.Status
	if ack.Status == database.OrderStatusFilled {
		order.ExecutedQty = spec.Quantity
	}
	if err := m.repo.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("role", spec.Role).
		Str("side", spec.Side).
		Str("client_order_id", clientOrderID).
		Float64("qty", spec.Quantity).
		Str("status", order.Status).
		Msg("Order ensured")
	return order, nil
}

// CancelStale cancels every still-active order attached to a position and
// asks the exchange for a blanket cancel-all as a safety net. Returns how
// many local orders were canceled.
func (m *Manager) CancelStale(ctx context.Context, pos *database.Position) (int, error) {
	all, err := m.repo.GetOrdersByPosition(ctx, pos.ID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, order := range all {
		if !order.IsActive() {
			continue
		}
		if err := m.exchange.CancelOrder(ctx, order.Symbol, order.ClientOrderID); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			m.logger.Warn().Err(err).
				Str("client_order_id", order.ClientOrderID).
				Msg("Cancel failed, blanket cancel will cover it")
		}
		count++
	}

	if err := m.exchange.CancelAllOrders(ctx, pos.Symbol); err != nil {
		m.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Blanket cancel-all failed")
	}

	if err := m.repo.CancelActiveOrdersForPosition(ctx, pos.ID); err != nil {
		return count, err
	}

	if count > 0 {
		m.logger.Info().Int("count", count).Int64("position_id", pos.ID).Msg("Stale orders canceled")
	}
	return count, nil
}

// SyncStatus reconciles local active orders against the exchange's open
// orders. An order absent remotely is marked canceled; one present with a
// changed status takes the reported status. Nothing is ever invented: only
// what the exchange reports is written back.
func (m *Manager) SyncStatus(ctx context.Context, pos *database.Position) error {
	local, err := m.repo.GetOrdersByPosition(ctx, pos.ID)
	if err != nil {
		return err
	}

	var active []*database.Order
	for _, order := range local {
		if order.IsActive() {
			active = append(active, order)
		}
	}
	if len(active) == 0 {
		return nil
	}

	remote, err := m.exchange.GetOpenOrders(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	remoteByID := make(map[string]*exchange.RemoteOrder, len(remote))
	for _, r := range remote {
		remoteByID[r.ClientOrderID] = r
	}

	for _, order := range active {
		r, ok := remoteByID[order.ClientOrderID]
		if !ok {
			order.Status = database.OrderStatusCanceled
			if err := m.repo.UpdateOrder(ctx, order); err != nil {
				return err
			}
			m.logger.Info().
				Str("client_order_id", order.ClientOrderID).
				Msg("Order no longer on exchange, marked canceled")
			continue
		}
		if r.Status != order.Status || r.ExecutedQty != order.ExecutedQty {
			order.Status = r.Status
			order.ExecutedQty = r.ExecutedQty
			if err := m.repo.UpdateOrder(ctx, order); err != nil {
				return err
			}
			m.logger.Info().
				Str("client_order_id", order.ClientOrderID).
				Str("status", order.Status).
				Float64("executed_qty", order.ExecutedQty).
				Msg("Order status synced")
		}
	}
	return nil
}

func (m *Manager) specMatches(order *database.Order, spec LegSpec) bool {
	if order.Side != spec.Side || order.OrderType != spec.OrderType {
		return false
	}
	if !floatPtrEq(order.Price, spec.Price) || !floatPtrEq(order.StopPrice, spec.StopPrice) {
		return false
	}
	return floatEq(order.OrigQty, spec.Quantity)
}

func (m *Manager) place(ctx context.Context, symbol string, spec LegSpec, clientOrderID string) (*exchange.OrderAck, error) {
	switch spec.OrderType {
	case database.OrderTypeLimit:
		if spec.Price == nil {
			return nil, fmt.Errorf("limit order %s has no price", clientOrderID)
		}
		return m.exchange.SendLimitOrder(ctx, symbol, spec.Side, spec.Quantity, *spec.Price, clientOrderID)
	case database.OrderTypeStop:
		if spec.StopPrice == nil {
			return nil, fmt.Errorf("stop order %s has no stop price", clientOrderID)
		}
		return m.exchange.SendStopMarketOrder(ctx, symbol, spec.Side, spec.Quantity, *spec.StopPrice, clientOrderID)
	case database.OrderTypeMarket:
		return m.exchange.SendMarketOrder(ctx, symbol, spec.Side, spec.Quantity, true, clientOrderID)
	default:
		return nil, fmt.Errorf("unsupported order type %q", spec.OrderType)
	}
}

func floatEq(a, b float64) bool {
	d := a - b
	return d < priceEpsilon && d > -priceEpsilon
}

func floatPtrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return floatEq(*a, *b)
}
