package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ==================== ORDERS ====================

// CreateOrder inserts a new order record
func (db *DB) CreateOrder(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO orders (
			client_order_id, exchange_order_id, symbol, role, side, order_type,
			price, stop_price, orig_qty, executed_qty, status,
			position_id, decision_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		) RETURNING id`

	now := time.Now()
	err := db.Pool.QueryRow(ctx, query,
		order.ClientOrderID,
		order.ExchangeOrderID,
		order.Symbol,
		order.Role,
		order.Side,
		order.OrderType,
		order.Price,
		order.StopPrice,
		order.OrigQty,
		order.ExecutedQty,
		order.Status,
		order.PositionID,
		order.DecisionID,
		now,
		now,
	).Scan(&order.ID)

	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	order.CreatedAt = now
	order.UpdatedAt = now
	return nil
}

// UpdateOrder persists order status and fill progress
func (db *DB) UpdateOrder(ctx context.Context, order *Order) error {
	query := `
		UPDATE orders SET
			exchange_order_id = $2,
			price = $3,
			stop_price = $4,
			orig_qty = $5,
			executed_qty = $6,
			status = $7,
			updated_at = $8
		WHERE id = $1`

	now := time.Now()
	_, err := db.Pool.Exec(ctx, query,
		order.ID,
		order.ExchangeOrderID,
		order.Price,
		order.StopPrice,
		order.OrigQty,
		order.ExecutedQty,
		order.Status,
		now,
	)

	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	order.UpdatedAt = now
	return nil
}

const orderColumns = `
	id, client_order_id, exchange_order_id, symbol, role, side, order_type,
	price, stop_price, orig_qty, executed_qty, status,
	position_id, decision_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	order := &Order{}
	err := row.Scan(
		&order.ID, &order.ClientOrderID, &order.ExchangeOrderID, &order.Symbol,
		&order.Role, &order.Side, &order.OrderType, &order.Price, &order.StopPrice,
		&order.OrigQty, &order.ExecutedQty, &order.Status,
		&order.PositionID, &order.DecisionID, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetActiveOrder returns the single active (new/working) order for a
// position and role, or nil when none exists.
func (db *DB) GetActiveOrder(ctx context.Context, positionID int64, role string) (*Order, error) {
	query := `SELECT` + orderColumns + `
		FROM orders
		WHERE position_id = $1 AND role = $2 AND status IN ('new', 'working')
		ORDER BY created_at DESC LIMIT 1`

	order, err := scanOrder(db.Pool.QueryRow(ctx, query, positionID, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active order: %w", err)
	}
	return order, nil
}

// GetOrdersByPosition returns all orders attached to a position
func (db *DB) GetOrdersByPosition(ctx context.Context, positionID int64) ([]*Order, error) {
	query := `SELECT` + orderColumns + `
		FROM orders WHERE position_id = $1 ORDER BY created_at`

	rows, err := db.Pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query position orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// GetActiveOrdersBySymbol returns all orders still counted as active for a
// symbol, across positions. Used by status sync and reconciliation.
func (db *DB) GetActiveOrdersBySymbol(ctx context.Context, symbol string) ([]*Order, error) {
	query := `SELECT` + orderColumns + `
		FROM orders
		WHERE symbol = $1 AND status IN ('new', 'working')
		ORDER BY created_at`

	rows, err := db.Pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query active orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// CancelActiveOrdersForPosition marks every still-active order of a position
// canceled. Called after the exchange-side blanket cancel on close.
func (db *DB) CancelActiveOrdersForPosition(ctx context.Context, positionID int64) error {
	query := `
		UPDATE orders SET status = 'canceled', updated_at = $2
		WHERE position_id = $1 AND status IN ('new', 'working')`

	if _, err := db.Pool.Exec(ctx, query, positionID, time.Now()); err != nil {
		return fmt.Errorf("failed to cancel active orders: %w", err)
	}
	return nil
}
