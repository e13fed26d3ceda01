// Package exchange defines the boundary to the futures exchange. The engine
// never talks to exchange SDKs directly; everything goes through Client so
// cycles can run against the mock in tests and dry runs.
package exchange

import (
	"context"
	"errors"
)

// ErrOrderNotFound is returned by cancel operations when the exchange no
// longer knows the order. Callers treat it as already-gone, not failure.
var ErrOrderNotFound = errors.New("order not found on exchange")

// Order sides in exchange vocabulary
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Normalized order statuses reported by the exchange
const (
	StatusNew      = "new"
	StatusWorking  = "working"
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
)

// RemotePosition is the exchange's view of a position. Quantity is signed:
// positive long, negative short, zero flat.
type RemotePosition struct {
	Symbol     string
	Quantity   float64
	EntryPrice float64
}

// RemoteOrder is the exchange's view of an open order
type RemoteOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            string
	Status          string
	Price           float64
	StopPrice       float64
	OrigQty         float64
	ExecutedQty     float64
}

// OrderAck is the exchange's acknowledgment of a placed order
type OrderAck struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          string
}

// Client is the minimal exchange surface the execution core needs. All
// methods take a context and return explicit errors; retries are layered on
// top, not inside implementations.
type Client interface {
	// GetPrice returns the current mark price for a symbol
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetPosition returns the exchange-side position, nil quantity == flat
	GetPosition(ctx context.Context, symbol string) (*RemotePosition, error)

	// GetOpenOrders lists all open orders for a symbol
	GetOpenOrders(ctx context.Context, symbol string) ([]*RemoteOrder, error)

	// SendLimitOrder places a GTC limit order
	SendLimitOrder(ctx context.Context, symbol, side string, qty, price float64, clientOrderID string) (*OrderAck, error)

	// SendMarketOrder places a market order; reduceOnly guards exit legs
	SendMarketOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool, clientOrderID string) (*OrderAck, error)

	// SendStopMarketOrder places a reduce-only stop-market order
	SendStopMarketOrder(ctx context.Context, symbol, side string, qty, stopPrice float64, clientOrderID string) (*OrderAck, error)

	// CancelOrder cancels one order by client order id
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error

	// CancelAllOrders cancels every open order for a symbol
	CancelAllOrders(ctx context.Context, symbol string) error
}
