package exchange

import (
	"context"
	"time"

	"binance-liq-engine/internal/logging"
)

// RetryClient decorates a Client with bounded retries. Each call is retried
// up to Attempts times with a doubling backoff. Cancel calls that hit
// ErrOrderNotFound succeed immediately; the order is already gone.
type RetryClient struct {
	inner    Client
	attempts int
	backoff  time.Duration
	logger   *logging.Logger

	// OnExhausted is invoked once per call whose retries are used up,
	// before the final error is returned. Optional.
	OnExhausted func(op string, err error)
}

// NewRetryClient wraps a client with retry behavior
func NewRetryClient(inner Client, attempts int, backoff time.Duration) *RetryClient {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &RetryClient{
		inner:    inner,
		attempts: attempts,
		backoff:  backoff,
		logger:   logging.WithComponent("exchange-retry"),
	}
}

func (r *RetryClient) do(ctx context.Context, op string, fn func() error) error {
	var err error
	backoff := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if err == ErrOrderNotFound || ctx.Err() != nil {
			return err
		}
		if attempt < r.attempts {
			r.logger.Warn("Exchange call failed, retrying",
				"op", op, "attempt", attempt, "backoff", backoff.String(), "error", err.Error())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	r.logger.Error("Exchange call failed after all retries", "op", op, "attempts", r.attempts, "error", err.Error())
	if r.OnExhausted != nil {
		r.OnExhausted(op, err)
	}
	return err
}

func (r *RetryClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := r.do(ctx, "get_price", func() error {
		var e error
		price, e = r.inner.GetPrice(ctx, symbol)
		return e
	})
	return price, err
}

func (r *RetryClient) GetPosition(ctx context.Context, symbol string) (*RemotePosition, error) {
	var pos *RemotePosition
	err := r.do(ctx, "get_position", func() error {
		var e error
		pos, e = r.inner.GetPosition(ctx, symbol)
		return e
	})
	return pos, err
}

func (r *RetryClient) GetOpenOrders(ctx context.Context, symbol string) ([]*RemoteOrder, error) {
	var orders []*RemoteOrder
	err := r.do(ctx, "get_open_orders", func() error {
		var e error
		orders, e = r.inner.GetOpenOrders(ctx, symbol)
		return e
	})
	return orders, err
}

func (r *RetryClient) SendLimitOrder(ctx context.Context, symbol, side string, qty, price float64, clientOrderID string) (*OrderAck, error) {
	var ack *OrderAck
	err := r.do(ctx, "send_limit_order", func() error {
		var e error
		ack, e = r.inner.SendLimitOrder(ctx, symbol, side, qty, price, clientOrderID)
		return e
	})
	return ack, err
}

func (r *RetryClient) SendMarketOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool, clientOrderID string) (*OrderAck, error) {
	var ack *OrderAck
	err := r.do(ctx, "send_market_order", func() error {
		var e error
		ack, e = r.inner.SendMarketOrder(ctx, symbol, side, qty, reduceOnly, clientOrderID)
		return e
	})
	return ack, err
}

func (r *RetryClient) SendStopMarketOrder(ctx context.Context, symbol, side string, qty, stopPrice float64, clientOrderID string) (*OrderAck, error) {
	var ack *OrderAck
	err := r.do(ctx, "send_stop_market_order", func() error {
		var e error
		ack, e = r.inner.SendStopMarketOrder(ctx, symbol, side, qty, stopPrice, clientOrderID)
		return e
	})
	return ack, err
}

func (r *RetryClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	return r.do(ctx, "cancel_order", func() error {
		return r.inner.CancelOrder(ctx, symbol, clientOrderID)
	})
}

func (r *RetryClient) CancelAllOrders(ctx context.Context, symbol string) error {
	return r.do(ctx, "cancel_all_orders", func() error {
		return r.inner.CancelAllOrders(ctx, symbol)
	})
}
