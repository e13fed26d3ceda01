package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"

	"binance-liq-engine/internal/logging"
)

// BinanceClient implements Client against Binance USDT-M futures
type BinanceClient struct {
	client *futures.Client
	logger *logging.Logger
}

// NewBinanceClient creates a futures client. Testnet flips the SDK's global
// endpoint, so it must be set before any client is built.
func NewBinanceClient(apiKey, secretKey string, testnet bool) *BinanceClient {
	futures.UseTestnet = testnet
	return &BinanceClient{
		client: futures.NewClient(apiKey, secretKey),
		logger: logging.WithComponent("exchange"),
	}
}

// GetPrice returns the current mark price for a symbol
func (b *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	res, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get mark price for %s: %w", symbol, err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("no mark price returned for %s", symbol)
	}
	price, err := strconv.ParseFloat(res[0].MarkPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse mark price %q: %w", res[0].MarkPrice, err)
	}
	return price, nil
}

// GetPosition returns the exchange-side position for a symbol. A zero
// position amount is reported as a RemotePosition with Quantity 0.
func (b *BinanceClient) GetPosition(ctx context.Context, symbol string) (*RemotePosition, error) {
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get position risk for %s: %w", symbol, err)
	}

	pos := &RemotePosition{Symbol: symbol}
	for _, risk := range risks {
		if risk.Symbol != symbol {
			continue
		}
		amt, err := strconv.ParseFloat(risk.PositionAmt, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse position amount %q: %w", risk.PositionAmt, err)
		}
		entry, err := strconv.ParseFloat(risk.EntryPrice, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry price %q: %w", risk.EntryPrice, err)
		}
		pos.Quantity += amt
		if entry > 0 {
			pos.EntryPrice = entry
		}
	}
	return pos, nil
}

// GetOpenOrders lists all open orders for a symbol
func (b *BinanceClient) GetOpenOrders(ctx context.Context, symbol string) ([]*RemoteOrder, error) {
	raw, err := b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders for %s: %w", symbol, err)
	}

	orders := make([]*RemoteOrder, 0, len(raw))
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
		origQty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		executedQty, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
		orders = append(orders, &RemoteOrder{
			ClientOrderID:   o.ClientOrderID,
			ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
			Symbol:          o.Symbol,
			Side:            string(o.Side),
			Status:          mapOrderStatus(o.Status),
			Price:           price,
			StopPrice:       stopPrice,
			OrigQty:         origQty,
			ExecutedQty:     executedQty,
		})
	}
	return orders, nil
}

// SendLimitOrder places a GTC limit order
func (b *BinanceClient) SendLimitOrder(ctx context.Context, symbol, side string, qty, price float64, clientOrderID string) (*OrderAck, error) {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(formatQty(qty)).
		Price(formatPrice(price)).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place limit order %s: %w", clientOrderID, err)
	}

	b.logger.Info("Limit order placed", "symbol", symbol, "side", side, "price", price, "qty", qty, "client_order_id", clientOrderID)
	return &OrderAck{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		ClientOrderID:   res.ClientOrderID,
		Status:          mapOrderStatus(res.Status),
	}, nil
}

// SendMarketOrder places a market order
func (b *BinanceClient) SendMarketOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool, clientOrderID string) (*OrderAck, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(qty)).
		NewClientOrderID(clientOrderID)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place market order %s: %w", clientOrderID, err)
	}

	b.logger.Info("Market order placed", "symbol", symbol, "side", side, "qty", qty, "reduce_only", reduceOnly, "client_order_id", clientOrderID)
	return &OrderAck{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		ClientOrderID:   res.ClientOrderID,
		Status:          mapOrderStatus(res.Status),
	}, nil
}

// SendStopMarketOrder places a reduce-only stop-market order
func (b *BinanceClient) SendStopMarketOrder(ctx context.Context, symbol, side string, qty, stopPrice float64, clientOrderID string) (*OrderAck, error) {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeStopMarket).
		Quantity(formatQty(qty)).
		StopPrice(formatPrice(stopPrice)).
		ReduceOnly(true).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place stop order %s: %w", clientOrderID, err)
	}

	b.logger.Info("Stop order placed", "symbol", symbol, "side", side, "stop_price", stopPrice, "qty", qty, "client_order_id", clientOrderID)
	return &OrderAck{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		ClientOrderID:   res.ClientOrderID,
		Status:          mapOrderStatus(res.Status),
	}, nil
}

// CancelOrder cancels one order by client order id
func (b *BinanceClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		// -2011 UNKNOWN_ORDER: already filled or canceled on the exchange
		if strings.Contains(err.Error(), "-2011") {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to cancel order %s: %w", clientOrderID, err)
	}
	b.logger.Info("Order canceled", "symbol", symbol, "client_order_id", clientOrderID)
	return nil
}

// CancelAllOrders cancels every open order for a symbol
func (b *BinanceClient) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("failed to cancel all orders for %s: %w", symbol, err)
	}
	b.logger.Info("All open orders canceled", "symbol", symbol)
	return nil
}

func mapOrderStatus(status futures.OrderStatusType) string {
	switch status {
	case futures.OrderStatusTypeNew:
		return StatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return StatusWorking
	case futures.OrderStatusTypeFilled:
		return StatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired, futures.OrderStatusTypeRejected:
		return StatusCanceled
	default:
		return StatusWorking
	}
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', 3, 64)
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}
