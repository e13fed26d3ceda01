package exchange

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory Client used in dry-run mode and tests. It
// tracks a synthetic position and order book and counts every call so tests
// can assert how many exchange operations a cycle issued.
type MockClient struct {
	mu sync.Mutex

	Price    float64
	Position *RemotePosition
	Orders   map[string]*RemoteOrder // keyed by client order id

	// Optional error injection per operation name
	Errors map[string]error

	Calls      map[string]int
	nextShadow int64
}

// NewMockClient creates a mock exchange with no position and no orders
func NewMockClient(price float64) *MockClient {
	return &MockClient{
		Price:  price,
		Orders: make(map[string]*RemoteOrder),
		Errors: make(map[string]error),
		Calls:  make(map[string]int),
	}
}

func (m *MockClient) record(op string) error {
	m.Calls[op]++
	return m.Errors[op]
}

// CallCount returns how many times an operation was invoked
func (m *MockClient) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

// TotalCalls returns the total number of exchange operations issued
func (m *MockClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.Calls {
		total += n
	}
	return total
}

// SetPosition installs an exchange-side position for reconciliation tests
func (m *MockClient) SetPosition(symbol string, qty, entryPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Position = &RemotePosition{Symbol: symbol, Quantity: qty, EntryPrice: entryPrice}
}

func (m *MockClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get_price"); err != nil {
		return 0, err
	}
	return m.Price, nil
}

func (m *MockClient) GetPosition(ctx context.Context, symbol string) (*RemotePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get_position"); err != nil {
		return nil, err
	}
	if m.Position == nil {
		return &RemotePosition{Symbol: symbol}, nil
	}
	cp := *m.Position
	return &cp, nil
}

func (m *MockClient) GetOpenOrders(ctx context.Context, symbol string) ([]*RemoteOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get_open_orders"); err != nil {
		return nil, err
	}
	orders := make([]*RemoteOrder, 0, len(m.Orders))
	for _, o := range m.Orders {
		if o.Symbol == symbol {
			cp := *o
			orders = append(orders, &cp)
		}
	}
	return orders, nil
}

func (m *MockClient) SendLimitOrder(ctx context.Context, symbol, side string, qty, price float64, clientOrderID string) (*OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("send_limit_order"); err != nil {
		return nil, err
	}
	return m.admit(&RemoteOrder{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        StatusWorking,
		Price:         price,
		OrigQty:       qty,
	}), nil
}

func (m *MockClient) SendMarketOrder(ctx context.Context, symbol, side string, qty float64, reduceOnly bool, clientOrderID string) (*OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("send_market_order"); err != nil {
		return nil, err
	}
	// market orders fill immediately against the mock price
	ack := m.admit(&RemoteOrder{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        StatusFilled,
		OrigQty:       qty,
		ExecutedQty:   qty,
	})
	delete(m.Orders, clientOrderID)
	ack.Status = StatusFilled
	return ack, nil
}

func (m *MockClient) SendStopMarketOrder(ctx context.Context, symbol, side string, qty, stopPrice float64, clientOrderID string) (*OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("send_stop_market_order"); err != nil {
		return nil, err
	}
	return m.admit(&RemoteOrder{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        StatusWorking,
		StopPrice:     stopPrice,
		OrigQty:       qty,
	}), nil
}

func (m *MockClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("cancel_order"); err != nil {
		return err
	}
	if _, ok := m.Orders[clientOrderID]; !ok {
		return ErrOrderNotFound
	}
	delete(m.Orders, clientOrderID)
	return nil
}

func (m *MockClient) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("cancel_all_orders"); err != nil {
		return err
	}
	for id, o := range m.Orders {
		if o.Symbol == symbol {
			delete(m.Orders, id)
		}
	}
	return nil
}

func (m *MockClient) admit(order *RemoteOrder) *OrderAck {
	m.nextShadow++
	order.ExchangeOrderID = fmt.Sprintf("mock-%d", m.nextShadow)
	m.Orders[order.ClientOrderID] = order
	return &OrderAck{
		ExchangeOrderID: order.ExchangeOrderID,
		ClientOrderID:   order.ClientOrderID,
		Status:          order.Status,
	}
}
