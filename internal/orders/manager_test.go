package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/exchange"
)

// fakeOrderRepo is an in-memory OrderRepository. CreateOrder enforces the
// schema's UNIQUE(client_order_id), which spans all rows, not just active
// ones.
type fakeOrderRepo struct {
	orders []*database.Order
	nextID int64
}

func (f *fakeOrderRepo) CreateOrder(_ context.Context, order *database.Order) error {
	for _, o := range f.orders {
		if o.ClientOrderID == order.ClientOrderID {
			return fmt.Errorf(`duplicate key value violates unique constraint "orders_client_order_id_key" (SQLSTATE 23505)`)
		}
	}
	f.nextID++
	order.ID = f.nextID
	f.orders = append(f.orders, order)
	return nil
}

func (f *fakeOrderRepo) UpdateOrder(_ context.Context, order *database.Order) error {
	for i, o := range f.orders {
		if o.ID == order.ID {
			f.orders[i] = order
			return nil
		}
	}
	return nil
}

func (f *fakeOrderRepo) GetActiveOrder(_ context.Context, positionID int64, role string) (*database.Order, error) {
	for i := len(f.orders) - 1; i >= 0; i-- {
		o := f.orders[i]
		if o.PositionID == positionID && o.Role == role && o.IsActive() {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeOrderRepo) GetOrdersByPosition(_ context.Context, positionID int64) ([]*database.Order, error) {
	var result []*database.Order
	for _, o := range f.orders {
		if o.PositionID == positionID {
			result = append(result, o)
		}
	}
	return result, nil
}

func (f *fakeOrderRepo) CancelActiveOrdersForPosition(_ context.Context, positionID int64) error {
	for _, o := range f.orders {
		if o.PositionID == positionID && o.IsActive() {
			o.Status = database.OrderStatusCanceled
		}
	}
	return nil
}

func (f *fakeOrderRepo) activeCount(positionID int64) int {
	count := 0
	for _, o := range f.orders {
		if o.PositionID == positionID && o.IsActive() {
			count++
		}
	}
	return count
}

func testPosition() *database.Position {
	return &database.Position{
		ID:     7,
		Symbol: "BTCUSDT",
		Side:   database.SideLong,
		Status: database.PositionStatusOpen,
	}
}

func fp(v float64) *float64 { return &v }

func newTestManager() (*Manager, *fakeOrderRepo, *exchange.MockClient) {
	repo := &fakeOrderRepo{}
	mock := exchange.NewMockClient(100000)
	mgr := NewManager(repo, mock, zerolog.Nop())
	return mgr, repo, mock
}

func TestEnsureOrderCreates(t *testing.T) {
	mgr, repo, mock := newTestManager()
	pos := testPosition()

	spec := LegSpec{
		Role:      database.RoleEntry,
		Side:      exchange.SideBuy,
		OrderType: database.OrderTypeLimit,
		Price:     fp(100000),
		Quantity:  0.01,
	}
	order, err := mgr.EnsureOrder(context.Background(), pos, 42, spec)
	if err != nil {
		t.Fatalf("EnsureOrder() error = %v", err)
	}
	if order.ClientOrderID != "42_7_entry" {
		t.Errorf("ClientOrderID = %q, want 42_7_entry", order.ClientOrderID)
	}
	if order.ExchangeOrderID == nil {
		t.Error("ExchangeOrderID not persisted after ack")
	}
	if mock.CallCount("send_limit_order") != 1 {
		t.Errorf("send_limit_order calls = %d, want 1", mock.CallCount("send_limit_order"))
	}
	if repo.activeCount(pos.ID) != 1 {
		t.Errorf("active orders = %d, want 1", repo.activeCount(pos.ID))
	}
}

func TestEnsureOrderIdempotent(t *testing.T) {
	mgr, repo, mock := newTestManager()
	pos := testPosition()

	spec := LegSpec{
		Role:      database.RoleStopLoss,
		Side:      exchange.SideSell,
		OrderType: database.OrderTypeStop,
		StopPrice: fp(99000),
		Quantity:  0.01,
	}
	first, err := mgr.EnsureOrder(context.Background(), pos, 42, spec)
	if err != nil {
		t.Fatalf("first EnsureOrder() error = %v", err)
	}
	second, err := mgr.EnsureOrder(context.Background(), pos, 42, spec)
	if err != nil {
		t.Fatalf("second EnsureOrder() error = %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("second call created a new order: %d != %d", first.ID, second.ID)
	}
	if got := mock.CallCount("send_stop_market_order"); got != 1 {
		t.Errorf("send_stop_market_order calls = %d, want 1", got)
	}
	if repo.activeCount(pos.ID) != 1 {
		t.Errorf("active orders = %d, want 1", repo.activeCount(pos.ID))
	}
}

func TestEnsureOrderReplacesOnChangedStop(t *testing.T) {
	mgr, repo, mock := newTestManager()
	pos := testPosition()

	spec := LegSpec{
		Role:      database.RoleStopLoss,
		Side:      exchange.SideSell,
		OrderType: database.OrderTypeStop,
		StopPrice: fp(99000),
		Quantity:  0.01,
	}
	if _, err := mgr.EnsureOrder(context.Background(), pos, 42, spec); err != nil {
		t.Fatalf("EnsureOrder() error = %v", err)
	}

	// tighten the stop: old leg must be canceled, one new leg placed
	spec.StopPrice = fp(99500)
	order, err := mgr.EnsureOrder(context.Background(), pos, 42, spec)
	if err != nil {
		t.Fatalf("EnsureOrder() after change error = %v", err)
	}
	if order.StopPrice == nil || *order.StopPrice != 99500 {
		t.Errorf("StopPrice = %v, want 99500", order.StopPrice)
	}
	if got := mock.CallCount("cancel_order"); got != 1 {
		t.Errorf("cancel_order calls = %d, want 1", got)
	}
	if got := mock.CallCount("send_stop_market_order"); got != 2 {
		t.Errorf("send_stop_market_order calls = %d, want 2", got)
	}
	if repo.activeCount(pos.ID) != 1 {
		t.Errorf("active orders = %d, want exactly 1", repo.activeCount(pos.ID))
	}
}

func TestEnsureOrderReplaceReusesRow(t *testing.T) {
	mgr, repo, mock := newTestManager()
	pos := testPosition()

	spec := LegSpec{
		Role:      database.RoleStopLoss,
		Side:      exchange.SideSell,
		OrderType: database.OrderTypeStop,
		StopPrice: fp(99000),
		Quantity:  0.01,
	}
	first, err := mgr.EnsureOrder(context.Background(), pos, 42, spec)
	if err != nil {
		t.Fatalf("EnsureOrder() error = %v", err)
	}

	// tighten twice in a row, as breakeven and trailing updates do; each
	// replace must resubmit on the same row, not insert a duplicate id
	for _, stop := range []float64{100000, 100500} {
		spec.StopPrice = fp(stop)
		replaced, err := mgr.EnsureOrder(context.Background(), pos, 42, spec)
		if err != nil {
			t.Fatalf("EnsureOrder(stop=%v) error = %v", stop, err)
		}
		if replaced.ID != first.ID {
			t.Errorf("replace created row %d, want reuse of row %d", replaced.ID, first.ID)
		}
	}
	if len(repo.orders) != 1 {
		t.Errorf("order rows = %d, want 1", len(repo.orders))
	}

	// the exchange-side stop must exist at the final level
	remote, ok := mock.Orders[first.ClientOrderID]
	if !ok {
		t.Fatal("stop order missing on exchange after replace")
	}
	if remote.StopPrice != 100500 {
		t.Errorf("exchange stop price = %v, want 100500", remote.StopPrice)
	}
}

func TestEnsureOrderResubmitsAfterFailedPlacement(t *testing.T) {
	mgr, repo, mock := newTestManager()
	pos := testPosition()

	spec := LegSpec{
		Role:      database.RoleManualExit,
		Side:      exchange.SideSell,
		OrderType: database.OrderTypeMarket,
		Quantity:  0.01,
	}
	mock.Errors["send_market_order"] = errors.New("server overloaded")
	if _, err := mgr.EnsureOrder(context.Background(), pos, 42, spec); err == nil {
		t.Fatal("EnsureOrder() succeeded despite placement failure")
	}

	// the unacked row must not short-circuit the retry
	delete(mock.Errors, "send_market_order")
	order, err := mgr.EnsureOrder(context.Background(), pos, 42, spec)
	if err != nil {
		t.Fatalf("retry EnsureOrder() error = %v", err)
	}
	if order.ExchangeOrderID == nil {
		t.Error("ExchangeOrderID not persisted after retry")
	}
	if got := mock.CallCount("send_market_order"); got != 2 {
		t.Errorf("send_market_order calls = %d, want 2", got)
	}
	if len(repo.orders) != 1 {
		t.Errorf("order rows = %d, want 1", len(repo.orders))
	}
}

func TestCancelStale(t *testing.T) {
	mgr, repo, mock := newTestManager()
	pos := testPosition()

	specs := []LegSpec{
		{Role: database.RoleStopLoss, Side: exchange.SideSell, OrderType: database.OrderTypeStop, StopPrice: fp(99000), Quantity: 0.01},
		{Role: database.RoleTakeProfit1, Side: exchange.SideSell, OrderType: database.OrderTypeLimit, Price: fp(102000), Quantity: 0.005},
	}
	for _, spec := range specs {
		if _, err := mgr.EnsureOrder(context.Background(), pos, 42, spec); err != nil {
			t.Fatalf("EnsureOrder(%s) error = %v", spec.Role, err)
		}
	}

	count, err := mgr.CancelStale(context.Background(), pos)
	if err != nil {
		t.Fatalf("CancelStale() error = %v", err)
	}
	if count != 2 {
		t.Errorf("canceled count = %d, want 2", count)
	}
	if repo.activeCount(pos.ID) != 0 {
		t.Errorf("active orders after CancelStale = %d, want 0", repo.activeCount(pos.ID))
	}
	if got := mock.CallCount("cancel_all_orders"); got != 1 {
		t.Errorf("cancel_all_orders calls = %d, want 1", got)
	}
}

func TestSyncStatusMarksAbsentOrdersCanceled(t *testing.T) {
	mgr, repo, mock := newTestManager()
	pos := testPosition()

	spec := LegSpec{
		Role:      database.RoleTakeProfit1,
		Side:      exchange.SideSell,
		OrderType: database.OrderTypeLimit,
		Price:     fp(102000),
		Quantity:  0.01,
	}
	order, err := mgr.EnsureOrder(context.Background(), pos, 42, spec)
	if err != nil {
		t.Fatalf("EnsureOrder() error = %v", err)
	}

	// exchange drops the order (filled or canceled remotely)
	if err := mock.CancelOrder(context.Background(), pos.Symbol, order.ClientOrderID); err != nil {
		t.Fatalf("mock cancel error = %v", err)
	}

	if err := mgr.SyncStatus(context.Background(), pos); err != nil {
		t.Fatalf("SyncStatus() error = %v", err)
	}
	if repo.activeCount(pos.ID) != 0 {
		t.Errorf("active orders = %d, want 0 after sync", repo.activeCount(pos.ID))
	}
}

func TestSyncStatusNoActiveOrdersNoExchangeCall(t *testing.T) {
	mgr, _, mock := newTestManager()
	pos := testPosition()

	if err := mgr.SyncStatus(context.Background(), pos); err != nil {
		t.Fatalf("SyncStatus() error = %v", err)
	}
	if got := mock.CallCount("get_open_orders"); got != 0 {
		t.Errorf("get_open_orders calls = %d, want 0", got)
	}
}
