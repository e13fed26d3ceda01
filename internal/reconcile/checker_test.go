package reconcile

import (
	"context"
	"testing"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/events"
	"binance-liq-engine/internal/exchange"
)

type fakeStore struct {
	position *database.Position
	orders   []*database.Order
	events   []*database.RiskEvent
}

func (f *fakeStore) GetOpenPosition(_ context.Context, _ string) (*database.Position, error) {
	return f.position, nil
}

func (f *fakeStore) GetActiveOrdersBySymbol(_ context.Context, _ string) ([]*database.Order, error) {
	return f.orders, nil
}

func (f *fakeStore) InsertRiskEvent(_ context.Context, e *database.RiskEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) InsertExecutionLog(_ context.Context, _ *database.ExecutionLog) error {
	return nil
}

func (f *fakeStore) eventTypes() []string {
	var types []string
	for _, e := range f.events {
		types = append(types, e.EventType)
	}
	return types
}

func newChecker(store *fakeStore, mock *exchange.MockClient) *Checker {
	return NewChecker(
		Config{Symbol: "BTCUSDT", QtyEpsilon: 1e-6},
		store, mock, events.NewRecorder(store),
	)
}

func activeOrder(id, role, status string) *database.Order {
	return &database.Order{
		ClientOrderID: id,
		Symbol:        "BTCUSDT",
		Role:          role,
		Status:        status,
		PositionID:    1,
	}
}

func TestRunCleanState(t *testing.T) {
	store := &fakeStore{}
	mock := exchange.NewMockClient(100000)

	n, err := newChecker(store, mock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 0 {
		t.Errorf("divergences = %d, want 0", n)
	}
	if len(store.events) != 0 {
		t.Errorf("events = %v, want none", store.eventTypes())
	}
}

func TestPhantomExchangePosition(t *testing.T) {
	store := &fakeStore{}
	mock := exchange.NewMockClient(100000)
	mock.SetPosition("BTCUSDT", 0.01, 100000)

	n, err := newChecker(store, mock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 1 {
		t.Errorf("divergences = %d, want 1", n)
	}
	if len(store.events) != 1 || store.events[0].EventType != events.EventPhantomPosition {
		t.Errorf("events = %v, want one phantom-position event", store.eventTypes())
	}
	// read-only: nothing in local state may change
	if store.position != nil {
		t.Error("checker mutated local position state")
	}
}

func TestMissingExchangePosition(t *testing.T) {
	store := &fakeStore{position: &database.Position{
		ID: 1, Symbol: "BTCUSDT", Side: database.SideLong,
		Size: 0.01, Status: database.PositionStatusOpen,
	}}
	mock := exchange.NewMockClient(100000)

	n, err := newChecker(store, mock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 1 {
		t.Errorf("divergences = %d, want 1", n)
	}
	if store.events[0].EventType != events.EventMissingPosition {
		t.Errorf("event = %q, want %q", store.events[0].EventType, events.EventMissingPosition)
	}
}

func TestQtyMismatchSignedComparison(t *testing.T) {
	// local short 0.01 is signed -0.01; exchange long 0.01 diverges even
	// though the magnitudes match
	store := &fakeStore{position: &database.Position{
		ID: 1, Symbol: "BTCUSDT", Side: database.SideShort,
		Size: 0.01, Status: database.PositionStatusOpen,
	}}
	mock := exchange.NewMockClient(100000)
	mock.SetPosition("BTCUSDT", 0.01, 100000)

	n, err := newChecker(store, mock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 1 {
		t.Errorf("divergences = %d, want 1", n)
	}
	if store.events[0].EventType != events.EventQtyMismatch {
		t.Errorf("event = %q, want %q", store.events[0].EventType, events.EventQtyMismatch)
	}
}

func TestQtyWithinEpsilonIsClean(t *testing.T) {
	store := &fakeStore{position: &database.Position{
		ID: 1, Symbol: "BTCUSDT", Side: database.SideLong,
		Size: 0.01, Status: database.PositionStatusOpen,
	}}
	mock := exchange.NewMockClient(100000)
	mock.SetPosition("BTCUSDT", 0.0100000001, 100000)

	n, err := newChecker(store, mock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 0 {
		t.Errorf("divergences = %d, want 0 within epsilon", n)
	}
}

func TestOrderMissingAndStatusDrift(t *testing.T) {
	store := &fakeStore{
		position: &database.Position{
			ID: 1, Symbol: "BTCUSDT", Side: database.SideLong,
			Size: 0.01, Status: database.PositionStatusOpen,
		},
		orders: []*database.Order{
			activeOrder("42_1_entry", database.RoleEntry, database.OrderStatusWorking),
			activeOrder("42_1_sl", database.RoleStopLoss, database.OrderStatusNew),
		},
	}
	mock := exchange.NewMockClient(100000)
	mock.SetPosition("BTCUSDT", 0.01, 100000)
	// only the entry exists on the exchange, and it has already filled there
	mock.Orders["42_1_entry"] = &exchange.RemoteOrder{
		ClientOrderID: "42_1_entry",
		Symbol:        "BTCUSDT",
		Status:        exchange.StatusFilled,
	}

	n, err := newChecker(store, mock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("divergences = %d, want 2: %v", n, store.eventTypes())
	}

	seen := map[string]bool{}
	for _, e := range store.events {
		seen[e.EventType] = true
	}
	if !seen[events.EventOrderStatusMismatch] {
		t.Error("missing status-mismatch event")
	}
	if !seen[events.EventOrderMissing] {
		t.Error("missing order-missing event")
	}
	// local rows untouched
	if store.orders[0].Status != database.OrderStatusWorking {
		t.Error("checker mutated local order status")
	}
}
