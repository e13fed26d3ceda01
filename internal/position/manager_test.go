package position

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/events"
)

// fakePositionRepo is an in-memory PositionRepository
type fakePositionRepo struct {
	positions map[int64]*database.Position
	trades    []*database.Trade
	nextID    int64
}

func newFakePositionRepo() *fakePositionRepo {
	return &fakePositionRepo{positions: make(map[int64]*database.Position)}
}

func (f *fakePositionRepo) CreatePosition(_ context.Context, pos *database.Position) error {
	for _, p := range f.positions {
		if p.Symbol == pos.Symbol && p.Status == database.PositionStatusOpen {
			return errors.New("duplicate open position")
		}
	}
	f.nextID++
	pos.ID = f.nextID
	cp := *pos
	f.positions[pos.ID] = &cp
	return nil
}

func (f *fakePositionRepo) GetOpenPosition(_ context.Context, symbol string) (*database.Position, error) {
	for _, p := range f.positions {
		if p.Symbol == symbol && p.Status == database.PositionStatusOpen {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePositionRepo) GetPositionByID(_ context.Context, id int64) (*database.Position, error) {
	p, ok := f.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePositionRepo) UpdatePosition(_ context.Context, pos *database.Position) error {
	cp := *pos
	f.positions[pos.ID] = &cp
	return nil
}

func (f *fakePositionRepo) CloseAndRecordTrade(_ context.Context, pos *database.Position, trade *database.Trade) (bool, error) {
	stored, ok := f.positions[pos.ID]
	if !ok || stored.Status != database.PositionStatusOpen {
		return false, nil
	}
	now := time.Now()
	stored.Status = database.PositionStatusClosed
	stored.ClosedAt = &now
	stored.RealizedPnL = &trade.PnLUSDT
	stored.TP1Hit = pos.TP1Hit
	stored.TP2Hit = pos.TP2Hit
	stored.LiqExitUsed = pos.LiqExitUsed
	trade.ClosedAt = now
	f.trades = append(f.trades, trade)
	return true, nil
}

func fv(v float64) *float64 { return &v }

func newTestManager() (*Manager, *fakePositionRepo) {
	repo := newFakePositionRepo()
	mgr := NewManager(repo, events.NewRecorder(nil), Config{
		MinStopDistancePct: 0.0035,
		DefaultTrailPct:    0.005,
	})
	return mgr, repo
}

func longTestDecision() *database.Decision {
	return &database.Decision{
		ID:            42,
		Symbol:        "BTCUSDT",
		Action:        database.ActionLong,
		EntryMinPrice: fv(100000),
		EntryMaxPrice: fv(100000),
		StopLoss:      fv(99000),
		TakeProfit1:   fv(102000),
		TakeProfit2:   fv(103200),
	}
}

func TestCreateFromDecision(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	pos, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, "NORMAL")
	if err != nil {
		t.Fatalf("CreateFromDecision() error = %v", err)
	}
	if pos.Side != database.SideLong || pos.Status != database.PositionStatusOpen {
		t.Errorf("position = %s/%s, want long/open", pos.Side, pos.Status)
	}
	if pos.EntryPrice != 100000 || pos.Size != 0.01 {
		t.Errorf("entry/size = %v/%v, want 100000/0.01", pos.EntryPrice, pos.Size)
	}
	if pos.ManagementJSON == nil {
		t.Error("management blob not seeded")
	}
}

func TestCreateFromDecisionEnforcesSinglePosition(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	if _, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, ""); err != nil {
		t.Fatalf("first create error = %v", err)
	}
	_, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, "")
	if !errors.Is(err, ErrPositionExists) {
		t.Errorf("second create error = %v, want ErrPositionExists", err)
	}
}

func TestMarkTP1HitIdempotent(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	pos, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, "")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}

	first, err := mgr.MarkTP1Hit(ctx, pos.ID, 102000)
	if err != nil {
		t.Fatalf("MarkTP1Hit() error = %v", err)
	}
	if !first.TP1Hit {
		t.Error("TP1Hit not set")
	}

	second, err := mgr.MarkTP1Hit(ctx, pos.ID, 102100)
	if err != nil {
		t.Fatalf("second MarkTP1Hit() error = %v", err)
	}
	if !second.TP1Hit {
		t.Error("TP1Hit lost on repeat call")
	}
}

func TestUpdateSLTPNeverWidens(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	pos, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, "")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}

	// tighten: allowed
	updated, err := mgr.UpdateSLTP(ctx, pos.ID, fv(99500), nil, nil)
	if err != nil {
		t.Fatalf("tighten error = %v", err)
	}
	if updated.StopLoss == nil || *updated.StopLoss != 99500 {
		t.Fatalf("StopLoss = %v, want 99500", updated.StopLoss)
	}

	// widen: silently refused, current stop kept
	updated, err = mgr.UpdateSLTP(ctx, pos.ID, fv(98000), nil, nil)
	if err != nil {
		t.Fatalf("widen error = %v", err)
	}
	if updated.StopLoss == nil || *updated.StopLoss != 99500 {
		t.Errorf("StopLoss = %v, want unchanged 99500 after widen attempt", updated.StopLoss)
	}
}

func TestUpdateSLTPMinDistanceAndBreakeven(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	pos, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, "")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}

	// entry 100000, floor 350: a stop at 99800 sits 200 away, too close
	updated, err := mgr.UpdateSLTP(ctx, pos.ID, fv(99800), nil, nil)
	if err != nil {
		t.Fatalf("UpdateSLTP() error = %v", err)
	}
	if *updated.StopLoss != 99000 {
		t.Errorf("StopLoss = %v, want unchanged 99000", *updated.StopLoss)
	}

	// breakeven is exempt from the floor
	updated, err = mgr.UpdateSLTP(ctx, pos.ID, fv(100000), nil, nil)
	if err != nil {
		t.Fatalf("breakeven update error = %v", err)
	}
	if *updated.StopLoss != 100000 {
		t.Errorf("StopLoss = %v, want breakeven 100000", *updated.StopLoss)
	}
}

func TestUpdateSLTPRandomSequenceNeverWidens(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	pos, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, "")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	current := 99000.0
	for i := 0; i < 200; i++ {
		proposed := 97000 + rng.Float64()*6000
		updated, err := mgr.UpdateSLTP(ctx, pos.ID, &proposed, nil, nil)
		if err != nil {
			t.Fatalf("update %d error = %v", i, err)
		}
		if updated.StopLoss == nil {
			t.Fatal("stop lost")
		}
		if *updated.StopLoss < current {
			t.Fatalf("stop widened from %v to %v on iteration %d (proposed %v)",
				current, *updated.StopLoss, i, proposed)
		}
		current = *updated.StopLoss
	}
}

func TestClosePositionLongLoss(t *testing.T) {
	mgr, repo := newTestManager()
	ctx := context.Background()

	pos, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, "")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}

	trade, closed, err := mgr.ClosePosition(ctx, pos.ID, 98900, database.ExitReasonStopLoss)
	if err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	if !closed {
		t.Fatal("expected close to happen")
	}
	if trade.ExitReason != database.ExitReasonStopLoss {
		t.Errorf("ExitReason = %q, want stop-loss", trade.ExitReason)
	}
	wantPnL := (98900.0 - 100000.0) * 0.01
	if trade.PnLUSDT != wantPnL {
		t.Errorf("PnLUSDT = %v, want %v", trade.PnLUSDT, wantPnL)
	}
	if trade.PnLUSDT >= 0 {
		t.Error("loss trade has non-negative pnl")
	}
	if len(repo.trades) != 1 {
		t.Fatalf("trades recorded = %d, want 1", len(repo.trades))
	}

	stored, _ := repo.GetPositionByID(ctx, pos.ID)
	if stored.Status != database.PositionStatusClosed {
		t.Errorf("position status = %q, want closed", stored.Status)
	}
}

func TestClosePositionShortProfit(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()

	decision := &database.Decision{
		ID:            9,
		Symbol:        "BTCUSDT",
		Action:        database.ActionShort,
		EntryMinPrice: fv(100000),
		EntryMaxPrice: fv(100000),
		StopLoss:      fv(101000),
		TakeProfit1:   fv(97500),
	}
	pos, err := mgr.CreateFromDecision(ctx, decision, 0.02, "")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}

	trade, closed, err := mgr.ClosePosition(ctx, pos.ID, 97000, database.ExitReasonTakeProfit2)
	if err != nil || !closed {
		t.Fatalf("ClosePosition() = closed %v, err %v", closed, err)
	}
	wantPnL := (100000.0 - 97000.0) * 0.02
	if trade.PnLUSDT != wantPnL {
		t.Errorf("PnLUSDT = %v, want %v", trade.PnLUSDT, wantPnL)
	}
	if !trade.TP2Hit {
		t.Error("take-profit-2 close should set TP2Hit on the trade")
	}
}

func TestClosePositionSingleShot(t *testing.T) {
	mgr, repo := newTestManager()
	ctx := context.Background()

	pos, err := mgr.CreateFromDecision(ctx, longTestDecision(), 0.01, "")
	if err != nil {
		t.Fatalf("create error = %v", err)
	}

	if _, closed, err := mgr.ClosePosition(ctx, pos.ID, 99000, database.ExitReasonStopLoss); err != nil || !closed {
		t.Fatalf("first close = %v, %v", closed, err)
	}
	trade, closed, err := mgr.ClosePosition(ctx, pos.ID, 99000, database.ExitReasonManual)
	if err != nil {
		t.Fatalf("second close error = %v", err)
	}
	if closed || trade != nil {
		t.Error("second close must be a no-op")
	}
	if len(repo.trades) != 1 {
		t.Errorf("trades = %d, want exactly 1", len(repo.trades))
	}
}

func TestParseManagement(t *testing.T) {
	fallback := DefaultManagementPolicy(0.005)

	blob := `{"trailing_mode":"structure_plus_liq","trail_pct":0.003}`
	policy := ParseManagement(&blob, fallback)
	if policy.TrailPct != 0.003 {
		t.Errorf("TrailPct = %v, want 0.003", policy.TrailPct)
	}

	if got := ParseManagement(nil, fallback); got != fallback {
		t.Errorf("nil blob = %+v, want fallback", got)
	}

	bad := `{not json`
	if got := ParseManagement(&bad, fallback); got != fallback {
		t.Errorf("malformed blob = %+v, want fallback", got)
	}
}
