package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/tarbot/internal/domain"
	"github.com/alanyoungcy/tarbot/internal/quickfill"
	"github.com/alanyoungcy/tarbot/internal/testutil"
)

type bookFills struct{ a *testutil.Adapter }

func (f bookFills) QuickFill(ctx context.Context, _ domain.ExchangeID, pair string, t domain.OrderType, amount float64) (domain.QuickFill, error) {
	book, err := f.a.GetOrderbook(ctx, pair)
	if err != nil {
		return domain.QuickFill{}, err
	}
	qf := quickfill.Simulate(book, t, amount, f.a)
	if !qf.OK {
		return qf, domain.ErrInsufficientLiquidity
	}
	return qf, nil
}

type harness struct {
	adapter *testutil.Adapter
	orders  *testutil.OrderStore
	mgr     *Manager
	slept   []time.Duration
}

func newHarness() *harness {
	h := &harness{
		adapter: testutil.NewAdapter(domain.ExchangeCoinbase),
		orders:  testutil.NewOrderStore(),
	}
	h.adapter.SetBook("ETH-USD", []domain.Level{{Price: 100, Size: 10}}, []domain.Level{{Price: 99, Size: 10}})
	h.mgr = NewManager(h.orders, testutil.Registry{h.adapter.ID(): h.adapter}, bookFills{h.adapter}, DefaultConfig(), testutil.Logger())
	h.mgr.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	return h
}

var buyETH = domain.LimitOrderRequest{
	ExchangeID: domain.ExchangeCoinbase,
	Type:       domain.OrderLimitBuy,
	Pair:       "ETH-USD",
	Funds:      100,
}

func TestLimitOrderFilledImmediately(t *testing.T) {
	h := newHarness()

	o, err := h.mgr.LimitOrder(context.Background(), buyETH)
	if err != nil {
		t.Fatalf("LimitOrder: %v", err)
	}
	if o.Status != domain.OrderFilled || o.ExtID != "ext-1" || o.Size != 1 || o.Price != 100 {
		t.Fatalf("order = %+v", o)
	}
	if o.FillDate == nil {
		t.Fatal("fill date not set")
	}

	placed := h.adapter.PlacedOrders()
	if len(placed) != 1 || placed[0].LocalID != o.UUID || o.UUID == "" {
		t.Fatalf("placed = %+v, uuid %q", placed, o.UUID)
	}
	stored, _ := h.orders.GetByID(context.Background(), o.ID)
	if stored.Lock != domain.OrderUnlocked || stored.Status != domain.OrderFilled {
		t.Fatalf("stored = %+v", stored)
	}
	if len(h.orders.LockHistory) != 1 || h.orders.LockHistory[0] != domain.OrderLockCreateLimit {
		t.Fatalf("lock history = %v", h.orders.LockHistory)
	}
	if len(h.slept) != 0 {
		t.Fatalf("filled order should not wait, slept %v", h.slept)
	}
}

func TestLimitOrderRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.LimitOrderRequest
		setup   func(h *harness)
		wantErr error
	}{
		{
			name:    "buy without funds",
			req:     domain.LimitOrderRequest{ExchangeID: domain.ExchangeCoinbase, Type: domain.OrderLimitBuy, Pair: "ETH-USD", Size: 1},
			wantErr: domain.ErrInvalidOrder,
		},
		{
			name:    "sell without size",
			req:     domain.LimitOrderRequest{ExchangeID: domain.ExchangeCoinbase, Type: domain.OrderLimitSell, Pair: "ETH-USD", Funds: 1},
			wantErr: domain.ErrInvalidOrder,
		},
		{
			name: "price far from market",
			req:  buyETH,
			setup: func(h *harness) {
				h.adapter.SetBook("ETH-USD", []domain.Level{{Price: 110, Size: 10}}, []domain.Level{{Price: 90, Size: 10}})
			},
			wantErr: domain.ErrPriceDeviation,
		},
		{
			name:    "unknown exchange",
			req:     domain.LimitOrderRequest{ExchangeID: domain.ExchangeBinance, Type: domain.OrderLimitBuy, Pair: "ETH-USD", Funds: 1},
			wantErr: domain.ErrAdapterNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.mgr.LimitOrder(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(h.adapter.PlacedOrders()) != 0 || len(h.orders.All()) != 0 {
				t.Fatal("rejected request must not reach the exchange or the store")
			}
		})
	}
}

func TestLimitOrderSubmitFailureLeavesCreatedRow(t *testing.T) {
	h := newHarness()
	boom := errors.New("exchange down")
	h.adapter.PlaceErr["ETH-USD"] = boom

	o, err := h.mgr.LimitOrder(context.Background(), buyETH)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	stored, gerr := h.orders.GetByID(context.Background(), o.ID)
	if gerr != nil {
		t.Fatalf("local row missing: %v", gerr)
	}
	if stored.Status != domain.OrderCreated || stored.Lock != domain.OrderUnlocked || stored.ExtID != "" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestLimitOrderWaitsForFill(t *testing.T) {
	tests := []struct {
		name       string
		queries    []domain.OrderStatus
		wantStatus domain.OrderStatus
		wantErr    error
		wantSleeps int
	}{
		{"fills on third check", []domain.OrderStatus{domain.OrderOpen, domain.OrderOpen, domain.OrderFilled}, domain.OrderFilled, nil, 3},
		{"closed unfilled", []domain.OrderStatus{domain.OrderOpen, domain.OrderClosed}, domain.OrderClosed, domain.ErrNotFilled, 2},
		{"unknown keeps waiting", []domain.OrderStatus{domain.OrderUnknown, domain.OrderSettled}, domain.OrderSettled, nil, 2},
		{"never fills", []domain.OrderStatus{domain.OrderOpen}, domain.OrderOpen, domain.ErrFillTimeout, len(DefaultFillSchedule)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.adapter.PlaceStatus["ETH-USD"] = domain.OrderOpen
			h.adapter.QueryStatus = tt.queries

			o, err := h.mgr.LimitOrder(context.Background(), buyETH)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("LimitOrder: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if o.Status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", o.Status, tt.wantStatus)
			}
			if len(h.slept) != tt.wantSleeps {
				t.Fatalf("slept %d times, want %d", len(h.slept), tt.wantSleeps)
			}
			if h.slept[0] != 2*time.Second {
				t.Fatalf("first wait = %v, want 2s", h.slept[0])
			}
		})
	}
}

func TestNewOrderQueryWaitStretchesFirstStep(t *testing.T) {
	h := newHarness()
	h.adapter.Tweak.NewOrderQueryWait = 4 * time.Second
	h.adapter.PlaceStatus["ETH-USD"] = domain.OrderOpen
	h.adapter.QueryStatus = []domain.OrderStatus{domain.OrderFilled}

	if _, err := h.mgr.LimitOrder(context.Background(), buyETH); err != nil {
		t.Fatalf("LimitOrder: %v", err)
	}
	if len(h.slept) != 1 || h.slept[0] != 4*time.Second {
		t.Fatalf("slept %v, want [4s]", h.slept)
	}
}

func TestSyncOrderByIDNeedsExchangeID(t *testing.T) {
	h := newHarness()
	o, _ := h.orders.Create(context.Background(), domain.Order{ExchangeID: domain.ExchangeCoinbase, Pair: "ETH-USD", Status: domain.OrderCreated})

	_, err := h.mgr.SyncOrderByID(context.Background(), o.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if _, err := h.mgr.SyncOrderByID(context.Background(), 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelOpenOrder(t *testing.T) {
	h := newHarness()
	h.adapter.PlaceStatus["ETH-USD"] = domain.OrderOpen
	h.mgr.cfg.FillSchedule = []time.Duration{time.Second}

	o, err := h.mgr.LimitOrder(context.Background(), buyETH)
	if !errors.Is(err, domain.ErrFillTimeout) {
		t.Fatalf("err = %v, want ErrFillTimeout", err)
	}
	o, err = h.mgr.Cancel(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if o.Status != domain.OrderClosed {
		t.Fatalf("status = %d, want closed", o.Status)
	}
	if got := h.orders.LockHistory; len(got) != 2 || got[1] != domain.OrderLockCancel {
		t.Fatalf("lock history = %v", got)
	}
	if _, err := h.mgr.Cancel(context.Background(), o.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status domain.OrderStatus
		want   domain.StatusClass
	}{
		{domain.OrderCreated, domain.ClassOpen},
		{domain.OrderOpen, domain.ClassOpen},
		{domain.OrderFilled, domain.ClassFilled},
		{domain.OrderSettled, domain.ClassFilled},
		{domain.OrderFailed, domain.ClassClosedUnfilled},
		{domain.OrderClosed, domain.ClassClosedUnfilled},
		{domain.OrderUnknown, domain.ClassUnknown},
		{domain.OrderStatus(42), domain.ClassUnknown},
	}
	for _, tt := range tests {
		if got := tt.status.Class(); got != tt.want {
			t.Errorf("Class(%d) = %d, want %d", tt.status, got, tt.want)
		}
	}
}
