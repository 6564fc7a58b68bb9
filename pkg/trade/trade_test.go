package trade

import (
	"context"
	"errors"
	"sync"
	"testing"

	"smartroute/pkg/exchange/dummy"
	"smartroute/pkg/market"
	"smartroute/pkg/route"
	"smartroute/pkg/types"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lvl(price, qty string) []types.Order {
	return []types.Order{{Price: d(price), Quantity: d(qty)}}
}

func newTestExchange() *dummy.DummyExchange {
	e := dummy.NewEmpty()
	e.AddMarket("ETH", "BTC", d("0.0001"))
	e.AddMarket("ADA", "BTC", d("7"))
	e.AddMarket("ETH", "USDT", d("0.0001"))
	e.AddMarket("ADA", "USDT", d("0.1"))
	e.AddMarket("BTC", "USDT", d("0.00001"))

	e.SetBook("ETHBTC", lvl("0.05", "100"), lvl("0.0501", "100"))
	e.SetBook("ADABTC", lvl("0.0000099", "1000000"), lvl("0.00001", "1000000"))
	e.SetBook("ETHUSDT", lvl("2000", "100"), lvl("2001", "100"))
	e.SetBook("ADAUSDT", lvl("0.49", "1000000"), lvl("0.5", "1000000"))
	e.SetPrice("BTCUSDT", d("40000"))
	e.SetBalance("ETH", d("10"))
	return e
}

func newTestExecutor(e *dummy.DummyExchange, j Journal) *Executor {
	router := route.NewRouter(route.NewBuilder(e, route.DefaultOptions()), e, e, market.NewConnections(e.Markets()), route.RouterConfig{
		Bridges:   []string{"BTC", "USDT"},
		FiatAsset: "USDT",
	})
	return NewExecutor(e, router, j, d("0.001"))
}

type memJournal struct {
	mu      sync.Mutex
	reports []Report
	err     error
}

func (j *memJournal) Record(_ context.Context, r *Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reports = append(j.reports, *r)
	return j.err
}

func TestExecuteSmartRouting(t *testing.T) {
	e := newTestExchange()
	j := &memJournal{}
	report, err := newTestExecutor(e, j).Execute(context.Background(), Request{
		SellAsset:    "eth",
		BuyAsset:     "ada",
		Bridge:       "USDT",
		Size:         d("1"),
		SmartRouting: true,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if report.Bridge != "BTC" {
		t.Errorf("bridge = %s, want BTC from revalidation", report.Bridge)
	}
	sale := report.Sale
	if sale.Market != "ETHBTC" || !sale.Quantity.Equal(d("1")) || !sale.Price.Equal(d("0.05")) {
		t.Errorf("unexpected sale: %+v", sale)
	}
	if sale.CommissionAsset != "BTC" || !sale.Total.Equal(d("0.049995")) {
		t.Errorf("sale total = %v %s, want 0.049995 BTC", sale.Total, sale.CommissionAsset)
	}
	if report.Purchase == nil {
		t.Fatal("missing purchase")
	}
	if !report.Purchase.Quantity.Equal(d("4991")) {
		t.Errorf("purchase quantity = %v, want 4991", report.Purchase.Quantity)
	}
	if !report.Purchase.Total.Equal(d("0.049914991")) {
		t.Errorf("purchase total = %v, want 0.049914991", report.Purchase.Total)
	}

	s := report.Savings
	if s == nil {
		t.Fatal("missing savings")
	}
	if s.BestBridge != "BTC" || s.WorstBridge != "USDT" || s.FiatAsset != "USDT" {
		t.Errorf("unexpected savings bridges: %+v", s)
	}
	if !s.Total.Equal(d("499.1")) || !s.PerUnit.Equal(d("0.1")) {
		t.Errorf("savings = %v (%v per unit), want 499.1 (0.1)", s.Total, s.PerUnit)
	}

	if len(j.reports) != 1 || j.reports[0].Id != report.Id {
		t.Errorf("journal got %d reports", len(j.reports))
	}
	if bal, _ := e.FetchBalance(context.Background(), "ADA"); !bal.Equal(d("4991")) {
		t.Errorf("ADA balance = %v, want 4991", bal)
	}
}

func TestExecuteStaticRoute(t *testing.T) {
	tests := []struct {
		name    string
		buyQty  decimal.Decimal
		wantQty decimal.Decimal
	}{
		{"simulated from proceeds", decimal.Zero, d("3999.6")},
		{"client quantity floored", d("100.05"), d("100")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExchange()
			report, err := newTestExecutor(e, nil).Execute(context.Background(), Request{
				SellAsset:   "ETH",
				BuyAsset:    "ADA",
				Bridge:      "usdt",
				Size:        d("1"),
				BuyQuantity: tt.buyQty,
			})
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if !report.Sale.Total.Equal(d("1999.8")) {
				t.Errorf("sale total = %v, want 1999.8", report.Sale.Total)
			}
			if !report.Purchase.Quantity.Equal(tt.wantQty) {
				t.Errorf("purchase quantity = %v, want %v", report.Purchase.Quantity, tt.wantQty)
			}
			if report.Savings != nil {
				t.Error("savings are only reported with smart routing")
			}
		})
	}
}

func TestExecuteBuyFailureReturnsPartialReport(t *testing.T) {
	e := newTestExchange()
	e.FailOrders("ADAUSDT", errors.New("insufficient balance"))
	j := &memJournal{err: errors.New("bucket unavailable")}

	report, err := newTestExecutor(e, j).Execute(context.Background(), Request{
		SellAsset: "ETH",
		BuyAsset:  "ADA",
		Bridge:    "USDT",
		Size:      d("1"),
	})
	if !errors.Is(err, ErrPartialExecution) {
		t.Fatalf("error = %v, want ErrPartialExecution", err)
	}
	if report == nil || report.Purchase != nil {
		t.Fatalf("expected a sale-only report, got %+v", report)
	}
	if !report.Sale.Quantity.Equal(d("1")) || report.Error == "" {
		t.Errorf("unexpected partial report: %+v", report)
	}
	if len(j.reports) != 1 {
		t.Errorf("partial report should be journaled, got %d", len(j.reports))
	}
}

func TestExecuteRejectsBeforeSelling(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		setup   func(e *dummy.DummyExchange)
		wantErr error
	}{
		{"same asset", Request{SellAsset: "ETH", BuyAsset: "eth", Bridge: "USDT", Size: d("1")}, nil, ErrInvalidRequest},
		{"zero size", Request{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "USDT"}, nil, ErrInvalidRequest},
		{"missing bridge", Request{SellAsset: "ETH", BuyAsset: "ADA", Size: d("1")}, nil, ErrInvalidRequest},
		{"below lot step", Request{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "USDT", Size: d("0.00001")}, nil, ErrInvalidRequest},
		{"no route", Request{SellAsset: "ETH", BuyAsset: "XRP", Size: d("1"), SmartRouting: true}, nil, route.ErrNoRoute},
		{"sell rejected", Request{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "USDT", Size: d("1")}, func(e *dummy.DummyExchange) {
			e.FailOrders("ETHUSDT", errors.New("market closed"))
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExchange()
			if tt.setup != nil {
				tt.setup(e)
			}
			report, err := newTestExecutor(e, nil).Execute(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrPartialExecution) || report != nil {
				t.Errorf("nothing was sold, got report %+v", report)
			}
			if bal, _ := e.FetchBalance(context.Background(), "ETH"); !bal.Equal(d("10")) {
				t.Errorf("ETH balance = %v, want untouched 10", bal)
			}
		})
	}
}

func TestCommissionRate(t *testing.T) {
	if !CommissionRate("bnb").Equal(d("0.00005")) {
		t.Error("BNB commission should be discounted")
	}
	if !CommissionRate("USDT").Equal(d("0.0001")) {
		t.Error("unexpected default commission")
	}
}
