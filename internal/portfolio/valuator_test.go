package portfolio_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/engine"
	"github.com/cubeplus/trading-engine/internal/model"
	"github.com/cubeplus/trading-engine/internal/portfolio"
	"github.com/cubeplus/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// staticPrices is a fixed-map PriceSource; unset symbols price at zero.
type staticPrices map[string]decimal.Decimal

func (p staticPrices) Price(symbol string) decimal.Decimal {
	return p[symbol]
}

func newTestEnv(t *testing.T, balance float64) (*engine.Engine, *store.MemoryStore, string) {
	t.Helper()
	ms := store.NewMemoryStore()
	account := &model.Account{
		ID:        "acct-1",
		Username:  "trader",
		Email:     "trader@example.com",
		Balance:   d(balance),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return engine.New(ms), ms, account.ID
}

func TestComputePortfolio_AverageCostBasis(t *testing.T) {
	eng, ms, acct := newTestEnv(t, 100000)
	ctx := context.Background()

	// 10 @ 100 then 10 @ 200: avg cost 150 across 20 shares.
	if _, err := eng.ExecuteBuy(ctx, acct, "NTPC", 10, d(100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := eng.ExecuteBuy(ctx, acct, "NTPC", 10, d(200)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	v := portfolio.NewValuator(ms, staticPrices{"NTPC": d(180)})
	summary, err := v.ComputePortfolio(ctx, acct)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	if len(summary.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(summary.Holdings))
	}
	h := summary.Holdings[0]
	if h.Symbol != "NTPC" || h.Quantity != 20 {
		t.Fatalf("unexpected holding %+v", h)
	}
	if !h.AvgCost.Equal(d(150)) {
		t.Errorf("expected avg cost 150, got %s", h.AvgCost)
	}
	if !h.Invested.Equal(d(3000)) {
		t.Errorf("expected invested 3000, got %s", h.Invested)
	}
	if !h.CurrentValue.Equal(d(3600)) {
		t.Errorf("expected current value 3600, got %s", h.CurrentValue)
	}
	if !h.UnrealizedPnL.Equal(d(600)) {
		t.Errorf("expected unrealized 600, got %s", h.UnrealizedPnL)
	}

	if !summary.UnrealizedPnL.Equal(d(600)) {
		t.Errorf("expected total unrealized 600, got %s", summary.UnrealizedPnL)
	}
	// 600 / 3000 * 100 = 20%.
	if !summary.UnrealizedPnLPct.Equal(d(20)) {
		t.Errorf("expected pct 20, got %s", summary.UnrealizedPnLPct)
	}
	// 100000 - 1000 - 2000.
	if !summary.Balance.Equal(d(97000)) {
		t.Errorf("expected balance 97000, got %s", summary.Balance)
	}
}

func TestComputePortfolio_PartialSellKeepsAvgCost(t *testing.T) {
	eng, ms, acct := newTestEnv(t, 100000)
	ctx := context.Background()

	if _, err := eng.ExecuteBuy(ctx, acct, "WIPRO", 10, d(100)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := eng.ExecuteBuy(ctx, acct, "WIPRO", 10, d(200)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := eng.ExecuteSell(ctx, acct, "WIPRO", 5, d(180)); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	v := portfolio.NewValuator(ms, staticPrices{"WIPRO": d(180)})
	summary, err := v.ComputePortfolio(ctx, acct)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	h := summary.Holdings[0]
	if h.Quantity != 15 {
		t.Fatalf("expected 15 remaining, got %d", h.Quantity)
	}
	// Average cost stays at the buy-side average: 3000/20 = 150.
	if !h.AvgCost.Equal(d(150)) {
		t.Errorf("expected avg cost 150, got %s", h.AvgCost)
	}
	if !h.UnrealizedPnL.Equal(d(450)) { // (180-150)*15
		t.Errorf("expected unrealized 450, got %s", h.UnrealizedPnL)
	}
}

func TestComputePortfolio_ShortValuation(t *testing.T) {
	eng, ms, acct := newTestEnv(t, 100000)
	ctx := context.Background()

	if _, err := eng.ExecuteSell(ctx, acct, "TCS", 10, d(500)); err != nil {
		t.Fatalf("short sell failed: %v", err)
	}

	v := portfolio.NewValuator(ms, staticPrices{"TCS": d(480)})
	summary, err := v.ComputePortfolio(ctx, acct)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	if len(summary.Shorts) != 1 {
		t.Fatalf("expected 1 short, got %d", len(summary.Shorts))
	}
	s := summary.Shorts[0]
	if !s.Collateral.Equal(d(5000)) {
		t.Errorf("expected collateral 5000, got %s", s.Collateral)
	}
	// (500-480)*10 = 200 unrealized gain.
	if !s.UnrealizedPnL.Equal(d(200)) {
		t.Errorf("expected unrealized 200, got %s", s.UnrealizedPnL)
	}

	if !summary.Invested.Equal(d(5000)) {
		t.Errorf("expected invested 5000, got %s", summary.Invested)
	}
	if !summary.CurrentValue.Equal(d(5200)) {
		t.Errorf("expected current value 5200, got %s", summary.CurrentValue)
	}
	if !summary.UnrealizedPnL.Equal(d(200)) {
		t.Errorf("expected unrealized 200, got %s", summary.UnrealizedPnL)
	}
	// 200/5000*100 = 4%.
	if !summary.UnrealizedPnLPct.Equal(d(4)) {
		t.Errorf("expected pct 4, got %s", summary.UnrealizedPnLPct)
	}
}

func TestComputePortfolio_UnknownPriceFallsBackToCost(t *testing.T) {
	eng, ms, acct := newTestEnv(t, 100000)
	ctx := context.Background()

	if _, err := eng.ExecuteBuy(ctx, acct, "ITC", 10, d(450)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := eng.ExecuteSell(ctx, acct, "ONGC", 10, d(150)); err != nil {
		t.Fatalf("short sell failed: %v", err)
	}

	// No prices at all.
	v := portfolio.NewValuator(ms, staticPrices{})
	summary, err := v.ComputePortfolio(ctx, acct)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	h := summary.Holdings[0]
	if !h.CurrentPrice.Equal(d(450)) || !h.UnrealizedPnL.IsZero() {
		t.Errorf("long should value at cost with zero pnl, got %+v", h)
	}
	s := summary.Shorts[0]
	if !s.CurrentPrice.Equal(d(150)) || !s.UnrealizedPnL.IsZero() {
		t.Errorf("short should value at avg sell with zero pnl, got %+v", s)
	}
	if !summary.UnrealizedPnL.IsZero() {
		t.Errorf("expected zero unrealized, got %s", summary.UnrealizedPnL)
	}
}

func TestComputePortfolio_ClosedPnLTotals(t *testing.T) {
	eng, ms, acct := newTestEnv(t, 100000)
	ctx := context.Background()

	if _, err := eng.ExecuteSell(ctx, acct, "SBIN", 10, d(550)); err != nil {
		t.Fatalf("short sell failed: %v", err)
	}
	if _, err := eng.ExecuteBuy(ctx, acct, "SBIN", 6, d(540)); err != nil {
		t.Fatalf("cover failed: %v", err)
	}
	if _, err := eng.ExecuteBuy(ctx, acct, "SBIN", 4, d(560)); err != nil {
		t.Fatalf("cover failed: %v", err)
	}

	v := portfolio.NewValuator(ms, staticPrices{"SBIN": d(550)})
	summary, err := v.ComputePortfolio(ctx, acct)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	if len(summary.ClosedPositions) != 2 {
		t.Fatalf("expected 2 closed positions, got %d", len(summary.ClosedPositions))
	}
	// (550-540)*6 + (550-560)*4 = 60 - 40 = 20.
	if !summary.TotalClosedPnL.Equal(d(20)) {
		t.Errorf("expected total closed pnl 20, got %s", summary.TotalClosedPnL)
	}
	if len(summary.Shorts) != 0 {
		t.Errorf("short should be fully covered, got %+v", summary.Shorts)
	}
}

func TestComputePortfolio_Idempotent(t *testing.T) {
	eng, ms, acct := newTestEnv(t, 100000)
	ctx := context.Background()

	if _, err := eng.ExecuteBuy(ctx, acct, "RELIANCE", 4, d(2500)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := eng.ExecuteSell(ctx, acct, "TCS", 2, d(3200)); err != nil {
		t.Fatalf("short sell failed: %v", err)
	}

	v := portfolio.NewValuator(ms, staticPrices{"RELIANCE": d(2600), "TCS": d(3100)})
	first, err := v.ComputePortfolio(ctx, acct)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	second, err := v.ComputePortfolio(ctx, acct)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("unchanged ledger should produce identical summaries:\n%+v\n%+v", first, second)
	}
}

func TestComputePortfolio_UnknownAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	v := portfolio.NewValuator(ms, staticPrices{})
	if _, err := v.ComputePortfolio(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown account")
	}
}
