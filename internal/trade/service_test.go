package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/auth"
	"github.com/cubeplus/trading-engine/internal/engine"
	"github.com/cubeplus/trading-engine/internal/model"
	"github.com/cubeplus/trading-engine/internal/portfolio"
	"github.com/cubeplus/trading-engine/internal/pricefeed"
	"github.com/cubeplus/trading-engine/internal/store"
	"github.com/cubeplus/trading-engine/internal/trade"
)

const testSecret = "test-secret"

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	router *chi.Mux
	store  *store.MemoryStore
	cache  *pricefeed.Cache
	token  string
	acctID string
}

func newTestEnv(t *testing.T, balance float64) *testEnv {
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

	cache := pricefeed.NewCache()
	feed := pricefeed.NewSyntheticSource(cache, time.Second, 1)

	eng := engine.New(ms)
	val := portfolio.NewValuator(ms, cache)
	svc := trade.NewService(eng, val, cache, feed)

	r := chi.NewRouter()
	r.Get("/api/v1/quotes", svc.ListQuotes)
	r.Get("/api/v1/feed/status", svc.FeedStatus)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(testSecret))
		r.Post("/api/v1/orders/buy", svc.Buy)
		r.Post("/api/v1/orders/sell", svc.Sell)
		r.Get("/api/v1/portfolio", svc.GetPortfolio)
	})

	token, err := auth.GenerateToken(account.ID, false, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	return &testEnv{router: r, store: ms, cache: cache, token: token, acctID: account.ID}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}, withToken bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if withToken {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestBuyOrder(t *testing.T) {
	env := newTestEnv(t, 100000)
	env.cache.Set("RELIANCE", d(2500))

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "RELIANCE", "quantity": 2}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var res engine.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Bought != 2 {
		t.Errorf("expected bought=2, got %+v", res)
	}
	// Feed price wins: 100000 - 2*2500 = 95000.
	if !res.Balance.Equal(d(95000)) {
		t.Errorf("expected balance 95000, got %s", res.Balance)
	}
	if !res.Price.Equal(d(2500)) {
		t.Errorf("expected fill at feed price 2500, got %s", res.Price)
	}
}

func TestBuyOrder_FeedPriceOverridesRequestPrice(t *testing.T) {
	env := newTestEnv(t, 100000)
	env.cache.Set("TCS", d(3200))

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "TCS", "quantity": 1, "price": "1"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var res engine.Result
	json.NewDecoder(rec.Body).Decode(&res)
	if !res.Price.Equal(d(3200)) {
		t.Errorf("feed price should win over request price, got %s", res.Price)
	}
}

func TestBuyOrder_RequestPriceFallback(t *testing.T) {
	env := newTestEnv(t, 100000)

	// No feed quote for INFY; the request price fills the gap.
	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "INFY", "quantity": 3, "price": "1400"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var res engine.Result
	json.NewDecoder(rec.Body).Decode(&res)
	if !res.Price.Equal(d(1400)) {
		t.Errorf("expected fill at request price 1400, got %s", res.Price)
	}
}

func TestOrder_NoPriceAvailable(t *testing.T) {
	env := newTestEnv(t, 100000)

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "INFY", "quantity": 3}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
	}
}

func TestOrder_Unauthorized(t *testing.T) {
	env := newTestEnv(t, 100000)
	env.cache.Set("RELIANCE", d(2500))

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "RELIANCE", "quantity": 1}, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOrder_UnknownSymbol(t *testing.T) {
	env := newTestEnv(t, 100000)

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "NOSUCH", "quantity": 1, "price": "100"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
	}
}

func TestBuyOrder_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t, 100)
	env.cache.Set("RELIANCE", d(2500))

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "RELIANCE", "quantity": 1}, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body)
	}
}

func TestOrder_InactiveAccount(t *testing.T) {
	env := newTestEnv(t, 100000)
	env.cache.Set("RELIANCE", d(2500))

	a, _ := env.store.GetAccount(context.Background(), env.acctID)
	a.IsActive = false
	if err := env.store.UpdateAccount(context.Background(), a); err != nil {
		t.Fatalf("failed to deactivate: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "RELIANCE", "quantity": 1}, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body)
	}
}

func TestSellOrder_ReportsSplit(t *testing.T) {
	env := newTestEnv(t, 100000)
	env.cache.Set("NTPC", d(180))

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "NTPC", "quantity": 4}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/orders/sell",
		map[string]interface{}{"symbol": "NTPC", "quantity": 10}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("sell: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var res engine.Result
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Sold != 4 || res.Shorted != 6 {
		t.Errorf("expected sold=4 shorted=6, got %+v", res)
	}
}

func TestGetPortfolio(t *testing.T) {
	env := newTestEnv(t, 100000)
	env.cache.Set("RELIANCE", d(2500))

	rec := env.request(t, http.MethodPost, "/api/v1/orders/buy",
		map[string]interface{}{"symbol": "RELIANCE", "quantity": 2}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/portfolio", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var summary model.PortfolioSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if len(summary.Holdings) != 1 || summary.Holdings[0].Quantity != 2 {
		t.Errorf("unexpected holdings %+v", summary.Holdings)
	}
	if !summary.Balance.Equal(d(95000)) {
		t.Errorf("expected balance 95000, got %s", summary.Balance)
	}
	if summary.Shorts == nil || summary.ClosedPositions == nil {
		t.Error("empty collections should serialize as [] not null")
	}
}

func TestGetPortfolio_EmptyAccount(t *testing.T) {
	env := newTestEnv(t, 100000)

	rec := env.request(t, http.MethodGet, "/api/v1/portfolio", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	for _, field := range []string{`"holdings":[]`, `"shorts":[]`, `"closed_positions":[]`} {
		if !bytes.Contains([]byte(body), []byte(field)) {
			t.Errorf("expected %s in body: %s", field, body)
		}
	}
}

func TestListQuotes(t *testing.T) {
	env := newTestEnv(t, 100000)
	env.cache.Set("TCS", d(3200))
	env.cache.Set("INFY", d(1400))

	rec := env.request(t, http.MethodGet, "/api/v1/quotes", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp trade.QuoteList
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode quotes: %v", err)
	}
	if len(resp.Quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(resp.Quotes))
	}
	// Sorted by symbol.
	if resp.Quotes[0].Symbol != "INFY" || resp.Quotes[1].Symbol != "TCS" {
		t.Errorf("quotes should sort by symbol, got %+v", resp.Quotes)
	}
	if resp.Status.Connected {
		t.Error("idle synthetic source should report not connected")
	}
}

func TestFeedStatus(t *testing.T) {
	env := newTestEnv(t, 100000)
	env.cache.Set("TCS", d(3200))

	rec := env.request(t, http.MethodGet, "/api/v1/feed/status", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status pricefeed.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if want := len(pricefeed.Symbols()); status.TotalSymbols != want {
		t.Errorf("expected %d total symbols, got %d", want, status.TotalSymbols)
	}
}
