// Package trade provides the HTTP handlers for placing orders, querying
// portfolios, and streaming quotes.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/auth"
	"github.com/cubeplus/trading-engine/internal/engine"
	"github.com/cubeplus/trading-engine/internal/metrics"
	"github.com/cubeplus/trading-engine/internal/model"
	"github.com/cubeplus/trading-engine/internal/pricefeed"
	"github.com/cubeplus/trading-engine/internal/portfolio"
	"github.com/cubeplus/trading-engine/internal/store"
)

// Service handles trading operations over HTTP.
type Service struct {
	engine   *engine.Engine
	valuator *portfolio.Valuator
	prices   *pricefeed.Cache
	feed     pricefeed.Source
}

// NewService creates a new trade service.
func NewService(eng *engine.Engine, val *portfolio.Valuator, prices *pricefeed.Cache, feed pricefeed.Source) *Service {
	return &Service{engine: eng, valuator: val, prices: prices, feed: feed}
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /orders/buy and /orders/sell.
// Price is optional: when the live feed has a current price it wins, and the
// request price only serves as fallback while the feed has no quote.
type OrderRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// QuoteList is the JSON body returned from GET /quotes.
type QuoteList struct {
	Quotes []pricefeed.Quote `json:"quotes"`
	Status pricefeed.Status  `json:"status"`
}

// --- HTTP Handlers ---

// Buy handles POST /api/v1/orders/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.TxBuy)
}

// Sell handles POST /api/v1/orders/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.TxSell)
}

func (s *Service) executeOrder(w http.ResponseWriter, r *http.Request, side string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Execute at the live price; fall back to the caller-supplied price when
	// the feed has no quote for the symbol. A feed outage never fails the
	// order outright.
	price := s.prices.Price(req.Symbol)
	if !price.IsPositive() {
		price = req.Price
	}
	if !price.IsPositive() {
		metrics.OrderRejections.WithLabelValues("no_price").Inc()
		writeError(w, "no price available for "+req.Symbol, http.StatusBadRequest)
		return
	}

	start := time.Now()
	var res *engine.Result
	var err error
	if side == model.TxBuy {
		res, err = s.engine.ExecuteBuy(r.Context(), claims.AccountID, req.Symbol, req.Quantity, price)
	} else {
		res, err = s.engine.ExecuteSell(r.Context(), claims.AccountID, req.Symbol, req.Quantity, price)
	}
	if err != nil {
		s.writeOrderError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues(side).Inc()
	metrics.OrderLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	metrics.OrderVolume.WithLabelValues(req.Symbol, side).Add(float64(res.Executed()))

	slog.Info("order executed",
		"account", claims.AccountID,
		"symbol", req.Symbol,
		"side", side,
		"requested", res.Requested,
		"executed", res.Executed(),
		"skipped", res.Skipped,
		"price", price.String(),
		"realized_pnl", res.RealizedPnL.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (s *Service) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrQuantityNotPositive),
		errors.Is(err, engine.ErrPriceNotPositive),
		errors.Is(err, engine.ErrUnknownSymbol):
		metrics.OrderRejections.WithLabelValues("validation").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrInsufficientFunds):
		metrics.OrderRejections.WithLabelValues("insufficient_funds").Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, engine.ErrAccountInactive):
		metrics.OrderRejections.WithLabelValues("inactive_account").Inc()
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "account not found", http.StatusNotFound)
	default:
		slog.Error("order execution failed", "err", err)
		writeError(w, "order execution failed", http.StatusInternalServerError)
	}
}

// GetPortfolio handles GET /api/v1/portfolio.
// Returns holdings, open shorts, unrealized and realized P&L for the session
// account.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	summary, err := s.valuator.ComputePortfolio(r.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		slog.Error("portfolio computation failed", "err", err)
		writeError(w, "failed to compute portfolio", http.StatusInternalServerError)
		return
	}
	if summary.Holdings == nil {
		summary.Holdings = []model.Holding{}
	}
	if summary.Shorts == nil {
		summary.Shorts = []model.ShortSummary{}
	}
	if summary.ClosedPositions == nil {
		summary.ClosedPositions = []model.ClosedPosition{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// ListQuotes handles GET /api/v1/quotes.
// Returns the current quote for every symbol the feed knows about.
func (s *Service) ListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes := s.prices.Snapshot()
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })

	resp := QuoteList{Quotes: quotes, Status: s.feed.Status()}
	if resp.Quotes == nil {
		resp.Quotes = []pricefeed.Quote{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// FeedStatus handles GET /api/v1/feed/status.
func (s *Service) FeedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.feed.Status())
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
