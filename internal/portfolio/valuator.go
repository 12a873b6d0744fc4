// Package portfolio aggregates the transaction log and open positions into
// holdings, unrealized P&L, and realized P&L summaries for display.
//
// ComputePortfolio is a pure read: it has no side effects and returns
// identical summaries for an unchanged ledger snapshot.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/model"
	"github.com/cubeplus/trading-engine/internal/store"
)

// PriceSource supplies the current price for a symbol. A zero price means
// the price is unknown and the valuator falls back to cost basis.
type PriceSource interface {
	Price(symbol string) decimal.Decimal
}

// Valuator computes portfolio summaries from the ledger store.
type Valuator struct {
	store  store.Store
	prices PriceSource
}

// NewValuator creates a valuator reading from st and pricing via prices.
func NewValuator(st store.Store, prices PriceSource) *Valuator {
	return &Valuator{store: st, prices: prices}
}

// symbolAgg accumulates one symbol's transaction-log totals.
type symbolAgg struct {
	buyQty    int64
	buyValue  decimal.Decimal
	sellQty   int64
	sellValue decimal.Decimal
}

// ComputePortfolio aggregates one account's transactions, short positions,
// and closed positions into a display-ready summary.
//
// Open longs are valued against a true volume-weighted average cost basis:
// invested = avg_cost × net_qty, unrealized = (price − avg_cost) × net_qty.
// Open shorts are valued as unrealized = (avg_sell − price) × qty with
// collateral avg_sell × qty counted in both invested and current value.
func (v *Valuator) ComputePortfolio(ctx context.Context, accountID string) (*model.PortfolioSummary, error) {
	account, err := v.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: %w", err)
	}

	txns, err := v.store.GetTransactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: transactions: %w", err)
	}
	shorts, err := v.store.GetShortPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: short positions: %w", err)
	}
	closed, err := v.store.GetClosedPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: closed positions: %w", err)
	}

	agg := make(map[string]*symbolAgg)
	for _, t := range txns {
		a, ok := agg[t.Symbol]
		if !ok {
			a = &symbolAgg{}
			agg[t.Symbol] = a
		}
		value := t.Price.Mul(decimal.NewFromInt(t.Quantity))
		switch t.Type {
		case model.TxBuy, model.TxCover:
			a.buyQty += t.Quantity
			a.buyValue = a.buyValue.Add(value)
		case model.TxSell, model.TxShortSell:
			a.sellQty += t.Quantity
			a.sellValue = a.sellValue.Add(value)
		}
	}

	openShortSymbols := make(map[string]bool, len(shorts))
	for _, sp := range shorts {
		openShortSymbols[sp.Symbol] = true
	}

	investedLong := decimal.Zero
	currentLong := decimal.Zero
	var holdings []model.Holding

	for symbol, a := range agg {
		netQty := a.buyQty - a.sellQty
		if netQty <= 0 {
			continue
		}
		// A symbol carries either net long flow or an open short, never both.
		if openShortSymbols[symbol] {
			slog.Warn("ledger inconsistency: net long holdings alongside open short",
				"account", accountID, "symbol", symbol, "net_qty", netQty)
		}

		netDec := decimal.NewFromInt(netQty)
		avgCost := a.buyValue.Div(decimal.NewFromInt(a.buyQty))
		price := v.prices.Price(symbol)
		if !price.IsPositive() {
			price = avgCost // unknown price: value at cost, zero unrealized
		}

		invested := avgCost.Mul(netDec)
		current := price.Mul(netDec)

		holdings = append(holdings, model.Holding{
			Symbol:        symbol,
			Quantity:      netQty,
			AvgCost:       avgCost,
			CurrentPrice:  price,
			Invested:      invested,
			CurrentValue:  current,
			UnrealizedPnL: current.Sub(invested),
		})
		investedLong = investedLong.Add(invested)
		currentLong = currentLong.Add(current)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })

	totalCollateral := decimal.Zero
	shortPnL := decimal.Zero
	var shortSummaries []model.ShortSummary

	for _, sp := range shorts {
		qty := decimal.NewFromInt(sp.Quantity)
		price := v.prices.Price(sp.Symbol)
		if !price.IsPositive() {
			price = sp.AvgSellPrice
		}
		collateral := sp.AvgSellPrice.Mul(qty)
		pnl := sp.AvgSellPrice.Sub(price).Mul(qty)

		shortSummaries = append(shortSummaries, model.ShortSummary{
			Symbol:        sp.Symbol,
			Quantity:      sp.Quantity,
			AvgSellPrice:  sp.AvgSellPrice,
			CurrentPrice:  price,
			Collateral:    collateral,
			UnrealizedPnL: pnl,
		})
		totalCollateral = totalCollateral.Add(collateral)
		shortPnL = shortPnL.Add(pnl)
	}
	sort.Slice(shortSummaries, func(i, j int) bool {
		return shortSummaries[i].Symbol < shortSummaries[j].Symbol
	})

	invested := investedLong.Add(totalCollateral)
	currentValue := currentLong.Add(totalCollateral).Add(shortPnL)
	unrealized := currentLong.Sub(investedLong).Add(shortPnL)

	pct := decimal.Zero
	if invested.IsPositive() {
		pct = unrealized.Div(invested).Mul(decimal.NewFromInt(100)).Round(2)
	}

	totalClosedPnL := decimal.Zero
	for _, cp := range closed {
		totalClosedPnL = totalClosedPnL.Add(cp.PnL)
	}

	return &model.PortfolioSummary{
		AccountID:        accountID,
		Balance:          account.Balance,
		Holdings:         holdings,
		Shorts:           shortSummaries,
		Invested:         invested,
		CurrentValue:     currentValue,
		UnrealizedPnL:    unrealized,
		UnrealizedPnLPct: pct,
		TotalClosedPnL:   totalClosedPnL,
		ClosedPositions:  closed,
	}, nil
}
