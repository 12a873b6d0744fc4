// Package engine implements the position accounting rules: turning BUY and
// SELL requests into balance changes, transaction-log entries, short-position
// updates, and realized P&L records.
//
// A buy first covers any open short on the symbol, then opens a long with the
// remainder. A sell first unwinds long holdings, then opens or extends a short
// with the remainder, reserving collateral against it. Each order commits as
// one atomic store unit; per-account serialization is handled by the store's
// account row lock.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/model"
	"github.com/cubeplus/trading-engine/internal/pricefeed"
	"github.com/cubeplus/trading-engine/internal/store"
)

var (
	// ErrQuantityNotPositive rejects orders with quantity <= 0.
	ErrQuantityNotPositive = errors.New("engine: quantity must be positive")

	// ErrPriceNotPositive rejects orders with price <= 0.
	ErrPriceNotPositive = errors.New("engine: price must be positive")

	// ErrUnknownSymbol rejects orders for symbols outside the feed universe.
	ErrUnknownSymbol = errors.New("engine: unknown symbol")

	// ErrAccountInactive rejects orders from deactivated accounts.
	ErrAccountInactive = errors.New("engine: account is not active")

	// ErrInsufficientFunds is returned when the balance cannot fund any part
	// of the order. Partial shortfalls execute the affordable portion and
	// report the rest as skipped instead.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")
)

// SkipReasonInsufficientFunds is reported on a Result whose order was
// truncated because the balance could not fund the full quantity.
const SkipReasonInsufficientFunds = "insufficient funds"

// Result reports what actually executed for one order. The executed legs
// (Covered+Bought for a buy, Sold+Shorted for a sell) plus Skipped always
// sum to Requested.
type Result struct {
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"` // "BUY" or "SELL"
	Price       decimal.Decimal `json:"price"`
	Requested   int64           `json:"requested"`
	Covered     int64           `json:"covered,omitempty"`
	Bought      int64           `json:"bought,omitempty"`
	Sold        int64           `json:"sold,omitempty"`
	Shorted     int64           `json:"shorted,omitempty"`
	Skipped     int64           `json:"skipped,omitempty"`
	SkipReason  string          `json:"skip_reason,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Balance     decimal.Decimal `json:"balance"` // after settlement
}

// Executed returns the total quantity that settled.
func (r *Result) Executed() int64 {
	return r.Covered + r.Bought + r.Sold + r.Shorted
}

// Engine executes orders against the ledger store.
type Engine struct {
	store store.Store
}

// New creates an engine backed by the given store.
func New(st store.Store) *Engine {
	return &Engine{store: st}
}

func validateOrder(symbol string, quantity int64, price decimal.Decimal) error {
	if quantity <= 0 {
		return ErrQuantityNotPositive
	}
	if !price.IsPositive() {
		return ErrPriceNotPositive
	}
	if !pricefeed.ValidSymbol(symbol) {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return nil
}

// ExecuteBuy buys quantity shares of symbol at price. If the account holds an
// open short on the symbol, the buy covers it first: realized P&L
// (avg_sell − price) × covered is settled into the balance and recorded as a
// ClosedPosition, and only the remainder is bought as a new long.
func (e *Engine) ExecuteBuy(ctx context.Context, accountID, symbol string, quantity int64, price decimal.Decimal) (*Result, error) {
	if err := validateOrder(symbol, quantity, price); err != nil {
		return nil, err
	}

	res := &Result{
		AccountID:   accountID,
		Symbol:      symbol,
		Side:        model.TxBuy,
		Price:       price,
		Requested:   quantity,
		RealizedPnL: decimal.Zero,
	}

	err := e.store.ExecuteOrder(ctx, accountID, func(tx store.OrderTx) error {
		account := tx.Account()
		if !account.IsActive {
			return ErrAccountInactive
		}

		balance := account.Balance
		now := time.Now().UTC()
		remaining := quantity

		short, err := tx.ShortPosition(symbol)
		if err != nil {
			return err
		}

		if short != nil && short.Quantity > 0 {
			coverQty := min(remaining, short.Quantity)
			coverDec := decimal.NewFromInt(coverQty)

			// Realized gain/loss settles straight into the balance; the
			// collateral reserved at short open is not returned here, it
			// remains accounted for through the valuator.
			pnl := short.AvgSellPrice.Sub(price).Mul(coverDec)
			balance = balance.Add(pnl)

			if err := tx.InsertClosedPosition(&model.ClosedPosition{
				ID:           uuid.New().String(),
				AccountID:    accountID,
				Symbol:       symbol,
				PositionType: model.PositionShort,
				Quantity:     coverQty,
				BuyPrice:     price,
				SellPrice:    short.AvgSellPrice,
				PnL:          pnl,
				ClosedAt:     now,
			}); err != nil {
				return err
			}
			if err := tx.InsertTransaction(&model.Transaction{
				ID:        uuid.New().String(),
				AccountID: accountID,
				Symbol:    symbol,
				Type:      model.TxCover,
				Quantity:  coverQty,
				Price:     price,
				Timestamp: now,
			}); err != nil {
				return err
			}

			if short.Quantity == coverQty {
				if err := tx.DeleteShortPosition(symbol); err != nil {
					return err
				}
			} else {
				short.Quantity -= coverQty
				if err := tx.UpsertShortPosition(short); err != nil {
					return err
				}
			}

			res.Covered = coverQty
			res.RealizedPnL = pnl
			remaining -= coverQty
		}

		if remaining > 0 {
			cost := price.Mul(decimal.NewFromInt(remaining))
			if balance.GreaterThanOrEqual(cost) {
				balance = balance.Sub(cost)
				if err := tx.InsertTransaction(&model.Transaction{
					ID:        uuid.New().String(),
					AccountID: accountID,
					Symbol:    symbol,
					Type:      model.TxBuy,
					Quantity:  remaining,
					Price:     price,
					Timestamp: now,
				}); err != nil {
					return err
				}
				res.Bought = remaining
			} else {
				res.Skipped = remaining
				res.SkipReason = SkipReasonInsufficientFunds
			}
		}

		if res.Executed() == 0 {
			return ErrInsufficientFunds
		}

		tx.SetBalance(balance)
		res.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ExecuteSell sells quantity shares of symbol at price. Holdings are sold
// first; any remainder opens or extends a short position, reserving
// collateral of price × shorted against it. The short's average sell price
// is the volume-weighted average across all its openings.
func (e *Engine) ExecuteSell(ctx context.Context, accountID, symbol string, quantity int64, price decimal.Decimal) (*Result, error) {
	if err := validateOrder(symbol, quantity, price); err != nil {
		return nil, err
	}

	res := &Result{
		AccountID:   accountID,
		Symbol:      symbol,
		Side:        model.TxSell,
		Price:       price,
		Requested:   quantity,
		RealizedPnL: decimal.Zero,
	}

	err := e.store.ExecuteOrder(ctx, accountID, func(tx store.OrderTx) error {
		account := tx.Account()
		if !account.IsActive {
			return ErrAccountInactive
		}

		balance := account.Balance
		now := time.Now().UTC()

		available, err := tx.NetHolding(symbol)
		if err != nil {
			return err
		}

		sellQty := min(quantity, max(available, 0))
		shortQty := quantity - sellQty

		if sellQty > 0 {
			proceeds := price.Mul(decimal.NewFromInt(sellQty))
			balance = balance.Add(proceeds)
			if err := tx.InsertTransaction(&model.Transaction{
				ID:        uuid.New().String(),
				AccountID: accountID,
				Symbol:    symbol,
				Type:      model.TxSell,
				Quantity:  sellQty,
				Price:     price,
				Timestamp: now,
			}); err != nil {
				return err
			}
			res.Sold = sellQty
		}

		if shortQty > 0 {
			collateral := price.Mul(decimal.NewFromInt(shortQty))
			if balance.GreaterThanOrEqual(collateral) {
				// Collateral reservation, not a realized gain.
				balance = balance.Sub(collateral)

				short, err := tx.ShortPosition(symbol)
				if err != nil {
					return err
				}
				if short == nil {
					short = &model.ShortPosition{
						AccountID:    accountID,
						Symbol:       symbol,
						Quantity:     shortQty,
						AvgSellPrice: price,
						CreatedAt:    now,
					}
				} else {
					oldQty := decimal.NewFromInt(short.Quantity)
					newQty := decimal.NewFromInt(shortQty)
					total := decimal.NewFromInt(short.Quantity + shortQty)
					short.AvgSellPrice = short.AvgSellPrice.Mul(oldQty).
						Add(price.Mul(newQty)).Div(total)
					short.Quantity += shortQty
				}
				if err := tx.UpsertShortPosition(short); err != nil {
					return err
				}

				if err := tx.InsertTransaction(&model.Transaction{
					ID:        uuid.New().String(),
					AccountID: accountID,
					Symbol:    symbol,
					Type:      model.TxShortSell,
					Quantity:  shortQty,
					Price:     price,
					Timestamp: now,
				}); err != nil {
					return err
				}
				res.Shorted = shortQty
			} else {
				res.Skipped = shortQty
				res.SkipReason = SkipReasonInsufficientFunds
			}
		}

		if res.Executed() == 0 {
			return ErrInsufficientFunds
		}

		tx.SetBalance(balance)
		res.Balance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
