// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Quantities are whole shares (int64).
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. The transaction log is the source of truth for long-side
// holdings: net long quantity = Σ(BUY, COVER) − Σ(SELL, SHORT_SELL).
const (
	TxBuy       = "BUY"
	TxSell      = "SELL"
	TxShortSell = "SHORT_SELL"
	TxCover     = "COVER"
)

// Closed position types.
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// DefaultStartingBalance is the virtual cash granted to new accounts.
var DefaultStartingBalance = decimal.NewFromInt(100000)

// Account is a registered user with a virtual cash balance. Balance is
// mutated exclusively by the accounting engine when a trade settles or
// collateral is reserved/released.
type Account struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	Email        string          `json:"email" db:"email"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	IsAdmin      bool            `json:"is_admin" db:"is_admin"`
	IsActive     bool            `json:"is_active" db:"is_active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Transaction is an immutable record of an executed order leg.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Type      string          `json:"type" db:"type"` // BUY, SELL, SHORT_SELL, COVER
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// ShortPosition is the open short exposure for one (account, symbol) pair.
// At most one row exists per pair; quantity > 0 while the row exists, and the
// row is deleted once a cover brings it to zero.
type ShortPosition struct {
	AccountID    string          `json:"account_id" db:"account_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AvgSellPrice decimal.Decimal `json:"avg_sell_price" db:"avg_sell_price"` // volume-weighted
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// ClosedPosition records realized P&L each time a short is covered, partially
// or fully. Insert-only; never revised.
type ClosedPosition struct {
	ID           string          `json:"id" db:"id"`
	AccountID    string          `json:"account_id" db:"account_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	PositionType string          `json:"position_type" db:"position_type"` // LONG or SHORT
	Quantity     int64           `json:"quantity" db:"quantity"`
	BuyPrice     decimal.Decimal `json:"buy_price" db:"buy_price"`
	SellPrice    decimal.Decimal `json:"sell_price" db:"sell_price"`
	PnL          decimal.Decimal `json:"pnl" db:"pnl"`
	ClosedAt     time.Time       `json:"closed_at" db:"closed_at"`
}

// Credential stores a broker API credential (access token, TOTP secret).
// Consumed only by the price feed, never by the accounting engine.
type Credential struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Name      string    `json:"name" db:"name"`
	Value     string    `json:"value" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Holding is an open long position derived from the transaction log.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Invested      decimal.Decimal `json:"invested"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// ShortSummary is an open short position valued at the current price.
type ShortSummary struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgSellPrice  decimal.Decimal `json:"avg_sell_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Collateral    decimal.Decimal `json:"collateral"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioSummary aggregates one account's holdings, shorts, and P&L.
type PortfolioSummary struct {
	AccountID        string           `json:"account_id"`
	Balance          decimal.Decimal  `json:"balance"`
	Holdings         []Holding        `json:"holdings"`
	Shorts           []ShortSummary   `json:"shorts"`
	Invested         decimal.Decimal  `json:"invested"`      // long cost basis + short collateral
	CurrentValue     decimal.Decimal  `json:"current_value"` // marked to market
	UnrealizedPnL    decimal.Decimal  `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal  `json:"unrealized_pnl_percent"`
	TotalClosedPnL   decimal.Decimal  `json:"total_closed_pnl"`
	ClosedPositions  []ClosedPosition `json:"closed_positions"`
}
