// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account. Username and email are unique.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountByUsername retrieves an account by username.
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// UpdateAccount updates balance and flags. Used by the admin console;
	// trade settlement goes through ExecuteOrder instead.
	UpdateAccount(ctx context.Context, a *model.Account) error

	// --- Immutable ledger reads ---

	// GetTransactions returns all transactions for an account, oldest first.
	GetTransactions(ctx context.Context, accountID string) ([]model.Transaction, error)

	// GetShortPositions returns all open short positions for an account.
	GetShortPositions(ctx context.Context, accountID string) ([]model.ShortPosition, error)

	// GetClosedPositions returns all realized-P&L records for an account.
	GetClosedPositions(ctx context.Context, accountID string) ([]model.ClosedPosition, error)

	// --- Broker credentials ---

	// PutCredential inserts or replaces a credential by (account, name).
	PutCredential(ctx context.Context, c *model.Credential) error

	// GetCredential retrieves a credential by (account, name).
	GetCredential(ctx context.Context, accountID, name string) (*model.Credential, error)

	// GetAdminCredential retrieves a credential by name from any admin
	// account. The price feed uses this to pick up the broker access token.
	GetAdminCredential(ctx context.Context, name string) (*model.Credential, error)

	// --- Order execution ---

	// ExecuteOrder runs fn inside a single atomic unit of work with the
	// account row locked for update. Either every mutation staged through
	// the OrderTx commits, or none do. Concurrent orders against the same
	// account serialize on the row lock; orders against different accounts
	// proceed in parallel.
	ExecuteOrder(ctx context.Context, accountID string, fn func(tx OrderTx) error) error
}

// OrderTx is the mutation surface available inside one order's atomic unit.
// All reads observe the locked account's state as of the start of the unit.
type OrderTx interface {
	// Account returns the locked account row.
	Account() *model.Account

	// SetBalance stages the account's new cash balance.
	SetBalance(balance decimal.Decimal)

	// NetHolding returns the net long quantity for a symbol, derived from
	// the transaction log: Σ(BUY, COVER) − Σ(SELL, SHORT_SELL).
	NetHolding(symbol string) (int64, error)

	// ShortPosition returns the open short for a symbol, or nil if none.
	ShortPosition(symbol string) (*model.ShortPosition, error)

	// UpsertShortPosition creates or replaces the short row for its symbol.
	UpsertShortPosition(sp *model.ShortPosition) error

	// DeleteShortPosition removes the short row for a symbol.
	DeleteShortPosition(symbol string) error

	// InsertTransaction appends an immutable transaction record.
	InsertTransaction(t *model.Transaction) error

	// InsertClosedPosition appends an immutable realized-P&L record.
	InsertClosedPosition(cp *model.ClosedPosition) error
}
