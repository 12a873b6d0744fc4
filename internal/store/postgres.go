package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// ExecuteOrder locks the account row with SELECT ... FOR UPDATE so concurrent
// orders against the same account serialize at the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const accountColumns = `id, username, email, password_hash, balance::TEXT, is_admin, is_active, created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var balance string
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash,
		&balance, &a.IsAdmin, &a.IsActive, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, balance, is_admin, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		a.ID, a.Username, a.Email, a.PasswordHash,
		a.Balance.String(), a.IsAdmin, a.IsActive, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username))
	if err != nil {
		return nil, fmt.Errorf("get account by username %s: %w", username, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts
		 SET username = $2, email = $3, balance = $4::NUMERIC, is_admin = $5, is_active = $6
		 WHERE id = $1`,
		a.ID, a.Username, a.Email, a.Balance.String(), a.IsAdmin, a.IsActive,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update account %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, symbol, type, quantity, price::TEXT, timestamp
		 FROM transactions WHERE account_id = $1 ORDER BY timestamp`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.Type,
			&t.Quantity, &price, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) GetShortPositions(ctx context.Context, accountID string) ([]model.ShortPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, symbol, quantity, avg_sell_price::TEXT, created_at
		 FROM short_positions WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shorts []model.ShortPosition
	for rows.Next() {
		var sp model.ShortPosition
		var avg string
		if err := rows.Scan(&sp.AccountID, &sp.Symbol, &sp.Quantity, &avg, &sp.CreatedAt); err != nil {
			return nil, err
		}
		sp.AvgSellPrice, _ = decimal.NewFromString(avg)
		shorts = append(shorts, sp)
	}
	return shorts, rows.Err()
}

func (s *PostgresStore) GetClosedPositions(ctx context.Context, accountID string) ([]model.ClosedPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, symbol, position_type, quantity,
		        buy_price::TEXT, sell_price::TEXT, pnl::TEXT, closed_at
		 FROM closed_positions WHERE account_id = $1 ORDER BY closed_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var closed []model.ClosedPosition
	for rows.Next() {
		var cp model.ClosedPosition
		var buy, sell, pnl string
		if err := rows.Scan(&cp.ID, &cp.AccountID, &cp.Symbol, &cp.PositionType,
			&cp.Quantity, &buy, &sell, &pnl, &cp.ClosedAt); err != nil {
			return nil, err
		}
		cp.BuyPrice, _ = decimal.NewFromString(buy)
		cp.SellPrice, _ = decimal.NewFromString(sell)
		cp.PnL, _ = decimal.NewFromString(pnl)
		closed = append(closed, cp)
	}
	return closed, rows.Err()
}

func (s *PostgresStore) PutCredential(ctx context.Context, c *model.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (account_id, name, value, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id, name) DO UPDATE SET value = $3, created_at = $4`,
		c.AccountID, c.Name, c.Value, c.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetCredential(ctx context.Context, accountID, name string) (*model.Credential, error) {
	var c model.Credential
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, name, value, created_at
		 FROM credentials WHERE account_id = $1 AND name = $2`, accountID, name).
		Scan(&c.AccountID, &c.Name, &c.Value, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("credential %s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetAdminCredential(ctx context.Context, name string) (*model.Credential, error) {
	var c model.Credential
	err := s.pool.QueryRow(ctx,
		`SELECT c.account_id, c.name, c.value, c.created_at
		 FROM credentials c
		 JOIN accounts a ON a.id = c.account_id
		 WHERE a.is_admin AND c.name = $1
		 ORDER BY c.created_at DESC LIMIT 1`, name).
		Scan(&c.AccountID, &c.Name, &c.Value, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("admin credential %s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

// ExecuteOrder opens a transaction, locks the account row, runs fn, and
// commits. Any error from fn rolls back every mutation staged through the tx.
func (s *PostgresStore) ExecuteOrder(ctx context.Context, accountID string, fn func(tx OrderTx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin order tx: %w", err)
	}
	defer pgtx.Rollback(ctx)

	account, err := scanAccount(pgtx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID))
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}

	otx := &pgOrderTx{ctx: ctx, tx: pgtx, account: account, balance: account.Balance}
	if err := fn(otx); err != nil {
		return err
	}

	if _, err := pgtx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE id = $1`,
		accountID, otx.balance.String()); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	return pgtx.Commit(ctx)
}

// pgOrderTx implements OrderTx on top of an open pgx transaction.
type pgOrderTx struct {
	ctx     context.Context
	tx      pgx.Tx
	account *model.Account
	balance decimal.Decimal
}

func (o *pgOrderTx) Account() *model.Account { return o.account }

func (o *pgOrderTx) SetBalance(balance decimal.Decimal) { o.balance = balance }

func (o *pgOrderTx) NetHolding(symbol string) (int64, error) {
	var net int64
	err := o.tx.QueryRow(o.ctx,
		`SELECT COALESCE(SUM(CASE WHEN type IN ('BUY', 'COVER') THEN quantity
		                          WHEN type IN ('SELL', 'SHORT_SELL') THEN -quantity
		                          ELSE 0 END), 0)
		 FROM transactions WHERE account_id = $1 AND symbol = $2`,
		o.account.ID, symbol).Scan(&net)
	return net, err
}

func (o *pgOrderTx) ShortPosition(symbol string) (*model.ShortPosition, error) {
	var sp model.ShortPosition
	var avg string
	err := o.tx.QueryRow(o.ctx,
		`SELECT account_id, symbol, quantity, avg_sell_price::TEXT, created_at
		 FROM short_positions WHERE account_id = $1 AND symbol = $2`,
		o.account.ID, symbol).
		Scan(&sp.AccountID, &sp.Symbol, &sp.Quantity, &avg, &sp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sp.AvgSellPrice, _ = decimal.NewFromString(avg)
	return &sp, nil
}

func (o *pgOrderTx) UpsertShortPosition(sp *model.ShortPosition) error {
	_, err := o.tx.Exec(o.ctx,
		`INSERT INTO short_positions (account_id, symbol, quantity, avg_sell_price, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (account_id, symbol)
		 DO UPDATE SET quantity = $3, avg_sell_price = $4::NUMERIC`,
		sp.AccountID, sp.Symbol, sp.Quantity, sp.AvgSellPrice.String(), sp.CreatedAt,
	)
	return err
}

func (o *pgOrderTx) DeleteShortPosition(symbol string) error {
	_, err := o.tx.Exec(o.ctx,
		`DELETE FROM short_positions WHERE account_id = $1 AND symbol = $2`,
		o.account.ID, symbol)
	return err
}

func (o *pgOrderTx) InsertTransaction(t *model.Transaction) error {
	_, err := o.tx.Exec(o.ctx,
		`INSERT INTO transactions (id, account_id, symbol, type, quantity, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		t.ID, t.AccountID, t.Symbol, t.Type, t.Quantity, t.Price.String(), t.Timestamp,
	)
	return err
}

func (o *pgOrderTx) InsertClosedPosition(cp *model.ClosedPosition) error {
	_, err := o.tx.Exec(o.ctx,
		`INSERT INTO closed_positions (id, account_id, symbol, position_type, quantity, buy_price, sell_price, pnl, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		cp.ID, cp.AccountID, cp.Symbol, cp.PositionType, cp.Quantity,
		cp.BuyPrice.String(), cp.SellPrice.String(), cp.PnL.String(), cp.ClosedAt,
	)
	return err
}
