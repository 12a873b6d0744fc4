package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cubeplus/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	transactions []model.Transaction
	shorts       map[string]*model.ShortPosition // key: accountID + "/" + symbol
	closed       []model.ClosedPosition
	credentials  map[string]*model.Credential // key: accountID + "/" + name
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*model.Account),
		shorts:      make(map[string]*model.ShortPosition),
		credentials: make(map[string]*model.Credential),
	}
}

func shortKey(accountID, symbol string) string { return accountID + "/" + symbol }

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Username == a.Username || existing.Email == a.Email {
			return fmt.Errorf("%w: account %s already exists", ErrConflict, a.Username)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: account %s", ErrNotFound, username)
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	return accounts, nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, a.ID)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTransactions(_ context.Context, accountID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.transactions {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetShortPositions(_ context.Context, accountID string) ([]model.ShortPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ShortPosition
	for _, sp := range s.shorts {
		if sp.AccountID == accountID {
			result = append(result, *sp)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetClosedPositions(_ context.Context, accountID string) ([]model.ClosedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ClosedPosition
	for _, cp := range s.closed {
		if cp.AccountID == accountID {
			result = append(result, cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) PutCredential(_ context.Context, c *model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.credentials[c.AccountID+"/"+c.Name] = &cp
	return nil
}

func (s *MemoryStore) GetCredential(_ context.Context, accountID, name string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[accountID+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: credential %s", ErrNotFound, name)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetAdminCredential(_ context.Context, name string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if !a.IsAdmin {
			continue
		}
		if c, ok := s.credentials[a.ID+"/"+name]; ok {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: admin credential %s", ErrNotFound, name)
}

// ExecuteOrder runs fn under the store's write lock. Mutations are staged on
// the memoryOrderTx and applied only if fn returns nil, matching the
// all-or-nothing commit of the PostgreSQL implementation.
func (s *MemoryStore) ExecuteOrder(_ context.Context, accountID string, fn func(tx OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}

	acct := *a
	tx := &memoryOrderTx{store: s, account: &acct, balance: acct.Balance}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged mutations.
	a.Balance = tx.balance
	s.transactions = append(s.transactions, tx.insertedTx...)
	s.closed = append(s.closed, tx.insertedClosed...)
	for _, sp := range tx.upserted {
		cp := sp
		s.shorts[shortKey(sp.AccountID, sp.Symbol)] = &cp
	}
	for _, symbol := range tx.deleted {
		delete(s.shorts, shortKey(accountID, symbol))
	}
	return nil
}

// memoryOrderTx stages mutations for one order while the store lock is held.
type memoryOrderTx struct {
	store          *MemoryStore
	account        *model.Account
	balance        decimal.Decimal
	insertedTx     []model.Transaction
	insertedClosed []model.ClosedPosition
	upserted       []model.ShortPosition
	deleted        []string
}

func (tx *memoryOrderTx) Account() *model.Account { return tx.account }

func (tx *memoryOrderTx) SetBalance(balance decimal.Decimal) { tx.balance = balance }

func (tx *memoryOrderTx) NetHolding(symbol string) (int64, error) {
	var net int64
	for _, t := range tx.store.transactions {
		if t.AccountID != tx.account.ID || t.Symbol != symbol {
			continue
		}
		switch t.Type {
		case model.TxBuy, model.TxCover:
			net += t.Quantity
		case model.TxSell, model.TxShortSell:
			net -= t.Quantity
		}
	}
	return net, nil
}

func (tx *memoryOrderTx) ShortPosition(symbol string) (*model.ShortPosition, error) {
	sp, ok := tx.store.shorts[shortKey(tx.account.ID, symbol)]
	if !ok {
		return nil, nil
	}
	cp := *sp
	return &cp, nil
}

func (tx *memoryOrderTx) UpsertShortPosition(sp *model.ShortPosition) error {
	tx.upserted = append(tx.upserted, *sp)
	return nil
}

func (tx *memoryOrderTx) DeleteShortPosition(symbol string) error {
	tx.deleted = append(tx.deleted, symbol)
	return nil
}

func (tx *memoryOrderTx) InsertTransaction(t *model.Transaction) error {
	tx.insertedTx = append(tx.insertedTx, *t)
	return nil
}

func (tx *memoryOrderTx) InsertClosedPosition(cp *model.ClosedPosition) error {
	tx.insertedClosed = append(tx.insertedClosed, *cp)
	return nil
}
