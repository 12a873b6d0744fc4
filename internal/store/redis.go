package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cubeplus/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the portfolio-shaped reads that dominate dashboard traffic.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write paths (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) UpdateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.UpdateAccount(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(a.ID))
	return nil
}

// ExecuteOrder delegates to the primary and invalidates every cached view of
// the account once the order commits.
func (s *CachedStore) ExecuteOrder(ctx context.Context, accountID string, fn func(tx OrderTx) error) error {
	if err := s.primary.ExecuteOrder(ctx, accountID, fn); err != nil {
		return err
	}
	s.rdb.Del(ctx,
		accountKey(accountID),
		transactionsKey(accountID),
		shortsKey(accountID),
		closedKey(accountID),
	)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(id), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) GetTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	data, err := s.rdb.Get(ctx, transactionsKey(accountID)).Bytes()
	if err == nil {
		var txns []model.Transaction
		if json.Unmarshal(data, &txns) == nil {
			return txns, nil
		}
	}

	txns, err := s.primary.GetTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(txns); err == nil {
		s.rdb.Set(ctx, transactionsKey(accountID), data, s.ttl)
	}
	return txns, nil
}

func (s *CachedStore) GetShortPositions(ctx context.Context, accountID string) ([]model.ShortPosition, error) {
	data, err := s.rdb.Get(ctx, shortsKey(accountID)).Bytes()
	if err == nil {
		var shorts []model.ShortPosition
		if json.Unmarshal(data, &shorts) == nil {
			return shorts, nil
		}
	}

	shorts, err := s.primary.GetShortPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(shorts); err == nil {
		s.rdb.Set(ctx, shortsKey(accountID), data, s.ttl)
	}
	return shorts, nil
}

func (s *CachedStore) GetClosedPositions(ctx context.Context, accountID string) ([]model.ClosedPosition, error) {
	data, err := s.rdb.Get(ctx, closedKey(accountID)).Bytes()
	if err == nil {
		var closed []model.ClosedPosition
		if json.Unmarshal(data, &closed) == nil {
			return closed, nil
		}
	}

	closed, err := s.primary.GetClosedPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(closed); err == nil {
		s.rdb.Set(ctx, closedKey(accountID), data, s.ttl)
	}
	return closed, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.primary.GetAccountByUsername(ctx, username)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) PutCredential(ctx context.Context, c *model.Credential) error {
	return s.primary.PutCredential(ctx, c)
}

func (s *CachedStore) GetCredential(ctx context.Context, accountID, name string) (*model.Credential, error) {
	return s.primary.GetCredential(ctx, accountID, name)
}

func (s *CachedStore) GetAdminCredential(ctx context.Context, name string) (*model.Credential, error) {
	return s.primary.GetAdminCredential(ctx, name)
}

// --- Cache keys ---

func accountKey(id string) string       { return fmt.Sprintf("account:%s", id) }
func transactionsKey(id string) string  { return fmt.Sprintf("transactions:%s", id) }
func shortsKey(id string) string        { return fmt.Sprintf("shorts:%s", id) }
func closedKey(id string) string        { return fmt.Sprintf("closed:%s", id) }
