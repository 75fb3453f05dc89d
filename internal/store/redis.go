package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the cache; reads check
// Redis first then fall back to the primary. Redis failures are treated
// as cache misses.
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

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User, startingCash money.Money) error {
	return s.primary.CreateUser(ctx, u, startingCash)
}

// InTx delegates to the primary and drops the account's cached views once
// the transaction has committed.
func (s *CachedStore) InTx(ctx context.Context, userID string, fn func(Tx) error) error {
	if err := s.primary.InTx(ctx, userID, fn); err != nil {
		return err
	}
	// The commit is durable even if the caller has gone away.
	s.invalidate(context.WithoutCancel(ctx), userID)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	if s.get(ctx, accountKey(userID), &a) {
		a.UserID = userID
		return &a, nil
	}

	// Cache miss: read from primary.
	acct, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, accountKey(userID), acct)
	return acct, nil
}

func (s *CachedStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	var positions []model.Position
	if s.get(ctx, positionsKey(userID), &positions) {
		for i := range positions {
			positions[i].UserID = userID
		}
		return positions, nil
	}

	positions, err := s.primary.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, positionsKey(userID), positions)
	return positions, nil
}

func (s *CachedStore) GetLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	if s.get(ctx, historyKey(userID), &entries) {
		for i := range entries {
			entries[i].UserID = userID
		}
		return entries, nil
	}

	entries, err := s.primary.GetLedgerEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, historyKey(userID), entries)
	return entries, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetUserByLogin(ctx context.Context, usernameOrEmail string) (*model.User, error) {
	return s.primary.GetUserByLogin(ctx, usernameOrEmail)
}

func (s *CachedStore) LatestPositionPrices(ctx context.Context, symbols []string) (map[string]money.Money, error) {
	return s.primary.LatestPositionPrices(ctx, symbols)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst interface{}) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	s.rdb.Del(ctx, accountKey(userID), positionsKey(userID), historyKey(userID))
}

func accountKey(uid string) string   { return fmt.Sprintf("account:%s", uid) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
func historyKey(uid string) string   { return fmt.Sprintf("history:%s", uid) }
