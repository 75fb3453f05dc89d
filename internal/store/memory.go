package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	accounts  map[string]model.Account
	positions map[string]map[string]model.Position // userID → symbol → position
	ledger    []model.LedgerEntry
	nextID    int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*model.User),
		accounts:  make(map[string]model.Account),
		positions: make(map[string]map[string]model.Position),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User, startingCash money.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("%w: user %s already exists", ErrConflict, u.Username)
		}
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user id %s already exists", ErrConflict, u.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *u
	s.users[u.ID] = &copy
	s.accounts[u.ID] = model.Account{UserID: u.ID, CashBalance: startingCash}
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByLogin(_ context.Context, usernameOrEmail string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, usernameOrEmail) || strings.EqualFold(u.Email, usernameOrEmail) {
			copy := *u
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", ErrNotFound, usernameOrEmail)
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	return &a, nil
}

func (s *MemoryStore) GetPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	held := s.positions[userID]
	positions := make([]model.Position, 0, len(held))
	for _, p := range held {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (s *MemoryStore) GetLedgerEntries(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.LedgerEntry{}
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (s *MemoryStore) LatestPositionPrices(_ context.Context, symbols []string) (map[string]money.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		wanted[sym] = true
	}

	latest := make(map[string]model.Position)
	for _, held := range s.positions {
		for sym, p := range held {
			if !wanted[sym] {
				continue
			}
			if cur, ok := latest[sym]; !ok || p.UpdatedAt.After(cur.UpdatedAt) {
				latest[sym] = p
			}
		}
	}

	prices := make(map[string]money.Money, len(latest))
	for sym, p := range latest {
		prices[sym] = p.AverageCost
	}
	return prices, nil
}

// InTx stages writes in a memoryTx and applies them only if fn succeeds.
// The store mutex is held for the whole call, so fn must not block on I/O.
func (s *MemoryStore) InTx(_ context.Context, userID string, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		s:         s,
		userID:    userID,
		positions: make(map[string]*model.Position),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memoryTx buffers writes against the committed state in s.
type memoryTx struct {
	s         *MemoryStore
	userID    string
	cash      *money.Money
	positions map[string]*model.Position // nil value = deleted
	entries   []model.LedgerEntry
}

func (tx *memoryTx) GetAccount(_ context.Context) (*model.Account, error) {
	a, ok := tx.s.accounts[tx.userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, tx.userID)
	}
	if tx.cash != nil {
		a.CashBalance = *tx.cash
	}
	return &a, nil
}

func (tx *memoryTx) GetPosition(_ context.Context, symbol string) (*model.Position, error) {
	if staged, ok := tx.positions[symbol]; ok {
		if staged == nil {
			return nil, fmt.Errorf("%w: position %s", ErrNotFound, symbol)
		}
		copy := *staged
		return &copy, nil
	}
	p, ok := tx.s.positions[tx.userID][symbol]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, symbol)
	}
	return &p, nil
}

func (tx *memoryTx) SetCash(_ context.Context, cash money.Money) error {
	if _, ok := tx.s.accounts[tx.userID]; !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, tx.userID)
	}
	tx.cash = &cash
	return nil
}

func (tx *memoryTx) UpsertPosition(_ context.Context, p *model.Position) error {
	copy := *p
	copy.UserID = tx.userID
	tx.positions[p.Symbol] = &copy
	return nil
}

func (tx *memoryTx) DeletePosition(_ context.Context, symbol string) error {
	tx.positions[symbol] = nil
	return nil
}

func (tx *memoryTx) AppendLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	e.ID = tx.s.nextID + int64(len(tx.entries)) + 1
	e.UserID = tx.userID
	tx.entries = append(tx.entries, *e)
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.s
	if tx.cash != nil {
		a := s.accounts[tx.userID]
		a.CashBalance = *tx.cash
		s.accounts[tx.userID] = a
	}
	for sym, p := range tx.positions {
		if p == nil {
			delete(s.positions[tx.userID], sym)
			continue
		}
		if s.positions[tx.userID] == nil {
			s.positions[tx.userID] = make(map[string]model.Position)
		}
		s.positions[tx.userID][sym] = *p
	}
	s.ledger = append(s.ledger, tx.entries...)
	s.nextID += int64(len(tx.entries))
}

// sortNewestFirst orders entries by timestamp descending, then id descending.
func sortNewestFirst(entries []model.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID > entries[j].ID
	})
}
