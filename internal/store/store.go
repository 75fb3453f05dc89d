// Package store defines the persistence interface for the simulator.
// Implementations include PostgreSQL (source of truth in production),
// SQLite (single-node deployments), Redis (read-through cache), and
// in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
)

var (
	// ErrNotFound is returned when a user, account or position is missing.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. Reads may be served from a cache and
// can be slightly stale; every mutation goes through InTx.
type Store interface {
	// --- Users ---

	// CreateUser persists a user and opens its account with startingCash
	// in one transaction. Duplicate username or email yields ErrConflict.
	CreateUser(ctx context.Context, u *model.User, startingCash money.Money) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// GetUserByLogin retrieves a user by username or email.
	GetUserByLogin(ctx context.Context, usernameOrEmail string) (*model.User, error)

	// --- Read side ---

	// GetAccount returns the user's cash account.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// GetPositions returns the user's open positions ordered by symbol.
	GetPositions(ctx context.Context, userID string) ([]model.Position, error)

	// GetLedgerEntries returns the user's ledger, newest first.
	GetLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error)

	// LatestPositionPrices returns, per symbol, the average cost of the most
	// recently updated position across all users. Symbols nobody holds are
	// absent from the map.
	LatestPositionPrices(ctx context.Context, symbols []string) (map[string]money.Money, error)

	// --- Write side ---

	// InTx runs fn in a transaction scoped to one account. The account row
	// is locked for the duration. If fn returns an error nothing is
	// written; otherwise all of fn's writes commit together.
	InTx(ctx context.Context, userID string, fn func(Tx) error) error
}

// Tx is the set of writes available inside InTx, bound to one account.
type Tx interface {
	// GetAccount reads (and locks) the account.
	GetAccount(ctx context.Context) (*model.Account, error)

	// GetPosition returns ErrNotFound when the user holds no shares.
	GetPosition(ctx context.Context, symbol string) (*model.Position, error)

	SetCash(ctx context.Context, cash money.Money) error
	UpsertPosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, symbol string) error

	// AppendLedgerEntry inserts e and sets e.ID.
	AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
}
