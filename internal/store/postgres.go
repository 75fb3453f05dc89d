package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision
// and travel as text between Go and the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User, startingCash money.Money) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, username, email, full_names, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.FullNames, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return pgError("create user "+u.Username, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (user_id, cash) VALUES ($1, $2::NUMERIC)`,
		u.ID, startingCash.String())
	if err != nil {
		return pgError("create account "+u.ID, err)
	}
	return tx.Commit(ctx)
}

const pgUserColumns = `id, username, email, full_names, password_hash, created_at`

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
	return scanPgUser(row, id)
}

func (s *PostgresStore) GetUserByLogin(ctx context.Context, usernameOrEmail string) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM users
		 WHERE lower(username) = lower($1) OR lower(email) = lower($1)
		 LIMIT 1`, usernameOrEmail)
	return scanPgUser(row, usernameOrEmail)
}

func scanPgUser(row pgx.Row, key string) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullNames, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, pgError("get user "+key, err)
	}
	return &u, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return pgGetAccount(ctx, s.pool, userID, false)
}

func (s *PostgresStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, symbol, quantity, average_cost::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		var p model.Position
		var costS string
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Quantity, &costS, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.AverageCost, err = money.Parse(costS); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, quantity, unit_price::TEXT, type, timestamp
		 FROM ledger_entries WHERE user_id = $1
		 ORDER BY timestamp DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) LatestPositionPrices(ctx context.Context, symbols []string) (map[string]money.Money, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (symbol) symbol, average_cost::TEXT
		 FROM positions WHERE symbol = ANY($1)
		 ORDER BY symbol, updated_at DESC`, symbols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(map[string]money.Money)
	for rows.Next() {
		var sym, costS string
		if err := rows.Scan(&sym, &costS); err != nil {
			return nil, err
		}
		cost, err := money.Parse(costS)
		if err != nil {
			return nil, err
		}
		prices[sym] = cost
	}
	return prices, rows.Err()
}

// InTx opens a transaction per call. The account row is locked with
// SELECT ... FOR UPDATE when fn first reads it, which serializes writers
// across server instances.
func (s *PostgresStore) InTx(ctx context.Context, userID string, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, userID: userID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx     pgx.Tx
	userID string
}

func (t *pgTx) GetAccount(ctx context.Context) (*model.Account, error) {
	return pgGetAccount(ctx, t.tx, t.userID, true)
}

func (t *pgTx) GetPosition(ctx context.Context, symbol string) (*model.Position, error) {
	var p model.Position
	var costS string
	err := t.tx.QueryRow(ctx,
		`SELECT user_id, symbol, quantity, average_cost::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND symbol = $2`, t.userID, symbol).
		Scan(&p.UserID, &p.Symbol, &p.Quantity, &costS, &p.UpdatedAt)
	if err != nil {
		return nil, pgError("get position "+symbol, err)
	}
	if p.AverageCost, err = money.Parse(costS); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) SetCash(ctx context.Context, cash money.Money) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET cash = $2::NUMERIC WHERE user_id = $1`,
		t.userID, cash.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", ErrNotFound, t.userID)
	}
	return nil
}

func (t *pgTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, symbol, quantity, average_cost, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET
		     quantity = EXCLUDED.quantity,
		     average_cost = EXCLUDED.average_cost,
		     updated_at = EXCLUDED.updated_at`,
		t.userID, p.Symbol, p.Quantity, p.AverageCost.String(), p.UpdatedAt)
	return err
}

func (t *pgTx) DeletePosition(ctx context.Context, symbol string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND symbol = $2`, t.userID, symbol)
	return err
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	e.UserID = t.userID
	return t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (user_id, symbol, quantity, unit_price, type, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)
		 RETURNING id`,
		e.UserID, e.Symbol, e.Quantity, e.UnitPrice.String(), string(e.Type), e.Timestamp,
	).Scan(&e.ID)
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgGetAccount(ctx context.Context, q pgQuerier, userID string, forUpdate bool) (*model.Account, error) {
	query := `SELECT user_id, cash::TEXT FROM accounts WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var a model.Account
	var cashS string
	if err := q.QueryRow(ctx, query, userID).Scan(&a.UserID, &cashS); err != nil {
		return nil, pgError("get account "+userID, err)
	}
	cash, err := money.Parse(cashS)
	if err != nil {
		return nil, err
	}
	a.CashBalance = cash
	return &a, nil
}

// pgxRows reads pgx rows into LedgerEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	entries := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var priceS, side string

		if err := rows.Scan(&e.ID, &e.UserID, &e.Symbol, &e.Quantity, &priceS, &side, &e.Timestamp); err != nil {
			return nil, err
		}
		price, err := money.Parse(priceS)
		if err != nil {
			return nil, err
		}
		e.UnitPrice = price
		e.Type = model.Side(side)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// pgError maps driver errors onto the store sentinels.
func pgError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
