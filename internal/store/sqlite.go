package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
)

// SQLiteStore implements Store on database/sql. Money columns are TEXT so
// SQLite's numeric affinity never turns a balance into a REAL.
//
// Write transactions must take the database lock at BEGIN; open the
// database with _txlock=immediate (see SQLiteDSN).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SQLiteDSN builds a go-sqlite3 DSN for path with immediate write locks,
// foreign keys and a busy timeout.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000", path)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User, startingCash money.Money) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, email, full_names, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.FullNames, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return sqliteError("create user "+u.Username, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id, cash) VALUES (?, ?)`, u.ID, startingCash)
	if err != nil {
		return sqliteError("create account "+u.ID, err)
	}
	return tx.Commit()
}

const sqliteUserColumns = `id, username, email, full_names, password_hash, created_at`

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
	return scanSQLiteUser(row, id)
}

func (s *SQLiteStore) GetUserByLogin(ctx context.Context, usernameOrEmail string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users
		 WHERE username = ? COLLATE NOCASE OR email = ? COLLATE NOCASE
		 LIMIT 1`, usernameOrEmail, usernameOrEmail)
	return scanSQLiteUser(row, usernameOrEmail)
}

func scanSQLiteUser(row *sql.Row, key string) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullNames, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, sqliteError("get user "+key, err)
	}
	return &u, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	return sqliteGetAccount(ctx, s.db, userID)
}

func (s *SQLiteStore) GetPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, symbol, quantity, average_cost, updated_at
		 FROM positions WHERE user_id = ? ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Quantity, &p.AverageCost, &p.UpdatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) GetLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, symbol, quantity, unit_price, type, timestamp
		 FROM ledger_entries WHERE user_id = ?
		 ORDER BY timestamp DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var side string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Symbol, &e.Quantity, &e.UnitPrice, &side, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = model.Side(side)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) LatestPositionPrices(ctx context.Context, symbols []string) (map[string]money.Money, error) {
	prices := make(map[string]money.Money)
	if len(symbols) == 0 {
		return prices, nil
	}

	args := make([]interface{}, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, average_cost FROM positions
		 WHERE symbol IN (`+placeholders+`)
		 ORDER BY updated_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sym string
		var cost money.Money
		if err := rows.Scan(&sym, &cost); err != nil {
			return nil, err
		}
		// First row per symbol is the most recent.
		if _, seen := prices[sym]; !seen {
			prices[sym] = cost
		}
	}
	return prices, rows.Err()
}

func (s *SQLiteStore) InTx(ctx context.Context, userID string, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx, userID: userID}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx     *sql.Tx
	userID string
}

func (t *sqliteTx) GetAccount(ctx context.Context) (*model.Account, error) {
	return sqliteGetAccount(ctx, t.tx, t.userID)
}

func (t *sqliteTx) GetPosition(ctx context.Context, symbol string) (*model.Position, error) {
	var p model.Position
	err := t.tx.QueryRowContext(ctx,
		`SELECT user_id, symbol, quantity, average_cost, updated_at
		 FROM positions WHERE user_id = ? AND symbol = ?`, t.userID, symbol).
		Scan(&p.UserID, &p.Symbol, &p.Quantity, &p.AverageCost, &p.UpdatedAt)
	if err != nil {
		return nil, sqliteError("get position "+symbol, err)
	}
	return &p, nil
}

func (t *sqliteTx) SetCash(ctx context.Context, cash money.Money) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET cash = ? WHERE user_id = ?`, cash, t.userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: account %s", ErrNotFound, t.userID)
	}
	return nil
}

func (t *sqliteTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO positions (user_id, symbol, quantity, average_cost, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET
		     quantity = excluded.quantity,
		     average_cost = excluded.average_cost,
		     updated_at = excluded.updated_at`,
		t.userID, p.Symbol, p.Quantity, p.AverageCost, p.UpdatedAt)
	return err
}

func (t *sqliteTx) DeletePosition(ctx context.Context, symbol string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM positions WHERE user_id = ? AND symbol = ?`, t.userID, symbol)
	return err
}

func (t *sqliteTx) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	e.UserID = t.userID
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (user_id, symbol, quantity, unit_price, type, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Symbol, e.Quantity, e.UnitPrice, string(e.Type), e.Timestamp)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func sqliteGetAccount(ctx context.Context, q sqlQuerier, userID string) (*model.Account, error) {
	var a model.Account
	err := q.QueryRowContext(ctx,
		`SELECT user_id, cash FROM accounts WHERE user_id = ?`, userID).
		Scan(&a.UserID, &a.CashBalance)
	if err != nil {
		return nil, sqliteError("get account "+userID, err)
	}
	return &a, nil
}

func sqliteError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
