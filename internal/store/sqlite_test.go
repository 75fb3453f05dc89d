package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/store"
)

func newSQLiteStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.db")
	b, err := store.Open(context.Background(), "sqlite:"+path)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	require.NoError(t, b.Migrate(context.Background()))
	return b.Store
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func TestSQLiteStore_MoneyKeepsFourDecimals(t *testing.T) {
	s := newSQLiteStore(t)
	seedUser(t, s, "u1", "alice")
	buy(t, s, "u1", "AAPL", 3, "33.3333", base)

	acct, err := s.GetAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "9900.0001", acct.CashBalance.String())

	positions, err := s.GetPositions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "33.3333", positions[0].AverageCost.String())
}

func TestSQLiteStore_InTxRollsBackWhenLedgerAppendFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewSQLiteStore(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, cash FROM accounts WHERE user_id = \?`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "cash"}).AddRow("u1", "10000.0000"))
	mock.ExpectExec(`UPDATE accounts SET cash = \? WHERE user_id = \?`).
		WithArgs("9700", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO positions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.InTx(ctx, "u1", func(tx store.Tx) error {
		acct, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		if err := tx.SetCash(ctx, acct.CashBalance.Sub(m("300"))); err != nil {
			return err
		}
		if err := tx.UpsertPosition(ctx, &model.Position{Symbol: "AAPL", Quantity: 2, AverageCost: m("150"), UpdatedAt: base}); err != nil {
			return err
		}
		return tx.AppendLedgerEntry(ctx, &model.LedgerEntry{Symbol: "AAPL", Quantity: 2, UnitPrice: m("150"), Type: model.Buy, Timestamp: base})
	})
	assert.ErrorContains(t, err, "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CommitFailureSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.NewSQLiteStore(db)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(sql.ErrConnDone)

	err = s.InTx(context.Background(), "u1", func(store.Tx) error { return nil })
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := store.Open(context.Background(), "mysql://localhost/db")
	assert.Error(t, err)
}

func TestOpen_EmptyDSNIsMemory(t *testing.T) {
	b, err := store.Open(context.Background(), "")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, store.DialectMemory, b.Dialect)
	assert.NoError(t, b.Migrate(context.Background()))
}
