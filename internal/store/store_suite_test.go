package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/store"
)

var base = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func m(s string) money.Money { return money.MustParse(s) }

func seedUser(t *testing.T, s store.Store, id, username string) *model.User {
	t.Helper()
	u := &model.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		FullNames:    "Test " + username,
		PasswordHash: "hash",
		CreatedAt:    base,
	}
	require.NoError(t, s.CreateUser(context.Background(), u, m("10000.00")))
	return u
}

// buy commits a BUY of qty at price for userID the way the order engine does.
func buy(t *testing.T, s store.Store, userID, sym string, qty int64, price string, at time.Time) *model.LedgerEntry {
	t.Helper()
	var entry *model.LedgerEntry
	err := s.InTx(context.Background(), userID, func(tx store.Tx) error {
		ctx := context.Background()
		acct, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}
		cost := m(price).Mul(qty)
		if err := tx.SetCash(ctx, acct.CashBalance.Sub(cost)); err != nil {
			return err
		}
		held := int64(0)
		if p, err := tx.GetPosition(ctx, sym); err == nil {
			held = p.Quantity
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.UpsertPosition(ctx, &model.Position{
			Symbol: sym, Quantity: held + qty, AverageCost: m(price), UpdatedAt: at,
		}); err != nil {
			return err
		}
		entry = &model.LedgerEntry{Symbol: sym, Quantity: qty, UnitPrice: m(price), Type: model.Buy, Timestamp: at}
		return tx.AppendLedgerEntry(ctx, entry)
	})
	require.NoError(t, err)
	return entry
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("CreateUserOpensAccount", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")

		acct, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", acct.UserID)
		assert.True(t, acct.CashBalance.Equal(m("10000")), "cash = %s", acct.CashBalance)

		positions, err := s.GetPositions(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, positions)
	})

	t.Run("DuplicateUsernameConflicts", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")

		err := s.CreateUser(ctx, &model.User{
			ID: "u2", Username: "ALICE", Email: "other@example.com", PasswordHash: "x", CreatedAt: base,
		}, m("10000"))
		assert.ErrorIs(t, err, store.ErrConflict)

		_, err = s.GetAccount(ctx, "u2")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("LookupByLogin", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")

		u, err := s.GetUserByLogin(ctx, "Alice@Example.com")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "hash", u.PasswordHash)

		u, err = s.GetUserByLogin(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)

		_, err = s.GetUserByLogin(ctx, "bob")
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.GetUser(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("InTxCommitsAllEffects", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")

		e1 := buy(t, s, "u1", "AAPL", 2, "150.25", base)
		e2 := buy(t, s, "u1", "AAPL", 1, "160.00", base.Add(time.Minute))
		assert.Greater(t, e2.ID, e1.ID)

		acct, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "9539.50", acct.CashBalance.String())

		positions, err := s.GetPositions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.Equal(t, int64(3), positions[0].Quantity)
		assert.Equal(t, "160.00", positions[0].AverageCost.String())

		entries, err := s.GetLedgerEntries(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, e2.ID, entries[0].ID)
		assert.Equal(t, e1.ID, entries[1].ID)
		assert.Equal(t, model.Buy, entries[1].Type)
		assert.Equal(t, "150.25", entries[1].UnitPrice.String())
		assert.True(t, entries[1].Timestamp.Equal(base))
	})

	t.Run("InTxRollsBackOnError", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")
		boom := errors.New("boom")

		err := s.InTx(ctx, "u1", func(tx store.Tx) error {
			if err := tx.SetCash(ctx, m("1.00")); err != nil {
				return err
			}
			if err := tx.UpsertPosition(ctx, &model.Position{
				Symbol: "TSLA", Quantity: 5, AverageCost: m("200"), UpdatedAt: base,
			}); err != nil {
				return err
			}
			if err := tx.AppendLedgerEntry(ctx, &model.LedgerEntry{
				Symbol: "TSLA", Quantity: 5, UnitPrice: m("200"), Type: model.Buy, Timestamp: base,
			}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		acct, err := s.GetAccount(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "10000.00", acct.CashBalance.String())

		positions, err := s.GetPositions(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, positions)

		entries, err := s.GetLedgerEntries(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("DeletePosition", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")
		buy(t, s, "u1", "MSFT", 4, "415.50", base)

		err := s.InTx(ctx, "u1", func(tx store.Tx) error {
			if _, err := tx.GetPosition(ctx, "MSFT"); err != nil {
				return err
			}
			return tx.DeletePosition(ctx, "MSFT")
		})
		require.NoError(t, err)

		positions, err := s.GetPositions(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, positions)

		err = s.InTx(ctx, "u1", func(tx store.Tx) error {
			_, err := tx.GetPosition(ctx, "MSFT")
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("MissingAccount", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, store.ErrNotFound)

		err = s.InTx(ctx, "ghost", func(tx store.Tx) error {
			_, err := tx.GetAccount(ctx)
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("PositionsOrderedBySymbol", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")
		buy(t, s, "u1", "TSLA", 1, "171.05", base)
		buy(t, s, "u1", "AAPL", 1, "185.92", base)
		buy(t, s, "u1", "IBM", 1, "190.20", base)

		positions, err := s.GetPositions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, positions, 3)
		assert.Equal(t, []string{"AAPL", "IBM", "TSLA"},
			[]string{positions[0].Symbol, positions[1].Symbol, positions[2].Symbol})
	})

	t.Run("LatestPositionPricesAcrossUsers", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")
		seedUser(t, s, "u2", "bob")
		buy(t, s, "u1", "AAPL", 1, "170.00", base)
		buy(t, s, "u2", "AAPL", 1, "180.00", base.Add(time.Hour))
		buy(t, s, "u1", "IBM", 1, "190.20", base)

		prices, err := s.LatestPositionPrices(ctx, []string{"AAPL", "IBM", "GOOGL"})
		require.NoError(t, err)
		assert.Len(t, prices, 2)
		assert.Equal(t, "180.00", prices["AAPL"].String())
		assert.Equal(t, "190.20", prices["IBM"].String())
		_, ok := prices["GOOGL"]
		assert.False(t, ok)
	})

	t.Run("LedgerScopedToUser", func(t *testing.T) {
		s := newStore(t)
		seedUser(t, s, "u1", "alice")
		seedUser(t, s, "u2", "bob")
		buy(t, s, "u1", "AAPL", 1, "170.00", base)

		entries, err := s.GetLedgerEntries(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
