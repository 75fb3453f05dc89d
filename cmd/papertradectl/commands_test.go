package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/quote"
	"github.com/papertrade/market-sim/internal/store"
)

func TestPrintQuotes(t *testing.T) {
	q := quote.NewStatic(map[string]money.Money{"AAPL": money.MustParse("1185.5")})

	var buf bytes.Buffer
	err := printQuotes(context.Background(), &buf, q, []string{"aapl", "ZZZZ", "bad symbol"})
	assert.Error(t, err)
	assert.ErrorIs(t, err, quote.ErrUnknownSymbol)

	out := buf.String()
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "$1,185.50")
	assert.Contains(t, out, "ZZZZ")
	assert.Contains(t, out, "n/a")
}

func TestPrintHistory(t *testing.T) {
	at := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, []model.LedgerEntry{
		{ID: 2, Symbol: "AAPL", Quantity: 1, UnitPrice: money.MustParse("160.00"), Type: model.Sell, Timestamp: at},
		{ID: 1, Symbol: "AAPL", Quantity: 2, UnitPrice: money.MustParse("150.00"), Type: model.Buy, Timestamp: at},
	}))

	out := buf.String()
	assert.Contains(t, out, "2024-03-01T14:30:00Z")
	assert.Contains(t, out, "SELL")
	assert.Contains(t, out, "$300.00")
	assert.Contains(t, out, "$160.00")
}

func TestPrintPositions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printPositions(&buf,
		&model.Account{UserID: "u1", CashBalance: money.MustParse("9700.00")},
		[]model.Position{{Symbol: "AAPL", Quantity: 2, AverageCost: money.MustParse("150.00")}},
	))

	out := buf.String()
	assert.Contains(t, out, "$9,700.00")
	assert.Contains(t, out, "$10,000.00")
}

func TestResolveUser(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateUser(ctx, &model.User{
		ID: "u-123", Username: "alice", Email: "alice@example.com", PasswordHash: "x",
	}, money.MustParse("10000")))

	for _, login := range []string{"u-123", "alice", "Alice@Example.com"} {
		id, err := resolveUser(ctx, st, login)
		require.NoError(t, err, login)
		assert.Equal(t, "u-123", id)
	}

	_, err := resolveUser(ctx, st, "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
