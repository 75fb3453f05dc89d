package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/papertrade/market-sim/internal/store"
)

// TestPostgresStore runs against a scratch database named by
// TEST_DATABASE_URL. Every table is truncated between subtests.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	b, err := store.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	require.NoError(t, b.Migrate(ctx))

	runStoreSuite(t, func(t *testing.T) store.Store {
		_, err := b.DB.ExecContext(ctx,
			`TRUNCATE ledger_entries, positions, accounts, users RESTART IDENTITY`)
		require.NoError(t, err)
		return b.Store
	})
}
