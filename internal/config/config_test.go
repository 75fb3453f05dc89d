package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/market-sim/internal/order"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.Quote.Timeout)
	assert.Equal(t, time.Minute, cfg.Quote.CacheTTL)
	assert.Equal(t, "https://www.alphavantage.co/query", cfg.Quote.BaseURL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "10000.00", cfg.StartingCash().String())
	assert.Equal(t, order.CostBasisLatest, cfg.CostBasis())
	assert.Equal(t, "@every 5m", cfg.Trading.SnapshotSchedule)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "sqlite:/tmp/papertrade.db")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("STARTING_CASH", "2500.50")
	t.Setenv("COST_BASIS_METHOD", "Weighted")
	t.Setenv("QUOTE_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "sqlite:/tmp/papertrade.db", cfg.Database.URL)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "2500.50", cfg.StartingCash().String())
	assert.Equal(t, order.CostBasisWeighted, cfg.CostBasis())
	assert.Equal(t, 3*time.Second, cfg.Quote.Timeout)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET_KEY": ""}},
		{"bad cash", map[string]string{"STARTING_CASH": "lots"}},
		{"negative cash", map[string]string{"STARTING_CASH": "-1"}},
		{"bad cost basis", map[string]string{"COST_BASIS_METHOD": "fifo"}},
		{"bad duration", map[string]string{"TOKEN_TTL": "forever"}},
		{"zero ttl", map[string]string{"TOKEN_TTL": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET_KEY", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

type fakeSecrets struct {
	values map[string]string
	calls  int
}

func (f *fakeSecrets) GetSecretValue(id string) (string, error) {
	f.calls++
	v, ok := f.values[id]
	if !ok {
		return "", errors.New("ResourceNotFoundException")
	}
	return v, nil
}

func TestResolveQuoteKey(t *testing.T) {
	secrets := &fakeSecrets{values: map[string]string{"prod/alphavantage": "AV-KEY"}}

	var cfg Config
	cfg.Quote.APIKeySecretID = "prod/alphavantage"
	require.NoError(t, cfg.ResolveQuoteKey(secrets))
	assert.Equal(t, "AV-KEY", cfg.Quote.APIKey)

	// An explicit key wins over the secret store.
	cfg.Quote.APIKey = "explicit"
	require.NoError(t, cfg.ResolveQuoteKey(secrets))
	assert.Equal(t, "explicit", cfg.Quote.APIKey)
	assert.Equal(t, 1, secrets.calls)

	var missing Config
	missing.Quote.APIKeySecretID = "nope"
	assert.Error(t, missing.ResolveQuoteKey(secrets))
	assert.Empty(t, missing.Quote.APIKey)

	var none Config
	require.NoError(t, none.ResolveQuoteKey(nil))
}
