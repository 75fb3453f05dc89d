package market_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/market-sim/internal/market"
	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/order"
	"github.com/papertrade/market-sim/internal/quote"
	"github.com/papertrade/market-sim/internal/store"
)

func m(s string) money.Money { return money.MustParse(s) }

func bySymbol(items []market.Item) map[string]market.Item {
	out := make(map[string]market.Item, len(items))
	for _, it := range items {
		out[it.Symbol] = it
	}
	return out
}

func TestSnapshot_FallsBackPerSymbol(t *testing.T) {
	q := quote.NewStatic(map[string]money.Money{"AAPL": m("200.00"), "MSFT": m("400.00")})
	svc := market.NewService(store.NewMemoryStore(), q, nil)

	items := svc.Snapshot(context.Background())
	require.Len(t, items, len(market.Symbols))
	for i, sym := range market.Symbols {
		assert.Equal(t, sym, items[i].Symbol)
	}

	got := bySymbol(items)
	assert.Equal(t, "200.00", got["AAPL"].Price.String())
	assert.False(t, got["AAPL"].Fallback)
	assert.Equal(t, "171.05", got["TSLA"].Price.String())
	assert.True(t, got["TSLA"].Fallback)
	assert.Equal(t, "154.30", got["GOOGL"].Price.String())
	assert.Empty(t, got["AAPL"].ChangePercent)
}

func TestSnapshot_ChangeAgainstLatestStoredPrice(t *testing.T) {
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateUser(context.Background(), &model.User{ID: "u1", Username: "a", Email: "a@x.io"}, m("10000")))
	q := quote.NewStatic(map[string]money.Money{"AAPL": m("100.00")})
	_, err := order.NewEngine(ms, q).Execute(context.Background(),
		order.Order{UserID: "u1", Symbol: "AAPL", Quantity: "1", Side: model.Buy})
	require.NoError(t, err)

	q.Set("AAPL", m("110.00"))
	got := bySymbol(market.NewService(ms, q, nil).Snapshot(context.Background()))
	assert.Equal(t, "10.00", got["AAPL"].ChangePercent)
}

type brokenStore struct{ *store.MemoryStore }

func (brokenStore) LatestPositionPrices(context.Context, []string) (map[string]money.Money, error) {
	return nil, errors.New("connection reset")
}

func TestSnapshot_StoreFailureStillServes(t *testing.T) {
	svc := market.NewService(brokenStore{store.NewMemoryStore()}, quote.NewStatic(nil), nil)
	items := svc.Snapshot(context.Background())
	assert.Len(t, items, len(market.Symbols))
	for _, it := range items {
		assert.True(t, it.Fallback)
	}
}

type recorder struct {
	mu    sync.Mutex
	count int
}

func (r *recorder) PublishSnapshot([]market.Item) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

func TestLatest_CachesUntilMaxAge(t *testing.T) {
	rec := &recorder{}
	svc := market.NewService(store.NewMemoryStore(), quote.NewStatic(nil), rec)

	svc.Latest(context.Background(), time.Hour)
	svc.Latest(context.Background(), time.Hour)
	assert.Equal(t, 1, rec.count)

	svc.Latest(context.Background(), 0)
	assert.Equal(t, 2, rec.count)
}

type moversQuoter struct {
	*quote.Static
	err error
}

func (q moversQuoter) Movers(context.Context) ([]quote.Mover, []quote.Mover, error) {
	if q.err != nil {
		return nil, nil, q.err
	}
	return []quote.Mover{{Symbol: "UP", ChangePercent: "12%"}}, []quote.Mover{{Symbol: "DOWN", ChangePercent: "-9%"}}, nil
}

func TestTrending(t *testing.T) {
	svc := market.NewService(store.NewMemoryStore(), moversQuoter{Static: quote.NewStatic(nil)}, nil)
	movers := svc.Trending(context.Background())
	require.Len(t, movers, 2)
	assert.Equal(t, "UP", movers[0].Symbol)
	assert.Equal(t, "DOWN", movers[1].Symbol)

	failing := market.NewService(store.NewMemoryStore(), moversQuoter{Static: quote.NewStatic(nil), err: quote.ErrUnavailable}, nil)
	assert.Empty(t, failing.Trending(context.Background()))

	plain := market.NewService(store.NewMemoryStore(), quote.NewStatic(nil), nil)
	assert.NotNil(t, plain.Trending(context.Background()))
}

func TestFallbackPricesCoversWatchList(t *testing.T) {
	prices := market.FallbackPrices()
	for _, sym := range market.Symbols {
		p, ok := prices[sym]
		require.True(t, ok, sym)
		assert.True(t, p.IsPositive(), sym)
	}

	// Callers get a copy.
	prices["AAPL"] = m("1")
	assert.Equal(t, "185.92", market.FallbackPrices()["AAPL"].String())
}
