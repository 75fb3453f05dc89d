package quote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/papertrade/market-sim/internal/metrics"
)

// CachedQuoter wraps a Quoter with a short-lived Redis cache. Concurrent
// misses for the same symbol share one upstream call. Redis errors are
// treated as misses so a cache outage never fails a lookup.
type CachedQuoter struct {
	next  Quoter
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedQuoter creates the decorator. rdb may be nil, in which case
// only in-flight deduplication is applied.
func NewCachedQuoter(next Quoter, rdb *redis.Client, ttl time.Duration) *CachedQuoter {
	return &CachedQuoter{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedQuoter) Quote(ctx context.Context, symbol string) (Quote, error) {
	if q, ok := c.cached(ctx, symbol); ok {
		metrics.QuoteLookups.WithLabelValues("cache", "hit").Inc()
		return q, nil
	}

	// The shared call outlives any one caller; the provider timeout bounds it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		q, err := c.next.Quote(shared, symbol)
		if err != nil {
			return Quote{}, err
		}
		c.store(shared, q)
		return q, nil
	})
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

// Movers passes through when the wrapped Quoter supports it.
func (c *CachedQuoter) Movers(ctx context.Context) ([]Mover, []Mover, error) {
	src, ok := c.next.(MoversSource)
	if !ok {
		return nil, nil, nil
	}
	return src.Movers(ctx)
}

func (c *CachedQuoter) cached(ctx context.Context, symbol string) (Quote, bool) {
	if c.rdb == nil {
		return Quote{}, false
	}
	data, err := c.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err != nil {
		return Quote{}, false
	}
	var q Quote
	if json.Unmarshal(data, &q) != nil {
		return Quote{}, false
	}
	return q, true
}

func (c *CachedQuoter) store(ctx context.Context, q Quote) {
	if c.rdb == nil {
		return
	}
	if data, err := json.Marshal(q); err == nil {
		c.rdb.Set(ctx, quoteKey(q.Symbol), data, c.ttl)
	}
}

func quoteKey(symbol string) string { return "quote:" + symbol }
