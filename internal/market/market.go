// Package market builds the public market overview: a snapshot of a fixed
// watch list and the provider's daily movers.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/papertrade/market-sim/internal/logging"
	"github.com/papertrade/market-sim/internal/metrics"
	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/quote"
	"github.com/papertrade/market-sim/internal/store"
)

// Symbols is the snapshot watch list, in display order.
var Symbols = []string{"AAPL", "TSLA", "MSFT", "IBM", "GOOGL"}

// fallbackPrices are served when the provider cannot price a symbol.
var fallbackPrices = map[string]money.Money{
	"AAPL":  money.MustParse("185.92"),
	"TSLA":  money.MustParse("171.05"),
	"MSFT":  money.MustParse("415.50"),
	"IBM":   money.MustParse("190.20"),
	"GOOGL": money.MustParse("154.30"),
}

// defaultFallback prices a watch-list symbol missing from fallbackPrices.
var defaultFallback = money.MustParse("100.00")

// FallbackPrices returns a copy of the static price table. It also seeds
// the development quoter when no provider key is configured.
func FallbackPrices() map[string]money.Money {
	out := make(map[string]money.Money, len(fallbackPrices))
	for sym, p := range fallbackPrices {
		out[sym] = p
	}
	return out
}

// Item is one snapshot row. ChangePercent is relative to the most recent
// price stored on any position in the symbol and is empty when nobody
// holds it.
type Item struct {
	Symbol        string      `json:"symbol"`
	Price         money.Money `json:"price"`
	ChangePercent string      `json:"change_percent,omitempty"`
	Fallback      bool        `json:"fallback"`
}

// Broadcaster is notified of every refreshed snapshot.
type Broadcaster interface {
	PublishSnapshot([]Item)
}

// Service computes and caches snapshots.
type Service struct {
	store       store.Store
	quoter      quote.Quoter
	broadcaster Broadcaster

	mu        sync.RWMutex
	latest    []Item
	refreshed time.Time
}

// NewService creates a market service. b may be nil.
func NewService(st store.Store, q quote.Quoter, b Broadcaster) *Service {
	return &Service{store: st, quoter: q, broadcaster: b}
}

// Snapshot prices every watch-list symbol. It never fails: symbols the
// provider cannot price come from the static table with Fallback set.
func (s *Service) Snapshot(ctx context.Context) []Item {
	log := logging.FromContext(ctx)

	bases, err := s.store.LatestPositionPrices(ctx, Symbols)
	if err != nil {
		log.WithError(err).Warn("snapshot: stored prices unavailable")
		bases = nil
	}

	items := iter.Map(Symbols, func(sym *string) Item {
		item := Item{Symbol: *sym}
		q, err := s.quoter.Quote(ctx, *sym)
		if err != nil {
			log.WithError(err).WithField("symbol", *sym).Debug("snapshot: using fallback price")
			metrics.SnapshotFallbacks.Inc()
			price, ok := fallbackPrices[*sym]
			if !ok {
				price = defaultFallback
			}
			item.Price = price
			item.Fallback = true
		} else {
			item.Price = q.Price
		}

		if base, ok := bases[*sym]; ok {
			if pct, ok := item.Price.PercentChange(base); ok {
				item.ChangePercent = pct.StringFixed(2)
			}
		}
		return item
	})
	metrics.SnapshotRefreshes.Inc()
	return items
}

// Refresh builds a new snapshot, caches it and broadcasts it.
func (s *Service) Refresh(ctx context.Context) []Item {
	items := s.Snapshot(ctx)

	s.mu.Lock()
	s.latest = items
	s.refreshed = time.Now()
	s.mu.Unlock()

	if s.broadcaster != nil {
		s.broadcaster.PublishSnapshot(items)
	}
	return items
}

// Latest returns the cached snapshot if it is younger than maxAge,
// refreshing it otherwise.
func (s *Service) Latest(ctx context.Context, maxAge time.Duration) []Item {
	s.mu.RLock()
	items, at := s.latest, s.refreshed
	s.mu.RUnlock()

	if items != nil && time.Since(at) < maxAge {
		return items
	}
	return s.Refresh(ctx)
}

// Trending returns up to five gainers followed by up to five losers. The
// list is empty when the quoter has no movers feed or the feed fails.
func (s *Service) Trending(ctx context.Context) []quote.Mover {
	src, ok := s.quoter.(quote.MoversSource)
	if !ok {
		return []quote.Mover{}
	}
	gainers, losers, err := src.Movers(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("trending: movers unavailable")
		return []quote.Mover{}
	}
	out := make([]quote.Mover, 0, len(gainers)+len(losers))
	out = append(out, gainers...)
	return append(out, losers...)
}
