// Package quote looks up live share prices. The Quoter contract is narrow:
// a lookup either returns a price or fails with ErrUnknownSymbol or
// ErrUnavailable, wrapped with context.
package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/papertrade/market-sim/internal/money"
)

var (
	// ErrUnknownSymbol means the provider does not list the ticker.
	ErrUnknownSymbol = errors.New("quote: unknown symbol")

	// ErrUnavailable covers timeouts, network failures, rate limiting and
	// malformed provider payloads.
	ErrUnavailable = errors.New("quote: provider unavailable")
)

// Quote is a point-in-time price for one symbol.
type Quote struct {
	Symbol string      `json:"symbol"`
	Name   string      `json:"name"`
	Price  money.Money `json:"price"`
}

// Quoter returns the current price for a normalized symbol.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// QuoterFunc adapts a function to Quoter.
type QuoterFunc func(ctx context.Context, symbol string) (Quote, error)

func (f QuoterFunc) Quote(ctx context.Context, symbol string) (Quote, error) { return f(ctx, symbol) }

// Mover is one entry of the provider's daily gainers/losers list.
type Mover struct {
	Symbol        string      `json:"symbol"`
	Price         money.Money `json:"price"`
	ChangePercent string      `json:"change"`
}

// MoversSource is implemented by quoters that can list the day's top
// gainers and losers.
type MoversSource interface {
	Movers(ctx context.Context) (gainers, losers []Mover, err error)
}

// Static serves prices from a fixed table. Used in development when no
// provider key is configured, and in tests.
type Static struct {
	mu     sync.RWMutex
	prices map[string]money.Money
}

// NewStatic copies prices into a new Static quoter.
func NewStatic(prices map[string]money.Money) *Static {
	s := &Static{prices: make(map[string]money.Money, len(prices))}
	for sym, p := range prices {
		s.prices[sym] = p
	}
	return s
}

// Set changes the price of symbol.
func (s *Static) Set(symbol string, price money.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *Static) Quote(_ context.Context, symbol string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return Quote{Symbol: symbol, Name: symbol, Price: p}, nil
}
