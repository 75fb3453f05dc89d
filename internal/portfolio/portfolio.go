// Package portfolio answers read-only questions about an account: its
// marked-to-market holdings, its ledger history and single quotes.
package portfolio

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/iter"

	"github.com/papertrade/market-sim/internal/logging"
	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/quote"
	"github.com/papertrade/market-sim/internal/store"
	"github.com/papertrade/market-sim/internal/symbol"
)

// Service is the account query service.
type Service struct {
	store  store.Store
	quoter quote.Quoter
}

// NewService creates a query service.
func NewService(st store.Store, q quote.Quoter) *Service {
	return &Service{store: st, quoter: q}
}

// View values every position at a live quote. A position whose quote
// cannot be fetched is valued at its average cost and flagged Stale, so
// the view never fails because of the quote provider.
func (s *Service) View(ctx context.Context, userID string) (model.PortfolioView, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return model.PortfolioView{}, storeError("portfolio view", err)
	}
	positions, err := s.store.GetPositions(ctx, userID)
	if err != nil {
		return model.PortfolioView{}, storeError("portfolio view", err)
	}

	views := iter.Map(positions, func(p *model.Position) model.PositionView {
		return s.mark(ctx, *p)
	})

	total := acct.CashBalance
	for _, v := range views {
		total = total.Add(v.CurrentValue)
	}
	return model.PortfolioView{
		UserID:     userID,
		Positions:  views,
		Cash:       acct.CashBalance,
		TotalValue: total,
	}, nil
}

func (s *Service) mark(ctx context.Context, p model.Position) model.PositionView {
	v := model.PositionView{
		Symbol:      p.Symbol,
		Quantity:    p.Quantity,
		AverageCost: p.AverageCost,
	}

	price := p.AverageCost
	q, err := s.quoter.Quote(ctx, p.Symbol)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("symbol", p.Symbol).
			Warn("valuing position at average cost")
		v.Stale = true
	} else {
		price = q.Price
	}

	v.UnitPrice = price
	v.CurrentValue = price.Mul(p.Quantity)
	return v
}

// History returns the account's ledger, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	if _, err := s.store.GetAccount(ctx, userID); err != nil {
		return nil, storeError("history", err)
	}
	entries, err := s.store.GetLedgerEntries(ctx, userID)
	if err != nil {
		return nil, storeError("history", err)
	}
	return entries, nil
}

// Quote looks up one symbol, mapping provider failures onto error kinds.
func (s *Service) Quote(ctx context.Context, raw string) (quote.Quote, error) {
	sym, err := symbol.Parse(raw)
	if err != nil {
		return quote.Quote{}, model.NewError(model.InvalidSymbol, "quote", symbol.Normalize(raw), err)
	}
	q, err := s.quoter.Quote(ctx, sym)
	if err != nil {
		if errors.Is(err, quote.ErrUnknownSymbol) {
			return quote.Quote{}, model.NewError(model.InvalidSymbol, "quote", sym, err)
		}
		return quote.Quote{}, model.NewError(model.QuoteUnavailable, "quote", sym, err)
	}
	return q, nil
}

// Cash returns the account's cash balance.
func (s *Service) Cash(ctx context.Context, userID string) (money.Money, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return money.Zero, storeError("cash", err)
	}
	return acct.CashBalance, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return model.NewError(model.UserNotFound, op, "", err)
	}
	return model.NewError(model.PersistenceError, op, "", err)
}
