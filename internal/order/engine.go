package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/papertrade/market-sim/internal/logging"
	"github.com/papertrade/market-sim/internal/metrics"
	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/quote"
	"github.com/papertrade/market-sim/internal/store"
	"github.com/papertrade/market-sim/internal/symbol"
)

// Engine is the only writer of accounts, positions and ledger entries.
type Engine struct {
	store     store.Store
	quoter    quote.Quoter
	locks     *keyedMutex
	costBasis CostBasis
	publisher Publisher
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCostBasis sets the average-cost policy. Default CostBasisLatest.
func WithCostBasis(c CostBasis) Option {
	return func(e *Engine) { e.costBasis = c }
}

// WithPublisher sets the receiver of committed executions.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the ledger timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an order engine.
func NewEngine(st store.Store, q quote.Quoter, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		quoter:    q,
		locks:     newKeyedMutex(),
		costBasis: CostBasisLatest,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates and commits o. Failures are *model.Error values and
// leave no trace in the store.
func (e *Engine) Execute(ctx context.Context, o Order) (Result, error) {
	start := time.Now()
	res, err := e.execute(ctx, o)

	result := "ok"
	if err != nil {
		result = string(model.KindOf(err))
	}
	metrics.OrdersTotal.WithLabelValues(string(o.Side), result).Inc()
	metrics.OrderLatency.WithLabelValues(string(o.Side)).Observe(time.Since(start).Seconds())

	log := logging.FromContext(ctx).WithFields(logrus.Fields{
		"user_id": o.UserID,
		"symbol":  o.Symbol,
		"side":    o.Side,
	})
	if err != nil {
		log.WithError(err).Info("order rejected")
		return Result{}, err
	}
	log.WithFields(logrus.Fields{
		"entry_id": res.Entry.ID,
		"quantity": res.Entry.Quantity,
		"price":    res.Entry.UnitPrice.String(),
	}).Info("order executed")

	if e.publisher != nil {
		e.publisher.PublishExecution(Execution{
			Symbol:   res.Entry.Symbol,
			Side:     res.Entry.Type,
			Quantity: res.Entry.Quantity,
			Price:    res.Entry.UnitPrice,
		})
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, o Order) (Result, error) {
	op := "order " + string(o.Side)
	if o.Side != model.Buy && o.Side != model.Sell {
		return Result{}, fmt.Errorf("%s: unknown side %q", op, o.Side)
	}

	qty, err := ParseQuantity(o.Quantity)
	if err != nil {
		return Result{}, err
	}

	sym, err := symbol.Parse(o.Symbol)
	if err != nil {
		return Result{}, model.NewError(model.InvalidSymbol, op, symbol.Normalize(o.Symbol), err)
	}

	// Priced before the lock: the quote may be a moment old by commit.
	q, err := e.quoter.Quote(ctx, sym)
	if err != nil {
		if errors.Is(err, quote.ErrUnknownSymbol) {
			return Result{}, model.NewError(model.InvalidSymbol, op, sym, err)
		}
		return Result{}, model.NewError(model.QuoteUnavailable, op, sym, err)
	}
	price := q.Price.Round()

	unlock := e.locks.Lock(o.UserID)
	defer unlock()

	var res Result
	err = e.store.InTx(ctx, o.UserID, func(tx store.Tx) error {
		acct, err := tx.GetAccount(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.NewError(model.UserNotFound, op, sym, err)
			}
			return err
		}

		entry := model.LedgerEntry{
			Symbol:    sym,
			Quantity:  qty,
			UnitPrice: price,
			Type:      o.Side,
			Timestamp: e.now().UTC().Truncate(time.Microsecond),
		}

		var cash money.Money
		if o.Side == model.Buy {
			cash, err = e.buy(ctx, tx, acct, entry)
		} else {
			cash, err = e.sell(ctx, tx, acct, entry)
		}
		if err != nil {
			return err
		}

		if err := tx.AppendLedgerEntry(ctx, &entry); err != nil {
			return err
		}
		res = Result{Entry: entry, Cash: cash}
		return nil
	})
	if err != nil {
		var domainErr *model.Error
		if errors.As(err, &domainErr) {
			return Result{}, err
		}
		return Result{}, model.NewError(model.PersistenceError, op, sym, err)
	}
	return res, nil
}

func (e *Engine) buy(ctx context.Context, tx store.Tx, acct *model.Account, entry model.LedgerEntry) (money.Money, error) {
	cost := entry.UnitPrice.Mul(entry.Quantity)
	if cost.GreaterThan(acct.CashBalance) {
		return money.Zero, model.NewError(model.InsufficientFunds, "order BUY", entry.Symbol,
			fmt.Errorf("cost %s exceeds cash %s", cost, acct.CashBalance))
	}

	var held int64
	avg := money.Zero
	pos, err := tx.GetPosition(ctx, entry.Symbol)
	switch {
	case err == nil:
		held, avg = pos.Quantity, pos.AverageCost
	case !errors.Is(err, store.ErrNotFound):
		return money.Zero, err
	}
	if held > math.MaxInt64-entry.Quantity {
		return money.Zero, model.NewError(model.InvalidQuantity, "order BUY", entry.Symbol,
			fmt.Errorf("position would exceed %d shares", int64(math.MaxInt64)))
	}

	cash := acct.CashBalance.Sub(cost)
	if err := tx.SetCash(ctx, cash); err != nil {
		return money.Zero, err
	}
	err = tx.UpsertPosition(ctx, &model.Position{
		Symbol:      entry.Symbol,
		Quantity:    held + entry.Quantity,
		AverageCost: e.costBasis.next(held, avg, entry.Quantity, entry.UnitPrice),
		UpdatedAt:   entry.Timestamp,
	})
	if err != nil {
		return money.Zero, err
	}
	return cash, nil
}

func (e *Engine) sell(ctx context.Context, tx store.Tx, acct *model.Account, entry model.LedgerEntry) (money.Money, error) {
	pos, err := tx.GetPosition(ctx, entry.Symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return money.Zero, model.NewError(model.NoSuchHolding, "order SELL", entry.Symbol, nil)
		}
		return money.Zero, err
	}
	if pos.Quantity < entry.Quantity {
		return money.Zero, model.NewError(model.InsufficientShares, "order SELL", entry.Symbol,
			fmt.Errorf("holding %d, selling %d", pos.Quantity, entry.Quantity))
	}

	cash := acct.CashBalance.Add(entry.UnitPrice.Mul(entry.Quantity))
	if err := tx.SetCash(ctx, cash); err != nil {
		return money.Zero, err
	}

	if remaining := pos.Quantity - entry.Quantity; remaining == 0 {
		err = tx.DeletePosition(ctx, entry.Symbol)
	} else {
		pos.Quantity = remaining
		pos.UpdatedAt = entry.Timestamp
		err = tx.UpsertPosition(ctx, pos)
	}
	if err != nil {
		return money.Zero, err
	}
	return cash, nil
}
