// Package order executes simulated BUY and SELL orders against a user's
// account. One Execute call validates the request, prices it with a live
// quote and commits the cash, position and ledger changes in a single
// store transaction.
package order

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
)

// Order is a request as received from a client. Quantity is kept as text
// so that "2.0" and "1.5" can be told apart during validation.
type Order struct {
	UserID   string
	Symbol   string
	Quantity string
	Side     model.Side
}

// Result describes a committed order.
type Result struct {
	Entry model.LedgerEntry
	Cash  money.Money
}

// Execution is the public view of a committed order, broadcast to
// subscribers. It carries no user identity.
type Execution struct {
	Symbol   string      `json:"symbol"`
	Side     model.Side  `json:"side"`
	Quantity int64       `json:"quantity"`
	Price    money.Money `json:"price"`
}

// Publisher receives executions after commit. It must not block.
type Publisher interface {
	PublishExecution(Execution)
}

// CostBasis selects how a BUY on an existing position updates its
// average cost.
type CostBasis string

const (
	// CostBasisLatest replaces the average cost with the latest fill price.
	CostBasisLatest CostBasis = "latest"
	// CostBasisWeighted keeps a quantity-weighted average.
	CostBasisWeighted CostBasis = "weighted"
)

// ParseCostBasis reads a configured method name.
func ParseCostBasis(s string) (CostBasis, error) {
	switch CostBasis(strings.ToLower(strings.TrimSpace(s))) {
	case "", CostBasisLatest:
		return CostBasisLatest, nil
	case CostBasisWeighted:
		return CostBasisWeighted, nil
	}
	return "", fmt.Errorf("order: unknown cost basis method %q", s)
}

// next returns the average cost after buying qty more shares at price.
func (c CostBasis) next(held int64, avg money.Money, qty int64, price money.Money) money.Money {
	if c != CostBasisWeighted || held == 0 {
		return price
	}
	return avg.Mul(held).Add(price.Mul(qty)).Div(held + qty)
}

const (
	// maxQuantityLen caps the text accepted as a quantity.
	maxQuantityLen = 64
	// maxQuantityDigits is the number of decimal digits in math.MaxInt64.
	maxQuantityDigits = 19
)

// ParseQuantity accepts a positive whole number of shares. Integral
// decimals such as "2.0" are allowed; "1.5", "0", "-5" and "abc" are not.
func ParseQuantity(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxQuantityLen {
		return 0, model.NewError(model.InvalidQuantity, "parse quantity", "",
			fmt.Errorf("%d characters is too long", len(s)))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, model.NewError(model.InvalidQuantity, "parse quantity", "", err)
	}
	// Bound the exponent before any comparison rescales d.
	if exp := int(d.Exponent()); exp > maxQuantityDigits || exp < -maxQuantityDigits ||
		(exp > 0 && d.NumDigits()+exp > maxQuantityDigits) {
		return 0, model.NewError(model.InvalidQuantity, "parse quantity", "",
			fmt.Errorf("%q is out of range", s))
	}
	if !d.IsInteger() || !d.IsPositive() {
		return 0, model.NewError(model.InvalidQuantity, "parse quantity", "",
			fmt.Errorf("%q is not a positive whole number", s))
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, model.NewError(model.InvalidQuantity, "parse quantity", "",
			fmt.Errorf("%q is too large", s))
	}
	return d.IntPart(), nil
}
