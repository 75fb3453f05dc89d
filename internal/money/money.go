// Package money provides the fixed-point currency type used for every cash
// balance and share price in the simulator. Values are backed by
// shopspring/decimal; binary floats never hold money.
package money

import (
	"bytes"
	"database/sql/driver"
	"fmt"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits persisted for money values.
// Provider quotes carry up to four decimals.
const Scale int32 = 4

// Currency is the single currency the simulator trades in.
const Currency = gomoney.USD

// Money is an exact decimal amount. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

// New wraps a decimal.
func New(d decimal.Decimal) Money { return Money{d: d} }

// FromInt returns a whole-unit amount.
func FromInt(v int64) Money { return Money{d: decimal.NewFromInt(v)} }

// Parse reads a decimal string such as "150.25".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(n Money) Money { return Money{d: m.d.Add(n.d)} }
func (m Money) Sub(n Money) Money { return Money{d: m.d.Sub(n.d)} }

// Mul multiplies a unit price by a share quantity.
func (m Money) Mul(qty int64) Money { return Money{d: m.d.Mul(decimal.NewFromInt(qty))} }

// Div divides by a share quantity, rounding half away from zero to Scale.
func (m Money) Div(qty int64) Money {
	return Money{d: m.d.DivRound(decimal.NewFromInt(qty), Scale)}
}

// Round rounds to Scale fractional digits.
func (m Money) Round() Money { return Money{d: m.d.Round(Scale)} }

func (m Money) Cmp(n Money) int                 { return m.d.Cmp(n.d) }
func (m Money) Equal(n Money) bool              { return m.d.Equal(n.d) }
func (m Money) LessThan(n Money) bool           { return m.d.LessThan(n.d) }
func (m Money) LessThanOrEqual(n Money) bool    { return m.d.LessThanOrEqual(n.d) }
func (m Money) GreaterThan(n Money) bool        { return m.d.GreaterThan(n.d) }
func (m Money) GreaterThanOrEqual(n Money) bool { return m.d.GreaterThanOrEqual(n.d) }
func (m Money) IsZero() bool                    { return m.d.IsZero() }
func (m Money) IsNegative() bool                { return m.d.IsNegative() }
func (m Money) IsPositive() bool                { return m.d.IsPositive() }

// PercentChange returns (m - base) / base * 100 rounded to two places.
// ok is false when base is zero.
func (m Money) PercentChange(base Money) (decimal.Decimal, bool) {
	if base.d.IsZero() {
		return decimal.Zero, false
	}
	return m.d.Sub(base.d).Div(base.d).Mul(decimal.NewFromInt(100)).Round(2), true
}

// String renders at least two fractional digits and at most Scale.
func (m Money) String() string {
	r := m.d.Round(Scale)
	if r.Equal(r.Round(2)) {
		return r.StringFixed(2)
	}
	return r.String()
}

// Display formats for humans, e.g. "$9,700.00".
func (m Money) Display() string {
	cents := m.d.Round(2).Shift(2).IntPart()
	return gomoney.New(cents, Currency).Display()
}

// MarshalJSON encodes an exact JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Zero
		return nil
	}
	data = bytes.Trim(data, `"`)
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("money: decode %s: %w", data, err)
	}
	m.d = d
	return nil
}

// Value stores money as text so SQLite keeps every digit.
func (m Money) Value() (driver.Value, error) {
	return m.d.Round(Scale).String(), nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Zero
		return nil
	case string:
		return m.parseInto(v)
	case []byte:
		return m.parseInto(string(v))
	case int64:
		m.d = decimal.NewFromInt(v)
		return nil
	case float64:
		// Only reachable on columns with REAL affinity.
		m.d = decimal.NewFromFloat(v)
		return nil
	default:
		return fmt.Errorf("money: cannot scan %T", src)
	}
}

func (m *Money) parseInto(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: scan %q: %w", s, err)
	}
	m.d = d
	return nil
}
