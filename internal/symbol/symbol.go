// Package symbol normalizes and validates equity ticker symbols before they
// reach the quote provider or the ledger.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLen matches the width of the symbol columns in the schema.
const MaxLen = 15

// tickerRegex matches plain and class-suffixed tickers:
// AAPL, BRK.A, BF-B, 7203.T
var tickerRegex = regexp.MustCompile(`^[A-Z0-9]{1,10}([.\-][A-Z0-9]{1,4})?$`)

var ErrInvalid = errors.New("symbol: invalid ticker format")

// Normalize uppercases and trims s.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Parse normalizes s and checks its shape. It does not tell whether the
// ticker is listed; only the quote provider knows that.
func Parse(s string) (string, error) {
	sym := Normalize(s)
	if sym == "" || len(sym) > MaxLen || !tickerRegex.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return sym, nil
}
