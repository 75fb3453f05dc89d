package symbol

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := map[string]string{
		"aapl":    "AAPL",
		"  msft ": "MSFT",
		"BRK.A":   "BRK.A",
		"bf-b":    "BF-B",
		"7203.t":  "7203.T",
		"ZZZZZZ":  "ZZZZZZ",
	}
	for in, want := range tests {
		got, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"AA PL",
		"AAPL;DROP",
		"$AAPL",
		"BRK.",
		"ABCDEFGHIJKL",
	}
	for _, in := range tests {
		if _, err := Parse(in); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q): expected ErrInvalid, got %v", in, err)
		}
	}
}
