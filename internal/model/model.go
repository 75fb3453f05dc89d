// Package model defines the core ledger types shared across the simulator.
// All monetary values use money.Money, never float64.
package model

import (
	"strings"
	"time"

	"github.com/papertrade/market-sim/internal/money"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	}
	return "", false
}

// User is a registered trader. Created together with its Account.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	FullNames    string    `json:"full_names" db:"full_names"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Account holds a user's cash. CashBalance never goes negative after a
// committed order.
type Account struct {
	UserID      string      `json:"user_id" db:"user_id"`
	CashBalance money.Money `json:"cash" db:"cash"`
}

// Position is a user's holding of one symbol. A row only exists while
// Quantity > 0.
type Position struct {
	UserID      string      `json:"user_id" db:"user_id"`
	Symbol      string      `json:"symbol" db:"symbol"`
	Quantity    int64       `json:"quantity" db:"quantity"`
	AverageCost money.Money `json:"average_cost" db:"average_cost"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of one executed order.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        int64       `json:"id" db:"id"`
	UserID    string      `json:"-" db:"user_id"`
	Symbol    string      `json:"symbol" db:"symbol"`
	Quantity  int64       `json:"quantity" db:"quantity"`
	UnitPrice money.Money `json:"unit_price" db:"unit_price"`
	Type      Side        `json:"type" db:"type"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
}

// Total is UnitPrice × Quantity.
func (e LedgerEntry) Total() money.Money { return e.UnitPrice.Mul(e.Quantity) }

// PositionView is a Position marked to a live (or fallback) price.
type PositionView struct {
	Symbol       string      `json:"symbol"`
	Quantity     int64       `json:"quantity"`
	AverageCost  money.Money `json:"average_cost"`
	UnitPrice    money.Money `json:"unit_price"`
	CurrentValue money.Money `json:"current_value"`
	// Stale is set when no live quote was available and UnitPrice fell
	// back to AverageCost.
	Stale bool `json:"stale"`
}

// PortfolioView aggregates positions and cash into a valuation.
type PortfolioView struct {
	UserID     string         `json:"user_id"`
	Positions  []PositionView `json:"positions"`
	Cash       money.Money    `json:"cash"`
	TotalValue money.Money    `json:"total_value"`
}
