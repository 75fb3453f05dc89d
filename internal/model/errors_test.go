package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("buy: %w", NewError(PersistenceError, "commit", "AAPL", cause))

	assert.ErrorIs(t, err, PersistenceError)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, InsufficientFunds)
	assert.Equal(t, PersistenceError, KindOf(err))
	assert.Contains(t, err.Error(), "[AAPL]")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, InsufficientFunds, KindOf(NewError(InsufficientFunds, "execute", "", nil)))
	assert.Equal(t, NoSuchHolding, KindOf(NoSuchHolding))
	assert.Equal(t, PersistenceError, KindOf(errors.New("boom")))
}

func TestParseSide(t *testing.T) {
	s, ok := ParseSide(" buy ")
	assert.True(t, ok)
	assert.Equal(t, Buy, s)

	s, ok = ParseSide("SELL")
	assert.True(t, ok)
	assert.Equal(t, Sell, s)

	_, ok = ParseSide("short")
	assert.False(t, ok)
}

func TestRetryable(t *testing.T) {
	assert.True(t, PersistenceError.Retryable())
	assert.False(t, InsufficientFunds.Retryable())
}
