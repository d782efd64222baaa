// Package risk enforces per-user position limits: a cap on held shares in
// any single outcome and a cap on aggregate share exposure across one
// market's outcomes. Limits are checked before the ledger append; a
// rejection leaves the ledger untouched.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerOutcomeLimitExceeded is returned when a trade would push a
	// single outcome's held shares beyond the per-outcome maximum.
	ErrPerOutcomeLimitExceeded = errors.New("risk: per-outcome position limit exceeded")

	// ErrPerMarketLimitExceeded is returned when a trade would push the
	// aggregate held shares across a market's outcomes beyond the
	// per-market maximum.
	ErrPerMarketLimitExceeded = errors.New("risk: per-market exposure limit exceeded")
)

// Limiter enforces position limits. A zero limit disables that check.
type Limiter struct {
	// MaxPerOutcome is the maximum held shares in any single outcome.
	MaxPerOutcome decimal.Decimal

	// MaxPerMarket is the maximum aggregate held shares across all
	// outcomes of one market.
	MaxPerMarket decimal.Decimal
}

// NewLimiter creates a limiter with the given per-outcome and per-market caps.
func NewLimiter(maxPerOutcome, maxPerMarket decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerOutcome: maxPerOutcome,
		MaxPerMarket:  maxPerMarket,
	}
}

// CheckBuy validates a proposed buy of delta shares on one outcome.
// held is the user's current shares on that outcome; marketHeld is the
// user's aggregate held shares across the market's outcomes.
func (l *Limiter) CheckBuy(held, marketHeld, delta decimal.Decimal) error {
	if l == nil {
		return nil
	}
	if l.MaxPerOutcome.IsPositive() && held.Add(delta).GreaterThan(l.MaxPerOutcome) {
		return ErrPerOutcomeLimitExceeded
	}
	if l.MaxPerMarket.IsPositive() && marketHeld.Add(delta).GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}
	return nil
}
