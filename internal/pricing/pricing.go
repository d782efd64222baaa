// Package pricing defines the oracle boundary the trade ledger quotes
// against. The engine only requires that an Oracle returns a deterministic
// quote and updated pool state per trade; the curve behind it is swappable.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned for zero or negative share quantities.
	ErrInvalidQuantity = errors.New("pricing: quantity must be positive")

	// ErrPriceBoundExceeded is returned when a trade would push the quoted
	// price beyond the allowed [MinPrice, MaxPrice] bounds.
	ErrPriceBoundExceeded = errors.New("pricing: trade would push price beyond allowed bounds")
)

var (
	// MinPrice is the lowest allowed price (probability floor).
	MinPrice = decimal.NewFromFloat(0.001)

	// MaxPrice is the highest allowed price (probability ceiling).
	MaxPrice = decimal.NewFromFloat(0.999)
)

// PriceScale is the number of decimal places for price/amount rounding.
const PriceScale int32 = 8

// PoolState is the per-outcome quantity state an oracle folds into a quote.
// For shares outstanding on the outcome, Against the complement pool.
type PoolState struct {
	For     decimal.Decimal
	Against decimal.Decimal
}

// Quote is the result of pricing one proposed trade.
type Quote struct {
	Shares      decimal.Decimal // executed share quantity
	Gross       decimal.Decimal // positive currency amount (cost on buy, proceeds on sell)
	ExecPrice   decimal.Decimal // average fill price per share
	PriceBefore decimal.Decimal
	PriceAfter  decimal.Decimal
	NewState    PoolState
}

// Oracle prices trades against an outcome's pool state. Implementations
// must be pure: identical inputs yield identical quotes.
type Oracle interface {
	// Quote prices a trade of the given share quantity.
	Quote(state PoolState, direction model.Direction, shares decimal.Decimal) (Quote, error)

	// SharesForSpend inverts the curve: how many shares a BUY of the given
	// currency amount purchases at the current state.
	SharesForSpend(state PoolState, spend decimal.Decimal) (decimal.Decimal, error)
}

func clampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	if p.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return p
}
