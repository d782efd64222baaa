package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
)

// Fixed is an Oracle that quotes a constant price regardless of pool state.
// Used in tests and for markets priced by an external feed.
type Fixed struct {
	price decimal.Decimal
}

// NewFixed creates a fixed-price oracle. The price is clamped to the
// allowed bounds.
func NewFixed(price decimal.Decimal) *Fixed {
	return &Fixed{price: clampPrice(price)}
}

func (o *Fixed) Quote(state PoolState, direction model.Direction, shares decimal.Decimal) (Quote, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return Quote{}, ErrInvalidQuantity
	}

	delta := shares
	if direction == model.DirectionSell {
		delta = shares.Neg()
	}

	return Quote{
		Shares:      shares,
		Gross:       o.price.Mul(shares).Round(PriceScale),
		ExecPrice:   o.price,
		PriceBefore: o.price,
		PriceAfter:  o.price,
		NewState:    PoolState{For: state.For.Add(delta), Against: state.Against},
	}, nil
}

func (o *Fixed) SharesForSpend(_ PoolState, spend decimal.Decimal) (decimal.Decimal, error) {
	if spend.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidQuantity
	}
	return spend.Div(o.price).Round(PriceScale), nil
}
