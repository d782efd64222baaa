package pricing

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
)

// ErrInvalidLiquidity is returned when the liquidity parameter b <= 0.
var ErrInvalidLiquidity = errors.New("pricing: liquidity parameter b must be positive")

// ErrSpendTooSmall is returned when a currency-denominated buy is too small
// to purchase any shares at the current state.
var ErrSpendTooSmall = errors.New("pricing: spend amount too small to fill")

// LMSR is the default Oracle: Hanson's Logarithmic Market Scoring Rule over
// a binary (outcome vs complement) pool. Bounded maker loss of b*ln(2),
// path-independent cost, continuous pricing.
//
// Internal transcendental math uses the log-sum-exp trick for numerical
// stability, with results immediately converted to decimal.
type LMSR struct {
	b decimal.Decimal
}

// NewLMSR creates an LMSR oracle with liquidity parameter b. Higher b means
// more liquidity and lower price impact per trade.
func NewLMSR(b decimal.Decimal) (*LMSR, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &LMSR{b: b}, nil
}

// B returns the liquidity parameter.
func (o *LMSR) B() decimal.Decimal { return o.b }

// logSumExp computes ln(Σ exp(x_i)) without overflow:
// LSE(x) = max(x) + ln(Σ exp(x_i - max(x))).
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// cost computes C(q) = b * ln(exp(qFor/b) + exp(qAgainst/b)) as float64.
func (o *LMSR) cost(qFor, qAgainst float64) float64 {
	bf := o.b.InexactFloat64()
	return bf * logSumExp([]float64{qFor / bf, qAgainst / bf})
}

// price computes the instantaneous probability of the For side (softmax
// with max-subtraction for stability).
func (o *LMSR) price(qFor, qAgainst float64) float64 {
	bf := o.b.InexactFloat64()
	f := qFor / bf
	a := qAgainst / bf
	maxVal := math.Max(f, a)
	ef := math.Exp(f - maxVal)
	ea := math.Exp(a - maxVal)
	return ef / (ef + ea)
}

// Price returns the clamped instantaneous price for the state.
func (o *LMSR) Price(state PoolState) decimal.Decimal {
	p := o.price(state.For.InexactFloat64(), state.Against.InexactFloat64())
	return clampPrice(decimal.NewFromFloat(p).Round(PriceScale))
}

// Quote prices a trade of the given share quantity against the pool.
// BUY adds shares to the For pool, SELL removes them; Gross is always the
// positive currency amount moved.
func (o *LMSR) Quote(state PoolState, direction model.Direction, shares decimal.Decimal) (Quote, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return Quote{}, ErrInvalidQuantity
	}

	delta := shares
	if direction == model.DirectionSell {
		delta = shares.Neg()
	}

	qf := state.For.InexactFloat64()
	qa := state.Against.InexactFloat64()
	df := delta.InexactFloat64()

	newPrice := o.price(qf+df, qa)
	minF := MinPrice.InexactFloat64()
	maxF := MaxPrice.InexactFloat64()
	if newPrice < minF || newPrice > maxF {
		return Quote{}, ErrPriceBoundExceeded
	}

	gross := o.cost(qf+df, qa) - o.cost(qf, qa)
	if direction == model.DirectionSell {
		gross = -gross // proceeds to the trader, reported positive
	}

	grossD := decimal.NewFromFloat(gross).Round(PriceScale)
	newState := PoolState{For: state.For.Add(delta), Against: state.Against}

	return Quote{
		Shares:      shares,
		Gross:       grossD,
		ExecPrice:   grossD.Div(shares).Round(PriceScale),
		PriceBefore: o.Price(state),
		PriceAfter:  o.Price(newState),
		NewState:    newState,
	}, nil
}

// SharesForSpend inverts the cost function for a BUY:
//
//	spend = C(qFor + δ, qAgainst) − C(qFor, qAgainst)
//	δ = b*ln(exp((spend + C)/b) − exp(qAgainst/b)) − qFor
func (o *LMSR) SharesForSpend(state PoolState, spend decimal.Decimal) (decimal.Decimal, error) {
	if spend.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidQuantity
	}

	bf := o.b.InexactFloat64()
	qf := state.For.InexactFloat64()
	qa := state.Against.InexactFloat64()

	target := (spend.InexactFloat64() + o.cost(qf, qa)) / bf
	// exp(target) − exp(qa/b), computed as exp(qa/b) * (exp(target − qa/b) − 1)
	// to keep the subtraction stable when the two terms are close.
	inner := math.Exp(target-qa/bf) - 1
	if inner <= 0 {
		return decimal.Zero, ErrSpendTooSmall
	}
	delta := bf*(qa/bf+math.Log(inner)) - qf

	shares := decimal.NewFromFloat(delta).Round(PriceScale)
	if shares.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrSpendTooSmall
	}
	return shares, nil
}

// MaxLoss returns the maker's bounded loss, b * ln(2).
func (o *LMSR) MaxLoss() decimal.Decimal {
	return decimal.NewFromFloat(o.b.InexactFloat64() * math.Log(2)).Round(PriceScale)
}
