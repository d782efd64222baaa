package pricing_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/oddsmith/market-engine/internal/model"
	"github.com/oddsmith/market-engine/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newLMSR(t *testing.T, b float64) *pricing.LMSR {
	t.Helper()
	o, err := pricing.NewLMSR(d(b))
	if err != nil {
		t.Fatalf("NewLMSR: %v", err)
	}
	return o
}

func TestNewLMSR_RejectsNonPositiveLiquidity(t *testing.T) {
	for _, b := range []float64{0, -1} {
		if _, err := pricing.NewLMSR(d(b)); !errors.Is(err, pricing.ErrInvalidLiquidity) {
			t.Errorf("b=%v: want ErrInvalidLiquidity, got %v", b, err)
		}
	}
}

func TestLMSR_PriceAtOriginIsHalf(t *testing.T) {
	o := newLMSR(t, 100)
	p := o.Price(pricing.PoolState{})
	if p.Sub(d(0.5)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("price at origin = %s, want 0.5", p)
	}
}

func TestLMSR_BuyMovesPriceUp(t *testing.T) {
	o := newLMSR(t, 100)
	q, err := o.Quote(pricing.PoolState{}, model.DirectionBuy, d(50))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	if !q.Gross.IsPositive() {
		t.Errorf("buy cost should be positive, got %s", q.Gross)
	}
	if !q.PriceAfter.GreaterThan(q.PriceBefore) {
		t.Errorf("buy should move price up: before %s after %s", q.PriceBefore, q.PriceAfter)
	}
	if !q.NewState.For.Equal(d(50)) {
		t.Errorf("new For pool = %s, want 50", q.NewState.For)
	}
	// Average fill price sits between before and after.
	if q.ExecPrice.LessThan(q.PriceBefore) || q.ExecPrice.GreaterThan(q.PriceAfter) {
		t.Errorf("exec price %s outside [%s, %s]", q.ExecPrice, q.PriceBefore, q.PriceAfter)
	}
}

func TestLMSR_SellIsInverseOfBuy(t *testing.T) {
	o := newLMSR(t, 100)
	buy, err := o.Quote(pricing.PoolState{}, model.DirectionBuy, d(30))
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}
	sell, err := o.Quote(buy.NewState, model.DirectionSell, d(30))
	if err != nil {
		t.Fatalf("sell quote: %v", err)
	}

	// Path independence: selling back what was bought returns the stake.
	if buy.Gross.Sub(sell.Gross).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("round trip leaks value: buy %s sell %s", buy.Gross, sell.Gross)
	}
	if !sell.NewState.For.IsZero() {
		t.Errorf("pool should return to zero, got %s", sell.NewState.For)
	}
}

func TestLMSR_QuoteRejectsNonPositiveShares(t *testing.T) {
	o := newLMSR(t, 100)
	for _, qty := range []float64{0, -5} {
		if _, err := o.Quote(pricing.PoolState{}, model.DirectionBuy, d(qty)); !errors.Is(err, pricing.ErrInvalidQuantity) {
			t.Errorf("qty=%v: want ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestLMSR_PriceBoundRejection(t *testing.T) {
	o := newLMSR(t, 10)
	// A huge buy against tiny liquidity pushes price past the ceiling.
	_, err := o.Quote(pricing.PoolState{}, model.DirectionBuy, d(1000))
	if !errors.Is(err, pricing.ErrPriceBoundExceeded) {
		t.Fatalf("want ErrPriceBoundExceeded, got %v", err)
	}
}

func TestLMSR_SharesForSpendRoundTrip(t *testing.T) {
	o := newLMSR(t, 100)
	state := pricing.PoolState{For: d(20), Against: d(10)}

	spend := d(25)
	shares, err := o.SharesForSpend(state, spend)
	if err != nil {
		t.Fatalf("SharesForSpend: %v", err)
	}
	if !shares.IsPositive() {
		t.Fatalf("shares should be positive, got %s", shares)
	}

	q, err := o.Quote(state, model.DirectionBuy, shares)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Gross.Sub(spend).Abs().GreaterThan(d(0.001)) {
		t.Errorf("cost of inverted shares = %s, want ≈ %s", q.Gross, spend)
	}
}

func TestLMSR_DeterministicQuotes(t *testing.T) {
	o := newLMSR(t, 100)
	state := pricing.PoolState{For: d(5), Against: d(3)}

	a, err := o.Quote(state, model.DirectionBuy, d(7))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	b, err := o.Quote(state, model.DirectionBuy, d(7))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !a.Gross.Equal(b.Gross) || !a.PriceAfter.Equal(b.PriceAfter) {
		t.Errorf("oracle must be pure: %v vs %v", a, b)
	}
}

func TestFixed_QuoteAndInversion(t *testing.T) {
	o := pricing.NewFixed(d(0.6))

	q, err := o.Quote(pricing.PoolState{}, model.DirectionBuy, d(100))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Gross.Equal(d(60)) {
		t.Errorf("gross = %s, want 60", q.Gross)
	}
	if !q.PriceAfter.Equal(d(0.6)) {
		t.Errorf("price = %s, want 0.6", q.PriceAfter)
	}

	shares, err := o.SharesForSpend(pricing.PoolState{}, d(60))
	if err != nil {
		t.Fatalf("SharesForSpend: %v", err)
	}
	if !shares.Equal(d(100)) {
		t.Errorf("shares = %s, want 100", shares)
	}
}
