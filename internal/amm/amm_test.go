package amm

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/claimdex/market-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newCurve(t *testing.T, feeRate float64) *Curve {
	t.Helper()
	c, err := NewCurve(d(feeRate))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

// --- Constructor tests ---

func TestNewCurve_Valid(t *testing.T) {
	c := newCurve(t, 0.02)
	if !c.FeeRate().Equal(d(0.02)) {
		t.Errorf("expected fee rate 0.02, got %s", c.FeeRate())
	}
}

func TestNewCurve_ZeroFee(t *testing.T) {
	if _, err := NewCurve(decimal.Zero); err != nil {
		t.Errorf("zero fee should be allowed, got %v", err)
	}
}

func TestNewCurve_InvalidFee(t *testing.T) {
	if _, err := NewCurve(d(-0.01)); err != ErrInvalidFeeRate {
		t.Errorf("expected ErrInvalidFeeRate for negative fee, got %v", err)
	}
	if _, err := NewCurve(d(1)); err != ErrInvalidFeeRate {
		t.Errorf("expected ErrInvalidFeeRate for fee=1, got %v", err)
	}
}

// --- Price tests ---

func TestPrice_EqualPoolsFiftyFifty(t *testing.T) {
	p := Price(d(1200), d(1200), model.SideYes)
	if !p.Equal(d(0.5)) {
		t.Errorf("expected price 0.5 for equal pools, got %s", p)
	}
}

func TestPrice_DrivenByOppositePool(t *testing.T) {
	// More NO liquidity relative to YES makes YES more expensive.
	pYes := Price(d(800), d(1600), model.SideYes)
	pNo := Price(d(800), d(1600), model.SideNo)

	if !pYes.GreaterThan(d(0.5)) {
		t.Errorf("YES should be above 0.5 with larger NO pool, got %s", pYes)
	}
	if !pNo.LessThan(d(0.5)) {
		t.Errorf("NO should be below 0.5 with larger NO pool, got %s", pNo)
	}
}

func TestPrice_SidesSumToOne(t *testing.T) {
	one := decimal.NewFromInt(1)
	tolerance := d(0.0000001)

	tests := []struct {
		poolYes, poolNo float64
	}{
		{1000, 1000},
		{1109.4, 1298},
		{50, 5000},
		{1234.5678, 8765.4321},
	}
	for _, tt := range tests {
		sum := Price(d(tt.poolYes), d(tt.poolNo), model.SideYes).
			Add(Price(d(tt.poolYes), d(tt.poolNo), model.SideNo))
		if sum.Sub(one).Abs().GreaterThan(tolerance) {
			t.Errorf("prices should sum to 1: pools=(%.4f,%.4f) sum=%s",
				tt.poolYes, tt.poolNo, sum)
		}
	}
}

// --- Buy quote tests ---

// Worked example: 1200/1200 pools, $100 buy of YES at 2% fee.
// fee=$2, net=$98, k=1,440,000, newNoPool=1298,
// newYesPool=1,440,000/1298≈1109.4, swapYield≈90.6, shares≈188.6.
func TestBuy_WorkedExample(t *testing.T) {
	c := newCurve(t, 0.02)
	q, err := c.Buy(d(1200), d(1200), model.SideYes, d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !q.Fee.Equal(d(2)) {
		t.Errorf("expected fee 2, got %s", q.Fee)
	}
	if !q.NewPoolNo.Equal(d(1298)) {
		t.Errorf("expected new NO pool 1298, got %s", q.NewPoolNo)
	}
	if q.NewPoolYes.Sub(d(1109.4)).Abs().GreaterThan(d(0.01)) {
		t.Errorf("expected new YES pool ≈ 1109.4, got %s", q.NewPoolYes)
	}
	if q.Shares.Sub(d(188.6)).Abs().GreaterThan(d(0.01)) {
		t.Errorf("expected ≈ 188.6 shares, got %s", q.Shares)
	}
	if q.AvgPrice.Sub(d(0.53)).Abs().GreaterThan(d(0.01)) {
		t.Errorf("expected avg price ≈ 0.53, got %s", q.AvgPrice)
	}
	if q.FinalPrice.LessThanOrEqual(d(0.5)) {
		t.Errorf("buying YES should raise the YES price, got %s", q.FinalPrice)
	}
}

func TestBuy_FeeIsExactRate(t *testing.T) {
	c := newCurve(t, 0.02)
	for _, inv := range []float64{1, 37.5, 100, 2500} {
		q, err := c.Buy(d(1000), d(1000), model.SideNo, d(inv))
		if err != nil {
			t.Fatalf("unexpected error for investment %f: %v", inv, err)
		}
		want := d(inv).Mul(d(0.02))
		if !q.Fee.Equal(want) {
			t.Errorf("investment %f: expected fee %s, got %s", inv, want, q.Fee)
		}
	}
}

func TestBuy_SwapLegPreservesK(t *testing.T) {
	c := newCurve(t, 0.02)
	tolerance := d(0.000001)

	poolYes, poolNo := d(1200), d(1200)
	k := poolYes.Mul(poolNo)

	for i := 0; i < 20; i++ {
		q, err := c.Buy(poolYes, poolNo, model.SideYes, d(50))
		if err != nil {
			t.Fatalf("buy %d failed: %v", i, err)
		}
		newK := q.NewPoolYes.Mul(q.NewPoolNo)
		if newK.Sub(k).Abs().GreaterThan(tolerance) {
			t.Fatalf("buy %d: k drifted from %s to %s", i, k, newK)
		}
		poolYes, poolNo = q.NewPoolYes, q.NewPoolNo
		k = newK
	}
}

func TestBuy_MintLegOutsideThePools(t *testing.T) {
	c := newCurve(t, 0.02)
	q, err := c.Buy(d(1200), d(1200), model.SideYes, d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The opposite pool grows by exactly the net investment; minted shares
	// never enter the pools.
	net := d(100).Sub(q.Fee)
	if !q.NewPoolNo.Equal(d(1200).Add(net)) {
		t.Errorf("opposite pool should grow by net %s, got %s", net, q.NewPoolNo)
	}
	// Shares exceed the pure swap yield by the minted amount.
	swapYield := d(1200).Sub(q.NewPoolYes)
	if !q.Shares.Equal(net.Add(swapYield)) {
		t.Errorf("shares %s != mint %s + swap %s", q.Shares, net, swapYield)
	}
}

func TestBuy_InvalidAmount(t *testing.T) {
	c := newCurve(t, 0.02)
	if _, err := c.Buy(d(1000), d(1000), model.SideYes, decimal.Zero); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := c.Buy(d(1000), d(1000), model.SideYes, d(-5)); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

// --- Sell quote tests ---

// Worked example: selling 50 NO with poolYes=1109.4, poolNo=1298.
func TestSell_WorkedExample(t *testing.T) {
	c := newCurve(t, 0.02)
	q, err := c.Sell(d(1109.4), d(1298), model.SideNo, d(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Payout.LessThanOrEqual(decimal.Zero) {
		t.Errorf("payout should be positive, got %s", q.Payout)
	}
	if !q.Fee.GreaterThan(decimal.Zero) {
		t.Errorf("fee should be positive, got %s", q.Fee)
	}
	// Selling NO grows the NO pool and lowers the NO price.
	if !q.NewPoolNo.GreaterThan(d(1298)) {
		t.Errorf("sold side's pool should grow, got %s", q.NewPoolNo)
	}
	priceBefore := Price(d(1109.4), d(1298), model.SideNo)
	if !q.FinalPrice.LessThan(priceBefore) {
		t.Errorf("selling should lower the price: before=%s after=%s",
			priceBefore, q.FinalPrice)
	}
}

func TestSell_SwapLegPreservesK(t *testing.T) {
	c := newCurve(t, 0.02)
	tolerance := d(0.000001)

	poolYes, poolNo := d(1109.4), d(1298)
	k := poolYes.Mul(poolNo)

	q, err := c.Sell(poolYes, poolNo, model.SideNo, d(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	newK := q.NewPoolYes.Mul(q.NewPoolNo)
	if newK.Sub(k).Abs().GreaterThan(tolerance) {
		t.Errorf("k drifted from %s to %s", k, newK)
	}
}

func TestSell_PayoutBoundedByOppositePool(t *testing.T) {
	c := newCurve(t, 0.02)
	// However large the sell, the cash extracted cannot exceed the
	// opposite pool's reserve.
	q, err := c.Sell(d(100), d(100), model.SideYes, d(1000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Payout.GreaterThanOrEqual(d(100)) {
		t.Errorf("payout %s should stay below opposite pool 100", q.Payout)
	}
}

func TestSell_InvalidAmount(t *testing.T) {
	c := newCurve(t, 0.02)
	if _, err := c.Sell(d(1000), d(1000), model.SideYes, decimal.Zero); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := c.Sell(d(1000), d(1000), model.SideYes, d(-1)); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

// --- Round-trip tests ---

func TestRoundTrip_LossyByAtLeastTheFee(t *testing.T) {
	c := newCurve(t, 0.02)
	investment := d(100)

	buy, err := c.Buy(d(1200), d(1200), model.SideYes, investment)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	sell, err := c.Sell(buy.NewPoolYes, buy.NewPoolNo, model.SideYes, buy.Shares)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if sell.Payout.GreaterThanOrEqual(investment) {
		t.Errorf("round trip must be lossy: invested %s, got back %s",
			investment, sell.Payout)
	}
	loss := investment.Sub(sell.Payout)
	if loss.LessThan(buy.Fee) {
		t.Errorf("round-trip loss %s should be at least the buy fee %s",
			loss, buy.Fee)
	}
}

func TestRoundTrip_ZeroFeeNearLossless(t *testing.T) {
	c := newCurve(t, 0)
	investment := d(100)
	tolerance := d(0.001)

	buy, err := c.Buy(d(1200), d(1200), model.SideYes, investment)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	sell, err := c.Sell(buy.NewPoolYes, buy.NewPoolNo, model.SideYes, buy.Shares)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if sell.Payout.Sub(investment).Abs().GreaterThan(tolerance) {
		t.Errorf("zero-fee round trip should return ≈ investment: got %s", sell.Payout)
	}
}
