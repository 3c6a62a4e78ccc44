// Package amm implements the constant-product automated market maker for
// binary YES/NO prediction markets.
//
// The curve keeps poolYes * poolNo = k invariant across the swap leg of
// every trade. Buys execute as a two-leg hybrid: a mint leg that creates
// one share per net currency unit at par (outside the curve), plus a swap
// leg that pushes the net amount through the pools. Sells solve a
// quadratic for the swap amount that returns shares to the pool pair.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The only transcendental step, the square root of the sell-side
// discriminant, runs in float64 and is immediately converted back to
// decimal.
package amm

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/claimdex/market-engine/internal/model"
)

var (
	// ErrInvalidFeeRate is returned when the fee rate is outside [0, 1).
	ErrInvalidFeeRate = errors.New("amm: fee rate must be in [0, 1)")

	// ErrInvalidAmount is returned for zero or negative trade amounts.
	ErrInvalidAmount = errors.New("amm: amount must be positive")

	// ErrLiquidityExceeded is returned when a sell is not servable by the
	// current pool pair: negative discriminant, a swap amount outside
	// [0, sharesToSell], or a payout that fees consume entirely.
	ErrLiquidityExceeded = errors.New("amm: sell size exceeds available liquidity")

	// PriceScale is the number of decimal places for price rounding.
	PriceScale int32 = 8
)

// Curve prices trades against a (poolYes, poolNo) pair. It is stateless —
// pool quantities are passed as arguments, not stored — and all methods
// are pure: committing the returned pool deltas is the caller's job.
type Curve struct {
	feeRate decimal.Decimal
}

// NewCurve creates a curve with the given fee rate (e.g. 0.02 for 2%).
// The fee is charged on gross investment for buys and on gross payout for
// sells, and never passes through the pools.
func NewCurve(feeRate decimal.Decimal) (*Curve, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidFeeRate
	}
	return &Curve{feeRate: feeRate}, nil
}

// FeeRate returns the configured fee rate.
func (c *Curve) FeeRate() decimal.Decimal {
	return c.feeRate
}

// Price returns the implied price of a side: the opposite pool divided by
// the total. More NO liquidity relative to YES makes YES more expensive.
func Price(poolYes, poolNo decimal.Decimal, side model.Side) decimal.Decimal {
	total := poolYes.Add(poolNo)
	if total.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	opposite := poolNo
	if side == model.SideNo {
		opposite = poolYes
	}
	return opposite.Div(total).Round(PriceScale)
}

// BuyQuote is the result of pricing a buy against the curve.
type BuyQuote struct {
	Shares     decimal.Decimal // minted + swapped shares received
	Fee        decimal.Decimal
	AvgPrice   decimal.Decimal // gross investment / shares
	FinalPrice decimal.Decimal // implied price of the bought side after the trade
	NewPoolYes decimal.Decimal
	NewPoolNo  decimal.Decimal
}

// Buy quotes spending `investment` on `side`.
//
// fee = investment * feeRate; net = investment - fee. The mint leg yields
// net shares at par and does not touch the pools. The swap leg injects
// net into the opposite pool and shrinks the same-side pool back onto
// k = poolYes * poolNo; its yield is the same-side pool's decrease.
func (c *Curve) Buy(poolYes, poolNo decimal.Decimal, side model.Side, investment decimal.Decimal) (BuyQuote, error) {
	if investment.LessThanOrEqual(decimal.Zero) {
		return BuyQuote{}, ErrInvalidAmount
	}

	fee := investment.Mul(c.feeRate)
	net := investment.Sub(fee)
	k := poolYes.Mul(poolNo)

	same := poolYes
	opposite := poolNo
	if side == model.SideNo {
		same = poolNo
		opposite = poolYes
	}

	newOpposite := opposite.Add(net)
	newSame := k.Div(newOpposite)
	swapYield := same.Sub(newSame)

	shares := net.Add(swapYield)

	q := BuyQuote{
		Shares:   shares,
		Fee:      fee,
		AvgPrice: investment.Div(shares).Round(PriceScale),
	}
	if side == model.SideYes {
		q.NewPoolYes, q.NewPoolNo = newSame, newOpposite
	} else {
		q.NewPoolYes, q.NewPoolNo = newOpposite, newSame
	}
	q.FinalPrice = Price(q.NewPoolYes, q.NewPoolNo, side)
	return q, nil
}

// SellQuote is the result of pricing a sell against the curve.
type SellQuote struct {
	Payout     decimal.Decimal // cash returned after fee
	Fee        decimal.Decimal
	AvgPrice   decimal.Decimal // payout / shares sold
	FinalPrice decimal.Decimal // implied price of the sold side after the trade
	NewPoolYes decimal.Decimal
	NewPoolNo  decimal.Decimal
}

// Sell quotes selling `shares` of `side` back to the market.
//
// With Y the sold side's pool, N the opposite pool, and k = Y*N, the
// swap amount s satisfies
//
//	s^2 + (Y + N - shares)*s + (Y*(N - shares) - k) = 0
//
// taking the root (-b + sqrt(disc)) / 2. shares - s is paid out in cash
// before fees; the pools move to (Y + s, k / (Y + s)).
func (c *Curve) Sell(poolYes, poolNo decimal.Decimal, side model.Side, shares decimal.Decimal) (SellQuote, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return SellQuote{}, ErrInvalidAmount
	}

	k := poolYes.Mul(poolNo)
	y := poolYes
	n := poolNo
	if side == model.SideNo {
		y, n = poolNo, poolYes
	}

	// Quadratic coefficients (a = 1).
	b := y.Add(n).Sub(shares)
	cc := y.Mul(n.Sub(shares)).Sub(k)

	disc := b.Mul(b).Sub(decimal.NewFromInt(4).Mul(cc))
	if disc.IsNegative() {
		return SellQuote{}, ErrLiquidityExceeded
	}

	root := decimal.NewFromFloat(math.Sqrt(disc.InexactFloat64()))
	swap := root.Sub(b).Div(decimal.NewFromInt(2))
	if swap.IsNegative() || swap.GreaterThan(shares) {
		return SellQuote{}, ErrLiquidityExceeded
	}

	payoutGross := shares.Sub(swap)
	fee := payoutGross.Mul(c.feeRate)
	payout := payoutGross.Sub(fee)
	if payout.LessThanOrEqual(decimal.Zero) {
		return SellQuote{}, ErrLiquidityExceeded
	}

	newY := y.Add(swap)
	newN := k.Div(newY)

	q := SellQuote{
		Payout:   payout,
		Fee:      fee,
		AvgPrice: payout.Div(shares).Round(PriceScale),
	}
	if side == model.SideYes {
		q.NewPoolYes, q.NewPoolNo = newY, newN
	} else {
		q.NewPoolYes, q.NewPoolNo = newN, newY
	}
	q.FinalPrice = Price(q.NewPoolYes, q.NewPoolNo, side)
	return q, nil
}
