// Package quota enforces the per-user daily order cap.
//
// A user's quota is the count of their committed BUY/SELL transaction
// records in the current UTC calendar day. The day boundary is fixed to
// UTC regardless of server locale, so the cap resets at the same moment
// for every user. The limiter itself is a pure checker; the ledger
// re-counts inside the trade commit so two concurrent orders cannot both
// consume the last slot.
package quota

import (
	"errors"
	"time"
)

// ErrQuotaExhausted is returned when a user has no orders left today.
// This is a business rejection, not a system fault: state is unchanged.
var ErrQuotaExhausted = errors.New("quota: daily order cap reached")

// Limiter checks executed-order counts against a configurable daily cap.
type Limiter struct {
	cap int
}

// NewLimiter creates a limiter with the given daily cap. Caps below 1
// are coerced to 1.
func NewLimiter(dailyCap int) *Limiter {
	if dailyCap < 1 {
		dailyCap = 1
	}
	return &Limiter{cap: dailyCap}
}

// Cap returns the configured daily cap.
func (l *Limiter) Cap() int {
	return l.cap
}

// Remaining returns how many orders are left given today's committed
// count. Never negative.
func (l *Limiter) Remaining(todayCount int) int {
	r := l.cap - todayCount
	if r < 0 {
		return 0
	}
	return r
}

// Check returns ErrQuotaExhausted when todayCount has reached the cap.
func (l *Limiter) Check(todayCount int) error {
	if todayCount >= l.cap {
		return ErrQuotaExhausted
	}
	return nil
}

// DayStart returns the beginning of now's UTC calendar day. Transaction
// records at or after this instant count against today's quota.
func DayStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
