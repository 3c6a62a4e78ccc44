package quota

import (
	"testing"
	"time"
)

func TestRemaining(t *testing.T) {
	l := NewLimiter(25)

	tests := []struct {
		today, want int
	}{
		{0, 25},
		{1, 24},
		{24, 1},
		{25, 0},
		{30, 0},
	}
	for _, tt := range tests {
		if got := l.Remaining(tt.today); got != tt.want {
			t.Errorf("Remaining(%d) = %d, want %d", tt.today, got, tt.want)
		}
	}
}

func TestCheck(t *testing.T) {
	l := NewLimiter(25)

	if err := l.Check(24); err != nil {
		t.Errorf("24 of 25 used should pass, got %v", err)
	}
	if err := l.Check(25); err != ErrQuotaExhausted {
		t.Errorf("expected ErrQuotaExhausted at cap, got %v", err)
	}
	if err := l.Check(26); err != ErrQuotaExhausted {
		t.Errorf("expected ErrQuotaExhausted over cap, got %v", err)
	}
}

func TestNewLimiter_CoercesBadCap(t *testing.T) {
	if got := NewLimiter(0).Cap(); got != 1 {
		t.Errorf("cap 0 should coerce to 1, got %d", got)
	}
	if got := NewLimiter(-5).Cap(); got != 1 {
		t.Errorf("negative cap should coerce to 1, got %d", got)
	}
}

func TestDayStart_UTCBoundary(t *testing.T) {
	// 23:59 UTC and 00:01 UTC the next day fall in different quota days.
	late := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	early := time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)

	if DayStart(late).Equal(DayStart(early)) {
		t.Error("expected different day starts across midnight UTC")
	}
	if !DayStart(late).Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected day start: %s", DayStart(late))
	}
}

func TestDayStart_NormalizesZone(t *testing.T) {
	// A local-zone timestamp maps to the same UTC day boundary.
	zone := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2025, 6, 2, 3, 0, 0, 0, zone) // 2025-06-01 22:00 UTC

	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if !DayStart(local).Equal(want) {
		t.Errorf("DayStart(%s) = %s, want %s", local, DayStart(local), want)
	}
}
