package telemetry

import (
	"testing"
	"time"
)

// cet is the fixed +01:00 zone used by the day-boundary tests.
var cet = time.FixedZone("", 60*60)

// localAt builds a Moment whose local wall clock in cet is the given time.
func localAt(day, h, m, s int) Moment {
	l := time.Date(2026, 1, day, h, m, s, 0, cet)
	return At(l.UTC(), 60)
}

func TestIsSentinel(t *testing.T) {
	tests := []struct {
		v    float64
		want bool
	}{
		{999.9, true},
		{999.85, true},
		{1000.0, true},
		{999.78, false},
		{1000.02, false},
		{0, false},
		{-999.9, false},
	}
	for _, tt := range tests {
		if got := IsSentinel(tt.v, DefaultSentinel); got != tt.want {
			t.Errorf("IsSentinel(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestValueOr(t *testing.T) {
	if got := None.Or(DefaultSentinel); got != DefaultSentinel {
		t.Errorf("None.Or = %v, want sentinel", got)
	}
	if got := Some(21.5).Or(DefaultSentinel); got != 21.5 {
		t.Errorf("Some(21.5).Or = %v, want 21.5", got)
	}
}

func TestMomentLocalDate(t *testing.T) {
	// 23:30 UTC on Jan 1 is 00:30 on Jan 2 at +01:00.
	m := At(time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC), 60)
	d := m.LocalDate()
	if d.Day() != 2 || d.Hour() != 0 || d.Minute() != 0 {
		t.Errorf("expected local date Jan 2 00:00, got %v", d)
	}
	if got := m.Local().Hour(); got != 0 {
		t.Errorf("expected local hour 0, got %d", got)
	}
}

func TestMomentSecondsToMidnight(t *testing.T) {
	if got := localAt(1, 23, 59, 45).SecondsToMidnight(); got != 15 {
		t.Errorf("expected 15s to midnight, got %d", got)
	}
	if got := localAt(1, 0, 0, 0).SecondsToMidnight(); got != 86400 {
		t.Errorf("expected 86400s to midnight, got %d", got)
	}
}
