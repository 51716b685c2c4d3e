// Package telemetry contains the aggregation and change-detection core.
// This package does NO I/O (no MQTT, GPIO, OS, logging, or time.Now).
// Time is always injectable via time.Time or Moment parameters.
package telemetry

import "time"

// DefaultSentinel is the legacy "no valid reading" marker used on the wire.
const DefaultSentinel = 999.9

// SentinelTolerance is the band around the sentinel that counts as invalid.
// Text round-trips can perturb the last digit, so equality is never used.
const SentinelTolerance = 0.11

// IsSentinel reports whether v lies within the tolerance band of sentinel.
func IsSentinel(v, sentinel float64) bool {
	return v >= sentinel-SentinelTolerance && v <= sentinel+SentinelTolerance
}

// Value is an optional measurement.
type Value struct {
	V     float64
	Valid bool
}

// None is the invalid value.
var None = Value{}

// Some returns a valid value.
func Some(v float64) Value {
	return Value{V: v, Valid: true}
}

// Or returns the value, or sentinel when invalid.
func (v Value) Or(sentinel float64) float64 {
	if !v.Valid {
		return sentinel
	}
	return v.V
}

// Moment is a single clock reading: the UTC instant plus the UTC offset of
// the local wall clock at that instant, both supplied by the caller.
type Moment struct {
	UTC           time.Time
	OffsetMinutes int
}

// At builds a Moment from a UTC instant and an offset in minutes.
func At(utc time.Time, offsetMinutes int) Moment {
	return Moment{UTC: utc, OffsetMinutes: offsetMinutes}
}

// Add returns the moment d later, keeping the offset.
func (m Moment) Add(d time.Duration) Moment {
	return Moment{UTC: m.UTC.Add(d), OffsetMinutes: m.OffsetMinutes}
}

// Local returns the wall-clock time in a fixed zone of the moment's offset.
func (m Moment) Local() time.Time {
	return m.UTC.In(time.FixedZone("", m.OffsetMinutes*60))
}

// LocalDate returns local midnight of the moment's day.
func (m Moment) LocalDate() time.Time {
	return startOfDay(m.Local())
}

// SameLocalDay reports whether t falls on the moment's local date.
func (m Moment) SameLocalDay(t time.Time) bool {
	return sameDay(m.Local(), t.In(m.Local().Location()))
}

// SecondsToMidnight returns the whole seconds left in the local day.
func (m Moment) SecondsToMidnight() int {
	l := m.Local()
	return 24*3600 - (l.Hour()*3600 + l.Minute()*60 + l.Second())
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
