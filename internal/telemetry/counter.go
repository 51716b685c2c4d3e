package telemetry

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// CounterConfig configures a CounterReconciler. Zero fields take defaults.
type CounterConfig struct {
	// DecimalShift scales raw readings to keep one fractional digit (default 10).
	DecimalShift int64
	// DisplayWidth is the maximum number of characters of the display value (default 4).
	DisplayWidth int
	// RateScale multiplies the per-minute rate (default 10).
	RateScale float64
	// MinRateAge is the minimum time since the last send before a rate is reported (default 5s).
	MinRateAge time.Duration
}

func (c CounterConfig) withDefaults() CounterConfig {
	if c.DecimalShift == 0 {
		c.DecimalShift = 10
	}
	if c.DisplayWidth == 0 {
		c.DisplayWidth = 4
	}
	if c.RateScale == 0 {
		c.RateScale = 10
	}
	if c.MinRateAge == 0 {
		c.MinRateAge = 5 * time.Second
	}
	return c
}

// CounterReading is the outcome of one Reconcile call.
type CounterReading struct {
	Valid bool
	// Display is the short live-display value (least significant digits).
	Display float64
	// Unclipped is the full-precision scaled counter value.
	Unclipped float64
	// Previous is the unclipped value of the reading before this one.
	Previous float64
	DayBase  float64
	// Truncated is set when leading digits were dropped for display.
	Truncated bool
	// Wrapped is set when the counter went down within wrap tolerance.
	Wrapped bool
	// Regression is set when the counter went down beyond wrap tolerance.
	Regression bool
	// NewDay is set when this reading started a new local day.
	NewDay bool
}

// DayRollup is the finished consumption of one local day.
type DayRollup struct {
	Day              time.Time
	DayConsumption   float64
	TotalConsumption float64
}

// CounterReconciler turns a raw wrapping meter counter into a display value,
// a day consumption and a rate. It feeds one channel of an Aggregator and
// reads the send bookkeeping back from it.
type CounterReconciler struct {
	cfg CounterConfig
	agg *Aggregator
	ch  int

	hasDay        bool
	day           time.Time
	dayBase       float64
	lastUnclipped float64
	hasLast       bool

	// rateRef is the unclipped value at the last acknowledged send of the
	// aggregator, taken when its LastSendTime moves.
	rateRef    float64
	rateSince  time.Time
	hasRateRef bool

	pending    DayRollup
	hasPending bool
}

// NewCounterReconciler creates a reconciler feeding channel ch of agg.
func NewCounterReconciler(agg *Aggregator, ch int, cfg CounterConfig) *CounterReconciler {
	return &CounterReconciler{
		cfg: cfg.withDefaults(),
		agg: agg,
		ch:  ch,
	}
}

// Restore seeds the day base from a previous run. A base from another local
// day is discarded on the next Reconcile.
func (c *CounterReconciler) Restore(dayBase float64, day time.Time) {
	c.dayBase = dayBase
	c.day = startOfDay(day)
	c.hasDay = true
}

// DayBase returns the unclipped counter value of the first reading of the
// current day, and the day itself.
func (c *CounterReconciler) DayBase() (float64, time.Time, bool) {
	return c.dayBase, c.day, c.hasDay
}

// Reconcile processes a raw meter reading taken at m.
func (c *CounterReconciler) Reconcile(m Moment, raw float64) CounterReading {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw < 0 || IsSentinel(raw, c.agg.Sentinel()) {
		return CounterReading{}
	}

	c.syncRateRef()
	unclipped, display, truncated := c.scale(raw)
	today := m.LocalDate()
	r := CounterReading{
		Valid:     true,
		Display:   display,
		Unclipped: unclipped,
		Previous:  c.lastUnclipped,
		Truncated: truncated,
	}

	if c.hasLast && unclipped < c.lastUnclipped {
		if IsRegression(c.lastUnclipped, unclipped) {
			r.Regression = true
		} else {
			r.Wrapped = true
		}
	}

	switch {
	case !c.hasDay:
		c.dayBase = unclipped
		c.day = today
		c.hasDay = true
	case !sameDay(c.day, today):
		if c.hasLast {
			c.pending = DayRollup{
				Day:              c.day,
				DayConsumption:   Delta(c.dayBase, c.lastUnclipped),
				TotalConsumption: c.lastUnclipped,
			}
			c.hasPending = true
		}
		c.dayBase = unclipped
		c.day = today
		r.NewDay = true
	}
	r.DayBase = c.dayBase

	c.lastUnclipped = unclipped
	c.hasLast = true
	c.agg.FeedPair(c.ch, m.UTC, display, unclipped, true)
	if !c.hasRateRef {
		c.rateRef = unclipped
		c.rateSince = c.agg.LastSendTime()
		c.hasRateRef = true
	}
	return r
}

// syncRateRef moves the rate reference to the value that was current when
// the aggregator last acknowledged a send. The aggregator's own due-time
// snapshot is not used: it is refreshed by the feed that makes the group due
// and would yield a zero rate right before the upload.
func (c *CounterReconciler) syncRateRef() {
	if !c.hasLast {
		return
	}
	if sent := c.agg.LastSendTime(); !c.hasRateRef || !sent.Equal(c.rateSince) {
		c.rateRef = c.lastUnclipped
		c.rateSince = sent
		c.hasRateRef = true
	}
}

// scale applies the decimal shift, keeps one fractional digit and derives the
// fixed-width display value by dropping leading characters.
func (c *CounterReconciler) scale(raw float64) (unclipped, display float64, truncated bool) {
	shifted := decimal.NewFromFloat(raw).Mul(decimal.NewFromInt(c.cfg.DecimalShift)).StringFixed(1)
	unclipped, _ = strconv.ParseFloat(shifted, 64)

	s := shifted
	for len(s) > c.cfg.DisplayWidth {
		s = s[1:]
		truncated = true
	}
	display, err := strconv.ParseFloat(s, 64)
	if err != nil {
		display = unclipped
	}
	return unclipped, display, truncated
}

// ComputeDayConsumption returns the consumption since the first reading of
// the current day, in unclipped units.
func (c *CounterReconciler) ComputeDayConsumption() Value {
	if !c.hasDay || !c.hasLast {
		return None
	}
	return Some(Delta(c.dayBase, c.lastUnclipped))
}

// ComputeRate returns the consumption per minute since the last acknowledged
// send, multiplied by RateScale. Too short an interval yields None.
func (c *CounterReconciler) ComputeRate(now time.Time) Value {
	if !c.hasLast {
		return None
	}
	elapsed := now.Sub(c.agg.LastSendTime())
	if elapsed <= c.cfg.MinRateAge {
		return None
	}
	c.syncRateRef()
	delta := Delta(c.rateRef, c.lastUnclipped)
	if delta == 0 {
		return Some(0)
	}
	return Some(delta * c.cfg.RateScale / elapsed.Minutes())
}

// PeekDayRollup returns the pending rollup without consuming it.
func (c *CounterReconciler) PeekDayRollup() (DayRollup, bool) {
	return c.pending, c.hasPending
}

// TakeDayRollup returns and clears the pending rollup.
func (c *CounterReconciler) TakeDayRollup() (DayRollup, bool) {
	r, ok := c.pending, c.hasPending
	c.pending = DayRollup{}
	c.hasPending = false
	return r, ok
}
