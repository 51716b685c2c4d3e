package telemetry

import "time"

// AggregatorConfig configures a group of continuous-measurement channels.
type AggregatorConfig struct {
	Channels           int
	SendInterval       time.Duration
	InvalidateInterval time.Duration
	LowerLimit         float64
	UpperLimit         float64
	// Sentinel is the upstream "no reading" marker. Zero means DefaultSentinel.
	Sentinel float64
}

// channelState holds the rolling statistics of one channel.
type channelState struct {
	feedCount         int
	summed            float64
	current           Value
	previous          Value
	unclipped         float64
	unclippedPrevious float64
	lastSentUnclipped float64
	lastUpdate        time.Time
}

// ChannelStats is a read-only view of one channel's raw state.
type ChannelStats struct {
	FeedCount         int
	Summed            float64
	Average           Value
	Current           Value
	Previous          Value
	Unclipped         float64
	UnclippedPrevious float64
	LastSentUnclipped float64
	LastUpdate        time.Time
}

// Sample is the reported state of one channel.
type Sample struct {
	Average           Value
	Current           Value
	Previous          Value
	Unclipped         float64
	UnclippedPrevious float64
	LastUpdate        time.Time
}

// SampleSet is the reported state of a whole group.
type SampleSet struct {
	// LastSendTime is the acknowledgement time before the current one.
	LastSendTime time.Time
	// LastUpdateTime is the time of the most recent accepted feed on any channel.
	LastUpdateTime time.Time
	Samples        []Sample
}

// Aggregator keeps per-channel rolling statistics for one group and decides
// when the group must be uploaded.
//
// Send flags are per group: a group is one upload row. The flow is:
// Feed marks the group due once SendInterval has elapsed since the last
// acknowledged send; Commit (or TakeChecked) acknowledges it.
type Aggregator struct {
	cfg                 AggregatorConfig
	channels            []channelState
	hasToBeSent         bool
	isFirstTransmission bool
	lastSendTime        time.Time
	prevSendTime        time.Time
	lastUpdateTime      time.Time
}

// NewAggregator creates an aggregator with all channels invalid.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Sentinel == 0 {
		cfg.Sentinel = DefaultSentinel
	}
	return &Aggregator{
		cfg:                 cfg,
		channels:            make([]channelState, cfg.Channels),
		isFirstTransmission: true,
	}
}

// Channels returns the number of channels in the group.
func (a *Aggregator) Channels() int {
	return len(a.channels)
}

// Sentinel returns the configured invalid marker.
func (a *Aggregator) Sentinel() float64 {
	return a.cfg.Sentinel
}

// SetLimits changes the physical range used by Checked.
func (a *Aggregator) SetLimits(lower, upper float64) {
	a.cfg.LowerLimit = lower
	a.cfg.UpperLimit = upper
}

// SendInterval returns the configured send interval.
func (a *Aggregator) SendInterval() time.Duration {
	return a.cfg.SendInterval
}

// Feed adds a reading whose display and unclipped values are the same.
// It reports whether the reading was accepted.
func (a *Aggregator) Feed(ch int, now time.Time, v float64, counterLike bool) bool {
	return a.FeedPair(ch, now, v, v, counterLike)
}

// FeedPair adds a reading with a separate unclipped value. Counter-like
// channels are not averaged. Readings inside the sentinel band are dropped
// without any state change.
func (a *Aggregator) FeedPair(ch int, now time.Time, display, unclipped float64, counterLike bool) bool {
	if ch < 0 || ch >= len(a.channels) {
		return false
	}
	if IsSentinel(display, a.cfg.Sentinel) {
		return false
	}
	c := &a.channels[ch]

	if !counterLike {
		c.feedCount++
		c.summed += display
	}

	c.previous = c.current
	c.unclippedPrevious = c.unclipped
	c.current = Some(display)
	c.unclipped = unclipped

	c.lastUpdate = now
	a.lastUpdateTime = now

	if a.isFirstTransmission {
		a.hasToBeSent = true
		a.lastSendTime = now
		a.isFirstTransmission = false
		c.lastSentUnclipped = c.unclipped
		return true
	}

	// lastSendTime only moves on Commit: "became due" is not "was sent".
	if !a.lastSendTime.After(now.Add(-a.cfg.SendInterval)) {
		a.hasToBeSent = true
		c.lastSentUnclipped = c.unclipped
	}
	return true
}

// HasToBeSent reports whether the group is due for upload. It does not clear
// the flag.
func (a *Aggregator) HasToBeSent() bool {
	return a.hasToBeSent
}

// MarkDue forces the group due on the next upload cycle.
func (a *Aggregator) MarkDue() {
	a.hasToBeSent = true
}

// IsFirstTransmission reports whether nothing was accepted or acknowledged yet.
func (a *Aggregator) IsFirstTransmission() bool {
	return a.isFirstTransmission
}

// LastSendTime returns the time of the last acknowledged send.
func (a *Aggregator) LastSendTime() time.Time {
	return a.lastSendTime
}

// Channel returns the raw state of ch.
func (a *Aggregator) Channel(ch int) ChannelStats {
	if ch < 0 || ch >= len(a.channels) {
		return ChannelStats{}
	}
	c := a.channels[ch]
	return ChannelStats{
		FeedCount:         c.feedCount,
		Summed:            c.summed,
		Average:           c.average(),
		Current:           c.current,
		Previous:          c.previous,
		Unclipped:         c.unclipped,
		UnclippedPrevious: c.unclippedPrevious,
		LastSentUnclipped: c.lastSentUnclipped,
		LastUpdate:        c.lastUpdate,
	}
}

func (c *channelState) average() Value {
	if c.feedCount == 0 {
		return None
	}
	return Some(c.summed / float64(c.feedCount))
}

// Raw returns the group without range or staleness checks.
func (a *Aggregator) Raw() SampleSet {
	set := a.newSet()
	for i := range a.channels {
		c := &a.channels[i]
		set.Samples[i] = Sample{
			Average:           c.average(),
			Current:           c.current,
			Previous:          c.previous,
			Unclipped:         c.unclipped,
			UnclippedPrevious: c.unclippedPrevious,
			LastUpdate:        c.lastUpdate,
		}
	}
	return set
}

// Checked returns the group with values outside the limits, and channels not
// fed within InvalidateInterval, replaced by None. It does not acknowledge.
func (a *Aggregator) Checked(now time.Time) SampleSet {
	set := a.Raw()
	for i := range set.Samples {
		s := &set.Samples[i]
		if now.Sub(s.LastUpdate) >= a.cfg.InvalidateInterval {
			s.Average = None
			s.Current = None
			s.Previous = None
			continue
		}
		s.Average = a.clip(s.Average)
		s.Current = a.clip(s.Current)
		s.Previous = a.clip(s.Previous)
	}
	return set
}

// Commit acknowledges a send at now: the group is no longer due, the next
// send interval starts at now and the running averages restart.
func (a *Aggregator) Commit(now time.Time) {
	a.hasToBeSent = false
	a.isFirstTransmission = false
	a.prevSendTime = a.lastSendTime
	a.lastSendTime = now
	for i := range a.channels {
		a.channels[i].feedCount = 0
		a.channels[i].summed = 0
	}
}

// TakeChecked is Checked followed by Commit. A query through TakeChecked is a
// commit: if the caller then fails to deliver, the values are gone.
func (a *Aggregator) TakeChecked(now time.Time) SampleSet {
	set := a.Checked(now)
	a.Commit(now)
	set.LastSendTime = a.prevSendTime
	return set
}

func (a *Aggregator) newSet() SampleSet {
	return SampleSet{
		LastSendTime:   a.lastSendTime,
		LastUpdateTime: a.lastUpdateTime,
		Samples:        make([]Sample, len(a.channels)),
	}
}

func (a *Aggregator) clip(v Value) Value {
	if !v.Valid || v.V < a.cfg.LowerLimit || v.V > a.cfg.UpperLimit {
		return None
	}
	return v
}
