package telemetry

import "time"

// MinReadInterval bounds polling cost; shorter intervals are clamped to it.
const MinReadInterval = 2 * time.Second

type gateChannel struct {
	interval time.Duration
	lastRead time.Time
	active   bool
}

// ReadGate decides per channel whether a fresh read is due.
type ReadGate struct {
	channels []gateChannel
}

// NewReadGate creates a gate for the given number of channels, all active,
// all using interval.
func NewReadGate(channels int, interval time.Duration) *ReadGate {
	g := &ReadGate{channels: make([]gateChannel, channels)}
	for i := range g.channels {
		g.channels[i].active = true
	}
	g.SetInterval(interval)
	return g
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinReadInterval {
		return MinReadInterval
	}
	return d
}

// SetInterval sets the read interval of every channel.
func (g *ReadGate) SetInterval(d time.Duration) {
	for i := range g.channels {
		g.channels[i].interval = clampInterval(d)
	}
}

// SetChannelInterval sets the read interval of one channel.
func (g *ReadGate) SetChannelInterval(ch int, d time.Duration) {
	if !g.valid(ch) {
		return
	}
	g.channels[ch].interval = clampInterval(d)
}

// Interval returns the effective interval of ch.
func (g *ReadGate) Interval(ch int) time.Duration {
	if !g.valid(ch) {
		return 0
	}
	return g.channels[ch].interval
}

// SetActive enables or disables a channel. Inactive channels are never due.
func (g *ReadGate) SetActive(ch int, active bool) {
	if !g.valid(ch) {
		return
	}
	g.channels[ch].active = active
}

// IsDue reports whether ch is due at now, i.e. now is strictly after
// lastRead+interval. With reset set, a positive check consumes the due-ness
// by moving lastRead to now; with reset unset the check is a peek.
func (g *ReadGate) IsDue(ch int, now time.Time, reset bool) bool {
	if !g.valid(ch) {
		return false
	}
	c := &g.channels[ch]
	if !c.active || !now.After(c.lastRead.Add(c.interval)) {
		return false
	}
	if reset {
		c.lastRead = now
	}
	return true
}

// MarkRead records a read of ch at now regardless of due-ness.
func (g *ReadGate) MarkRead(ch int, now time.Time) {
	if !g.valid(ch) {
		return
	}
	g.channels[ch].lastRead = now
}

// LastRead returns the time of the last consumed read of ch.
func (g *ReadGate) LastRead(ch int) time.Time {
	if !g.valid(ch) {
		return time.Time{}
	}
	return g.channels[ch].lastRead
}

func (g *ReadGate) valid(ch int) bool {
	return ch >= 0 && ch < len(g.channels)
}
