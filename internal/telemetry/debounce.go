package telemetry

import "time"

// debounceChannel tracks debounce state for a single channel.
type debounceChannel struct {
	// Current stable (debounced) state
	stable bool
	// Pending state during debounce
	pending    bool
	hasPending bool
	// Time when pending state was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool
}

// Debouncer is a time-hysteresis filter placed in front of an EdgeTracker.
// A raw value must hold for the debounce duration before it becomes stable.
type Debouncer struct {
	duration time.Duration
	channels []debounceChannel
}

// NewDebouncer creates a debouncer for the given number of channels.
// A zero duration passes values through once each channel has been seen.
func NewDebouncer(channels int, duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		channels: make([]debounceChannel, channels),
	}
}

// Filter takes a raw sample and returns the stable state of ch. ok is false
// until the channel has established a baseline.
func (d *Debouncer) Filter(ch int, raw bool, now time.Time) (stable bool, ok bool) {
	if ch < 0 || ch >= len(d.channels) {
		return false, false
	}
	c := &d.channels[ch]

	// First time seeing this channel
	if !c.baselined {
		if !c.hasPending || c.pending != raw {
			// Start observing, or state changed during baseline: restart
			c.pending = raw
			c.hasPending = true
			c.pendingSince = now
			if d.duration > 0 {
				return false, false
			}
		}
		if now.Sub(c.pendingSince) >= d.duration {
			c.stable = raw
			c.baselined = true
			c.hasPending = false
			return c.stable, true
		}
		return false, false
	}

	// Already baselined - detect transitions
	if raw == c.stable {
		c.hasPending = false
		return c.stable, true
	}

	if !c.hasPending || c.pending != raw {
		c.pending = raw
		c.hasPending = true
		c.pendingSince = now
	}

	if now.Sub(c.pendingSince) >= d.duration {
		c.stable = raw
		c.hasPending = false
	}
	return c.stable, true
}

// IsBaselined reports whether every channel has a baseline.
func (d *Debouncer) IsBaselined() bool {
	for _, c := range d.channels {
		if !c.baselined {
			return false
		}
	}
	return true
}
