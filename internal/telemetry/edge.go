package telemetry

import "time"

// EdgeState is the change-detection state of one binary channel.
type EdgeState struct {
	Stable         bool
	Changed        bool
	LastTransition time.Time
}

// EdgeTracker turns a polled boolean feed into a stable state plus a one-shot
// changed flag per channel. It does immediate edge detection only; noisy
// inputs go through a Debouncer first.
type EdgeTracker struct {
	channels []EdgeState
}

// NewEdgeTracker creates a tracker with all channels off.
func NewEdgeTracker(channels int) *EdgeTracker {
	return &EdgeTracker{channels: make([]EdgeState, channels)}
}

// Feed applies a raw reading. A differing value becomes the new stable state
// and raises the changed flag.
func (e *EdgeTracker) Feed(ch int, raw bool, now time.Time) {
	if ch < 0 || ch >= len(e.channels) {
		return
	}
	s := &e.channels[ch]
	if raw == s.Stable {
		return
	}
	s.Stable = raw
	s.LastTransition = now
	s.Changed = true
}

// Preset sets the stable state without raising the changed flag.
func (e *EdgeTracker) Preset(ch int, state bool, now time.Time) {
	if ch < 0 || ch >= len(e.channels) {
		return
	}
	e.channels[ch] = EdgeState{Stable: state, LastTransition: now}
}

// HasChanged peeks at the changed flag.
func (e *EdgeTracker) HasChanged(ch int) bool {
	if ch < 0 || ch >= len(e.channels) {
		return false
	}
	return e.channels[ch].Changed
}

// TakeChanged returns the changed flag and clears it.
func (e *EdgeTracker) TakeChanged(ch int) bool {
	if ch < 0 || ch >= len(e.channels) {
		return false
	}
	changed := e.channels[ch].Changed
	e.channels[ch].Changed = false
	return changed
}

// State returns the stable state of ch.
func (e *EdgeTracker) State(ch int) bool {
	if ch < 0 || ch >= len(e.channels) {
		return false
	}
	return e.channels[ch].Stable
}

// LastTransition returns the time of the last stable change of ch.
func (e *EdgeTracker) LastTransition(ch int) time.Time {
	if ch < 0 || ch >= len(e.channels) {
		return time.Time{}
	}
	return e.channels[ch].LastTransition
}

// Channel returns a copy of the state of ch.
func (e *EdgeTracker) Channel(ch int) EdgeState {
	if ch < 0 || ch >= len(e.channels) {
		return EdgeState{}
	}
	return e.channels[ch]
}
