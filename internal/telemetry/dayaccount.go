package telemetry

import "time"

// BoundaryWindow is the span before local midnight in which channels that are
// on get closed out for the day.
const BoundaryWindow = 15 * time.Second

// maxQueuedRows bounds the rows kept per channel while the uploader lags.
const maxQueuedRows = 64

// OnOffRow is one reportable state change of a binary channel.
type OnOffRow struct {
	Channel   int
	State     bool
	LastState bool
	// OnTimeDay is the accumulated on-time of the local day at SampleTime.
	OnTimeDay time.Duration
	// LastSwitch is the local time the channel last went on.
	LastSwitch time.Time
	// TimeFromLast is the time since the previous state change.
	TimeFromLast time.Duration
	// SampleTime is the local time of the change.
	SampleTime time.Time
	// Forced marks the synthetic midnight close-out and re-open.
	Forced bool
}

// OnOffValue is the current view of one binary channel.
type OnOffValue struct {
	Channel     int
	State       bool
	LastState   bool
	OnTimeToday time.Duration
	// OnTimeNow includes the running on-period.
	OnTimeNow    time.Duration
	LastSwitch   time.Time
	HasToBeSent  bool
	DayIsLocked  bool
	ResetPending bool
}

// dayAccount is the per-channel day bookkeeping.
//
// Flag transitions:
//   - dayIsLocked: set by the close-out in the boundary window, cleared at rollover.
//   - resetPending: set by the close-out, cleared by the forced re-open at
//     rollover or by a real off before it.
type dayAccount struct {
	state        bool
	lastState    bool
	onTimeToday  time.Duration
	lastSwitch   time.Time
	lastChange   time.Time
	day          time.Time
	hasDay       bool
	dayIsLocked  bool
	resetPending bool
	queue        []OnOffRow
}

// DayAccountant accumulates per local day the on-time of binary channels and
// queues one row per logical state change for upload.
type DayAccountant struct {
	accounts []dayAccount
	dropped  int
}

// NewDayAccountant creates an accountant with all channels off.
func NewDayAccountant(channels int) *DayAccountant {
	return &DayAccountant{accounts: make([]dayAccount, channels)}
}

// Preset sets the initial state of ch without queuing a row.
func (a *DayAccountant) Preset(ch int, on bool, m Moment) {
	if !a.valid(ch) {
		return
	}
	acc := &a.accounts[ch]
	acc.state = on
	acc.lastState = on
	acc.day = m.LocalDate()
	acc.hasDay = true
	acc.lastChange = m.Local()
	if on {
		acc.lastSwitch = m.Local()
	}
}

// OnChange records a logical state change of ch at m.
func (a *DayAccountant) OnChange(ch int, on bool, m Moment) {
	if !a.valid(ch) {
		return
	}
	a.rollover(ch, m)
	acc := &a.accounts[ch]
	if on == acc.state {
		if !on && acc.resetPending {
			// Really off now; the forced re-open is no longer owed.
			acc.resetPending = false
		}
		return
	}
	a.transition(ch, on, m.Local(), false)
}

// Advance performs time-driven work: the midnight rollover and the close-out
// of channels that are on during the last seconds of the local day.
func (a *DayAccountant) Advance(m Moment) {
	inWindow := InBoundaryWindow(m)
	endOfDay := m.LocalDate().Add(24*time.Hour - time.Second)
	for ch := range a.accounts {
		a.rollover(ch, m)
		acc := &a.accounts[ch]
		if inWindow && acc.state && !acc.dayIsLocked && !acc.resetPending {
			a.transition(ch, false, endOfDay, true)
			acc.dayIsLocked = true
			acc.resetPending = true
		}
	}
}

// InBoundaryWindow reports whether m lies in the last BoundaryWindow of its
// local day, that is from 23:59:46 on.
func InBoundaryWindow(m Moment) bool {
	return time.Duration(m.SecondsToMidnight())*time.Second < BoundaryWindow
}

func (a *DayAccountant) rollover(ch int, m Moment) {
	acc := &a.accounts[ch]
	today := m.LocalDate()
	if !acc.hasDay {
		acc.day = today
		acc.hasDay = true
		return
	}
	if sameDay(acc.day, today) {
		return
	}
	acc.day = today
	acc.onTimeToday = 0
	acc.dayIsLocked = false
	switch {
	case acc.resetPending:
		acc.resetPending = false
		a.transition(ch, true, today, true)
	case acc.state:
		// On across midnight without a close-out: today's on-time starts now.
		acc.lastSwitch = today
	}
}

func (a *DayAccountant) transition(ch int, on bool, at time.Time, forced bool) {
	acc := &a.accounts[ch]
	// A change inside the closed-out seconds is stamped at the close-out.
	if at.Before(acc.lastChange) {
		at = acc.lastChange
	}
	var fromLast time.Duration
	if !acc.lastChange.IsZero() {
		fromLast = at.Sub(acc.lastChange)
	}

	acc.lastState = acc.state
	acc.state = on
	acc.lastChange = at
	if on {
		acc.lastSwitch = at
	} else if !acc.lastSwitch.IsZero() {
		acc.onTimeToday += at.Sub(acc.lastSwitch)
	}

	a.enqueue(ch, OnOffRow{
		Channel:      ch,
		State:        acc.state,
		LastState:    acc.lastState,
		OnTimeDay:    acc.onTimeToday,
		LastSwitch:   acc.lastSwitch,
		TimeFromLast: fromLast,
		SampleTime:   at,
		Forced:       forced,
	})
}

func (a *DayAccountant) enqueue(ch int, row OnOffRow) {
	acc := &a.accounts[ch]
	if len(acc.queue) >= maxQueuedRows {
		acc.queue = acc.queue[1:]
		a.dropped++
	}
	acc.queue = append(acc.queue, row)
}

// OneIsDue reports whether any channel has a row to upload or owes
// boundary work at m. It changes nothing.
func (a *DayAccountant) OneIsDue(m Moment) bool {
	inWindow := InBoundaryWindow(m)
	today := m.LocalDate()
	for _, acc := range a.accounts {
		if len(acc.queue) > 0 {
			return true
		}
		if acc.resetPending && acc.hasDay && !sameDay(acc.day, today) {
			return true
		}
		if inWindow && acc.state && !acc.dayIsLocked && !acc.resetPending {
			return true
		}
	}
	return false
}

// PeekRow returns the oldest row of the lowest channel that has one.
// Uploaders send at most one row per cycle.
func (a *DayAccountant) PeekRow() (OnOffRow, bool) {
	for _, acc := range a.accounts {
		if len(acc.queue) > 0 {
			return acc.queue[0], true
		}
	}
	return OnOffRow{}, false
}

// AckRow removes the oldest row of ch after a successful upload.
func (a *DayAccountant) AckRow(ch int) {
	if !a.valid(ch) || len(a.accounts[ch].queue) == 0 {
		return
	}
	a.accounts[ch].queue = a.accounts[ch].queue[1:]
}

// TakeRow is PeekRow followed by AckRow.
func (a *DayAccountant) TakeRow() (OnOffRow, bool) {
	row, ok := a.PeekRow()
	if ok {
		a.AckRow(row.Channel)
	}
	return row, ok
}

// Pending returns the number of queued rows of ch.
func (a *DayAccountant) Pending(ch int) int {
	if !a.valid(ch) {
		return 0
	}
	return len(a.accounts[ch].queue)
}

// Dropped returns how many rows were discarded because a queue was full.
func (a *DayAccountant) Dropped() int {
	return a.dropped
}

// ValueSet returns the current state of every channel at m.
func (a *DayAccountant) ValueSet(m Moment) []OnOffValue {
	now := m.Local()
	out := make([]OnOffValue, len(a.accounts))
	for ch, acc := range a.accounts {
		v := OnOffValue{
			Channel:      ch,
			State:        acc.state,
			LastState:    acc.lastState,
			OnTimeToday:  acc.onTimeToday,
			OnTimeNow:    acc.onTimeToday,
			LastSwitch:   acc.lastSwitch,
			HasToBeSent:  len(acc.queue) > 0,
			DayIsLocked:  acc.dayIsLocked,
			ResetPending: acc.resetPending,
		}
		if acc.state && !acc.lastSwitch.IsZero() && sameDay(acc.lastSwitch, now) && now.After(acc.lastSwitch) {
			v.OnTimeNow += now.Sub(acc.lastSwitch)
		}
		out[ch] = v
	}
	return out
}

func (a *DayAccountant) valid(ch int) bool {
	return ch >= 0 && ch < len(a.accounts)
}
