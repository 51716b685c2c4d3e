package engine

import (
	"time"

	"github.com/sweeney/boiler-telemetry/internal/report"
	"github.com/sweeney/boiler-telemetry/internal/telemetry"
)

// ChannelView is one analog channel as shown on the status page.
type ChannelView struct {
	Name       string
	Current    telemetry.Value
	Average    telemetry.Value
	LastUpdate time.Time
}

// GroupView is one analog group.
type GroupView struct {
	Name     string
	Due      bool
	LastSend time.Time
	Channels []ChannelView
}

// OnOffView is one binary channel.
type OnOffView struct {
	Name       string
	On         bool
	Baselined  bool
	OnToday    time.Duration
	LastSwitch time.Time
	Pending    int
}

// Snapshot is a point-in-time copy of the engine state. It shares nothing
// with the engine and is safe to hand to other goroutines.
type Snapshot struct {
	Ready          bool
	Groups         []GroupView
	OnOff          []OnOffView
	DayConsumption telemetry.Value
	DayBase        telemetry.Value
	GasUploads     int
	DroppedRows    int
}

// Snapshot captures the state at m.
func (e *Engine) Snapshot(m telemetry.Moment) Snapshot {
	s := Snapshot{
		Ready:          e.Ready(),
		DayConsumption: e.counter.ComputeDayConsumption(),
		GasUploads:     e.gasUploads,
		DroppedRows:    e.accountant.Dropped(),
	}
	if base, _, ok := e.counter.DayBase(); ok {
		s.DayBase = telemetry.Some(base)
	}

	s.Groups = []GroupView{
		groupView("boiler", e.boiler, e.boilerChannelNames()),
		groupView("gas", e.gas, gasColumnNames()),
	}

	values := e.accountant.ValueSet(m)
	s.OnOff = make([]OnOffView, len(values))
	for i, v := range values {
		s.OnOff[i] = OnOffView{
			Name:       e.onoffNames[i],
			On:         v.State,
			Baselined:  e.baselined[i],
			OnToday:    v.OnTimeNow,
			LastSwitch: v.LastSwitch,
			Pending:    e.accountant.Pending(i),
		}
	}
	return s
}

func (e *Engine) boilerChannelNames() []string {
	return columnNames(e.boilerColumns)
}

func gasColumnNames() []string {
	return columnNames(gasColumns())
}

func columnNames(cols []report.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func groupView(name string, agg *telemetry.Aggregator, names []string) GroupView {
	g := GroupView{
		Name:     name,
		Due:      agg.HasToBeSent(),
		LastSend: agg.LastSendTime(),
		Channels: make([]ChannelView, agg.Channels()),
	}
	for ch := range g.Channels {
		stats := agg.Channel(ch)
		g.Channels[ch] = ChannelView{
			Current:    stats.Current,
			Average:    stats.Average,
			LastUpdate: stats.LastUpdate,
		}
		if ch < len(names) {
			g.Channels[ch].Name = names[ch]
		}
	}
	return g
}
