// Package engine runs one poll and one upload cycle of the telemetry core
// per call. It is single-threaded; runLoop owns it.
package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/boiler-telemetry/internal/config"
	"github.com/sweeney/boiler-telemetry/internal/daystore"
	"github.com/sweeney/boiler-telemetry/internal/metrics"
	"github.com/sweeney/boiler-telemetry/internal/report"
	"github.com/sweeney/boiler-telemetry/internal/telemetry"
)

// ErrCounterRegression is returned by Poll when the gas counter went down
// further than a wrap can explain.
var ErrCounterRegression = errors.New("gas counter regression")

// Gas group channels.
const (
	GasMeter = iota
	GasDay
	GasRate
	GasReboot
	gasChannels
)

// rebootCycle and rebootStep shape the reboot indicator: it counts gas
// uploads since start, stepping every rebootStep and wrapping at rebootCycle.
const (
	rebootCycle = 50
	rebootStep  = 10
)

// ValueSource yields the latest value received for a topic.
type ValueSource interface {
	Latest(topic string) (v float64, at time.Time, ok bool)
}

// BinarySource reads the logical state of every binary channel.
type BinarySource interface {
	Read() ([]bool, error)
}

// Sources are the inputs of one poll cycle. Binary may be nil.
type Sources struct {
	Values ValueSource
	Binary BinarySource
}

// Engine owns the telemetry core of the daemon.
type Engine struct {
	loc *time.Location

	boiler        *telemetry.Aggregator
	boilerGate    *telemetry.ReadGate
	boilerTopics  []string
	boilerSeen    []time.Time
	boilerColumns []report.Column

	gas        *telemetry.Aggregator
	gasGate    *telemetry.ReadGate
	gasTopic   string
	gasSeen    time.Time
	counter    *telemetry.CounterReconciler
	gasUploads int
	dayStore   *daystore.Store
	savedBase  daystore.DayBase

	onoffNames []string
	debouncer  *telemetry.Debouncer
	edges      *telemetry.EdgeTracker
	accountant *telemetry.DayAccountant
	baselined  []bool

	uploader *report.Uploader
	log      *logrus.Entry
	metrics  *metrics.Collector
}

// New builds the engine from cfg. Rows leave through pub. m may be nil.
func New(cfg *config.Config, pub report.Publisher, log *logrus.Entry, m *metrics.Collector) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	nBoiler := len(cfg.Boiler.Topics)
	boiler := telemetry.NewAggregator(telemetry.AggregatorConfig{
		Channels:           nBoiler,
		SendInterval:       cfg.Boiler.SendInterval,
		InvalidateInterval: cfg.Boiler.InvalidateInterval,
		LowerLimit:         cfg.Boiler.LowerLimit,
		UpperLimit:         cfg.Boiler.UpperLimit,
	})
	gas := telemetry.NewAggregator(telemetry.AggregatorConfig{
		Channels:           gasChannels,
		SendInterval:       cfg.Gas.SendInterval,
		InvalidateInterval: cfg.Gas.InvalidateInterval,
		LowerLimit:         cfg.Gas.LowerLimit,
		UpperLimit:         cfg.Gas.UpperLimit,
	})
	counter := telemetry.NewCounterReconciler(gas, GasMeter, telemetry.CounterConfig{
		DisplayWidth: cfg.Gas.DisplayWidth,
	})

	nOnOff := len(cfg.OnOff.Names)
	e := &Engine{
		loc:          loc,
		boiler:       boiler,
		boilerGate:   telemetry.NewReadGate(nBoiler, cfg.Boiler.ReadInterval),
		boilerTopics: cfg.Boiler.Topics,
		boilerSeen:   make([]time.Time, nBoiler),
		gas:          gas,
		gasGate:      telemetry.NewReadGate(1, cfg.Gas.ReadInterval),
		gasTopic:     cfg.Gas.Topic,
		counter:      counter,
		onoffNames:   cfg.OnOff.Names,
		debouncer:    telemetry.NewDebouncer(nOnOff, cfg.GPIO.Debounce),
		edges:        telemetry.NewEdgeTracker(nOnOff),
		accountant:   telemetry.NewDayAccountant(nOnOff),
		baselined:    make([]bool, nOnOff),
		log:          log,
		metrics:      m,
	}

	e.uploader = report.NewUploader(pub, report.Config{
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		AnalogPrefix:   cfg.Upload.AnalogPrefix,
		OnOffPrefix:    cfg.Upload.OnOffPrefix,
		BaseOffset:     cfg.Gas.BaseOffset,
		OnOffNames:     cfg.OnOff.Names,
		Location:       loc,
		FilterCapacity: cfg.Upload.FilterCapacity,
		FalsePositive:  cfg.Upload.FalsePositive,
		ResetUsage:     cfg.Upload.ResetUsage,
	}, log, m)
	e.boilerColumns = boilerColumns(cfg.Boiler.Names)
	e.uploader.AddGroup(report.AnalogGroup{Name: "boiler", Agg: boiler, Columns: e.boilerColumns})
	e.uploader.AddGroup(report.AnalogGroup{Name: "gas", Agg: gas, Columns: gasColumns()})
	e.uploader.SetCounter(counter)
	e.uploader.SetDayAccountant(e.accountant)

	if cfg.Gas.StateFile != "" {
		e.dayStore = daystore.New(cfg.Gas.StateFile)
		e.restoreDayBase()
	}

	return e, nil
}

// restoreDayBase seeds the counter from the state file. A base of another
// day is dropped by the counter on its first reading.
func (e *Engine) restoreDayBase() {
	b, ok, err := e.dayStore.Load()
	if err != nil {
		e.log.WithError(err).Warn("gas day base not restored")
		return
	}
	if !ok {
		return
	}
	e.counter.Restore(b.Base, b.Day)
	e.savedBase = b
	e.log.WithFields(logrus.Fields{"day": b.Day.Format("2006-01-02"), "base": b.Base}).Info("gas day base restored")
}

// saveDayBase writes the counter's day base when it changed.
func (e *Engine) saveDayBase() {
	if e.dayStore == nil {
		return
	}
	base, day, ok := e.counter.DayBase()
	if !ok || (base == e.savedBase.Base && day.Format("2006-01-02") == e.savedBase.Day.Format("2006-01-02")) {
		return
	}
	b := daystore.DayBase{Day: day, Base: base}
	if err := e.dayStore.Save(b); err != nil {
		e.log.WithError(err).WithField("file", e.dayStore.Path()).Warn("gas day base not saved")
		return
	}
	e.savedBase = b
}

func boilerColumns(names []string) []report.Column {
	cols := make([]report.Column, len(names))
	for i, n := range names {
		cols[i] = report.Column{Name: n, Average: true}
	}
	return cols
}

func gasColumns() []report.Column {
	return []report.Column{
		GasMeter:  {Name: "meter", Scale: 0.1},
		GasDay:    {Name: "day"},
		GasRate:   {Name: "rate", Average: true},
		GasReboot: {Name: "reboot", Average: true},
	}
}

// MomentAt pairs t with the UTC offset of loc at t.
func MomentAt(t time.Time, loc *time.Location) telemetry.Moment {
	_, offset := t.In(loc).Zone()
	return telemetry.At(t.UTC(), offset/60)
}

// Now returns the moment of t in the engine's zone.
func (e *Engine) Now(t time.Time) telemetry.Moment {
	return MomentAt(t, e.loc)
}

// Poll reads every due source once and advances the day accounting. Every
// input is attempted; the first error is returned.
func (e *Engine) Poll(m telemetry.Moment, src Sources) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if src.Values != nil {
		e.pollBoiler(m, src.Values)
		keep(e.pollGas(m, src.Values))
	}
	if src.Binary != nil {
		keep(e.pollBinary(m, src.Binary))
	}
	e.accountant.Advance(m)
	e.updateGauges()
	return first
}

func (e *Engine) pollBoiler(m telemetry.Moment, values ValueSource) {
	for ch, topic := range e.boilerTopics {
		if !e.boilerGate.IsDue(ch, m.UTC, true) {
			continue
		}
		v, at, ok := values.Latest(topic)
		if !ok || !at.After(e.boilerSeen[ch]) {
			continue
		}
		e.boilerSeen[ch] = at
		accepted := e.boiler.Feed(ch, m.UTC, v, false)
		e.recordFeed("boiler", accepted)
	}
}

func (e *Engine) pollGas(m telemetry.Moment, values ValueSource) error {
	if e.gasTopic == "" || !e.gasGate.IsDue(0, m.UTC, true) {
		return nil
	}
	raw, at, ok := values.Latest(e.gasTopic)
	if !ok || !at.After(e.gasSeen) {
		return nil
	}
	e.gasSeen = at

	r := e.counter.Reconcile(m, raw)
	e.recordFeed("gas", r.Valid)
	if !r.Valid {
		e.log.WithField("raw", raw).Debug("gas reading rejected")
		return nil
	}
	if r.NewDay {
		e.log.WithField("day_base", r.DayBase).Info("gas day started")
	}
	e.saveDayBase()
	if r.Wrapped {
		e.log.WithFields(logrus.Fields{"from": r.Previous, "to": r.Unclipped}).Info("gas counter wrapped")
		if e.metrics != nil {
			e.metrics.CounterWrapsTotal.Inc()
		}
	}

	now := m.UTC
	if day := e.counter.ComputeDayConsumption(); day.Valid {
		e.gas.Feed(GasDay, now, day.V, true)
	}
	if rate := e.counter.ComputeRate(now); rate.Valid {
		e.gas.Feed(GasRate, now, rate.V, false)
	}
	e.gas.Feed(GasReboot, now, float64((e.gasUploads%rebootCycle)/rebootStep), false)

	if r.Regression {
		if e.metrics != nil {
			e.metrics.CounterRegressionsTotal.Inc()
		}
		e.log.WithFields(logrus.Fields{"from": r.Previous, "to": r.Unclipped}).Warn("gas counter went backwards")
		return errors.Wrapf(ErrCounterRegression, "from %.1f to %.1f", r.Previous, r.Unclipped)
	}
	return nil
}

func (e *Engine) pollBinary(m telemetry.Moment, bin BinarySource) error {
	states, err := bin.Read()
	if err != nil {
		if e.metrics != nil {
			e.metrics.GPIOErrorsTotal.Inc()
		}
		return errors.Wrap(err, "read binary inputs")
	}

	now := m.UTC
	for ch := range e.baselined {
		if ch >= len(states) {
			break
		}
		stable, ok := e.debouncer.Filter(ch, states[ch], now)
		if !ok {
			continue
		}
		if !e.baselined[ch] {
			e.edges.Preset(ch, stable, now)
			e.accountant.Preset(ch, stable, m)
			e.baselined[ch] = true
			e.log.WithFields(logrus.Fields{"channel": e.onoffNames[ch], "on": stable}).Info("baseline established")
			continue
		}
		e.edges.Feed(ch, stable, now)
		if !e.edges.TakeChanged(ch) {
			continue
		}
		on := e.edges.State(ch)
		e.accountant.OnChange(ch, on, m)
		if e.metrics != nil {
			e.metrics.RecordStateChange(e.onoffNames[ch], on)
		}
		e.log.WithFields(logrus.Fields{"channel": e.onoffNames[ch], "on": on}).Info("state changed")
	}
	return nil
}

// Upload runs one upload cycle.
func (e *Engine) Upload(m telemetry.Moment) error {
	gasDue := e.gas.HasToBeSent()
	err := e.uploader.Cycle(m)
	if gasDue && !e.gas.HasToBeSent() {
		e.gasUploads++
	}
	e.updateGauges()
	return err
}

// Ready reports whether every binary channel has a baseline.
func (e *Engine) Ready() bool {
	return e.debouncer.IsBaselined()
}

func (e *Engine) recordFeed(group string, accepted bool) {
	if e.metrics != nil {
		e.metrics.RecordFeed(group, accepted)
	}
}

func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	pending := 0
	for ch := range e.baselined {
		pending += e.accountant.Pending(ch)
	}
	e.metrics.PendingOnOffRows.Set(float64(pending))
	e.metrics.DroppedRows.Set(float64(e.accountant.Dropped()))
}
