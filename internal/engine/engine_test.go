package engine

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/boiler-telemetry/internal/config"
	"github.com/sweeney/boiler-telemetry/internal/daystore"
	"github.com/sweeney/boiler-telemetry/internal/gpio"
	"github.com/sweeney/boiler-telemetry/internal/metrics"
	"github.com/sweeney/boiler-telemetry/internal/report"
	"github.com/sweeney/boiler-telemetry/internal/telemetry"
)

var t0 = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

type reading struct {
	v  float64
	at time.Time
}

type fakeValues map[string]reading

func (f fakeValues) Latest(topic string) (float64, time.Time, bool) {
	r, ok := f[topic]
	return r.v, r.at, ok
}

func (f fakeValues) set(topic string, v float64, at time.Time) {
	f[topic] = reading{v: v, at: at}
}

type sink struct {
	messages []report.Message
	err      error
}

func (s *sink) Publish(msg report.Message) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *sink) topics() []string {
	out := make([]string, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Topic
	}
	return out
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.Gas.StateFile = ""
	return cfg
}

func newTestEngine(t *testing.T, pub report.Publisher) (*Engine, *metrics.Collector) {
	t.Helper()
	m := metrics.NewCollector("test")
	e, err := New(testConfig(), pub, quietLog(), m)
	require.NoError(t, err)
	return e, m
}

func boilerValues(at time.Time) fakeValues {
	vals := fakeValues{}
	vals.set("heating/viessmann/outside", 21.5, at)
	vals.set("heating/viessmann/supply", 45, at)
	vals.set("heating/viessmann/cylinder", 50, at)
	vals.set("heating/viessmann/modulation", 30, at)
	return vals
}

func TestPollFeedsOnlyFreshValues(t *testing.T) {
	e, m := newTestEngine(t, &sink{})
	vals := boilerValues(t0)

	require.NoError(t, e.Poll(e.Now(t0), Sources{Values: vals}))
	boiler := e.Snapshot(e.Now(t0)).Groups[0]
	assert.Equal(t, "boiler", boiler.Name)
	assert.Equal(t, "outside", boiler.Channels[0].Name)
	assert.Equal(t, telemetry.Some(21.5), boiler.Channels[0].Current)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FeedsTotal.WithLabelValues("boiler", "accepted")))

	// Due again but the source has nothing newer
	vals.set("heating/viessmann/outside", 22, t0)
	require.NoError(t, e.Poll(e.Now(t0.Add(80*time.Second)), Sources{Values: vals}))
	assert.Equal(t, telemetry.Some(21.5), e.Snapshot(e.Now(t0)).Groups[0].Channels[0].Current)

	vals.set("heating/viessmann/outside", 22, t0.Add(100*time.Second))
	require.NoError(t, e.Poll(e.Now(t0.Add(160*time.Second)), Sources{Values: vals}))
	assert.Equal(t, telemetry.Some(22.0), e.Snapshot(e.Now(t0)).Groups[0].Channels[0].Current)
}

func TestPollSkipsNotDueChannels(t *testing.T) {
	e, _ := newTestEngine(t, &sink{})
	vals := boilerValues(t0)
	require.NoError(t, e.Poll(e.Now(t0), Sources{Values: vals}))

	vals.set("heating/viessmann/outside", 10, t0.Add(time.Second))
	require.NoError(t, e.Poll(e.Now(t0.Add(10*time.Second)), Sources{Values: vals}))
	assert.Equal(t, telemetry.Some(21.5), e.Snapshot(e.Now(t0)).Groups[0].Channels[0].Current)
}

func TestUploadPublishesDueGroups(t *testing.T) {
	out := &sink{}
	e, _ := newTestEngine(t, out)
	vals := boilerValues(t0)
	vals.set("gasmeter/main/value", 123.4, t0)

	require.NoError(t, e.Poll(e.Now(t0), Sources{Values: vals}))
	require.NoError(t, e.Upload(e.Now(t0.Add(time.Second))))

	assert.ElementsMatch(t, []string{
		"energy/boiler/telemetry/analog/boiler",
		"energy/boiler/telemetry/analog/gas",
	}, out.topics())
	assert.Equal(t, 1, e.Snapshot(e.Now(t0)).GasUploads)

	require.NoError(t, e.Upload(e.Now(t0.Add(2*time.Second))))
	assert.Len(t, out.messages, 2, "nothing is due after a successful upload")
}

func TestUploadFailureKeepsGroupsDue(t *testing.T) {
	out := &sink{err: errors.New("broker down")}
	e, _ := newTestEngine(t, out)
	require.NoError(t, e.Poll(e.Now(t0), Sources{Values: boilerValues(t0)}))

	require.Error(t, e.Upload(e.Now(t0.Add(time.Second))))
	assert.True(t, e.Snapshot(e.Now(t0)).Groups[0].Due)
	assert.Equal(t, 0, e.Snapshot(e.Now(t0)).GasUploads)

	out.err = nil
	require.NoError(t, e.Upload(e.Now(t0.Add(2*time.Second))))
	assert.Len(t, out.messages, 1)
}

func TestPollReportsCounterRegression(t *testing.T) {
	e, m := newTestEngine(t, &sink{})
	vals := fakeValues{}
	vals.set("gasmeter/main/value", 500, t0)
	require.NoError(t, e.Poll(e.Now(t0), Sources{Values: vals}))

	later := t0.Add(61 * time.Second)
	vals.set("gasmeter/main/value", 10, later)
	err := e.Poll(e.Now(later), Sources{Values: vals})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCounterRegression))
	assert.Contains(t, err.Error(), "from 5000.0 to 100.0")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterRegressionsTotal))
}

func TestPollGasFeedsDayConsumption(t *testing.T) {
	e, _ := newTestEngine(t, &sink{})
	vals := fakeValues{}
	vals.set("gasmeter/main/value", 100, t0)
	require.NoError(t, e.Poll(e.Now(t0), Sources{Values: vals}))

	later := t0.Add(2 * time.Hour)
	vals.set("gasmeter/main/value", 104.5, later)
	require.NoError(t, e.Poll(e.Now(later), Sources{Values: vals}))

	snap := e.Snapshot(e.Now(later))
	assert.Equal(t, telemetry.Some(45), snap.DayConsumption)
	assert.Equal(t, telemetry.Some(1000), snap.DayBase)
	assert.Equal(t, telemetry.Some(45), snap.Groups[1].Channels[GasDay].Current)
}

func TestUploadGasRateCoversSendInterval(t *testing.T) {
	out := &sink{}
	e, _ := newTestEngine(t, out)
	vals := fakeValues{}

	step := func(at time.Time, v float64) {
		vals.set("gasmeter/main/value", v, at)
		require.NoError(t, e.Poll(e.Now(at), Sources{Values: vals}))
		require.NoError(t, e.Upload(e.Now(at)))
	}
	step(t0, 100.0)
	step(t0.Add(61*time.Second), 100.5)
	step(t0.Add(122*time.Second), 101.0)

	require.Len(t, out.messages, 2, "first transmission and one due upload")
	var row report.AnalogRow
	require.NoError(t, json.Unmarshal(out.messages[1].Payload, &row))
	got := map[string]string{}
	for _, r := range row.Values {
		got[r.Name] = r.Value.String()
	}
	assert.Equal(t, "49.2", got["rate"])
	assert.Equal(t, "10.0", got["day"])
}

func TestDayBaseSurvivesRestart(t *testing.T) {
	cfg := testConfig()
	cfg.Gas.StateFile = filepath.Join(t.TempDir(), "gas-day.yaml")
	vals := fakeValues{}

	first, err := New(cfg, &sink{}, quietLog(), nil)
	require.NoError(t, err)
	vals.set("gasmeter/main/value", 100, t0)
	require.NoError(t, first.Poll(first.Now(t0), Sources{Values: vals}))

	stored, ok, err := daystore.New(cfg.Gas.StateFile).Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1000.0, stored.Base)

	// Same day: the restarted engine keeps the morning base
	second, err := New(cfg, &sink{}, quietLog(), nil)
	require.NoError(t, err)
	later := t0.Add(time.Hour)
	vals.set("gasmeter/main/value", 104.5, later)
	require.NoError(t, second.Poll(second.Now(later), Sources{Values: vals}))

	snap := second.Snapshot(second.Now(later))
	assert.Equal(t, telemetry.Some(45), snap.DayConsumption)
	assert.Equal(t, telemetry.Some(1000), snap.DayBase)

	// Next day: the stored base is dropped and replaced
	third, err := New(cfg, &sink{}, quietLog(), nil)
	require.NoError(t, err)
	tomorrow := t0.Add(24 * time.Hour)
	vals.set("gasmeter/main/value", 110, tomorrow)
	require.NoError(t, third.Poll(third.Now(tomorrow), Sources{Values: vals}))

	snap = third.Snapshot(third.Now(tomorrow))
	assert.Equal(t, telemetry.Some(0), snap.DayConsumption)
	assert.Equal(t, telemetry.Some(1100), snap.DayBase)
	stored, _, err = daystore.New(cfg.Gas.StateFile).Load()
	require.NoError(t, err)
	assert.Equal(t, 1100.0, stored.Base)
	assert.Equal(t, 16, stored.Day.Day())
}

func TestCorruptDayBaseIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Gas.StateFile = filepath.Join(t.TempDir(), "gas-day.yaml")
	require.NoError(t, os.WriteFile(cfg.Gas.StateFile, []byte("day: [\n"), 0600))

	e, err := New(cfg, &sink{}, quietLog(), nil)
	require.NoError(t, err)
	vals := fakeValues{}
	vals.set("gasmeter/main/value", 100, t0)
	require.NoError(t, e.Poll(e.Now(t0), Sources{Values: vals}))
	assert.Equal(t, telemetry.Some(1000), e.Snapshot(e.Now(t0)).DayBase)
}

func TestPollBinaryQueuesStateChange(t *testing.T) {
	out := &sink{}
	e, m := newTestEngine(t, out)
	reader := gpio.NewFakeReader(
		[]bool{false, false},
		[]bool{false, false},
		[]bool{true, false},
		[]bool{true, false},
	)
	src := Sources{Binary: reader}

	require.NoError(t, e.Poll(e.Now(t0), src))
	assert.False(t, e.Ready())
	require.NoError(t, e.Poll(e.Now(t0.Add(300*time.Millisecond)), src))
	assert.True(t, e.Ready())

	require.NoError(t, e.Poll(e.Now(t0.Add(time.Second)), src))
	require.NoError(t, e.Poll(e.Now(t0.Add(1300*time.Millisecond)), src))

	snap := e.Snapshot(e.Now(t0.Add(2 * time.Second)))
	assert.True(t, snap.OnOff[0].On)
	assert.Equal(t, 1, snap.OnOff[0].Pending)
	assert.False(t, snap.OnOff[1].On)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateChangesTotal.WithLabelValues("burner", "on")))

	require.NoError(t, e.Upload(e.Now(t0.Add(2*time.Second))))
	require.Len(t, out.messages, 1)
	assert.Equal(t, "energy/boiler/telemetry/onoff/burner", out.messages[0].Topic)
	assert.Contains(t, string(out.messages[0].Payload), `"ActStatus":"On"`)
}

func TestPollBaselineQueuesNothing(t *testing.T) {
	out := &sink{}
	e, _ := newTestEngine(t, out)
	reader := gpio.NewFakeReader([]bool{true, true})
	src := Sources{Binary: reader}

	require.NoError(t, e.Poll(e.Now(t0), src))
	require.NoError(t, e.Poll(e.Now(t0.Add(time.Second)), src))

	snap := e.Snapshot(e.Now(t0.Add(time.Second)))
	assert.True(t, snap.OnOff[0].On)
	assert.Equal(t, 0, snap.OnOff[0].Pending)
}

func TestPollBinaryReadError(t *testing.T) {
	e, m := newTestEngine(t, &sink{})
	reader := gpio.NewFakeReader([]bool{false, false})
	reader.ReadError = errors.New("line busy")

	err := e.Poll(e.Now(t0), Sources{Binary: reader})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read binary inputs")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GPIOErrorsTotal))
}

func TestMomentAt(t *testing.T) {
	cet := time.FixedZone("CET", 60*60)
	m := MomentAt(time.Date(2026, 1, 15, 23, 30, 0, 0, time.UTC), cet)

	assert.Equal(t, 60, m.OffsetMinutes)
	assert.Equal(t, time.UTC, m.UTC.Location())
	assert.Equal(t, 16, m.Local().Day())
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Nowhere/Atlantis"
	_, err := New(cfg, &sink{}, quietLog(), nil)
	assert.Error(t, err)
}
