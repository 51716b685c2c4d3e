package internal

import (
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/boiler-telemetry/internal/config"
	"github.com/sweeney/boiler-telemetry/internal/engine"
	"github.com/sweeney/boiler-telemetry/internal/mqtt"
	"github.com/sweeney/boiler-telemetry/internal/report"
)

const gasTopic = "gasmeter/main/value"

type reading struct {
	v  float64
	at time.Time
}

// values is a ValueSource whose readings are set by the test.
type values map[string]reading

func (v values) Latest(topic string) (float64, time.Time, bool) {
	r, ok := v[topic]
	return r.v, r.at, ok
}

// binary is a BinarySource whose state is set by the test.
type binary struct {
	states []bool
}

func (b *binary) Read() ([]bool, error) {
	return append([]bool(nil), b.states...), nil
}

type recorder struct {
	messages []report.Message
	err      error
}

func (r *recorder) Publish(msg report.Message) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type daemon struct {
	eng  *engine.Engine
	src  engine.Sources
	vals values
	bin  *binary
}

func newDaemon(t *testing.T, pub report.Publisher) *daemon {
	t.Helper()
	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.Gas.StateFile = filepath.Join(t.TempDir(), "gas-day.yaml")
	eng, err := engine.New(cfg, pub, quietLog(), nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	d := &daemon{eng: eng, vals: values{}, bin: &binary{states: []bool{false, false}}}
	d.src = engine.Sources{Values: d.vals, Binary: d.bin}
	return d
}

// step runs one poll and one upload cycle at t.
func (d *daemon) step(t *testing.T, at time.Time) {
	t.Helper()
	m := d.eng.Now(at)
	if err := d.eng.Poll(m, d.src); err != nil {
		t.Fatalf("poll at %v: %v", at, err)
	}
	// Upload errors leave rows due; the caller checks what was delivered.
	_ = d.eng.Upload(m)
}

func onoffRows(t *testing.T, msgs []report.Message) []report.OnOffRow {
	t.Helper()
	var out []report.OnOffRow
	for _, msg := range msgs {
		if msg.Kind != report.KindOnOff {
			continue
		}
		var row report.OnOffRow
		if err := json.Unmarshal(msg.Payload, &row); err != nil {
			t.Fatalf("decode %s: %v", msg.Topic, err)
		}
		out = append(out, row)
	}
	return out
}

func clock(h, m, s int) time.Time {
	return time.Date(2026, 1, 1, h, m, s, 0, time.UTC)
}

// TestIntegrationAcrossMidnight runs a burner and a pump through a day
// boundary while the gas meter advances.
func TestIntegrationAcrossMidnight(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	mirror := &recorder{}
	d := newDaemon(t, report.NewFanout(pub, quietLog(), mirror))

	// Burner already on at start
	d.bin.states = []bool{true, false}
	d.vals[gasTopic] = reading{100.0, clock(23, 50, 0)}
	d.step(t, clock(23, 50, 0))
	d.step(t, clock(23, 50, 1))
	if !d.eng.Ready() {
		t.Fatal("expected baseline after debounce")
	}

	// Pump switches on
	d.bin.states = []bool{true, true}
	d.step(t, clock(23, 55, 0))
	d.step(t, clock(23, 55, 1))

	d.vals[gasTopic] = reading{104.0, clock(23, 58, 0)}
	d.step(t, clock(23, 58, 0))

	// Close-out window: one row per cycle
	d.step(t, clock(23, 59, 50))
	d.step(t, clock(23, 59, 51))

	// Next day: forced re-open, then the first gas reading of the day
	next := clock(0, 0, 5).Add(24 * time.Hour)
	d.step(t, next)
	d.step(t, next.Add(time.Second))
	d.vals[gasTopic] = reading{104.5, next.Add(55 * time.Second)}
	d.step(t, next.Add(55*time.Second))

	rows := onoffRows(t, pub.Messages)
	want := []struct {
		channel, status string
		forced          bool
		sample          string
	}{
		{"pump", "On", false, ""},
		{"burner", "Off", true, "01/01/2026 23:59:59 +000"},
		{"pump", "Off", true, "01/01/2026 23:59:59 +000"},
		{"burner", "On", true, "01/02/2026 00:00:00 +000"},
		{"pump", "On", true, "01/02/2026 00:00:00 +000"},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d on/off rows, got %d: %+v", len(want), len(rows), rows)
	}
	for i, w := range want {
		r := rows[i]
		if r.Channel != w.channel || r.ActStatus != w.status || r.Forced != w.forced {
			t.Errorf("row %d: got %s/%s forced=%v, want %s/%s forced=%v",
				i, r.Channel, r.ActStatus, r.Forced, w.channel, w.status, w.forced)
		}
		if w.sample != "" && r.SampleTime != w.sample {
			t.Errorf("row %d: sample time %q, want %q", i, r.SampleTime, w.sample)
		}
	}
	if rows[1].OnTimeDay != "000-00:09:58" {
		t.Errorf("burner on-time at close-out: got %q", rows[1].OnTimeDay)
	}

	var rollups []report.DayRollupRow
	for _, msg := range pub.Messages {
		if msg.Kind != report.KindRollup {
			continue
		}
		var row report.DayRollupRow
		if err := json.Unmarshal(msg.Payload, &row); err != nil {
			t.Fatalf("decode rollup: %v", err)
		}
		rollups = append(rollups, row)
	}
	if len(rollups) != 1 {
		t.Fatalf("expected 1 day rollup, got %d", len(rollups))
	}
	if rollups[0].Date != "01.01.2026" || rollups[0].DayConsumption != "4.0" || rollups[0].EndOfDayTotal != "2104.0" {
		t.Errorf("rollup: got %+v", rollups[0])
	}

	if len(mirror.messages) != len(pub.Messages) {
		t.Errorf("mirror got %d messages, primary %d", len(mirror.messages), len(pub.Messages))
	}
}

// TestIntegrationBrokerOutageKeepsOrder queues changes while the primary
// sink fails and delivers them in order afterwards.
func TestIntegrationBrokerOutageKeepsOrder(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	d := newDaemon(t, report.NewFanout(pub, quietLog()))

	t0 := clock(12, 0, 0)
	d.step(t, t0)
	d.step(t, t0.Add(time.Second))

	pub.PublishError = mqtt.ErrNotConnected
	states := [][]bool{{true, false}, {false, false}, {true, false}}
	at := t0.Add(10 * time.Second)
	for _, s := range states {
		d.bin.states = s
		d.step(t, at)
		d.step(t, at.Add(time.Second))
		at = at.Add(10 * time.Second)
	}
	if len(pub.Messages) != 0 {
		t.Fatalf("nothing should be delivered during the outage, got %d", len(pub.Messages))
	}
	if n := d.eng.Snapshot(d.eng.Now(at)).OnOff[0].Pending; n != 3 {
		t.Fatalf("expected 3 pending rows, got %d", n)
	}

	pub.PublishError = nil
	for i := 0; i < 4; i++ {
		d.step(t, at.Add(time.Duration(i)*time.Second))
	}

	rows := onoffRows(t, pub.Messages)
	got := make([]string, len(rows))
	for i, r := range rows {
		got[i] = r.ActStatus
	}
	if len(got) != 3 || got[0] != "On" || got[1] != "Off" || got[2] != "On" {
		t.Errorf("delivered order: got %v, want [On Off On]", got)
	}
}

// TestIntegrationMirrorFailureDoesNotBlock checks that a failing mirror
// never keeps rows due.
func TestIntegrationMirrorFailureDoesNotBlock(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	mirror := &recorder{err: errors.New("amqp down")}
	d := newDaemon(t, report.NewFanout(pub, quietLog(), mirror))

	t0 := clock(12, 0, 0)
	d.vals["heating/viessmann/outside"] = reading{3.5, t0}
	d.step(t, t0)

	if len(pub.Messages) != 1 || pub.Messages[0].Topic != "energy/boiler/telemetry/analog/boiler" {
		t.Fatalf("expected the boiler row on the primary, got %+v", pub.Messages)
	}
	if d.eng.Snapshot(d.eng.Now(t0)).Groups[0].Due {
		t.Error("boiler group should be acknowledged")
	}
}
