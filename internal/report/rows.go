// Package report turns telemetry state into upload rows and delivers them.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweeney/boiler-telemetry/internal/telemetry"
)

// Row kinds.
const (
	KindAnalog = "analog"
	KindOnOff  = "onoff"
	KindRollup = "rollup"
)

// PartitionKey builds the monthly partition: prefix, year, and 12-month so
// that newer months sort first.
func PartitionKey(prefix string, local time.Time) string {
	return fmt.Sprintf("%s%d-%02d", prefix, local.Year(), 12-int(local.Month()))
}

// RowKey builds an inverted timestamp so that newer rows sort first.
func RowKey(local time.Time) string {
	return fmt.Sprintf("%4d%02d%02d%02d%02d%02d",
		10000-local.Year(), 12-int(local.Month()), 31-local.Day(),
		23-local.Hour(), 59-local.Minute(), 59-local.Second())
}

// SampleTime formats a local time as "MM/DD/YYYY hh:mm:ss +OOO" where OOO is
// the UTC offset in minutes.
func SampleTime(local time.Time) string {
	_, offset := local.Zone()
	minutes := offset / 60
	sign := '+'
	if minutes < 0 {
		sign = '-'
		minutes = -minutes
	}
	return fmt.Sprintf("%02d/%02d/%04d %02d:%02d:%02d %c%03d",
		int(local.Month()), local.Day(), local.Year(),
		local.Hour(), local.Minute(), local.Second(), sign, minutes)
}

// GermanDate formats a date as "DD.MM.YYYY".
func GermanDate(local time.Time) string {
	return fmt.Sprintf("%02d.%02d.%04d", local.Day(), int(local.Month()), local.Year())
}

// FormatSpan formats a duration as "DDD-HH:MM:SS".
func FormatSpan(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	return fmt.Sprintf("%03d-%02d:%02d:%02d", days, total/3600, (total%3600)/60, total%60)
}

// FormatValue renders a value with one decimal, or the sentinel when invalid.
func FormatValue(v telemetry.Value, sentinel float64) json.Number {
	return json.Number(decimal.NewFromFloat(v.Or(sentinel)).StringFixed(1))
}

func onOffString(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}

// Column selects what one analog channel contributes to a row.
type Column struct {
	Name string
	// Average reports the running average instead of the current value.
	Average bool
	// Scale multiplies valid values. Zero means 1.
	Scale float64
}

func (c Column) pick(s telemetry.Sample) telemetry.Value {
	v := s.Current
	if c.Average {
		v = s.Average
	}
	if v.Valid && c.Scale != 0 {
		v.V *= c.Scale
	}
	return v
}

// Reading is one named value of an analog row.
type Reading struct {
	Name  string      `json:"Name"`
	Value json.Number `json:"Value"`
}

// AnalogRow is the upload row of one analog group.
type AnalogRow struct {
	PartitionKey string    `json:"PartitionKey"`
	RowKey       string    `json:"RowKey"`
	SampleTime   string    `json:"SampleTime"`
	Group        string    `json:"Group"`
	Values       []Reading `json:"Values"`
}

// NewAnalogRow builds the row of group from a checked sample set. The
// sample time is the last update of the group in the zone of loc.
func NewAnalogRow(group, prefix string, cols []Column, set telemetry.SampleSet, loc *time.Location, sentinel float64) AnalogRow {
	local := set.LastUpdateTime.In(loc)
	row := AnalogRow{
		PartitionKey: PartitionKey(prefix, local),
		RowKey:       RowKey(local),
		SampleTime:   SampleTime(local),
		Group:        group,
		Values:       make([]Reading, 0, len(set.Samples)),
	}
	for i, s := range set.Samples {
		col := Column{Name: fmt.Sprintf("T_%d", i+1)}
		if i < len(cols) {
			col = cols[i]
		}
		row.Values = append(row.Values, Reading{Name: col.Name, Value: FormatValue(col.pick(s), sentinel)})
	}
	return row
}

// OnOffRow is the upload row of one binary state change.
type OnOffRow struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Channel      string `json:"Channel"`
	ActStatus    string `json:"ActStatus"`
	LastStatus   string `json:"LastStatus"`
	OnTimeDay    string `json:"OnTimeDay"`
	SampleTime   string `json:"SampleTime"`
	TimeFromLast string `json:"TimeFromLast"`
	Forced       bool   `json:"Forced,omitempty"`
}

// NewOnOffRow builds the row of a queued state change.
func NewOnOffRow(name, prefix string, r telemetry.OnOffRow) OnOffRow {
	return OnOffRow{
		PartitionKey: PartitionKey(prefix, r.SampleTime),
		RowKey:       RowKey(r.SampleTime),
		Channel:      name,
		ActStatus:    onOffString(r.State),
		LastStatus:   onOffString(r.LastState),
		OnTimeDay:    FormatSpan(r.OnTimeDay),
		SampleTime:   SampleTime(r.SampleTime),
		TimeFromLast: FormatSpan(r.TimeFromLast),
		Forced:       r.Forced,
	}
}

// DayRollupRow is the upload row of a finished gas day.
type DayRollupRow struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	SampleTime   string `json:"SampleTime"`
	Date         string `json:"Date"`
	// DayConsumption is in meter units with a decimal point.
	DayConsumption string `json:"DayConsumption"`
	// EndOfDayTotal is the full meter reading at the end of the day.
	EndOfDayTotal string `json:"EndOfDayTotal"`
	// DayConsumptionComma is DayConsumption with a decimal comma.
	DayConsumptionComma string `json:"DayConsumptionComma"`
}

// NewDayRollupRow builds the rollup row. Counter values are in tenths of a
// meter unit; baseOffset restores the meter digits the reader does not see.
func NewDayRollupRow(prefix string, r telemetry.DayRollup, baseOffset float64) DayRollupRow {
	endOfDay := r.Day.Add(24*time.Hour - time.Second)
	tenth := decimal.New(1, -1)
	day := decimal.NewFromFloat(r.DayConsumption).Mul(tenth).StringFixed(1)
	total := decimal.NewFromFloat(baseOffset).Add(decimal.NewFromFloat(r.TotalConsumption).Mul(tenth)).StringFixed(1)
	return DayRollupRow{
		PartitionKey:        PartitionKey(prefix, endOfDay),
		RowKey:              RowKey(endOfDay),
		SampleTime:          SampleTime(endOfDay),
		Date:                GermanDate(endOfDay),
		DayConsumption:      day,
		EndOfDayTotal:       total,
		DayConsumptionComma: strings.Replace(day, ".", ",", 1),
	}
}
