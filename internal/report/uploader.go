package report

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/boiler-telemetry/internal/metrics"
	"github.com/sweeney/boiler-telemetry/internal/telemetry"
)

// Config configures an Uploader.
type Config struct {
	// TopicPrefix is the root of every upload topic.
	TopicPrefix  string
	AnalogPrefix string
	OnOffPrefix  string
	// BaseOffset restores the meter digits missing from counter values.
	BaseOffset float64
	// OnOffNames names the binary channels by index.
	OnOffNames []string
	Location   *time.Location

	FilterCapacity uint
	FalsePositive  float64
	ResetUsage     float64
}

// AnalogGroup is one aggregator uploaded as one row.
type AnalogGroup struct {
	Name    string
	Agg     *telemetry.Aggregator
	Columns []Column
}

// Uploader decides per cycle which rows are due, publishes them, and
// acknowledges each source only after its row was delivered.
type Uploader struct {
	cfg     Config
	pub     Publisher
	groups  []AnalogGroup
	counter *telemetry.CounterReconciler
	onoff   *telemetry.DayAccountant
	sent    *deliveredFilter
	log     *logrus.Entry
	metrics *metrics.Collector
}

// NewUploader creates an uploader. m may be nil.
func NewUploader(pub Publisher, cfg Config, log *logrus.Entry, m *metrics.Collector) *Uploader {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Uploader{
		cfg:     cfg,
		pub:     pub,
		sent:    newDeliveredFilter(cfg.FilterCapacity, cfg.FalsePositive, cfg.ResetUsage),
		log:     log,
		metrics: m,
	}
}

// AddGroup registers an analog group.
func (u *Uploader) AddGroup(g AnalogGroup) {
	u.groups = append(u.groups, g)
}

// SetCounter registers the source of day rollups.
func (u *Uploader) SetCounter(c *telemetry.CounterReconciler) {
	u.counter = c
}

// SetDayAccountant registers the source of on/off rows.
func (u *Uploader) SetDayAccountant(a *telemetry.DayAccountant) {
	u.onoff = a
}

// Cycle runs one upload round at m. Every kind is attempted; the first
// error is returned and the failed sources stay due for the next cycle.
func (u *Uploader) Cycle(m telemetry.Moment) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	for _, g := range u.groups {
		keep(u.uploadGroup(g, m))
	}
	keep(u.uploadRollup())
	keep(u.uploadOnOff(m))
	return first
}

func (u *Uploader) uploadGroup(g AnalogGroup, m telemetry.Moment) error {
	if !g.Agg.HasToBeSent() {
		return nil
	}
	set := g.Agg.Checked(m.UTC)
	row := NewAnalogRow(g.Name, u.cfg.AnalogPrefix, g.Columns, set, u.cfg.Location, g.Agg.Sentinel())
	key := path.Join(row.PartitionKey, row.RowKey, g.Name)
	if err := u.deliver(KindAnalog, path.Join(KindAnalog, g.Name), key, row); err != nil {
		return errors.Wrapf(err, "upload group %s", g.Name)
	}
	g.Agg.Commit(m.UTC)
	return nil
}

func (u *Uploader) uploadRollup() error {
	if u.counter == nil {
		return nil
	}
	r, ok := u.counter.PeekDayRollup()
	if !ok {
		return nil
	}
	row := NewDayRollupRow(u.cfg.AnalogPrefix, r, u.cfg.BaseOffset)
	key := path.Join(row.PartitionKey, row.RowKey, KindRollup)
	if err := u.deliver(KindRollup, KindRollup, key, row); err != nil {
		return errors.Wrap(err, "upload day rollup")
	}
	u.counter.TakeDayRollup()
	return nil
}

// uploadOnOff sends at most one on/off row per cycle.
func (u *Uploader) uploadOnOff(m telemetry.Moment) error {
	if u.onoff == nil || !u.onoff.OneIsDue(m) {
		return nil
	}
	r, ok := u.onoff.PeekRow()
	if !ok {
		return nil
	}
	name := u.channelName(r.Channel)
	row := NewOnOffRow(name, u.cfg.OnOffPrefix, r)
	key := path.Join(row.PartitionKey, row.RowKey, name, row.ActStatus)
	if err := u.deliver(KindOnOff, path.Join(KindOnOff, name), key, row); err != nil {
		return errors.Wrapf(err, "upload on/off %s", name)
	}
	u.onoff.AckRow(r.Channel)
	return nil
}

func (u *Uploader) channelName(ch int) string {
	if ch >= 0 && ch < len(u.cfg.OnOffNames) {
		return u.cfg.OnOffNames[ch]
	}
	return fmt.Sprintf("ch%d", ch)
}

// deliver publishes row unless its key was already delivered. A skipped
// duplicate counts as delivered.
func (u *Uploader) deliver(kind, topic, key string, row interface{}) error {
	if u.sent.seen(key) {
		u.log.WithField("key", key).Debug("skipping already delivered row")
		u.record(kind, metrics.ResultDuplicate)
		return nil
	}

	payload, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "encode row")
	}
	msg := Message{
		Kind:    kind,
		Topic:   path.Join(u.cfg.TopicPrefix, topic),
		Key:     key,
		Payload: payload,
	}
	if err := u.pub.Publish(msg); err != nil {
		u.record(kind, metrics.ResultError)
		return err
	}

	u.sent.add(key)
	u.record(kind, metrics.ResultOK)
	u.log.WithFields(logrus.Fields{"topic": msg.Topic, "key": key}).Debug("row delivered")
	return nil
}

func (u *Uploader) record(kind, result string) {
	if u.metrics != nil {
		u.metrics.RecordUpload(kind, result)
	}
}
