// Package metrics exposes the daemon's prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload results.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultDuplicate = "duplicate"
)

// Collector provides application metrics collection
type Collector struct {
	registry *prometheus.Registry

	// Sampling
	FeedsTotal *prometheus.CounterVec

	// Gas counter
	CounterWrapsTotal       prometheus.Counter
	CounterRegressionsTotal prometheus.Counter

	// Binary inputs
	StateChangesTotal *prometheus.CounterVec
	GPIOErrorsTotal   prometheus.Counter

	// Upload
	UploadsTotal     *prometheus.CounterVec
	PendingOnOffRows prometheus.Gauge
	DroppedRows      prometheus.Gauge

	// Transport
	MQTTConnected prometheus.Gauge
}

// NewCollector creates a collector registered on a private registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	c := &Collector{
		registry: reg,

		FeedsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feeds_total",
				Help:      "Readings offered to the aggregators by group and outcome",
			},
			[]string{"group", "outcome"}, // "accepted", "rejected"
		),

		CounterWrapsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counter_wraps_total",
				Help:      "Gas meter readings treated as counter wraparound",
			},
		),

		CounterRegressionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "counter_regressions_total",
				Help:      "Gas meter readings that went backwards beyond wrap tolerance",
			},
		),

		StateChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_changes_total",
				Help:      "Debounced on/off changes by channel and new state",
			},
			[]string{"channel", "state"},
		),

		GPIOErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gpio_errors_total",
				Help:      "Failed GPIO reads",
			},
		),

		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Upload attempts by row kind and result",
			},
			[]string{"kind", "result"},
		),

		PendingOnOffRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_onoff_rows",
				Help:      "On/off rows waiting for upload",
			},
		),

		DroppedRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dropped_onoff_rows",
				Help:      "On/off rows discarded because the queue was full",
			},
		),

		MQTTConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mqtt_connected",
				Help:      "1 if the MQTT client is connected",
			},
		),
	}

	reg.MustRegister(
		c.FeedsTotal,
		c.CounterWrapsTotal,
		c.CounterRegressionsTotal,
		c.StateChangesTotal,
		c.GPIOErrorsTotal,
		c.UploadsTotal,
		c.PendingOnOffRows,
		c.DroppedRows,
		c.MQTTConnected,
	)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordFeed counts one reading offered to group.
func (c *Collector) RecordFeed(group string, accepted bool) {
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	c.FeedsTotal.WithLabelValues(group, outcome).Inc()
}

// RecordUpload counts one upload attempt.
func (c *Collector) RecordUpload(kind, result string) {
	c.UploadsTotal.WithLabelValues(kind, result).Inc()
}

// RecordStateChange counts one debounced change.
func (c *Collector) RecordStateChange(channel string, on bool) {
	state := "off"
	if on {
		state = "on"
	}
	c.StateChangesTotal.WithLabelValues(channel, state).Inc()
}

// SetMQTTConnected updates the connection gauge.
func (c *Collector) SetMQTTConnected(connected bool) {
	if connected {
		c.MQTTConnected.Set(1)
		return
	}
	c.MQTTConnected.Set(0)
}
