// Command boiler-telemetry aggregates boiler, gas meter and GPIO on/off
// telemetry and uploads it as rows over MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/boiler-telemetry/internal/amqp"
	"github.com/sweeney/boiler-telemetry/internal/config"
	"github.com/sweeney/boiler-telemetry/internal/engine"
	"github.com/sweeney/boiler-telemetry/internal/gpio"
	"github.com/sweeney/boiler-telemetry/internal/logging"
	"github.com/sweeney/boiler-telemetry/internal/metrics"
	"github.com/sweeney/boiler-telemetry/internal/mqtt"
	"github.com/sweeney/boiler-telemetry/internal/report"
	"github.com/sweeney/boiler-telemetry/internal/status"
	"github.com/sweeney/boiler-telemetry/internal/web"
)

func main() {
	configFile := flag.String("config", "", "YAML configuration file (defaults when empty)")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	printState := flag.Bool("print-state", false, "Print current on/off state and exit")

	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logs := logging.New(cfg.Log.Level, os.Stderr)
	if err := run(cfg, logs, *printState); err != nil {
		logs.Get("main").WithError(err).Fatal("fatal")
	}
}

func loadConfig(filename string) (*config.Config, error) {
	cfg := config.Default()
	if filename != "" {
		var err error
		if cfg, err = config.Load(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, logs *logging.Factory, printState bool) error {
	log := logs.Get("main")

	gpioReader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.Pins)
	if err != nil {
		return errors.Wrap(err, "init gpio")
	}
	defer gpioReader.Close()

	if printState {
		states, err := gpioReader.Read()
		if err != nil {
			return errors.Wrap(err, "read gpio")
		}
		fmt.Println(formatStates(cfg.OnOff.Names, states))
		return nil
	}

	m := metrics.NewCollector("boiler_telemetry")

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		BufferSize: cfg.MQTT.Buffer,
	}, logs.Get("mqtt"))
	if err != nil {
		return errors.Wrap(err, "init mqtt")
	}
	defer publisher.Close()

	subscriber := mqtt.NewSubscriber(time.Now, logs.Get("subscriber"))
	if err := publisher.Subscribe(subscribedTopics(cfg), subscriber.Handle); err != nil {
		return errors.Wrap(err, "subscribe")
	}

	var mirrors []report.Publisher
	if cfg.AMQP.URL != "" {
		mirror := amqp.NewMirror(cfg.AMQP.URL, cfg.AMQP.Exchange, logs.Get("amqp"))
		if err := mirror.Start(); err != nil {
			log.WithError(err).Warn("amqp mirror disabled")
		} else {
			defer mirror.Close()
			mirrors = append(mirrors, mirror)
		}
	}
	sink := report.NewFanout(publisher, logs.Get("upload"), mirrors...)

	eng, err := engine.New(cfg, sink, logs.Get("engine"), m)
	if err != nil {
		return errors.Wrap(err, "init engine")
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		DebounceMs:  cfg.GPIO.Debounce.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		HTTPAddr:    cfg.HTTP.Addr,
		WSBroker:    resolveWSBroker(cfg.MQTT.WSBroker, cfg.MQTT.Broker, log),
		AMQPMirror:  len(mirrors) > 0,
		Timezone:    cfg.Timezone,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetMQTTConnected(publisher.IsConnected())

	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.WithError(err).Warn("failed to publish startup event")
	} else {
		log.Info("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.HTTP.Addr).Info("http status server listening")
	}

	log.WithFields(logrus.Fields{
		"poll":      cfg.Poll,
		"debounce":  cfg.GPIO.Debounce,
		"broker":    cfg.MQTT.Broker,
		"heartbeat": cfg.Heartbeat,
		"timezone":  cfg.Timezone,
	}).Info("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deps := loopDeps{
		engine:     eng,
		sources:    engine.Sources{Values: subscriber, Binary: gpioReader},
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		metrics:    m,
		heartbeat:  cfg.Heartbeat,
		log:        log,
	}
	return runLoop(deps, time.Now, ticker.C, sigCh)
}

// loopDeps is everything runLoop drives. tracker, mqttStatus and metrics
// may be nil.
type loopDeps struct {
	engine     *engine.Engine
	sources    engine.Sources
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	metrics    *metrics.Collector
	heartbeat  time.Duration
	log        *logrus.Entry
}

func runLoop(d loopDeps, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := now()
	var lastPollErr, lastUploadErr string

	for {
		select {
		case s := <-sig:
			d.log.WithField("signal", s).Info("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.tracker != nil {
				d.refreshConnection()
				event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				d.log.WithError(err).Warn("failed to publish shutdown event")
			} else {
				d.log.Info("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			mom := d.engine.Now(t)

			// Repeated errors are logged once until they change or clear.
			if err := d.engine.Poll(mom, d.sources); err != nil {
				if msg := err.Error(); msg != lastPollErr {
					d.log.WithError(err).Warn("poll")
					lastPollErr = msg
				}
				d.setError(err, t)
			} else {
				lastPollErr = ""
			}

			if err := d.engine.Upload(mom); err != nil {
				if msg := err.Error(); msg != lastUploadErr {
					d.log.WithError(err).Warn("upload")
					lastUploadErr = msg
				}
				d.setError(err, t)
			} else {
				lastUploadErr = ""
			}

			if d.tracker != nil {
				d.tracker.Update(d.engine.Snapshot(mom))
				d.refreshConnection()
			}

			if !d.engine.Ready() {
				continue
			}

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				d.log.WithField("uptime", t.Sub(d.startTime())).Info("heartbeat")
				hbEvent := mqtt.SystemEvent{
					Timestamp: t,
					Event:     "HEARTBEAT",
				}
				if d.tracker != nil {
					if net := readNetworkInfo(); net != nil {
						d.tracker.SetNetwork(net)
					}
					hbEvent.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := d.publisher.PublishSystem(hbEvent); err != nil {
					d.log.WithError(err).Warn("heartbeat publish error")
				}
			}
		}
	}
}

func (d loopDeps) refreshConnection() {
	if d.mqttStatus == nil {
		return
	}
	connected := d.mqttStatus.IsConnected()
	if d.tracker != nil {
		d.tracker.SetMQTTConnected(connected)
	}
	if d.metrics != nil {
		d.metrics.SetMQTTConnected(connected)
	}
}

func (d loopDeps) setError(err error, at time.Time) {
	if d.tracker != nil {
		d.tracker.SetError(err, at)
	}
}

func (d loopDeps) startTime() time.Time {
	if d.tracker == nil {
		return time.Time{}
	}
	return d.tracker.Snapshot().StartTime
}

func subscribedTopics(cfg *config.Config) []string {
	topics := append([]string(nil), cfg.Boiler.Topics...)
	if cfg.Gas.Topic != "" {
		topics = append(topics, cfg.Gas.Topic)
	}
	return topics
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// formatStates renders "burner: ON, pump: OFF" for -print-state.
func formatStates(names []string, states []bool) string {
	parts := make([]string, len(states))
	for i, on := range states {
		name := fmt.Sprintf("ch%d", i)
		if i < len(names) {
			name = names[i]
		}
		parts[i] = name + ": " + status.StateString(on, true)
	}
	return strings.Join(parts, ", ")
}

// resolveWSBroker converts the wsBroker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" disables.
func resolveWSBroker(ws, broker string, log *logrus.Entry) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.WithError(err).WithField("broker", broker).Warn("ws-broker: cannot parse broker address")
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
