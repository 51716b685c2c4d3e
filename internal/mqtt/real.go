package mqtt

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/boiler-telemetry/internal/report"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt: not connected")

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	// BufferSize bounds the system events held while disconnected.
	BufferSize int
	// ConnectTimeout bounds the initial connect including retries.
	ConnectTimeout time.Duration
}

// MessageHandler receives messages of a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	log    *logrus.Entry

	mu            sync.Mutex
	buffer        *ringBuffer
	everConnected bool
	subs          map[string]MessageHandler
}

// NewRealPublisher creates a publisher connected to the given broker. The
// broker is retried with exponential backoff until opts.ConnectTimeout.
func NewRealPublisher(opts Options, log *logrus.Entry) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "boiler-telemetry"
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = time.Minute
	}

	p := &RealPublisher{
		log:    log,
		buffer: newRingBuffer(opts.BufferSize),
		subs:   make(map[string]MessageHandler),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetWill(TopicSystem, string(willPayload(time.Now())), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)
	p.client = paho.NewClient(clientOpts)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = opts.ConnectTimeout
	err := backoff.Retry(func() error {
		token := p.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return errors.New("connection timeout")
		}
		if err := token.Error(); err != nil {
			log.WithError(err).Warn("broker connect failed, retrying")
			return err
		}
		return nil
	}, b)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to broker %s", opts.Broker)
	}
	return p, nil
}

// willPayload is the retained last-will message the broker publishes when
// the connection drops without a clean disconnect.
func willPayload(now time.Time) []byte {
	payload, _ := FormatSystemPayload(SystemEvent{
		Timestamp: now,
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	return payload
}

// onConnect restores subscriptions and replays buffered system events.
// paho runs it on its own goroutine.
func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	reconnect := p.everConnected
	p.everConnected = true
	pending := p.buffer.drainAll()
	subs := make(map[string]MessageHandler, len(p.subs))
	for topic, h := range p.subs {
		subs[topic] = h
	}
	p.mu.Unlock()

	for topic, h := range subs {
		client.Subscribe(topic, 0, wrapHandler(h))
	}

	for _, msg := range pending {
		client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
	if len(pending) > 0 {
		p.log.WithField("count", len(pending)).Info("replayed buffered system events")
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{
			Timestamp: time.Now(),
			Event:     "RECONNECTED",
		})
		client.Publish(TopicSystem, 1, true, payload)
		p.log.Info("reconnected to broker")
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.log.WithError(err).Warn("connection to broker lost")
}

func wrapHandler(h MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

// Subscribe registers handler for topics. Subscriptions are restored after
// every reconnect.
func (p *RealPublisher) Subscribe(topics []string, handler MessageHandler) error {
	p.mu.Lock()
	for _, t := range topics {
		p.subs[t] = handler
	}
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil
	}
	for _, t := range topics {
		token := p.client.Subscribe(t, 0, wrapHandler(handler))
		if !token.WaitTimeout(5 * time.Second) {
			return errors.Errorf("subscribe %s: timeout", t)
		}
		if err := token.Error(); err != nil {
			return errors.Wrapf(err, "subscribe %s", t)
		}
	}
	return nil
}

// Publish sends an upload row with QoS 1. Rows are not buffered here; while
// disconnected ErrNotConnected leaves them due at their source.
func (p *RealPublisher) Publish(msg report.Message) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := p.client.Publish(msg.Topic, 1, false, msg.Payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.Errorf("publish %s: timeout", msg.Topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish %s", msg.Topic)
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker. While
// disconnected the event is buffered and replayed on reconnect.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return errors.Wrap(err, "format system payload")
	}

	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		dropped := p.buffer.push(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
		p.mu.Unlock()
		if dropped {
			p.log.WithField("capacity", p.buffer.capacity).Warn("system event buffer full, dropping oldest")
		}
		return nil
	}

	// QoS 1 (at-least-once) for system events
	token := p.client.Publish(TopicSystem, 1, event.Retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("publish system: timeout")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "publish system")
	}
	return nil
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
