// Package amqp mirrors upload rows to a RabbitMQ topic exchange.
package amqp

import (
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/boiler-telemetry/internal/report"
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("amqp: not connected")

// Mirror publishes rows as persistent messages. The routing key is the row
// topic with slashes turned into dots.
type Mirror struct {
	conn     connection
	exchange string
	log      *logrus.Entry

	mu        sync.Mutex
	connected bool
	declared  bool
	closed    bool

	startBackOff     func() backoff.BackOff
	reconnectBackOff func() backoff.BackOff
}

// NewMirror creates a mirror for the broker at url. Call Start to connect.
func NewMirror(url, exchange string, log *logrus.Entry) *Mirror {
	return newMirror(newAmqpConnection(url), exchange, log)
}

func newMirror(conn connection, exchange string, log *logrus.Entry) *Mirror {
	return &Mirror{
		conn:     conn,
		exchange: exchange,
		log:      log,
		startBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = time.Minute
			return b
		},
		reconnectBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 30 * time.Second
			b.MaxInterval = 5 * time.Minute
			b.Multiplier = 1.7
			b.MaxElapsedTime = 0 // never stop
			return b
		},
	}
}

// Start connects, declares the exchange and watches the connection.
func (m *Mirror) Start() error {
	if err := backoff.Retry(m.connect, m.startBackOff()); err != nil {
		return errors.Wrap(err, "connect to amqp broker")
	}
	m.watch()
	return nil
}

func (m *Mirror) connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.conn.connect(); err != nil {
		m.log.WithError(err).Warn("amqp connect failed, retrying")
		return err
	}
	m.connected = true
	m.declared = false
	return nil
}

func (m *Mirror) watch() {
	m.mu.Lock()
	closing := m.conn.notifyClose(make(chan *amqp.Error, 1))
	m.mu.Unlock()
	go m.reconnectOn(closing)
}

func (m *Mirror) reconnectOn(closing chan *amqp.Error) {
	reason, ok := <-closing
	m.mu.Lock()
	m.connected = false
	stop := m.closed
	m.mu.Unlock()
	if !ok || reason == nil || stop {
		return
	}

	m.log.WithError(reason).Warn("amqp connection closed, reconnecting")
	if err := backoff.Retry(m.connect, m.reconnectBackOff()); err != nil {
		m.log.WithError(err).Error("amqp reconnection gave up")
		return
	}
	m.log.Info("amqp reconnection was successful")
	m.watch()
}

// Publish sends msg to the exchange.
func (m *Mirror) Publish(msg report.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected || m.conn.isClosed() {
		return ErrNotConnected
	}
	if !m.declared {
		if err := m.conn.exchangeDeclare(m.exchange, exchangeTypeTopic); err != nil {
			return errors.Wrapf(err, "declare exchange %s", m.exchange)
		}
		m.declared = true
	}

	err := m.conn.publish(m.exchange, RoutingKey(msg.Topic), amqp.Publishing{
		Headers:      amqp.Table{"kind": msg.Kind},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Key,
		Timestamp:    time.Now(),
		Body:         msg.Payload,
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", msg.Key)
	}
	return nil
}

// Close shuts the connection down without reconnecting.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = false
	return m.conn.close()
}

// RoutingKey converts an MQTT style topic to an AMQP routing key.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}
