package amqp

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeTypeTopic = "topic"
	durable           = true
	deleteWhenUnused  = false
	internal          = false
	noWait            = false
	mandatory         = false
	immediate         = false
)

type connection interface {
	connect() error
	exchangeDeclare(name, exchangeType string) error
	publish(exchange, key string, msg amqp.Publishing) error
	notifyClose(ch chan *amqp.Error) chan *amqp.Error
	isClosed() bool
	close() error
}

type amqpConnection struct {
	url     string
	conn    *amqp.Connection
	channel *amqp.Channel
}

func newAmqpConnection(url string) *amqpConnection {
	return &amqpConnection{url: url}
}

func (a *amqpConnection) connect() error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	a.conn = conn
	a.channel = channel
	return nil
}

func (a *amqpConnection) exchangeDeclare(name, exchangeType string) error {
	return a.channel.ExchangeDeclare(
		name,
		exchangeType,
		durable,
		deleteWhenUnused,
		internal,
		noWait,
		nil, // arguments
	)
}

func (a *amqpConnection) publish(exchange, key string, msg amqp.Publishing) error {
	return a.channel.Publish(exchange, key, mandatory, immediate, msg)
}

func (a *amqpConnection) notifyClose(ch chan *amqp.Error) chan *amqp.Error {
	return a.conn.NotifyClose(ch)
}

func (a *amqpConnection) isClosed() bool {
	return a.conn == nil || a.conn.IsClosed()
}

func (a *amqpConnection) close() error {
	if a.channel != nil {
		a.channel.Close()
	}
	if a.conn != nil && !a.conn.IsClosed() {
		return a.conn.Close()
	}
	return nil
}
