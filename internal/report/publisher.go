package report

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Message is one serialized upload row.
type Message struct {
	Kind    string
	Topic   string
	Key     string
	Payload []byte
}

// Publisher delivers messages to a sink.
type Publisher interface {
	Publish(msg Message) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(msg Message) error

// Publish calls f.
func (f PublisherFunc) Publish(msg Message) error {
	return f(msg)
}

// Fanout delivers to a primary sink and any number of mirrors. Only the
// primary decides success; mirror failures are logged.
type Fanout struct {
	primary Publisher
	mirrors []Publisher
	log     *logrus.Entry
}

// NewFanout creates a fanout. Nil mirrors are skipped.
func NewFanout(primary Publisher, log *logrus.Entry, mirrors ...Publisher) *Fanout {
	f := &Fanout{primary: primary, log: log}
	for _, m := range mirrors {
		if m != nil {
			f.mirrors = append(f.mirrors, m)
		}
	}
	return f
}

// Publish sends msg to the primary, then to the mirrors.
func (f *Fanout) Publish(msg Message) error {
	if err := f.primary.Publish(msg); err != nil {
		return errors.Wrap(err, "primary")
	}
	for _, m := range f.mirrors {
		if err := m.Publish(msg); err != nil {
			f.log.WithError(err).WithField("key", msg.Key).Warn("mirror publish failed")
		}
	}
	return nil
}
