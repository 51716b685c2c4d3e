package mqtt

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type reading struct {
	value float64
	at    time.Time
}

// Subscriber keeps the latest numeric value received per topic. Upstream
// collectors publish plain decimal numbers.
type Subscriber struct {
	mu     sync.RWMutex
	values map[string]reading
	now    func() time.Time
	log    *logrus.Entry
}

// NewSubscriber creates an empty cache. now stamps incoming values.
func NewSubscriber(now func() time.Time, log *logrus.Entry) *Subscriber {
	return &Subscriber{
		values: make(map[string]reading),
		now:    now,
		log:    log,
	}
}

// Handle stores payload as the latest value of topic. Payloads that are not
// numbers are ignored.
func (s *Subscriber) Handle(topic string, payload []byte) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		s.log.WithFields(logrus.Fields{"topic": topic, "payload": string(payload)}).Debug("ignoring non-numeric value")
		return
	}
	s.mu.Lock()
	s.values[topic] = reading{value: v, at: s.now()}
	s.mu.Unlock()
}

// Latest returns the last value of topic and when it arrived.
func (s *Subscriber) Latest(topic string) (float64, time.Time, bool) {
	s.mu.RLock()
	r, ok := s.values[topic]
	s.mu.RUnlock()
	return r.value, r.at, ok
}
