package rabbitmq

import (
	"sync"

	"inviqa/event-outbox-relay/log"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// session is one connection with its confirm-mode channel. Publishes on a
// session are serialised so that confirms arrive in publish order.
type session struct {
	sync.Mutex
	conn     Connection
	ch       Channel
	confirms chan amqp.Confirmation
	nextTag  uint64
	done     chan struct{}
	once     sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ch.Close()
		_ = s.conn.Close()
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// manager owns the broker connection. Callers asking for a session while a
// connect is in flight share that attempt instead of dialling again.
type manager struct {
	url      string
	exchange string
	dial     DialFunc

	mu      sync.Mutex
	state   State
	current *session
	group   singleflight.Group
}

func newManager(url, exchange string, dial DialFunc) *manager {
	return &manager{url: url, exchange: exchange, dial: dial}
}

func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *manager) session() (*session, error) {
	m.mu.Lock()
	if m.state == Connected && !m.current.closed() {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	m.state = Connecting
	m.mu.Unlock()

	v, err, _ := m.group.Do("connect", func() (interface{}, error) {
		// a flight that finished after our check above may already have connected
		if s := m.live(); s != nil {
			return s, nil
		}

		s, err := m.connect()

		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			m.state = Disconnected
			return nil, err
		}
		m.current = s
		m.state = Connected

		return s, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*session), nil
}

func (m *manager) live() *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.closed() {
		m.state = Connected
		return m.current
	}

	return nil
}

func (m *manager) connect() (*session, error) {
	log.Logger.Debug("connecting to RabbitMQ")

	conn, err := m.dial(m.url)
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq: dial failed")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbitmq: opening channel failed")
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbitmq: enabling publisher confirms failed")
	}

	if err := declareTopology(ch, m.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	s := &session{
		conn:     conn,
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		done:     make(chan struct{}),
	}

	go m.watch(s, conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))

	log.Logger.Info("connected to RabbitMQ, topology declared")

	return s, nil
}

func (m *manager) watch(s *session, connClosed, chClosed chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chClosed:
	case <-s.done:
		return
	}

	if s.closed() {
		return
	}

	fields := logrus.Fields{}
	if reason != nil {
		fields["reason"] = reason.Error()
	}
	log.Logger.WithFields(fields).Warn("RabbitMQ connection lost, reconnecting on next publish")

	m.teardown(s)
}

// teardown closes s and, when it is still the current session, marks the
// manager disconnected so that the next publish reconnects.
func (m *manager) teardown(s *session) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
		m.state = Disconnected
	}
	m.mu.Unlock()

	s.close()
}

func (m *manager) close() {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s != nil {
		m.teardown(s)
	}
}
