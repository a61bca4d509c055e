package rabbitmq

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type confirmMode int

const (
	confirmAck confirmMode = iota
	confirmNack
	confirmNever
)

type fakeChannel struct {
	sync.Mutex
	mode        confirmMode
	publishErr  error
	declareErr  error
	confirms    chan amqp.Confirmation
	closeNotify []chan *amqp.Error
	published   []amqp.Publishing
	keys        []string
	exchanges   []string
	queues      []string
	bindings    []string
	tag         uint64
	closed      bool
}

func (f *fakeChannel) Confirm(noWait bool) error {
	return nil
}

func (f *fakeChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	f.Lock()
	defer f.Unlock()
	f.confirms = confirm
	return confirm
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	f.Lock()
	defer f.Unlock()
	f.closeNotify = append(f.closeNotify, c)
	return c
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.Lock()
	defer f.Unlock()
	if f.declareErr != nil {
		return f.declareErr
	}
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.Lock()
	defer f.Unlock()
	if !durable {
		return amqp.Queue{}, errors.New("queues must be durable")
	}
	f.queues = append(f.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.Lock()
	defer f.Unlock()
	f.bindings = append(f.bindings, exchange+"->"+key+"->"+name)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.Lock()
	defer f.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	if f.publishErr != nil {
		return f.publishErr
	}

	f.tag++
	f.published = append(f.published, msg)
	f.keys = append(f.keys, exchange+"/"+key)

	if f.mode == confirmNever {
		return nil
	}

	select {
	case f.confirms <- amqp.Confirmation{DeliveryTag: f.tag, Ack: f.mode == confirmAck}:
	default:
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.Lock()
	defer f.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.confirms != nil {
		close(f.confirms)
	}
	for _, c := range f.closeNotify {
		close(c)
	}
	return nil
}

func (f *fakeChannel) Published() []amqp.Publishing {
	f.Lock()
	defer f.Unlock()
	return append([]amqp.Publishing{}, f.published...)
}

type fakeConnection struct {
	sync.Mutex
	ch          *fakeChannel
	closeNotify []chan *amqp.Error
	closed      bool
}

func (c *fakeConnection) Channel() (Channel, error) {
	return c.ch, nil
}

func (c *fakeConnection) NotifyClose(n chan *amqp.Error) chan *amqp.Error {
	c.Lock()
	defer c.Unlock()
	c.closeNotify = append(c.closeNotify, n)
	return n
}

func (c *fakeConnection) Close() error {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, n := range c.closeNotify {
		close(n)
	}
	return nil
}

// drop simulates the broker closing the connection.
func (c *fakeConnection) drop() {
	c.Lock()
	defer c.Unlock()
	for _, n := range c.closeNotify {
		n <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker shutdown"}
	}
}

type fakeDialer struct {
	sync.Mutex
	mode  confirmMode
	err   error
	gate  chan struct{}
	conns []*fakeConnection
}

func (d *fakeDialer) Dial(url string) (Connection, error) {
	if d.gate != nil {
		<-d.gate
	}

	d.Lock()
	defer d.Unlock()
	if d.err != nil {
		return nil, d.err
	}

	conn := &fakeConnection{ch: &fakeChannel{mode: d.mode}}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.Lock()
	defer d.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) Last() *fakeConnection {
	d.Lock()
	defer d.Unlock()
	return d.conns[len(d.conns)-1]
}
