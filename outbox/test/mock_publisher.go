package test

import (
	"context"
	"errors"
	"sync"

	"inviqa/event-outbox-relay/outbox"
)

var ErrBrokerUnavailable = errors.New("broker unavailable")

type Published struct {
	RoutingKey string
	Message    outbox.Publishable
}

type MockPublisher struct {
	sync.RWMutex
	published []Published
	failures  map[string]int
	failAll   bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		failures: map[string]int{},
	}
}

func (p *MockPublisher) Publish(_ context.Context, routingKey string, msg outbox.Publishable) error {
	p.Lock()
	defer p.Unlock()

	if p.failAll {
		return &outbox.PublishError{RoutingKey: routingKey, Err: ErrBrokerUnavailable}
	}

	if n := p.failures[msg.Key()]; n > 0 {
		p.failures[msg.Key()] = n - 1
		return &outbox.PublishError{RoutingKey: routingKey, Err: ErrBrokerUnavailable}
	}

	p.published = append(p.published, Published{RoutingKey: routingKey, Message: msg})

	return nil
}

// FailTimes makes the next n publishes of the message keyed key fail.
func (p *MockPublisher) FailTimes(key string, n int) {
	p.Lock()
	defer p.Unlock()
	p.failures[key] = n
}

func (p *MockPublisher) FailAll(fail bool) {
	p.Lock()
	defer p.Unlock()
	p.failAll = fail
}

func (p *MockPublisher) Published() []Published {
	p.RLock()
	defer p.RUnlock()
	return append([]Published{}, p.published...)
}

// PublishCount returns how often the message keyed key was published.
func (p *MockPublisher) PublishCount(key string) int {
	p.RLock()
	defer p.RUnlock()

	n := 0
	for _, pub := range p.published {
		if pub.Message.Key() == key {
			n++
		}
	}
	return n
}

func (p *MockPublisher) Close() error {
	return nil
}
