package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/outbox"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotConfirmed   = errors.New("rabbitmq: broker did not acknowledge the message")
	ErrConfirmTimeout = errors.New("rabbitmq: timed out waiting for the broker confirm")
	ErrChannelClosed  = errors.New("rabbitmq: channel closed before the broker confirmed the message")
)

// Publisher sends messages to a topic exchange and only reports success once
// the broker has confirmed them.
type Publisher struct {
	manager        *manager
	exchange       string
	confirmTimeout time.Duration
}

func NewPublisher(url, exchange string, confirmTimeout time.Duration) *Publisher {
	return NewPublisherWithDialer(url, exchange, confirmTimeout, Dial)
}

func NewPublisherWithDialer(url, exchange string, confirmTimeout time.Duration, dial DialFunc) *Publisher {
	return &Publisher{
		manager:        newManager(url, exchange, dial),
		exchange:       exchange,
		confirmTimeout: confirmTimeout,
	}
}

// Publish connects lazily, publishes msg as persistent JSON under routingKey
// and waits for the broker confirm. Any failure is an *outbox.PublishError;
// the publisher never retries by itself.
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg outbox.Publishable) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &outbox.PublishError{RoutingKey: routingKey, Err: err}
	}

	s, err := p.manager.session()
	if err != nil {
		return &outbox.PublishError{RoutingKey: routingKey, Err: err}
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers() {
		headers[k] = v
	}

	pub := amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Key(),
		Timestamp:    time.Now().UTC(),
		Type:         routingKey,
		Body:         body,
	}

	if err := p.publishAndConfirm(ctx, s, routingKey, pub); err != nil {
		log.Logger.WithFields(logrus.Fields{
			"routing_key": routingKey,
			"message_id":  pub.MessageId,
		}).WithError(err).Warn("publish to RabbitMQ failed, dropping the session")

		p.manager.teardown(s)
		return &outbox.PublishError{RoutingKey: routingKey, Err: err}
	}

	log.Logger.WithFields(logrus.Fields{
		"routing_key": routingKey,
		"message_id":  pub.MessageId,
	}).Debug("message confirmed by RabbitMQ")

	return nil
}

func (p *Publisher) publishAndConfirm(ctx context.Context, s *session, routingKey string, pub amqp.Publishing) error {
	s.Lock()
	defer s.Unlock()

	if s.closed() {
		return ErrChannelClosed
	}

	if err := s.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, pub); err != nil {
		return err
	}
	s.nextTag++
	tag := s.nextTag

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	for {
		select {
		case c, ok := <-s.confirms:
			if !ok {
				return ErrChannelClosed
			}
			if c.DeliveryTag < tag {
				continue
			}
			if !c.Ack {
				return ErrNotConfirmed
			}
			return nil
		case <-s.done:
			return ErrChannelClosed
		case <-timer.C:
			return ErrConfirmTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// State reports where the connection manager currently is.
func (p *Publisher) State() State {
	return p.manager.State()
}

func (p *Publisher) Close() error {
	p.manager.close()
	return nil
}
