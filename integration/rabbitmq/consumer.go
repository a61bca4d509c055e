//go:build integration
// +build integration

package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads what the relay published, straight off the queues.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(url string, queues []string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	for _, q := range queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

func (c *Consumer) Purge(queues []string) error {
	for _, q := range queues {
		if _, err := c.ch.QueuePurge(q, false); err != nil {
			return err
		}
	}
	return nil
}

// WaitFor gets messages from queue until one matches or timeout elapses.
// Messages that do not match are acknowledged and dropped.
func (c *Consumer) WaitFor(queue string, timeout time.Duration, match func(amqp.Delivery) bool) (amqp.Delivery, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		d, ok, err := c.ch.Get(queue, true)
		if err != nil {
			return amqp.Delivery{}, false
		}
		if !ok {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		if match(d) {
			return d, true
		}
	}

	return amqp.Delivery{}, false
}

func (c *Consumer) Close() error {
	return c.conn.Close()
}
