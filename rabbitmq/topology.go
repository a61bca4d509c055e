package rabbitmq

import (
	"inviqa/event-outbox-relay/outbox"

	"github.com/pkg/errors"
)

// Queues lists the durable queues bound to the exchange. Each is bound with
// its own name as the routing key.
func Queues() []string {
	var queues []string
	for _, t := range outbox.EventTypes {
		queues = append(queues, string(t))
	}

	return append(queues, outbox.Unhandled)
}

func declareTopology(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "rabbitmq: declaring exchange %s", exchange)
	}

	for _, q := range Queues() {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "rabbitmq: declaring queue %s", q)
		}

		if err := ch.QueueBind(q, q, exchange, false, nil); err != nil {
			return errors.Wrapf(err, "rabbitmq: binding queue %s to %s", q, exchange)
		}
	}

	return nil
}
