package kafka

import (
	"github.com/Shopify/sarama"
)

// OutboxPartitioner hashes on the entity id so that all events of one entity
// land on the same partition and keep their relative order.
type OutboxPartitioner struct {
	topic           string
	hashPartitioner sarama.Partitioner
}

func NewOutboxPartitioner(topic string) sarama.Partitioner {
	return NewOutboxPartitionerWithCustomPartitioner(topic, sarama.NewHashPartitioner(topic))
}

func NewOutboxPartitionerWithCustomPartitioner(topic string, p sarama.Partitioner) sarama.Partitioner {
	return OutboxPartitioner{
		topic:           topic,
		hashPartitioner: p,
	}
}

func (o OutboxPartitioner) Partition(message *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	mk, ok := message.Key.(MessageKey)
	if !ok {
		return o.hashPartitioner.Partition(message, numPartitions)
	}

	// hash a copy so the record keeps the event id as its key
	hashed := *message
	hashed.Key = sarama.StringEncoder(mk.KeyForPartitioning())

	return o.hashPartitioner.Partition(&hashed, numPartitions)
}

func (o OutboxPartitioner) RequiresConsistency() bool {
	return true
}
