package kafka

import (
	"github.com/Shopify/sarama"
)

// MessageKey is the record key: the event id, which consumers deduplicate
// on, plus the entity id that decides the partition.
type MessageKey struct {
	Key          string
	PartitionKey string
	sarama.StringEncoder
}

func newMessageKey(key, partitionKey string) MessageKey {
	return MessageKey{
		Key:           key,
		PartitionKey:  partitionKey,
		StringEncoder: sarama.StringEncoder(key),
	}
}

// KeyForPartitioning falls back to the event id for messages without an
// entity.
func (mk MessageKey) KeyForPartitioning() string {
	if mk.PartitionKey == "" {
		return mk.Key
	}

	return mk.PartitionKey
}
