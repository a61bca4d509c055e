package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/outbox"

	"github.com/Shopify/sarama"
)

// Publisher produces messages to the topic named by the routing key. The
// sync producer waits for all in-sync replicas, which serves as the
// broker confirm.
type Publisher struct {
	producer sarama.SyncProducer
}

func NewPublisher(kafkaHost []string, cfg *sarama.Config) *Publisher {
	return NewPublisherWithProducer(newProducer(cfg, kafkaHost))
}

func NewPublisherWithProducer(prod sarama.SyncProducer) *Publisher {
	return &Publisher{
		producer: prod,
	}
}

func (p *Publisher) Publish(_ context.Context, routingKey string, msg outbox.Publishable) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &outbox.PublishError{RoutingKey: routingKey, Err: fmt.Errorf("error marshalling message for Kafka: %w", err)}
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   routingKey,
		Headers: createRecordHeaders(msg.Headers()),
		Key:     newMessageKey(msg.Key(), msg.PartitionKey()),
		Value:   sarama.ByteEncoder(body),
	})

	if err != nil {
		wrapErr := fmt.Errorf("error producing message in Kafka: %w", err)
		log.Logger.Error(wrapErr)
		return &outbox.PublishError{RoutingKey: routingKey, Err: wrapErr}
	}

	log.Logger.Debugf("produced message in Kafka (topic: %s, partition: %d, offset: %d)", routingKey, partition, offset)

	return nil
}

func newProducer(cfg *sarama.Config, kafkaHosts []string) sarama.SyncProducer {
	producer, err := sarama.NewSyncProducer(kafkaHosts, cfg)
	if err != nil {
		log.Logger.Panicf("could not start kafka producer: %s", err)
	}

	return producer
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}

// createRecordHeaders sorts by key so that records are reproducible.
func createRecordHeaders(headers map[string]string) []sarama.RecordHeader {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	recs := []sarama.RecordHeader{}
	for _, k := range keys {
		recs = append(recs, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}

	return recs
}
