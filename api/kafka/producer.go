package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"

	"mediaGen/core/models"
)

type Producer interface {
	SendGenerationMessage(ctx context.Context, topic string, message *models.GenerationMessage) error
	Close() error
}

type producer struct {
	producer sarama.SyncProducer
}

func NewProducer(brokers []string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return NewFromSyncProducer(p), nil
}

// NewFromSyncProducer wraps an existing sarama producer, e.g. sarama/mocks.
func NewFromSyncProducer(p sarama.SyncProducer) Producer {
	return &producer{producer: p}
}

func (p *producer) SendGenerationMessage(ctx context.Context, topic string, message *models.GenerationMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(message.TaskID, 10)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("trace_id"), Value: []byte(message.TraceID)},
		},
	}

	if _, _, err = p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish task %d: %w", message.TaskID, err)
	}
	return nil
}

func (p *producer) Close() error {
	return p.producer.Close()
}
