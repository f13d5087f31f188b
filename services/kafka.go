package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RobertoIHH/MQ7ServerWifi/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaSink writes records to a topic keyed by gas type, so readings of one
// gas stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, rec *models.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	msg := kafka.Message{Key: []byte(rec.GasType), Value: b, Time: rec.IngestedAt()}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.logger.Debug("Record published to Kafka",
		zap.String("topic", s.writer.Topic),
		zap.String("gas", string(rec.GasType)))
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
