package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/internal/kafka"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Event событие сверки, публикуемое в Kafka
type Event struct {
	ID string `json:"id"`
	// Type совпадает с именем топика
	Type string `json:"type"`
	// SourceEventID идентификатор события Stripe, вызвавшего изменение
	SourceEventID string      `json:"source_event_id,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
	Data          interface{} `json:"data"`
}

// ReconcileProducer публикует результаты сверки
type ReconcileProducer interface {
	// Publish отправляет data в topic; key определяет партицию
	Publish(ctx context.Context, topic, key, sourceEventID string, data interface{}) error
	Close() error
}

type kafkaReconcileProducer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
}

// NewKafkaReconcileProducer создает продюсер поверх синхронного продюсера sarama
func NewKafkaReconcileProducer(producer sarama.SyncProducer, log *logger.Logger) ReconcileProducer {
	return &kafkaReconcileProducer{
		producer: producer,
		log:      log,
	}
}

func (p *kafkaReconcileProducer) Publish(ctx context.Context, topic, key, sourceEventID string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event := Event{
		ID:            uuid.NewString(),
		Type:          topic,
		SourceEventID: sourceEventID,
		OccurredAt:    time.Now().UTC(),
		Data:          data,
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(topic)},
			{Key: []byte("event_id"), Value: []byte(event.ID)},
		},
		Timestamp: event.OccurredAt,
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.log.Errorw("Failed to publish event", "error", err, "topic", topic, "key", key)
		return fmt.Errorf("failed to publish %s event: %w", topic, err)
	}

	p.log.Debugw("Published event", "topic", topic, "key", key, "partition", partition, "offset", offset)
	return nil
}

func (p *kafkaReconcileProducer) Close() error {
	return p.producer.Close()
}

// NopProducer используется, когда Kafka не настроена
type NopProducer struct{}

func (NopProducer) Publish(context.Context, string, string, string, interface{}) error { return nil }

func (NopProducer) Close() error { return nil }

var _ ReconcileProducer = NopProducer{}

// topics re-export для вызывающего кода
const (
	TopicOrderMaterialized      = kafka.TopicOrderMaterialized
	TopicSubscriptionReconciled = kafka.TopicSubscriptionReconciled
	TopicFulfillmentCreated     = kafka.TopicFulfillmentCreated
	TopicFulfillmentSkipped     = kafka.TopicFulfillmentSkipped
	TopicPaymentFailed          = kafka.TopicPaymentFailed
	TopicPaymentRefunded        = kafka.TopicPaymentRefunded
)
