package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 15 * time.Second

// messageWriter часть kafka.Writer, которую использует издатель.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher публикует события жизненного цикла подписки через segmentio/kafka-go.
type EventPublisher struct {
	writer messageWriter
	topic  string
	log    *logger.Logger
}

// NewEventPublisher создает и настраивает издателя событий биллинга.
func NewEventPublisher(brokers []string, topic string, log *logger.Logger) (*EventPublisher, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	// RequireOne: подтверждение только от лидера партиции.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka event publisher initialized", "brokers", brokers, "topic", topic)
	return newEventPublisher(writer, topic, log), nil
}

func newEventPublisher(writer messageWriter, topic string, log *logger.Logger) *EventPublisher {
	return &EventPublisher{writer: writer, topic: topic, log: log}
}

// Publish отправляет событие. Ключ сообщения - tenant id: события одного тенанта
// попадают в одну партицию и читаются по порядку.
func (p *EventPublisher) Publish(ctx context.Context, event domain.BillingEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal billing event: %w", err)
	}

	message := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.TenantID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.OccurredAt,
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			p.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", p.topic, "tenantID", event.TenantID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		p.log.Errorw("Failed to write message to Kafka", "error", err, "topic", p.topic, "tenantID", event.TenantID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	p.log.Debugw("Published billing event", "topic", p.topic, "type", event.Type, "tenantID", event.TenantID)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (p *EventPublisher) Close() error {
	p.log.Infow("Closing Kafka event publisher...")
	if err := p.writer.Close(); err != nil {
		p.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}
