package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/IBM/sarama"
)

// Notifier передает запросы на уведомления сервису доставки через sarama SyncProducer.
type Notifier struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewSyncProducer создает SyncProducer по конфигурации.
func NewSyncProducer(cfg *Config) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create sync producer: %w", err)
	}
	return producer, nil
}

// NewNotifier создает отправителя уведомлений
func NewNotifier(producer sarama.SyncProducer, topic string, log *logger.Logger) *Notifier {
	return &Notifier{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

// Notify публикует запрос на уведомление.
func (n *Notifier) Notify(ctx context.Context, notification domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(notification.TenantID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("notification_kind"),
				Value: []byte(notification.Kind),
			},
		},
		Timestamp: time.Now(),
	}

	partition, offset, err := n.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.log.Debugw("Published notification",
		"topic", n.topic,
		"kind", notification.Kind,
		"tenantID", notification.TenantID,
		"partition", partition,
		"offset", offset)
	return nil
}

// Close закрывает продюсер
func (n *Notifier) Close() error {
	return n.producer.Close()
}
