package kafka

import (
	"github.com/IBM/sarama"
)

// Default topic names.
const (
	DefaultEventsTopic        = "billing.events"
	DefaultNotificationsTopic = "billing.notifications"
)

// Config конфигурация для Kafka
type Config struct {
	Brokers            []string
	EventsTopic        string
	NotificationsTopic string
	Producer           ProducerConfig
}

// ProducerConfig конфигурация для продюсера уведомлений (sarama)
type ProducerConfig struct {
	MaxMessageBytes  int
	Compression      sarama.CompressionCodec
	RequiredAcks     sarama.RequiredAcks
	FlushMaxMessages int
	MaxRetries       int
}

// NewConfig создает новую конфигурацию Kafka
func NewConfig(brokers []string, eventsTopic, notificationsTopic string) *Config {
	if eventsTopic == "" {
		eventsTopic = DefaultEventsTopic
	}
	if notificationsTopic == "" {
		notificationsTopic = DefaultNotificationsTopic
	}
	return &Config{
		Brokers:            brokers,
		EventsTopic:        eventsTopic,
		NotificationsTopic: notificationsTopic,
		Producer: ProducerConfig{
			MaxMessageBytes:  1000000,
			Compression:      sarama.CompressionSnappy,
			RequiredAcks:     sarama.WaitForAll,
			FlushMaxMessages: 100,
			MaxRetries:       3,
		},
	}
}

// NewSaramaConfig создает новую конфигурацию Sarama для SyncProducer
func NewSaramaConfig(cfg *Config) *sarama.Config {
	saramaConfig := sarama.NewConfig()

	// Версия Kafka
	saramaConfig.Version = sarama.V3_3_0_0
	saramaConfig.ClientID = "billing-service"

	// Настройки продюсера
	saramaConfig.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	saramaConfig.Producer.Compression = cfg.Producer.Compression
	saramaConfig.Producer.RequiredAcks = cfg.Producer.RequiredAcks
	saramaConfig.Producer.Flush.MaxMessages = cfg.Producer.FlushMaxMessages
	saramaConfig.Producer.Retry.Max = cfg.Producer.MaxRetries
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	return saramaConfig
}
