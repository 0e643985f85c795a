package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
	kafkaGo "github.com/segmentio/kafka-go"
)

// EnsureKafkaTopics проверяет и создает топики событий и уведомлений.
func EnsureKafkaTopics(ctx context.Context, cfg *Config, log *logger.Logger) error {
	requiredTopics := map[string]kafkaGo.TopicConfig{
		cfg.EventsTopic: {
			Topic:             cfg.EventsTopic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		},
		cfg.NotificationsTopic: {
			Topic:             cfg.NotificationsTopic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		},
	}

	log.Infow("Ensuring Kafka topics exist...", "topics", getTopicNames(requiredTopics))

	if len(cfg.Brokers) == 0 || cfg.Brokers[0] == "" {
		log.Errorw("Kafka broker address is empty")
		return errors.New("kafka broker address is empty")
	}
	broker := strings.TrimSpace(cfg.Brokers[0])
	_, portStr, err := net.SplitHostPort(broker)
	if err != nil {
		log.Errorw("Invalid Kafka broker address format", "broker", broker, "error", err)
		return fmt.Errorf("invalid broker address %s: %w", broker, err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		log.Errorw("Invalid Kafka broker port", "broker", broker, "error", err)
		return fmt.Errorf("invalid broker port %s: %w", broker, err)
	}

	connCtx, cancelConn := context.WithTimeout(ctx, 15*time.Second)
	defer cancelConn()

	conn, err := kafkaGo.DialLeader(connCtx, "tcp", broker, "", 0)
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker for topic creation", "broker", broker, "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		log.Errorw("Failed to read partitions from Kafka", "error", err)
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	existingTopics := make(map[string]bool)
	for _, p := range partitions {
		existingTopics[p.Topic] = true
	}

	topicsToCreate := missingTopics(requiredTopics, existingTopics)
	if len(topicsToCreate) == 0 {
		log.Infow("All required topics already exist.")
		return nil
	}

	log.Infow("Attempting to create topics...", "topics", getTopicNamesFromConfig(topicsToCreate))
	if err := conn.CreateTopics(topicsToCreate...); err != nil {
		if errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Warnw("One or more topics already existed during creation attempt", "topics", getTopicNamesFromConfig(topicsToCreate))
			return nil
		}
		log.Errorw("Failed to create topics", "error", err, "topics", getTopicNamesFromConfig(topicsToCreate))
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Successfully created topics", "topics", getTopicNamesFromConfig(topicsToCreate))
	return nil
}

// missingTopics возвращает конфигурации топиков, которых еще нет в кластере.
func missingTopics(required map[string]kafkaGo.TopicConfig, existing map[string]bool) []kafkaGo.TopicConfig {
	var out []kafkaGo.TopicConfig
	for name, config := range required {
		if !existing[name] {
			out = append(out, config)
		}
	}
	return out
}

func getTopicNames(topicMap map[string]kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(topicMap))
	for name := range topicMap {
		names = append(names, name)
	}
	return names
}

func getTopicNamesFromConfig(topicConfigs []kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(topicConfigs))
	for _, tc := range topicConfigs {
		names = append(names, tc.Topic)
	}
	return names
}
