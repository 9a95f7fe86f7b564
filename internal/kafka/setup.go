package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/payment-reconciler/pkg/logger"
	kafkaGo "github.com/segmentio/kafka-go"
)

// RequiredTopics конфигурация топиков сверки
func RequiredTopics() []kafkaGo.TopicConfig {
	configs := make([]kafkaGo.TopicConfig, 0, len(Topics))
	for _, topic := range Topics {
		configs = append(configs, kafkaGo.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		})
	}
	return configs
}

// EnsureKafkaTopics проверяет и создает необходимые топики Kafka.
func EnsureKafkaTopics(ctx context.Context, brokers []string, log *logger.Logger) error {
	required := RequiredTopics()
	log.Infow("Ensuring Kafka topics exist...", "topics", Topics)

	if len(brokers) == 0 || brokers[0] == "" {
		log.Errorw("Kafka broker address is empty")
		return errors.New("kafka broker address is empty")
	}
	broker := strings.TrimSpace(brokers[0])
	_, portStr, err := net.SplitHostPort(broker)
	if err != nil {
		log.Errorw("Invalid Kafka broker address format", "broker", broker, "error", err)
		return fmt.Errorf("invalid broker address %s: %w", broker, err)
	}
	if _, err = strconv.Atoi(portStr); err != nil {
		log.Errorw("Invalid Kafka broker port", "broker", broker, "error", err)
		return fmt.Errorf("invalid broker port %s: %w", broker, err)
	}

	connCtx, cancelConn := context.WithTimeout(ctx, 15*time.Second)
	defer cancelConn()

	conn, err := kafkaGo.DialContext(connCtx, "tcp", broker)
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker for topic creation", "broker", broker, "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	// топики создаются только через контроллер кластера
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller lookup failed: %w", err)
	}
	controllerConn, err := kafkaGo.DialContext(connCtx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("kafka controller connection failed: %w", err)
	}
	defer controllerConn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		log.Errorw("Failed to read partitions from Kafka", "error", err)
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	existing := make(map[string]bool)
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	toCreate := MissingTopics(required, existing)
	if len(toCreate) == 0 {
		log.Infow("All required topics already exist")
		return nil
	}

	log.Infow("Attempting to create topics...", "count", len(toCreate))
	if err := controllerConn.CreateTopics(toCreate...); err != nil {
		if errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Warnw("One or more topics already existed during creation attempt", "topics", topicNames(toCreate))
			return nil
		}
		log.Errorw("Failed to create topics", "error", err, "topics", topicNames(toCreate))
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Successfully created topics", "topics", topicNames(toCreate))
	return nil
}

// MissingTopics возвращает конфигурации топиков, которых нет среди существующих
func MissingTopics(required []kafkaGo.TopicConfig, existing map[string]bool) []kafkaGo.TopicConfig {
	var missing []kafkaGo.TopicConfig
	for _, cfg := range required {
		if !existing[cfg.Topic] {
			missing = append(missing, cfg)
		}
	}
	return missing
}

func topicNames(configs []kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(configs))
	for _, tc := range configs {
		names = append(names, tc.Topic)
	}
	return names
}
