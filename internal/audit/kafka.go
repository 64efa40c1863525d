package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Record is the envelope published for each audit entry.
type Record struct {
	ID       string          `json:"id"`
	Category string          `json:"category"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
	LoggedAt time.Time       `json:"logged_at"`
}

// KafkaLogger publishes audit records to a Kafka topic.
type KafkaLogger struct {
	writer *kafka.Writer
}

func NewKafkaLogger(brokers []string, topic string) *KafkaLogger {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaLogger{writer: writer}
}

func (l *KafkaLogger) Log(category, key string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Audit] %s %s: failed to marshal payload: %v", category, key, err)
		return
	}
	record := Record{
		ID:       uuid.New().String(),
		Category: category,
		Key:      key,
		Payload:  data,
		LoggedAt: time.Now(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		log.Printf("[Audit] %s %s: failed to marshal record: %v", category, key, err)
		return
	}

	err = l.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(category + ":" + key),
		Value: value,
		Time:  record.LoggedAt,
	})
	if err != nil {
		log.Printf("[Audit] %s %s: failed to publish record: %v", category, key, err)
	}
}

func (l *KafkaLogger) Close() error {
	return l.writer.Close()
}
