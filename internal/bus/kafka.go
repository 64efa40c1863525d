package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/fulfillment-saga/internal/domain/message"
)

// KafkaBus publishes product updates to a single Kafka topic keyed by the
// product key and fans incoming updates out to local subscribers. Run must
// be started once per process for subscriptions to receive anything.
type KafkaBus struct {
	writer *kafka.Writer
	reader *kafka.Reader

	mu     sync.RWMutex
	topics map[string]map[string]Handler
}

func NewKafkaBus(brokers []string, topic, groupID string) *KafkaBus {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &KafkaBus{
		writer: writer,
		reader: reader,
		topics: make(map[string]map[string]Handler),
	}
}

func (b *KafkaBus) Publish(ctx context.Context, update message.ProductUpdated) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(update.Key()),
		Value: data,
		Time:  time.Now(),
	})
}

func (b *KafkaBus) Subscribe(topic, subscriberID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]Handler)
	}
	b.topics[topic][subscriberID] = h
}

func (b *KafkaBus) Unsubscribe(topic, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics[topic], subscriberID)
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}

// Run consumes the stream and dispatches updates to subscribers of the
// matching product key until the context is cancelled.
func (b *KafkaBus) Run(ctx context.Context) error {
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Bus] Error reading message: %v", err)
			continue
		}

		var update message.ProductUpdated
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			log.Printf("[Bus] Error decoding update: %v", err)
			continue
		}

		b.mu.RLock()
		subs := make([]Handler, 0, len(b.topics[update.Key()]))
		for _, h := range b.topics[update.Key()] {
			subs = append(subs, h)
		}
		b.mu.RUnlock()

		for _, h := range subs {
			h(ctx, update)
		}
	}
}

func (b *KafkaBus) Close() error {
	if err := b.writer.Close(); err != nil {
		return err
	}
	return b.reader.Close()
}
