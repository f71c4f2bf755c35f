package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes notification messages to a Kafka topic, keyed by
// recipient so one student's notifications stay ordered.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		},
		topic: topic,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, recipientID, kind, title, message string, data map[string]interface{}) error {
	msg := Message{
		RecipientID: recipientID,
		Kind:        kind,
		Title:       title,
		Message:     message,
		Data:        data,
		SentAt:      time.Now().UTC(),
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Topic: n.topic,
		Key:   []byte(recipientID),
		Value: buf,
	}); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error { return n.writer.Close() }
