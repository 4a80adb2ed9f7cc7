package queue

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue carries messages over a Kafka topic. The message type travels in
// the record key for partitioning visibility, the JSON envelope in the value.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *slog.Logger
}

// NewKafkaQueue wires a writer and a consumer-group reader for the topic.
func NewKafkaQueue(brokers []string, topic, groupID string, logger *slog.Logger) *KafkaQueue {
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 10e6,
		}),
		logger: logger,
	}
}

// Publish writes the JSON envelope to the topic.
func (q *KafkaQueue) Publish(ctx context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Type),
		Value: data,
	})
}

// Consume streams messages from the consumer group until the context ends.
func (q *KafkaQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		defer q.reader.Close()
		for {
			m, err := q.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if q.logger != nil {
					q.logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			msg, err := decode(m.Value)
			if err != nil {
				if q.logger != nil {
					q.logger.Warn("kafka payload decode failed", "err", err)
				}
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the writer. The reader closes with its consume loop.
func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
