// Package queue carries attendance events from the API to background
// consumers over an in-memory channel, a Redis list, or a Kafka topic.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeAttendanceMarked tags the event published after every successful mark.
const TypeAttendanceMarked = "attendance.marked"

// Marked is the payload of an attendance.marked event.
type Marked struct {
	RecordID  string  `json:"record_id"`
	UserID    string  `json:"user_id"`
	Status    string  `json:"status"`
	SessionID *string `json:"session_id,omitempty"`
}

// Message is the wire envelope shared by every backend. Consumers dispatch on
// Type and read the matching payload field.
type Message struct {
	Type   string  `json:"type"`
	Marked *Marked `json:"marked,omitempty"`
}

// NewMarked wraps a mark payload in its envelope.
func NewMarked(m Marked) Message {
	return Message{Type: TypeAttendanceMarked, Marked: &m}
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing. Messages never
// hit the wire, so no encoding happens.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				out <- msg
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue holding JSON envelopes.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "faceattend:queue"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Consume streams messages using BRPOP. Entries that fail to decode are
// dropped rather than poisoning the loop.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				if msg, err := decode([]byte(res[1])); err == nil {
					out <- msg
				}
			}
		}
	}()
	return out, nil
}
