package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/mend/common/logger"
	"github.com/redis/go-redis/v9"
)

// RedisStreamQueue is a durable queue backed by Redis Streams with consumer
// groups. Each subscriber joins the configured group under a unique consumer
// name; messages are ACKed after the handler returns, success or not.
// Delivery-level retry is carried inside the message payload, not by
// re-delivery of pending entries.
type RedisStreamQueue struct {
	redis *redis.Client
	group string
	log   *logger.Logger
}

// NewRedisStreamQueue creates a stream-backed queue
func NewRedisStreamQueue(redisClient *redis.Client, group string, log *logger.Logger) *RedisStreamQueue {
	return &RedisStreamQueue{
		redis: redisClient,
		group: group,
		log:   log,
	}
}

// Publish appends a message to the stream
func (q *RedisStreamQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"key":   key,
			"value": string(message),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes a stream via XREADGROUP in a background goroutine
func (q *RedisStreamQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	// Create consumer group if it doesn't exist
	if err := q.redis.XGroupCreateMkStream(ctx, topic, q.group, "0").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	consumer := fmt.Sprintf("%s_%s", q.group, uuid.New().String()[:8])
	q.log.Info("subscribing to stream", "stream", topic, "group", q.group, "consumer", consumer)

	go func() {
		for {
			select {
			case <-ctx.Done():
				q.log.Info("stream subscription stopping", "stream", topic)
				return
			default:
				if err := q.readOnce(ctx, topic, consumer, handler); err != nil {
					q.log.Error("stream read failed", "stream", topic, "error", err)
					time.Sleep(1 * time.Second) // Back off on error
				}
			}
		}
	}()

	return nil
}

// readOnce reads and processes one batch of messages from the stream
func (q *RedisStreamQueue) readOnce(ctx context.Context, topic, consumer string, handler MessageHandler) error {
	streams, err := q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    1,
		Block:    5 * time.Second,
	}).Result()

	if err == redis.Nil {
		// No messages, continue
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("XREADGROUP error: %w", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			key, _ := message.Values["key"].(string)
			value, _ := message.Values["value"].(string)

			if err := handler(ctx, key, []byte(value)); err != nil {
				q.log.Error("message handler error", "stream", topic, "message_id", message.ID, "error", err)
				// Handler owns retry semantics; fall through to ACK
			}

			if err := q.redis.XAck(ctx, topic, q.group, message.ID).Err(); err != nil {
				q.log.Error("failed to ACK message", "stream", topic, "message_id", message.ID, "error", err)
			}
		}
	}

	return nil
}

// Close is a no-op; the underlying client is shared and closed by its owner
func (q *RedisStreamQueue) Close() error {
	return nil
}
