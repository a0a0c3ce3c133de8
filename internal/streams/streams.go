package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Message Redis Streams 消息
type Message struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// PublishJSON 发布 JSON 消息到 Redis Streams
// The payload is wrapped as {"data": <json>, "timestamp": n}, the format
// every change-feed consumer in this service expects.
func PublishJSON(ctx context.Context, client *redis.Client, stream string, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":      string(jsonBytes),
			"timestamp": time.Now().Unix(),
		},
	}).Result()

	return id, err
}

// ReadGroup 以消费者组方式从 Stream 读取消息
func ReadGroup(ctx context.Context, client *redis.Client, stream, group, consumer string, count int64) ([]Message, error) {
	result, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    time.Second * 5,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return []Message{}, nil
		}
		return nil, err
	}

	var messages []Message
	for _, s := range result {
		for _, msg := range s.Messages {
			messages = append(messages, Message{
				Stream: s.Stream,
				ID:     msg.ID,
				Values: msg.Values,
			})
		}
	}

	return messages, nil
}

// Ack 确认消息已处理
func Ack(ctx context.Context, client *redis.Client, stream, group, id string) error {
	return client.XAck(ctx, stream, group, id).Err()
}

// CreateConsumerGroup 创建消费者组（组已存在时忽略）
func CreateConsumerGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}
