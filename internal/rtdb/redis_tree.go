package rtdb

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisTree 基于 go-redis 的实时树实现
type RedisTree struct {
	client *redis.Client
}

func NewRedisTree(client *redis.Client) *RedisTree {
	return &RedisTree{client: client}
}

func stateKey(deviceID string) string  { return fmt.Sprintf("rt:device:%s:state", deviceID) }
func configKey(deviceID string) string { return fmt.Sprintf("rt:device:%s:config", deviceID) }
func linksKey(userID string) string    { return fmt.Sprintf("rt:user:%s:devices", userID) }

func (t *RedisTree) DeviceState(ctx context.Context, deviceID string) (map[string]string, error) {
	return t.client.HGetAll(ctx, stateKey(deviceID)).Result()
}

func (t *RedisTree) StateField(ctx context.Context, deviceID, field string) (string, error) {
	val, err := t.client.HGet(ctx, stateKey(deviceID), field).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", err
	}
	return val, nil
}

func (t *RedisTree) SetStateFields(ctx context.Context, deviceID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return t.client.HSet(ctx, stateKey(deviceID), fields).Err()
}

func (t *RedisTree) DeleteStateFields(ctx context.Context, deviceID string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return t.client.HDel(ctx, stateKey(deviceID), fields...).Err()
}

func (t *RedisTree) Config(ctx context.Context, deviceID string) (map[string]string, error) {
	return t.client.HGetAll(ctx, configKey(deviceID)).Result()
}

// UpsertConfig merges config fields into the device's config node. HSET only
// touches the given fields, so device-only fields under the same node are
// preserved.
func (t *RedisTree) UpsertConfig(ctx context.Context, deviceID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return t.client.HSet(ctx, configKey(deviceID), values).Err()
}

func (t *RedisTree) LinkedDevices(ctx context.Context, userID string) (map[string]bool, error) {
	vals, err := t.client.HGetAll(ctx, linksKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(vals))
	for deviceID, v := range vals {
		out[deviceID] = v == "true"
	}
	return out, nil
}

func (t *RedisTree) SetLinkPresence(ctx context.Context, userID, deviceID string) error {
	return t.client.HSet(ctx, linksKey(userID), deviceID, "true").Err()
}

func (t *RedisTree) RemoveLinkPresence(ctx context.Context, userID, deviceID string) error {
	return t.client.HDel(ctx, linksKey(userID), deviceID).Err()
}
