package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pildhora-sync/internal/config"
	"pildhora-sync/internal/models"
	"pildhora-sync/internal/mqtt"
	"pildhora-sync/internal/rtdb"
	"pildhora-sync/internal/streams"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Device ingress topics. The dispenser publishes its full state node on
// every change and one message per dispense attempt.
const (
	topicStateFilter    = "pildhora/+/state"
	topicDispenseFilter = "pildhora/+/dispense"
)

// dispensePayload 设备出药消息体
type dispensePayload struct {
	EventID        string `json:"event_id"`
	MedicationID   string `json:"medication_id,omitempty"`
	MedicationName string `json:"medication_name,omitempty"`
	Dosage         string `json:"dosage,omitempty"`
	OK             *bool  `json:"ok,omitempty"`
	ScheduledTime  int64  `json:"scheduled_time,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// MQTTConsumer bridges hardware reports into the realtime tree and the
// change-feed streams. It is the write path that makes the tree the source
// of truth for device-reported fields; the stream events it emits carry the
// before/after snapshot the sync handlers need.
type MQTTConsumer struct {
	client *mqtt.Client
	redis  *redis.Client
	tree   rtdb.Tree
	cfg    *config.Config
	logger *zap.Logger
}

func NewMQTTConsumer(
	client *mqtt.Client,
	redisClient *redis.Client,
	tree rtdb.Tree,
	cfg *config.Config,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		client: client,
		redis:  redisClient,
		tree:   tree,
		cfg:    cfg,
		logger: logger,
	}
}

// Start subscribes to the device ingress topics.
func (c *MQTTConsumer) Start() error {
	qos := c.cfg.MQTT.QoS

	if err := c.client.Subscribe(topicStateFilter, qos, c.handleState); err != nil {
		return err
	}
	if err := c.client.Subscribe(topicDispenseFilter, qos, c.handleDispense); err != nil {
		return err
	}

	c.logger.Info("MQTT device ingress started",
		zap.String("state_topic", topicStateFilter),
		zap.String("dispense_topic", topicDispenseFilter),
	)
	return nil
}

// Stop unsubscribes from the ingress topics.
func (c *MQTTConsumer) Stop() {
	if err := c.client.Unsubscribe(topicStateFilter, topicDispenseFilter); err != nil {
		c.logger.Warn("Failed to unsubscribe device ingress topics", zap.Error(err))
	}
}

// handleState applies a device state report to the realtime tree and emits
// a DeviceStateEvent carrying the before/after status transition.
func (c *MQTTConsumer) handleState(topic string, payload []byte) error {
	deviceID, err := deviceIDFromTopic(topic)
	if err != nil {
		c.logger.Warn("State message on malformed topic, dropping",
			zap.String("topic", topic),
		)
		return nil
	}

	var values map[string]any
	if err := json.Unmarshal(payload, &values); err != nil {
		c.logger.Warn("Malformed state payload, dropping",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return nil
	}
	if len(values) == 0 {
		return nil
	}

	ctx := context.Background()

	beforeStatus, err := c.tree.StateField(ctx, deviceID, rtdb.FieldCurrentStatus)
	if err != nil && !errors.Is(err, rtdb.ErrNotFound) {
		return fmt.Errorf("failed to read current status: %w", err)
	}

	now := time.Now().Unix()
	fields := make(map[string]any, len(values)+1)
	for k, v := range values {
		switch v.(type) {
		case map[string]any, []any:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			fields[k] = string(encoded)
		default:
			fields[k] = v
		}
	}
	fields[rtdb.FieldLastSeen] = now

	if err := c.tree.SetStateFields(ctx, deviceID, fields); err != nil {
		return fmt.Errorf("failed to write device state: %w", err)
	}

	afterStatus := beforeStatus
	if s, ok := values[rtdb.FieldCurrentStatus].(string); ok {
		afterStatus = s
	}

	ev := models.DeviceStateEvent{
		DeviceID:     deviceID,
		BeforeStatus: beforeStatus,
		AfterStatus:  afterStatus,
		Values:       values,
		Timestamp:    now,
	}
	if _, err := streams.PublishJSON(ctx, c.redis, c.cfg.Sync.Streams.DeviceState, ev); err != nil {
		return fmt.Errorf("failed to publish device state event: %w", err)
	}

	c.logger.Debug("Device state applied",
		zap.String("device_id", deviceID),
		zap.String("before", beforeStatus),
		zap.String("after", afterStatus),
	)
	return nil
}

// handleDispense forwards a raw dispense report onto the dispense stream.
func (c *MQTTConsumer) handleDispense(topic string, payload []byte) error {
	deviceID, err := deviceIDFromTopic(topic)
	if err != nil {
		c.logger.Warn("Dispense message on malformed topic, dropping",
			zap.String("topic", topic),
		)
		return nil
	}

	var p dispensePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("Malformed dispense payload, dropping",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return nil
	}
	if p.EventID == "" {
		c.logger.Warn("Dispense message without event id, dropping",
			zap.String("device_id", deviceID),
		)
		return nil
	}

	timestamp := p.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	ev := models.DispenseEvent{
		DeviceID:       deviceID,
		EventID:        p.EventID,
		MedicationID:   p.MedicationID,
		MedicationName: p.MedicationName,
		Dosage:         p.Dosage,
		OK:             p.OK,
		ScheduledTime:  p.ScheduledTime,
		Timestamp:      timestamp,
	}
	ctx := context.Background()
	if _, err := streams.PublishJSON(ctx, c.redis, c.cfg.Sync.Streams.Dispense, ev); err != nil {
		return fmt.Errorf("failed to publish dispense event: %w", err)
	}

	c.logger.Debug("Dispense event forwarded",
		zap.String("device_id", deviceID),
		zap.String("event_id", p.EventID),
	)
	return nil
}

// deviceIDFromTopic extracts the device id from pildhora/{deviceId}/{leaf}.
func deviceIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("unexpected topic shape: %s", topic)
	}
	return parts[1], nil
}
