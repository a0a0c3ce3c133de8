package models

import (
	"encoding/json"
)

// Change-feed event shapes carried on the Redis Streams this service
// consumes. Every payload is the JSON value of the message's "data" field;
// delivery is at-least-once and unordered, so handlers must tolerate
// duplicates and stale before/after snapshots.

// LinkPresenceEvent 实时树链接事件（rt:user:{uid}:devices 的布尔标记变化）
type LinkPresenceEvent struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	// "created" when the presence flag was set, "deleted" when removed
	Op        string `json:"op"`
	Timestamp int64  `json:"timestamp"`
}

const (
	LinkOpCreated = "created"
	LinkOpDeleted = "deleted"
)

// LinkDocEvent 文档库 DeviceLink 变更事件
// BeforeStatus is empty on creation. A message where the status did not
// change is a no-op for the synchronizer.
type LinkDocEvent struct {
	DeviceID     string `json:"device_id"`
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	BeforeStatus string `json:"before_status"`
	AfterStatus  string `json:"after_status"`
	LinkedBy     string `json:"linked_by,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// DeviceDocEvent 设备文档更新事件（desiredConfig 前后快照）
type DeviceDocEvent struct {
	DeviceID     string          `json:"device_id"`
	BeforeConfig json.RawMessage `json:"before_config,omitempty"`
	AfterConfig  json.RawMessage `json:"after_config,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// DeviceStateEvent 实时设备状态变化事件
// Values carries the raw state fields as reported by the device (battery
// under one of several legacy keys, free-form extras).
type DeviceStateEvent struct {
	DeviceID     string         `json:"device_id"`
	BeforeStatus string         `json:"before_status"`
	AfterStatus  string         `json:"after_status"`
	Values       map[string]any `json:"values,omitempty"`
	Timestamp    int64          `json:"timestamp"`
}

// DispenseEvent 原始出药事件
// OK is a pointer: absent means success, explicit false marks a failed
// dispense (recorded as MISSED).
type DispenseEvent struct {
	DeviceID       string `json:"device_id"`
	EventID        string `json:"event_id"`
	MedicationID   string `json:"medication_id,omitempty"`
	MedicationName string `json:"medication_name,omitempty"`
	Dosage         string `json:"dosage,omitempty"`
	OK             *bool  `json:"ok,omitempty"`
	ScheduledTime  int64  `json:"scheduled_time"`
	Timestamp      int64  `json:"timestamp"`
}

// CriticalEventCreated 严重事件创建通知（只携带记录 id，详情由文档库读取）
type CriticalEventCreated struct {
	EventID   string `json:"event_id"`
	Timestamp int64  `json:"timestamp"`
}

// ErrInvalidDataFormat 数据格式错误
var ErrInvalidDataFormat = &DataFormatError{Message: "invalid data format"}

// DataFormatError 数据格式错误类型
type DataFormatError struct {
	Message string
}

func (e *DataFormatError) Error() string {
	return e.Message
}

// DecodeEvent 从 Redis Streams 消息解析事件负载
// The stream publisher wraps the payload as {"data": <json>, "timestamp": n}.
func DecodeEvent(values map[string]interface{}, dest any) error {
	dataStr, ok := values["data"].(string)
	if !ok {
		return ErrInvalidDataFormat
	}
	return json.Unmarshal([]byte(dataStr), dest)
}
