package rtdb

import (
	"context"
	"errors"
)

// ErrNotFound 表示实时树中不存在该字段或节点
var ErrNotFound = errors.New("rtdb: not found")

// Well-known fields of the per-device state node. The device writes
// current_status / battery / last_seen; reassignment logic owns ownerUserId.
const (
	FieldCurrentStatus = "current_status"
	FieldOwnerUserID   = "ownerUserId"
	FieldLastSeen      = "last_seen"
	FieldBatteryLevel  = "battery_level"
)

// Tree 抽象的实时设备树（用于在单元测试中替换 Redis）
// The low-latency structure the dispenser hardware polls and writes.
// Layout:
//
//	rt:device:{id}:state   device-reported telemetry + ownerUserId
//	rt:device:{id}:config  mirrored desired configuration (field upsert)
//	rt:user:{uid}:devices  boolean link presence, one field per device id
type Tree interface {
	DeviceState(ctx context.Context, deviceID string) (map[string]string, error)
	StateField(ctx context.Context, deviceID, field string) (string, error)
	SetStateFields(ctx context.Context, deviceID string, fields map[string]any) error
	DeleteStateFields(ctx context.Context, deviceID string, fields ...string) error

	Config(ctx context.Context, deviceID string) (map[string]string, error)
	UpsertConfig(ctx context.Context, deviceID string, fields map[string]string) error

	LinkedDevices(ctx context.Context, userID string) (map[string]bool, error)
	SetLinkPresence(ctx context.Context, userID, deviceID string) error
	RemoveLinkPresence(ctx context.Context, userID, deviceID string) error
}
