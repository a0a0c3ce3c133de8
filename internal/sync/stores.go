// Package sync implements the device-state synchronization handlers that
// keep the document store and the realtime tree consistent: link mirroring
// with single-primary-patient maintenance, config and telemetry mirroring,
// dispense recording, and missed-dose scheduling/verification.
//
// Every handler is a stateless function of (current store state, event
// payload). Delivery of events is at-least-once and unordered, so each
// handler must be idempotent and safe to no-op when its precondition no
// longer holds.
package sync

import (
	"context"
	"encoding/json"

	"pildhora-sync/internal/domain"
	"pildhora-sync/internal/notify"
)

// DeviceStore 设备文档存取能力
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	MergeLinkedUser(ctx context.Context, deviceID, userID, role string) error
	RemoveLinkedUser(ctx context.Context, deviceID, userID string) error
	SetPrimaryPatient(ctx context.Context, deviceID, patientID string) error
	UpdateLastKnownState(ctx context.Context, deviceID string, snapshot json.RawMessage) error
}

// LinkStore 设备关联存取能力
type LinkStore interface {
	GetLink(ctx context.Context, deviceID, userID string) (*domain.DeviceLink, error)
	UpsertActiveLink(ctx context.Context, deviceID, userID, role, linkedBy string) error
	DeactivateLink(ctx context.Context, deviceID, userID string) error
	ListActiveLinks(ctx context.Context, deviceID string) ([]domain.DeviceLink, error)
	ListCaregiversForPatient(ctx context.Context, patientID string) ([]string, error)
}

// UserStore 用户查询能力
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetPushTokens(ctx context.Context, userID string) ([]string, error)
}

// MedicationStore 药品二次查询能力
type MedicationStore interface {
	GetMedication(ctx context.Context, medicationID string) (*domain.Medication, error)
}

// IntakeStore 服药记录写入能力
type IntakeStore interface {
	Insert(ctx context.Context, rec *domain.IntakeRecord) (bool, error)
}

// AdherenceStore 依从性日志写入能力
type AdherenceStore interface {
	Insert(ctx context.Context, entry *domain.AdherenceLogEntry) (bool, error)
}

// NotificationStore 通知记录写入能力
type NotificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
}

// TaskQueue 延迟校验任务入队能力
type TaskQueue interface {
	EnqueueDoseVerification(ctx context.Context, deviceID, patientID string) error
}

// Pusher 组播推送能力（best-effort）
type Pusher interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (*notify.MulticastResult, error)
}
