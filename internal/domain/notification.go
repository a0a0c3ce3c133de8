package domain

import (
	"encoding/json"
	"time"
)

// Notification types produced by this service.
const (
	NotificationCaregiverConnected = "caregiver_connected"
	NotificationMissedDose         = "missed_dose"
)

// Notification 通知记录（对应 notifications 表）
// The durable record is the delivery guarantee; the push on top of it is
// best-effort only.
type Notification struct {
	NotificationID string `db:"notification_id"` // UUID

	RecipientID string `db:"recipient_id"`
	ActorID     string `db:"actor_id"` // user or device that caused the notification
	Type        string `db:"type"`

	Payload json.RawMessage `db:"payload"` // JSONB, nullable

	CreatedAt time.Time `db:"created_at"`
}
