package domain

import (
	"database/sql"
	"time"
)

// Link status values. Links are never hard-deleted in the document store;
// unlink flips status to inactive.
const (
	LinkStatusActive   = "active"
	LinkStatusInactive = "inactive"
)

// DeviceLink 设备关联模型（对应 device_links 表）
// Composite key (device_id, user_id). The realtime tree stores only a
// boolean presence flag for the same relationship.
type DeviceLink struct {
	DeviceID string `db:"device_id"`
	UserID   string `db:"user_id"`

	Role   string `db:"role"`   // patient | caregiver
	Status string `db:"status"` // active | inactive

	LinkedAt time.Time      `db:"linked_at"`
	LinkedBy sql.NullString `db:"linked_by"`

	UpdatedAt time.Time `db:"updated_at"`
}

// IsActivePatient reports whether this link can hold primary ownership.
func (l *DeviceLink) IsActivePatient() bool {
	return l.Status == LinkStatusActive && l.Role == RolePatient
}
