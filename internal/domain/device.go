package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Device status tokens as reported by the dispenser hardware into the
// realtime tree (`current_status` field).
const (
	StatusIdle            = "idle"
	StatusDispensing      = "dispensing"
	StatusAlarmSounding   = "alarm_sounding"
	StatusMedicationTaken = "medication_taken"
)

// Roles a user can hold on a device link.
const (
	RolePatient   = "patient"
	RoleCaregiver = "caregiver"
)

// Device 设备文档模型（对应 devices 表）
// The document-store side of a dispenser. The realtime side lives in Redis
// under rt:device:{id}:state and is mirrored into LastKnownState for client
// queries.
type Device struct {
	DeviceID string `db:"device_id"`

	// At most one primary patient. NULL when no active patient-role link
	// remains; the synchronizer keeps this and the realtime ownerUserId in
	// agreement after convergence.
	PrimaryPatientID sql.NullString `db:"primary_patient_id"`

	// linked user id -> role, JSONB
	LinkedUsers json.RawMessage `db:"linked_users"`

	// Caregiver-authored configuration, mirrored verbatim to the realtime
	// config path. JSONB, freely shaped.
	DesiredConfig json.RawMessage `db:"desired_config"`

	// Normalized telemetry snapshot mirrored up from the realtime tree.
	LastKnownState json.RawMessage `db:"last_known_state"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// LinkedUserMap decodes LinkedUsers into a uid -> role map.
// A missing or malformed column decodes as an empty map, never an error:
// handlers treat unknown shape as "no links" per the drop-malformed policy.
func (d *Device) LinkedUserMap() map[string]string {
	m := make(map[string]string)
	if len(d.LinkedUsers) == 0 {
		return m
	}
	_ = json.Unmarshal(d.LinkedUsers, &m)
	return m
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (d *Device) ToJSON() map[string]any {
	m := map[string]any{
		"device_id":  d.DeviceID,
		"created_at": d.CreatedAt,
		"updated_at": d.UpdatedAt,
	}
	if d.PrimaryPatientID.Valid {
		m["primary_patient_id"] = d.PrimaryPatientID.String
	} else {
		m["primary_patient_id"] = nil
	}
	if len(d.LinkedUsers) > 0 {
		m["linked_users"] = json.RawMessage(d.LinkedUsers)
	}
	if len(d.DesiredConfig) > 0 {
		m["desired_config"] = json.RawMessage(d.DesiredConfig)
	}
	if len(d.LastKnownState) > 0 {
		m["last_known_state"] = json.RawMessage(d.LastKnownState)
	}
	return m
}
