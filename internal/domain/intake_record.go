package domain

import (
	"database/sql"
	"fmt"
	"time"
)

// Intake outcome for a scheduled dose.
const (
	IntakeTaken  = "TAKEN"
	IntakeMissed = "MISSED"
)

// IntakeRecord 服药记录模型（对应 intake_records 表）
// Derived from a raw dispense event, immutable once written. One record per
// raw event, deduplicated by the deterministic record id.
type IntakeRecord struct {
	RecordID string `db:"record_id"` // deterministic: {device_id}:{event_id}

	DeviceID     string         `db:"device_id"`
	PatientID    string         `db:"patient_id"`
	MedicationID sql.NullString `db:"medication_id"`

	MedicationName string `db:"medication_name"`
	Dosage         string `db:"dosage"`

	ScheduledTime time.Time    `db:"scheduled_time"`
	Status        string       `db:"status"` // TAKEN | MISSED
	TakenAt       sql.NullTime `db:"taken_at"`

	CreatedAt time.Time `db:"created_at"`
}

// IntakeRecordID builds the deterministic id that makes the record write
// idempotent under retried invocations.
func IntakeRecordID(deviceID, eventID string) string {
	return fmt.Sprintf("%s:%s", deviceID, eventID)
}
