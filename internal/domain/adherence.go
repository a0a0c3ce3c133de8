package domain

import "time"

// Adherence log layout. Entries are keyed by (patient, day, time) where day
// and time are the bucketed invocation instant of the verifier.
const (
	AdherenceDayLayout  = "2006-01-02"
	AdherenceTimeLayout = "15:04"

	AdherenceMissed = "missed"
)

// AdherenceLogEntry 服药依从性日志条目（对应 adherence_log 表）
// Written by the missed-dose verifier when a dose was not confirmed.
// Immutable.
type AdherenceLogEntry struct {
	PatientID string `db:"patient_id"`
	Day       string `db:"day"`  // 2006-01-02
	Time      string `db:"time"` // 15:04

	Status string `db:"status"` // missed
	Source string `db:"source"` // e.g. "device"

	DeviceID  string    `db:"device_id"`
	CreatedAt time.Time `db:"created_at"`
}
