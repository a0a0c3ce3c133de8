package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// CriticalEvent 严重事件记录（对应 critical_events 表）
// Created by upstream logic; consumed and updated exactly once by the
// notifier. NotificationSent is tri-state: NULL until a delivery attempt
// concludes, then true/false.
type CriticalEvent struct {
	EventID string `db:"event_id"`

	CaregiverID    sql.NullString `db:"caregiver_id"`
	EventType      string         `db:"event_type"`
	PatientID      string         `db:"patient_id"`
	MedicationName sql.NullString `db:"medication_name"`

	NotificationSent    sql.NullBool    `db:"notification_sent"`
	NotificationResults json.RawMessage `db:"notification_results"` // JSONB, nullable
	NotificationError   sql.NullString  `db:"notification_error"`

	CreatedAt time.Time `db:"created_at"`
}

// NotificationResultSummary is the JSONB shape stored in
// notification_results after a multicast attempt.
type NotificationResultSummary struct {
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	PrunedTokens []string `json:"prunedTokens,omitempty"`
}
