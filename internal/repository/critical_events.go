package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pildhora-sync/internal/domain"

	"go.uber.org/zap"
)

// CriticalEventsRepo 严重事件仓库
type CriticalEventsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewCriticalEventsRepo(db *sql.DB, logger *zap.Logger) *CriticalEventsRepo {
	return &CriticalEventsRepo{db: db, logger: logger}
}

// GetCriticalEvent 获取严重事件记录
func (r *CriticalEventsRepo) GetCriticalEvent(ctx context.Context, eventID string) (*domain.CriticalEvent, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `
		SELECT event_id, caregiver_id, event_type, patient_id, medication_name,
		       notification_sent, notification_results, notification_error, created_at
		FROM critical_events
		WHERE event_id = $1
	`

	var event domain.CriticalEvent
	var results []byte

	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&event.EventID,
		&event.CaregiverID,
		&event.EventType,
		&event.PatientID,
		&event.MedicationName,
		&event.NotificationSent,
		&results,
		&event.NotificationError,
		&event.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get critical event: %w", err)
	}

	event.NotificationResults = results
	return &event, nil
}

// MarkNotificationSent records the outcome of the single delivery attempt.
// Only touches the notification bookkeeping fields.
func (r *CriticalEventsRepo) MarkNotificationSent(ctx context.Context, eventID string, sent bool, results *domain.NotificationResultSummary, errMsg string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}

	var resultsJSON []byte
	if results != nil {
		data, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("failed to marshal notification results: %w", err)
		}
		resultsJSON = data
	}

	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}

	query := `
		UPDATE critical_events
		SET notification_sent = $2,
		    notification_results = COALESCE($3, notification_results),
		    notification_error = $4
		WHERE event_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, eventID, sent, resultsJSON, errVal); err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}
