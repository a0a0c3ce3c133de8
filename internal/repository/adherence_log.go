package repository

import (
	"context"
	"database/sql"
	"fmt"

	"pildhora-sync/internal/domain"

	"go.uber.org/zap"
)

// AdherenceLogRepo 依从性日志仓库
type AdherenceLogRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAdherenceLogRepo(db *sql.DB, logger *zap.Logger) *AdherenceLogRepo {
	return &AdherenceLogRepo{db: db, logger: logger}
}

// Insert writes an adherence-log entry keyed by (patient, day, time).
// Entries are immutable; a duplicate key is a no-op so a replayed verifier
// invocation within the same minute has no extra effect. Returns whether a
// new row was written.
func (r *AdherenceLogRepo) Insert(ctx context.Context, entry *domain.AdherenceLogEntry) (bool, error) {
	if entry.PatientID == "" || entry.Day == "" || entry.Time == "" {
		return false, fmt.Errorf("patient_id, day and time are required")
	}

	query := `
		INSERT INTO adherence_log (patient_id, day, time, status, source, device_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (patient_id, day, time) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.PatientID,
		entry.Day,
		entry.Time,
		entry.Status,
		entry.Source,
		entry.DeviceID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert adherence log entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByPatient returns a patient's adherence entries for the export,
// newest day first.
func (r *AdherenceLogRepo) ListByPatient(ctx context.Context, patientID string, fromDay, toDay sql.NullString) ([]domain.AdherenceLogEntry, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT patient_id, day, time, status, source, device_id, created_at
		FROM adherence_log
		WHERE patient_id = $1
		  AND ($2::text IS NULL OR day >= $2)
		  AND ($3::text IS NULL OR day <= $3)
		ORDER BY day DESC, time DESC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("failed to list adherence log: %w", err)
	}
	defer rows.Close()

	var entries []domain.AdherenceLogEntry
	for rows.Next() {
		var entry domain.AdherenceLogEntry
		if err := rows.Scan(
			&entry.PatientID,
			&entry.Day,
			&entry.Time,
			&entry.Status,
			&entry.Source,
			&entry.DeviceID,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan adherence entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate adherence log: %w", err)
	}
	return entries, nil
}
