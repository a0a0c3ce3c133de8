package repository

import (
	"context"
	"database/sql"
	"fmt"

	"pildhora-sync/internal/domain"

	"go.uber.org/zap"
)

// IntakeRecordsRepo 服药记录仓库
type IntakeRecordsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewIntakeRecordsRepo(db *sql.DB, logger *zap.Logger) *IntakeRecordsRepo {
	return &IntakeRecordsRepo{db: db, logger: logger}
}

// Insert writes an intake record. Records are immutable and deduplicated by
// the deterministic record id, so a retried invocation is a no-op.
// Returns whether a new row was written.
func (r *IntakeRecordsRepo) Insert(ctx context.Context, rec *domain.IntakeRecord) (bool, error) {
	if rec.RecordID == "" {
		return false, fmt.Errorf("record_id is required")
	}
	if rec.DeviceID == "" || rec.PatientID == "" {
		return false, fmt.Errorf("device_id and patient_id are required")
	}

	query := `
		INSERT INTO intake_records (
			record_id, device_id, patient_id, medication_id,
			medication_name, dosage, scheduled_time, status, taken_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (record_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.RecordID,
		rec.DeviceID,
		rec.PatientID,
		rec.MedicationID,
		rec.MedicationName,
		rec.Dosage,
		rec.ScheduledTime,
		rec.Status,
		rec.TakenAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert intake record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByPatient returns a patient's intake records between two instants,
// newest first. Used by the adherence report export.
func (r *IntakeRecordsRepo) ListByPatient(ctx context.Context, patientID string, from, to sql.NullTime) ([]domain.IntakeRecord, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT record_id, device_id, patient_id, medication_id,
		       medication_name, dosage, scheduled_time, status, taken_at, created_at
		FROM intake_records
		WHERE patient_id = $1
		  AND ($2::timestamptz IS NULL OR scheduled_time >= $2)
		  AND ($3::timestamptz IS NULL OR scheduled_time <= $3)
		ORDER BY scheduled_time DESC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list intake records: %w", err)
	}
	defer rows.Close()

	var records []domain.IntakeRecord
	for rows.Next() {
		var rec domain.IntakeRecord
		if err := rows.Scan(
			&rec.RecordID,
			&rec.DeviceID,
			&rec.PatientID,
			&rec.MedicationID,
			&rec.MedicationName,
			&rec.Dosage,
			&rec.ScheduledTime,
			&rec.Status,
			&rec.TakenAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan intake record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intake records: %w", err)
	}
	return records, nil
}
