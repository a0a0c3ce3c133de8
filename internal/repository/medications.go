package repository

import (
	"context"
	"database/sql"
	"fmt"

	"pildhora-sync/internal/domain"

	"go.uber.org/zap"
)

// MedicationsRepo 药品仓库（出药事件缺失名称/剂量时的二次查询）
type MedicationsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMedicationsRepo(db *sql.DB, logger *zap.Logger) *MedicationsRepo {
	return &MedicationsRepo{db: db, logger: logger}
}

// GetMedication 根据药品ID查询
func (r *MedicationsRepo) GetMedication(ctx context.Context, medicationID string) (*domain.Medication, error) {
	if medicationID == "" {
		return nil, fmt.Errorf("medication_id is required")
	}

	query := `
		SELECT medication_id, patient_id, name, dosage
		FROM medications
		WHERE medication_id = $1
	`

	var med domain.Medication
	err := r.db.QueryRowContext(ctx, query, medicationID).Scan(
		&med.MedicationID,
		&med.PatientID,
		&med.Name,
		&med.Dosage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get medication: %w", err)
	}
	return &med, nil
}
