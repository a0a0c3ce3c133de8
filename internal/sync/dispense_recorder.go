package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pildhora-sync/internal/domain"
	"pildhora-sync/internal/models"
	"pildhora-sync/internal/repository"

	"go.uber.org/zap"
)

// DispenseRecorder converts raw hardware dispense events into durable
// intake records. Events for devices with no resolvable owner are dropped
// (accepted data loss, not an error).
type DispenseRecorder struct {
	resolver    *OwnerResolver
	medications MedicationStore
	intake      IntakeStore
	logger      *zap.Logger
}

func NewDispenseRecorder(
	resolver *OwnerResolver,
	medications MedicationStore,
	intake IntakeStore,
	logger *zap.Logger,
) *DispenseRecorder {
	return &DispenseRecorder{
		resolver:    resolver,
		medications: medications,
		intake:      intake,
		logger:      logger,
	}
}

// HandleDispense records one raw dispense event. The record id is derived
// from (device, event), so a retried invocation writes nothing new.
func (r *DispenseRecorder) HandleDispense(ctx context.Context, ev models.DispenseEvent) error {
	if ev.DeviceID == "" || ev.EventID == "" {
		r.logger.Warn("Dispense event missing ids, dropping",
			zap.String("device_id", ev.DeviceID),
			zap.String("event_id", ev.EventID),
		)
		return nil
	}

	patientID := r.resolver.Resolve(ctx, ev.DeviceID)
	if patientID == "" {
		r.logger.Warn("Dispense event for device without owner, dropping",
			zap.String("device_id", ev.DeviceID),
			zap.String("event_id", ev.EventID),
		)
		return nil
	}

	name, dosage := r.resolveMedication(ctx, ev)

	status := domain.IntakeTaken
	var takenAt sql.NullTime
	if ev.OK != nil && !*ev.OK {
		status = domain.IntakeMissed
	} else {
		takenAt = sql.NullTime{Time: time.Unix(ev.Timestamp, 0).UTC(), Valid: true}
	}

	scheduled := ev.ScheduledTime
	if scheduled == 0 {
		scheduled = ev.Timestamp
	}

	var medicationID sql.NullString
	if ev.MedicationID != "" {
		medicationID = sql.NullString{String: ev.MedicationID, Valid: true}
	}

	rec := &domain.IntakeRecord{
		RecordID:       domain.IntakeRecordID(ev.DeviceID, ev.EventID),
		DeviceID:       ev.DeviceID,
		PatientID:      patientID,
		MedicationID:   medicationID,
		MedicationName: name,
		Dosage:         dosage,
		ScheduledTime:  time.Unix(scheduled, 0).UTC(),
		Status:         status,
		TakenAt:        takenAt,
	}

	inserted, err := r.intake.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to write intake record: %w", err)
	}
	if !inserted {
		r.logger.Debug("Duplicate dispense event, record already exists",
			zap.String("record_id", rec.RecordID),
		)
		return nil
	}

	r.logger.Info("Intake record written",
		zap.String("record_id", rec.RecordID),
		zap.String("patient_id", patientID),
		zap.String("status", status),
	)
	return nil
}

// resolveMedication fills missing name/dosage by secondary lookup; empty
// strings when still unresolved.
func (r *DispenseRecorder) resolveMedication(ctx context.Context, ev models.DispenseEvent) (name, dosage string) {
	name = ev.MedicationName
	dosage = ev.Dosage
	if (name != "" && dosage != "") || ev.MedicationID == "" {
		return name, dosage
	}

	med, err := r.medications.GetMedication(ctx, ev.MedicationID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn("Medication lookup failed",
				zap.String("medication_id", ev.MedicationID),
				zap.Error(err),
			)
		}
		return name, dosage
	}

	if name == "" {
		name = med.Name
	}
	if dosage == "" {
		dosage = med.Dosage
	}
	return name, dosage
}
