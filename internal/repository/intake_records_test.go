package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"pildhora-sync/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockIntakeDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *IntakeRecordsRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewIntakeRecordsRepo(db, logger)

	return db, mock, repo
}

func sampleIntakeRecord() *domain.IntakeRecord {
	return &domain.IntakeRecord{
		RecordID:       domain.IntakeRecordID("D1", "ev-42"),
		DeviceID:       "D1",
		PatientID:      "p1",
		MedicationID:   sql.NullString{String: "med-1", Valid: true},
		MedicationName: "Enalapril",
		Dosage:         "10mg",
		ScheduledTime:  time.Now(),
		Status:         domain.IntakeTaken,
		TakenAt:        sql.NullTime{Time: time.Now(), Valid: true},
	}
}

func TestIntakeInsert_NewRecord(t *testing.T) {
	db, mock, repo := setupMockIntakeDB(t)
	defer db.Close()

	rec := sampleIntakeRecord()

	mock.ExpectExec(`INSERT INTO intake_records`).
		WithArgs(
			"D1:ev-42", "D1", "p1", rec.MedicationID,
			"Enalapril", "10mg", rec.ScheduledTime, domain.IntakeTaken, rec.TakenAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Insert(context.Background(), rec)

	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntakeInsert_DuplicateIsNoop(t *testing.T) {
	db, mock, repo := setupMockIntakeDB(t)
	defer db.Close()

	rec := sampleIntakeRecord()

	// ON CONFLICT DO NOTHING: zero rows affected on replay
	mock.ExpectExec(`INSERT INTO intake_records`).
		WithArgs(
			"D1:ev-42", "D1", "p1", rec.MedicationID,
			"Enalapril", "10mg", rec.ScheduledTime, domain.IntakeTaken, rec.TakenAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(context.Background(), rec)

	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIntakeInsert_MissingPatient(t *testing.T) {
	db, mock, repo := setupMockIntakeDB(t)
	defer db.Close()

	rec := sampleIntakeRecord()
	rec.PatientID = ""

	_, err := repo.Insert(context.Background(), rec)

	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
