package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"pildhora-sync/internal/domain"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// AdherenceLister 依从性日志查询能力
type AdherenceLister interface {
	ListByPatient(ctx context.Context, patientID string, fromDay, toDay sql.NullString) ([]domain.AdherenceLogEntry, error)
}

// IntakeLister 服药记录查询能力
type IntakeLister interface {
	ListByPatient(ctx context.Context, patientID string, from, to sql.NullTime) ([]domain.IntakeRecord, error)
}

// AdherenceExportHeader 依从性工作表表头
var AdherenceExportHeader = []string{
	"Day",
	"Time",
	"Status",
	"Source",
	"Device ID",
}

// IntakeExportHeader 服药记录工作表表头
var IntakeExportHeader = []string{
	"Record ID",
	"Device ID",
	"Medication",
	"Dosage",
	"Scheduled Time",
	"Status",
	"Taken At",
}

// AdherenceExportHandler serves the per-patient Excel export: one workbook
// with an adherence-log sheet and an intake-record sheet.
type AdherenceExportHandler struct {
	adherence AdherenceLister
	intake    IntakeLister
	logger    *zap.Logger
}

func NewAdherenceExportHandler(adherence AdherenceLister, intake IntakeLister, logger *zap.Logger) *AdherenceExportHandler {
	return &AdherenceExportHandler{
		adherence: adherence,
		intake:    intake,
		logger:    logger,
	}
}

// Export GET /data/api/v1/adherence/export?patientId=&from=&to=
// from/to are optional day bounds (2006-01-02, inclusive).
func (h *AdherenceExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	patientID := r.URL.Query().Get("patientId")
	if patientID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("patientId is required"))
		return
	}

	fromDay, toDay, err := parseDayRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	entries, err := h.adherence.ListByPatient(r.Context(), patientID, fromDay, toDay)
	if err != nil {
		h.logger.Error("Failed to load adherence log", zap.String("patient_id", patientID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load adherence log"))
		return
	}

	from, to := dayRangeToTimes(fromDay, toDay)
	records, err := h.intake.ListByPatient(r.Context(), patientID, from, to)
	if err != nil {
		h.logger.Error("Failed to load intake records", zap.String("patient_id", patientID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load intake records"))
		return
	}

	data, err := GenerateAdherenceExport(entries, records)
	if err != nil {
		h.logger.Error("Failed to generate export", zap.String("patient_id", patientID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("adherence_%s_%s.xlsx", patientID, time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	_, _ = w.Write(data)
}

func parseDayRange(from, to string) (sql.NullString, sql.NullString, error) {
	var fromDay, toDay sql.NullString
	if from != "" {
		if _, err := time.Parse(domain.AdherenceDayLayout, from); err != nil {
			return fromDay, toDay, fmt.Errorf("invalid from day: %s", from)
		}
		fromDay = sql.NullString{String: from, Valid: true}
	}
	if to != "" {
		if _, err := time.Parse(domain.AdherenceDayLayout, to); err != nil {
			return fromDay, toDay, fmt.Errorf("invalid to day: %s", to)
		}
		toDay = sql.NullString{String: to, Valid: true}
	}
	return fromDay, toDay, nil
}

// dayRangeToTimes converts the inclusive day bounds to instant bounds for
// the intake-record query.
func dayRangeToTimes(fromDay, toDay sql.NullString) (sql.NullTime, sql.NullTime) {
	var from, to sql.NullTime
	if fromDay.Valid {
		if t, err := time.Parse(domain.AdherenceDayLayout, fromDay.String); err == nil {
			from = sql.NullTime{Time: t, Valid: true}
		}
	}
	if toDay.Valid {
		if t, err := time.Parse(domain.AdherenceDayLayout, toDay.String); err == nil {
			to = sql.NullTime{Time: t.Add(24 * time.Hour), Valid: true}
		}
	}
	return from, to
}

// GenerateAdherenceExport 生成依从性导出 Excel 文件
func GenerateAdherenceExport(entries []domain.AdherenceLogEntry, records []domain.IntakeRecord) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	adherenceSheet := "Adherence Log"
	index, err := f.NewSheet(adherenceSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	intakeSheet := "Intake Records"
	if _, err := f.NewSheet(intakeSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, adherenceSheet, AdherenceExportHeader, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeHeader(f, intakeSheet, IntakeExportHeader, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	for i, entry := range entries {
		row := i + 2
		cells := []any{entry.Day, entry.Time, entry.Status, entry.Source, entry.DeviceID}
		if err := writeRow(f, adherenceSheet, row, cells); err != nil {
			f.Close()
			return nil, err
		}
	}

	for i, rec := range records {
		row := i + 2
		takenAt := ""
		if rec.TakenAt.Valid {
			takenAt = rec.TakenAt.Time.Format(time.RFC3339)
		}
		cells := []any{
			rec.RecordID,
			rec.DeviceID,
			rec.MedicationName,
			rec.Dosage,
			rec.ScheduledTime.Format(time.RFC3339),
			rec.Status,
			takenAt,
		}
		if err := writeRow(f, intakeSheet, row, cells); err != nil {
			f.Close()
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	f.Close()
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, 22); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	for col, value := range cells {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}
