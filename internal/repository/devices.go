package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pildhora-sync/internal/domain"

	"go.uber.org/zap"
)

// DevicesRepo 设备文档仓库
type DevicesRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDevicesRepo(db *sql.DB, logger *zap.Logger) *DevicesRepo {
	return &DevicesRepo{db: db, logger: logger}
}

// GetDevice 获取设备文档
func (r *DevicesRepo) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			device_id,
			primary_patient_id,
			linked_users,
			desired_config,
			last_known_state,
			created_at,
			updated_at
		FROM devices
		WHERE device_id = $1
	`

	var device domain.Device
	var linkedUsers, desiredConfig, lastKnownState []byte

	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID,
		&device.PrimaryPatientID,
		&linkedUsers,
		&desiredConfig,
		&lastKnownState,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	device.LinkedUsers = linkedUsers
	device.DesiredConfig = desiredConfig
	device.LastKnownState = lastKnownState
	return &device, nil
}

// MergeLinkedUser merges one uid -> role entry into the device's
// linked_users map, creating the device row if it does not exist yet.
// Only the linked_users field is touched.
func (r *DevicesRepo) MergeLinkedUser(ctx context.Context, deviceID, userID, role string) error {
	if deviceID == "" || userID == "" {
		return fmt.Errorf("device_id and user_id are required")
	}

	query := `
		INSERT INTO devices (device_id, linked_users, created_at, updated_at)
		VALUES ($1, jsonb_build_object($2::text, $3::text), NOW(), NOW())
		ON CONFLICT (device_id)
		DO UPDATE SET linked_users = devices.linked_users || EXCLUDED.linked_users,
		              updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, userID, role); err != nil {
		return fmt.Errorf("failed to merge linked user: %w", err)
	}
	return nil
}

// RemoveLinkedUser removes one uid entry from linked_users.
func (r *DevicesRepo) RemoveLinkedUser(ctx context.Context, deviceID, userID string) error {
	if deviceID == "" || userID == "" {
		return fmt.Errorf("device_id and user_id are required")
	}

	query := `
		UPDATE devices
		SET linked_users = linked_users - $2,
		    updated_at = NOW()
		WHERE device_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, userID); err != nil {
		return fmt.Errorf("failed to remove linked user: %w", err)
	}
	return nil
}

// SetPrimaryPatient sets or clears (patientID == "") the device's primary
// patient.
func (r *DevicesRepo) SetPrimaryPatient(ctx context.Context, deviceID, patientID string) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	var value sql.NullString
	if patientID != "" {
		value = sql.NullString{String: patientID, Valid: true}
	}

	query := `
		UPDATE devices
		SET primary_patient_id = $2,
		    updated_at = NOW()
		WHERE device_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, value); err != nil {
		return fmt.Errorf("failed to set primary patient: %w", err)
	}
	return nil
}

// UpdateLastKnownState mirrors a normalized telemetry snapshot into the
// device document for client queries. Field-scoped: only last_known_state
// is written.
func (r *DevicesRepo) UpdateLastKnownState(ctx context.Context, deviceID string, snapshot json.RawMessage) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	query := `
		INSERT INTO devices (device_id, last_known_state, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (device_id)
		DO UPDATE SET last_known_state = EXCLUDED.last_known_state,
		              updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, []byte(snapshot)); err != nil {
		return fmt.Errorf("failed to update last known state: %w", err)
	}
	return nil
}
