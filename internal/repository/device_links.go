package repository

import (
	"context"
	"database/sql"
	"fmt"

	"pildhora-sync/internal/domain"

	"go.uber.org/zap"
)

// DeviceLinksRepo 设备关联仓库
type DeviceLinksRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDeviceLinksRepo(db *sql.DB, logger *zap.Logger) *DeviceLinksRepo {
	return &DeviceLinksRepo{db: db, logger: logger}
}

// GetLink 获取单条关联
func (r *DeviceLinksRepo) GetLink(ctx context.Context, deviceID, userID string) (*domain.DeviceLink, error) {
	if deviceID == "" || userID == "" {
		return nil, fmt.Errorf("device_id and user_id are required")
	}

	query := `
		SELECT device_id, user_id, role, status, linked_at, linked_by, updated_at
		FROM device_links
		WHERE device_id = $1 AND user_id = $2
	`

	var link domain.DeviceLink
	err := r.db.QueryRowContext(ctx, query, deviceID, userID).Scan(
		&link.DeviceID,
		&link.UserID,
		&link.Role,
		&link.Status,
		&link.LinkedAt,
		&link.LinkedBy,
		&link.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device link: %w", err)
	}
	return &link, nil
}

// UpsertActiveLink creates the link or reactivates it, keeping linked_at
// from the first creation (audit field).
func (r *DeviceLinksRepo) UpsertActiveLink(ctx context.Context, deviceID, userID, role, linkedBy string) error {
	if deviceID == "" || userID == "" {
		return fmt.Errorf("device_id and user_id are required")
	}

	var by sql.NullString
	if linkedBy != "" {
		by = sql.NullString{String: linkedBy, Valid: true}
	}

	query := `
		INSERT INTO device_links (device_id, user_id, role, status, linked_at, linked_by, updated_at)
		VALUES ($1, $2, $3, 'active', NOW(), $4, NOW())
		ON CONFLICT (device_id, user_id)
		DO UPDATE SET role = EXCLUDED.role,
		              status = 'active',
		              updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, userID, role, by); err != nil {
		return fmt.Errorf("failed to upsert device link: %w", err)
	}
	return nil
}

// DeactivateLink flips the link to inactive. No hard delete.
func (r *DeviceLinksRepo) DeactivateLink(ctx context.Context, deviceID, userID string) error {
	if deviceID == "" || userID == "" {
		return fmt.Errorf("device_id and user_id are required")
	}

	query := `
		UPDATE device_links
		SET status = 'inactive',
		    updated_at = NOW()
		WHERE device_id = $1 AND user_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, userID); err != nil {
		return fmt.Errorf("failed to deactivate device link: %w", err)
	}
	return nil
}

// ListActiveLinks returns the device's active links ordered by linked_at
// then user_id. The ordering is what makes primary-patient reassignment
// deterministic.
func (r *DeviceLinksRepo) ListActiveLinks(ctx context.Context, deviceID string) ([]domain.DeviceLink, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT device_id, user_id, role, status, linked_at, linked_by, updated_at
		FROM device_links
		WHERE device_id = $1 AND status = 'active'
		ORDER BY linked_at ASC, user_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active links: %w", err)
	}
	defer rows.Close()

	var links []domain.DeviceLink
	for rows.Next() {
		var link domain.DeviceLink
		if err := rows.Scan(
			&link.DeviceID,
			&link.UserID,
			&link.Role,
			&link.Status,
			&link.LinkedAt,
			&link.LinkedBy,
			&link.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device links: %w", err)
	}
	return links, nil
}

// ListCaregiversForPatient resolves the caregivers actively linked to any
// device whose primary patient is the given user.
func (r *DeviceLinksRepo) ListCaregiversForPatient(ctx context.Context, patientID string) ([]string, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT DISTINCT dl.user_id
		FROM device_links dl
		JOIN devices d ON d.device_id = dl.device_id
		WHERE d.primary_patient_id = $1
		  AND dl.status = 'active'
		  AND dl.role = 'caregiver'
		ORDER BY dl.user_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list caregivers: %w", err)
	}
	defer rows.Close()

	var caregivers []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan caregiver id: %w", err)
		}
		caregivers = append(caregivers, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate caregivers: %w", err)
	}
	return caregivers, nil
}
