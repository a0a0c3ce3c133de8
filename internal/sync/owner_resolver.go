package sync

import (
	"context"
	"errors"

	"pildhora-sync/internal/repository"
	"pildhora-sync/internal/rtdb"

	"go.uber.org/zap"
)

// OwnerResolver resolves the single patient who currently owns a device:
// document store first, realtime tree as fallback. It deliberately never
// scans all users; absence of an owner is a valid, terminal outcome the
// caller must handle.
type OwnerResolver struct {
	devices DeviceStore
	tree    rtdb.Tree
	logger  *zap.Logger
}

func NewOwnerResolver(devices DeviceStore, tree rtdb.Tree, logger *zap.Logger) *OwnerResolver {
	return &OwnerResolver{
		devices: devices,
		tree:    tree,
		logger:  logger,
	}
}

// Resolve returns the owning patient id, or "" when no owner can be
// determined. Store failures are logged and treated as "unknown"; this
// method never fails.
func (r *OwnerResolver) Resolve(ctx context.Context, deviceID string) string {
	if deviceID == "" {
		return ""
	}

	device, err := r.devices.GetDevice(ctx, deviceID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		r.logger.Warn("Failed to read device document, falling back to realtime tree",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}
	if device != nil && device.PrimaryPatientID.Valid && device.PrimaryPatientID.String != "" {
		return device.PrimaryPatientID.String
	}

	owner, err := r.tree.StateField(ctx, deviceID, rtdb.FieldOwnerUserID)
	if err != nil {
		if !errors.Is(err, rtdb.ErrNotFound) {
			r.logger.Warn("Failed to read realtime owner",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
		return ""
	}
	return owner
}
