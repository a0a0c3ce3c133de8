package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pildhora-sync/internal/models"
	"pildhora-sync/internal/rtdb"

	"go.uber.org/zap"
)

// ConfigMirror propagates caregiver-edited configuration down to the
// realtime tree the hardware polls, and device-reported telemetry up to the
// device document for client queries. Each direction is one-way.
type ConfigMirror struct {
	devices DeviceStore
	tree    rtdb.Tree
	logger  *zap.Logger
}

func NewConfigMirror(devices DeviceStore, tree rtdb.Tree, logger *zap.Logger) *ConfigMirror {
	return &ConfigMirror{
		devices: devices,
		tree:    tree,
		logger:  logger,
	}
}

// HandleDeviceDocUpdated pushes a changed desiredConfig into the realtime
// config node. Unchanged config is a no-op; the write is a field-level
// upsert so device-only fields under the same node survive.
func (m *ConfigMirror) HandleDeviceDocUpdated(ctx context.Context, ev models.DeviceDocEvent) error {
	if ev.DeviceID == "" {
		m.logger.Warn("Device doc event missing device id, dropping")
		return nil
	}

	if configUnchanged(ev.BeforeConfig, ev.AfterConfig) {
		return nil
	}
	if len(ev.AfterConfig) == 0 {
		return nil
	}

	var config map[string]any
	if err := json.Unmarshal(ev.AfterConfig, &config); err != nil {
		m.logger.Warn("Malformed desired config, dropping",
			zap.String("device_id", ev.DeviceID),
			zap.Error(err),
		)
		return nil
	}

	fields := make(map[string]string, len(config))
	for key, value := range config {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode config field %s: %w", key, err)
		}
		fields[key] = string(encoded)
	}

	if err := m.tree.UpsertConfig(ctx, ev.DeviceID, fields); err != nil {
		return fmt.Errorf("failed to mirror config: %w", err)
	}

	m.logger.Info("Mirrored desired config to realtime tree",
		zap.String("device_id", ev.DeviceID),
		zap.Int("fields", len(fields)),
	)
	return nil
}

// HandleDeviceStateUpdated mirrors a normalized telemetry snapshot into the
// device document. The snapshot is derived purely from the event payload,
// so re-running on unchanged input yields the same output.
func (m *ConfigMirror) HandleDeviceStateUpdated(ctx context.Context, ev models.DeviceStateEvent) error {
	if ev.DeviceID == "" {
		m.logger.Warn("Device state event missing device id, dropping")
		return nil
	}

	snapshot := map[string]any{
		"current_status": ev.AfterStatus,
		"reported_at":    time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339),
	}
	if battery, ok := NormalizeBattery(ev.Values); ok {
		snapshot["battery_level"] = battery
	}
	if len(ev.Values) > 0 {
		snapshot["raw"] = ev.Values
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	if err := m.devices.UpdateLastKnownState(ctx, ev.DeviceID, data); err != nil {
		return fmt.Errorf("failed to mirror device state: %w", err)
	}

	if battery, ok := NormalizeBattery(ev.Values); ok {
		// Keep the canonical battery field on the tree normalized too, so
		// later reads see one scale regardless of which legacy key the
		// device reported under.
		if err := m.tree.SetStateFields(ctx, ev.DeviceID, map[string]any{
			rtdb.FieldBatteryLevel: strconv.Itoa(battery),
		}); err != nil {
			m.logger.Warn("Failed to write normalized battery to tree",
				zap.String("device_id", ev.DeviceID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// configUnchanged compares the two serialized configs by canonical form
// (keys sorted by re-marshal), so key order in the source documents does
// not cause spurious mirrors.
func configUnchanged(before, after json.RawMessage) bool {
	return bytes.Equal(canonicalJSON(before), canonicalJSON(after))
}

func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
