package sync

import (
	"context"

	"pildhora-sync/internal/domain"
	"pildhora-sync/internal/models"

	"go.uber.org/zap"
)

// MissedDoseScheduler watches device status transitions and enqueues one
// delayed verification task when a device starts sounding its alarm. Every
// other transition, including transitions out of the alarm state, is
// ignored here; the verifier's own idempotent short-circuit handles doses
// confirmed during the delay.
type MissedDoseScheduler struct {
	resolver *OwnerResolver
	queue    TaskQueue
	logger   *zap.Logger
}

func NewMissedDoseScheduler(resolver *OwnerResolver, queue TaskQueue, logger *zap.Logger) *MissedDoseScheduler {
	return &MissedDoseScheduler{
		resolver: resolver,
		queue:    queue,
		logger:   logger,
	}
}

// HandleDeviceStateUpdated schedules verification on the transition into
// alarm_sounding.
func (s *MissedDoseScheduler) HandleDeviceStateUpdated(ctx context.Context, ev models.DeviceStateEvent) error {
	if ev.DeviceID == "" {
		return nil
	}
	if ev.AfterStatus != domain.StatusAlarmSounding || ev.BeforeStatus == domain.StatusAlarmSounding {
		return nil
	}

	patientID := s.resolver.Resolve(ctx, ev.DeviceID)
	if patientID == "" {
		s.logger.Warn("Alarm on device without resolvable owner, skipping verification",
			zap.String("device_id", ev.DeviceID),
		)
		return nil
	}

	if err := s.queue.EnqueueDoseVerification(ctx, ev.DeviceID, patientID); err != nil {
		// Not retried here; the queue's own delivery retry policy is the
		// only recovery.
		s.logger.Error("Failed to enqueue dose verification",
			zap.String("device_id", ev.DeviceID),
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Info("Dose verification scheduled",
		zap.String("device_id", ev.DeviceID),
		zap.String("patient_id", patientID),
	)
	return nil
}
