package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pildhora-sync/internal/domain"
	"pildhora-sync/internal/models"
	"pildhora-sync/internal/repository"
	"pildhora-sync/internal/rtdb"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LinkSynchronizer mirrors link/unlink mutations between the two stores and
// maintains the single-primary-patient invariant. Two symmetric state
// machines, one per store; each direction is a one-way mirror plus
// reassignment of ownership when the owning patient unlinks.
type LinkSynchronizer struct {
	devices       DeviceStore
	links         LinkStore
	users         UserStore
	notifications NotificationStore
	tree          rtdb.Tree
	push          Pusher
	resolver      *OwnerResolver
	logger        *zap.Logger
}

func NewLinkSynchronizer(
	devices DeviceStore,
	links LinkStore,
	users UserStore,
	notifications NotificationStore,
	tree rtdb.Tree,
	push Pusher,
	resolver *OwnerResolver,
	logger *zap.Logger,
) *LinkSynchronizer {
	return &LinkSynchronizer{
		devices:       devices,
		links:         links,
		users:         users,
		notifications: notifications,
		tree:          tree,
		push:          push,
		resolver:      resolver,
		logger:        logger,
	}
}

// HandleRealtimeLinkCreated mirrors a realtime presence flag
// (rt:user:{uid}:devices/{deviceId} = true) into the document store.
func (s *LinkSynchronizer) HandleRealtimeLinkCreated(ctx context.Context, ev models.LinkPresenceEvent) error {
	if ev.UserID == "" || ev.DeviceID == "" {
		s.logger.Warn("Realtime link event missing ids, dropping",
			zap.String("user_id", ev.UserID),
			zap.String("device_id", ev.DeviceID),
		)
		return nil
	}

	user, err := s.users.GetUser(ctx, ev.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Realtime link for unknown user, dropping",
				zap.String("user_id", ev.UserID),
				zap.String("device_id", ev.DeviceID),
			)
			return nil
		}
		return fmt.Errorf("failed to look up user role: %w", err)
	}
	role := user.Role
	if role != domain.RoleCaregiver {
		role = domain.RolePatient
	}

	if err := s.devices.MergeLinkedUser(ctx, ev.DeviceID, ev.UserID, role); err != nil {
		return err
	}
	if role == domain.RolePatient {
		if err := s.devices.SetPrimaryPatient(ctx, ev.DeviceID, ev.UserID); err != nil {
			return err
		}
	}
	if err := s.links.UpsertActiveLink(ctx, ev.DeviceID, ev.UserID, role, ev.UserID); err != nil {
		return err
	}

	return s.claimRealtimeOwnerIfUnset(ctx, ev.DeviceID, ev.UserID)
}

// HandleRealtimeLinkDeleted mirrors a removed realtime presence flag into
// the document store and reassigns ownership if the removed user held it.
func (s *LinkSynchronizer) HandleRealtimeLinkDeleted(ctx context.Context, ev models.LinkPresenceEvent) error {
	if ev.UserID == "" || ev.DeviceID == "" {
		s.logger.Warn("Realtime unlink event missing ids, dropping",
			zap.String("user_id", ev.UserID),
			zap.String("device_id", ev.DeviceID),
		)
		return nil
	}

	if err := s.devices.RemoveLinkedUser(ctx, ev.DeviceID, ev.UserID); err != nil {
		return err
	}
	if err := s.links.DeactivateLink(ctx, ev.DeviceID, ev.UserID); err != nil {
		return err
	}

	return s.reassignAfterUnlink(ctx, ev.DeviceID, ev.UserID)
}

// HandleLinkDocCreated mirrors a document-store DeviceLink creation into
// the device document and the realtime tree. A caregiver link additionally
// notifies the device's current primary patient.
func (s *LinkSynchronizer) HandleLinkDocCreated(ctx context.Context, ev models.LinkDocEvent) error {
	if ev.UserID == "" || ev.DeviceID == "" {
		s.logger.Warn("DeviceLink event missing ids, dropping",
			zap.String("user_id", ev.UserID),
			zap.String("device_id", ev.DeviceID),
		)
		return nil
	}
	if ev.AfterStatus != domain.LinkStatusActive {
		return nil
	}

	role := ev.Role
	if role != domain.RoleCaregiver {
		role = domain.RolePatient
	}

	if err := s.devices.MergeLinkedUser(ctx, ev.DeviceID, ev.UserID, role); err != nil {
		return err
	}
	if role == domain.RolePatient {
		if err := s.devices.SetPrimaryPatient(ctx, ev.DeviceID, ev.UserID); err != nil {
			return err
		}
	}
	if err := s.tree.SetLinkPresence(ctx, ev.UserID, ev.DeviceID); err != nil {
		return err
	}
	if err := s.claimRealtimeOwnerIfUnset(ctx, ev.DeviceID, ev.UserID); err != nil {
		return err
	}

	if role == domain.RoleCaregiver {
		s.notifyCaregiverConnected(ctx, ev.DeviceID, ev.UserID)
	}
	return nil
}

// HandleLinkDocUpdated handles a DeviceLink status transition. Unchanged
// status is a no-op (guard against retried/duplicate invocations).
func (s *LinkSynchronizer) HandleLinkDocUpdated(ctx context.Context, ev models.LinkDocEvent) error {
	if ev.UserID == "" || ev.DeviceID == "" {
		s.logger.Warn("DeviceLink event missing ids, dropping",
			zap.String("user_id", ev.UserID),
			zap.String("device_id", ev.DeviceID),
		)
		return nil
	}
	if ev.BeforeStatus == ev.AfterStatus {
		return nil
	}

	// Reactivation mirrors like a creation.
	if ev.AfterStatus == domain.LinkStatusActive {
		return s.HandleLinkDocCreated(ctx, ev)
	}
	if ev.AfterStatus != domain.LinkStatusInactive {
		return nil
	}

	if err := s.devices.RemoveLinkedUser(ctx, ev.DeviceID, ev.UserID); err != nil {
		return err
	}
	if err := s.tree.RemoveLinkPresence(ctx, ev.UserID, ev.DeviceID); err != nil {
		return err
	}

	return s.reassignAfterUnlink(ctx, ev.DeviceID, ev.UserID)
}

// claimRealtimeOwnerIfUnset sets the realtime ownerUserId to the given user
// only when no owner is recorded yet.
func (s *LinkSynchronizer) claimRealtimeOwnerIfUnset(ctx context.Context, deviceID, userID string) error {
	owner, err := s.tree.StateField(ctx, deviceID, rtdb.FieldOwnerUserID)
	if err != nil && !errors.Is(err, rtdb.ErrNotFound) {
		return err
	}
	if owner != "" {
		return nil
	}
	return s.tree.SetStateFields(ctx, deviceID, map[string]any{
		rtdb.FieldOwnerUserID: userID,
	})
}

// reassignAfterUnlink re-reads the post-removal link set (read-after-write,
// so concurrent handlers' changes are observed) and reassigns the primary
// patient and the realtime owner when the removed user held either.
func (s *LinkSynchronizer) reassignAfterUnlink(ctx context.Context, deviceID, removedUserID string) error {
	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.clearRealtimeOwnerIfHeldBy(ctx, deviceID, removedUserID, "")
		}
		return err
	}

	replacement, err := s.pickReplacementPatient(ctx, deviceID)
	if err != nil {
		return err
	}

	if device.PrimaryPatientID.Valid && device.PrimaryPatientID.String == removedUserID {
		if err := s.devices.SetPrimaryPatient(ctx, deviceID, replacement); err != nil {
			return err
		}
		s.logger.Info("Primary patient reassigned",
			zap.String("device_id", deviceID),
			zap.String("removed", removedUserID),
			zap.String("replacement", replacement),
		)
	}

	return s.clearRealtimeOwnerIfHeldBy(ctx, deviceID, removedUserID, replacement)
}

// pickReplacementPatient selects the earliest-linked remaining active
// patient-role link, or "" when none remain. ListActiveLinks orders by
// linked_at then user_id, which keeps the choice deterministic under
// replay.
func (s *LinkSynchronizer) pickReplacementPatient(ctx context.Context, deviceID string) (string, error) {
	active, err := s.links.ListActiveLinks(ctx, deviceID)
	if err != nil {
		return "", err
	}
	for _, link := range active {
		if link.IsActivePatient() {
			return link.UserID, nil
		}
	}
	return "", nil
}

func (s *LinkSynchronizer) clearRealtimeOwnerIfHeldBy(ctx context.Context, deviceID, removedUserID, replacement string) error {
	owner, err := s.tree.StateField(ctx, deviceID, rtdb.FieldOwnerUserID)
	if err != nil {
		if errors.Is(err, rtdb.ErrNotFound) {
			return nil
		}
		return err
	}
	if owner != removedUserID {
		return nil
	}
	if replacement == "" {
		return s.tree.DeleteStateFields(ctx, deviceID, rtdb.FieldOwnerUserID)
	}
	return s.tree.SetStateFields(ctx, deviceID, map[string]any{
		rtdb.FieldOwnerUserID: replacement,
	})
}

// notifyCaregiverConnected writes the durable notification record for the
// device's primary patient and sends a best-effort push on top. Absence of
// a resolvable patient or of push tokens is not an error.
func (s *LinkSynchronizer) notifyCaregiverConnected(ctx context.Context, deviceID, caregiverID string) {
	patientID := s.resolver.Resolve(ctx, deviceID)
	if patientID == "" {
		s.logger.Info("Caregiver linked to device without resolvable patient, skipping notification",
			zap.String("device_id", deviceID),
			zap.String("caregiver_id", caregiverID),
		)
		return
	}

	payload, _ := json.Marshal(map[string]string{"deviceId": deviceID})
	notification := &domain.Notification{
		NotificationID: uuid.New().String(),
		RecipientID:    patientID,
		ActorID:        caregiverID,
		Type:           domain.NotificationCaregiverConnected,
		Payload:        payload,
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		s.logger.Error("Failed to create caregiver-connected notification",
			zap.String("device_id", deviceID),
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return
	}

	tokens, err := s.users.GetPushTokens(ctx, patientID)
	if err != nil {
		s.logger.Warn("Failed to collect patient push tokens",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return
	}
	if len(tokens) == 0 {
		return
	}
	if _, err := s.push.SendMulticast(ctx, tokens,
		"Caregiver connected",
		"A caregiver is now linked to your dispenser",
		map[string]string{"deviceId": deviceID, "caregiverId": caregiverID},
	); err != nil {
		s.logger.Warn("Caregiver-connected push failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
}
