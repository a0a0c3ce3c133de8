package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"pildhora-sync/internal/domain"
	"pildhora-sync/internal/models"
	"pildhora-sync/internal/rtdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSchedulerWorld() (*fakeDeviceStore, *fakeQueue, *MissedDoseScheduler) {
	devices := newFakeDeviceStore()
	queue := &fakeQueue{}
	logger := zap.NewNop()
	resolver := NewOwnerResolver(devices, newFakeTree(), logger)
	return devices, queue, NewMissedDoseScheduler(resolver, queue, logger)
}

func TestSchedulerEnqueuesOnAlarmTransition(t *testing.T) {
	devices, queue, s := newSchedulerWorld()
	devices.devices["dev-1"] = &domain.Device{
		DeviceID:         "dev-1",
		PrimaryPatientID: sql.NullString{String: "p1", Valid: true},
	}

	require.NoError(t, s.HandleDeviceStateUpdated(context.Background(), models.DeviceStateEvent{
		DeviceID:     "dev-1",
		BeforeStatus: domain.StatusIdle,
		AfterStatus:  domain.StatusAlarmSounding,
	}))

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, enqueuedTask{deviceID: "dev-1", patientID: "p1"}, queue.enqueued[0])
}

func TestSchedulerIgnoresNonAlarmTransitions(t *testing.T) {
	devices, queue, s := newSchedulerWorld()
	devices.devices["dev-1"] = &domain.Device{
		DeviceID:         "dev-1",
		PrimaryPatientID: sql.NullString{String: "p1", Valid: true},
	}
	ctx := context.Background()

	// already sounding: replayed/stale message, no second task
	require.NoError(t, s.HandleDeviceStateUpdated(ctx, models.DeviceStateEvent{
		DeviceID:     "dev-1",
		BeforeStatus: domain.StatusAlarmSounding,
		AfterStatus:  domain.StatusAlarmSounding,
	}))
	// leaving the alarm state
	require.NoError(t, s.HandleDeviceStateUpdated(ctx, models.DeviceStateEvent{
		DeviceID:     "dev-1",
		BeforeStatus: domain.StatusAlarmSounding,
		AfterStatus:  domain.StatusMedicationTaken,
	}))
	// unrelated transition
	require.NoError(t, s.HandleDeviceStateUpdated(ctx, models.DeviceStateEvent{
		DeviceID:     "dev-1",
		BeforeStatus: domain.StatusIdle,
		AfterStatus:  domain.StatusDispensing,
	}))

	assert.Empty(t, queue.enqueued)
}

func TestSchedulerNoOwnerSkips(t *testing.T) {
	_, queue, s := newSchedulerWorld()

	require.NoError(t, s.HandleDeviceStateUpdated(context.Background(), models.DeviceStateEvent{
		DeviceID:     "dev-orphan",
		BeforeStatus: domain.StatusIdle,
		AfterStatus:  domain.StatusAlarmSounding,
	}))
	assert.Empty(t, queue.enqueued)
}

type verifierWorld struct {
	tree          *fakeTree
	adherence     *fakeAdherenceStore
	links         *fakeLinkStore
	users         *fakeUserStore
	notifications *fakeNotificationStore
	push          *fakePusher
	verifier      *MissedDoseVerifier
}

func newVerifierWorld(now time.Time) *verifierWorld {
	w := &verifierWorld{
		tree:          newFakeTree(),
		adherence:     newFakeAdherenceStore(),
		links:         newFakeLinkStore(),
		users:         newFakeUserStore(),
		notifications: &fakeNotificationStore{},
		push:          &fakePusher{},
	}
	w.verifier = NewMissedDoseVerifier(
		w.tree, w.adherence, w.links, w.users, w.notifications, w.push, zap.NewNop(),
	)
	w.verifier.now = func() time.Time { return now }
	return w
}

func TestVerifyDoseTakenNoMissLogged(t *testing.T) {
	w := newVerifierWorld(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC))
	ctx := context.Background()
	require.NoError(t, w.tree.SetStateFields(ctx, "dev-1", map[string]any{
		rtdb.FieldCurrentStatus: domain.StatusMedicationTaken,
	}))

	missed, err := w.verifier.Verify(ctx, "dev-1", "p1")
	require.NoError(t, err)
	assert.False(t, missed)
	assert.Empty(t, w.adherence.entries)
	assert.Empty(t, w.notifications.created)
	assert.Empty(t, w.push.sent)
}

func TestVerifyAlarmStillSoundingLogsMiss(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	w := newVerifierWorld(now)
	ctx := context.Background()
	require.NoError(t, w.tree.SetStateFields(ctx, "dev-1", map[string]any{
		rtdb.FieldCurrentStatus: domain.StatusAlarmSounding,
	}))
	w.links.caregivers["p1"] = []string{"c1"}
	w.users.tokens["c1"] = []string{"tok-1"}

	missed, err := w.verifier.Verify(ctx, "dev-1", "p1")
	require.NoError(t, err)
	assert.True(t, missed)

	entry := w.adherence.entries["p1|2026-03-01|08:30"]
	require.NotNil(t, entry)
	assert.Equal(t, domain.AdherenceMissed, entry.Status)
	assert.Equal(t, "device", entry.Source)
	assert.Equal(t, "dev-1", entry.DeviceID)

	require.Len(t, w.notifications.created, 1)
	assert.Equal(t, domain.NotificationMissedDose, w.notifications.created[0].Type)
	assert.Equal(t, "c1", w.notifications.created[0].RecipientID)

	require.Len(t, w.push.sent, 1)
	assert.Equal(t, []string{"tok-1"}, w.push.sent[0].tokens)
}

func TestVerifyNoStateTreatedAsMissed(t *testing.T) {
	w := newVerifierWorld(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC))

	missed, err := w.verifier.Verify(context.Background(), "dev-1", "p1")
	require.NoError(t, err)
	assert.True(t, missed)
	assert.Len(t, w.adherence.entries, 1)
}

func TestVerifyDuplicateInvocationSingleEntry(t *testing.T) {
	w := newVerifierWorld(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC))
	ctx := context.Background()

	missed, err := w.verifier.Verify(ctx, "dev-1", "p1")
	require.NoError(t, err)
	assert.True(t, missed)

	missed, err = w.verifier.Verify(ctx, "dev-1", "p1")
	require.NoError(t, err)
	assert.True(t, missed)

	assert.Len(t, w.adherence.entries, 1)
}

func TestVerifyNoCaregiversStillLogsMiss(t *testing.T) {
	w := newVerifierWorld(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC))

	missed, err := w.verifier.Verify(context.Background(), "dev-1", "p1")
	require.NoError(t, err)
	assert.True(t, missed)
	assert.Empty(t, w.notifications.created)
	assert.Empty(t, w.push.sent)
}

func TestVerifyCaregiverWithoutTokensNoPush(t *testing.T) {
	w := newVerifierWorld(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC))
	w.links.caregivers["p1"] = []string{"c1"}

	missed, err := w.verifier.Verify(context.Background(), "dev-1", "p1")
	require.NoError(t, err)
	assert.True(t, missed)
	assert.Len(t, w.notifications.created, 1)
	assert.Empty(t, w.push.sent)
}

func TestVerifyMissingArguments(t *testing.T) {
	w := newVerifierWorld(time.Now())

	_, err := w.verifier.Verify(context.Background(), "", "p1")
	assert.Error(t, err)
	_, err = w.verifier.Verify(context.Background(), "dev-1", "")
	assert.Error(t, err)
}
