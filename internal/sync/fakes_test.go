package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"pildhora-sync/internal/domain"
	"pildhora-sync/internal/notify"
	"pildhora-sync/internal/repository"
	"pildhora-sync/internal/rtdb"
)

// In-memory fakes for the store and tree interfaces. Each fake keeps just
// enough state for handlers to read back what earlier calls wrote, so the
// idempotence and reassignment tests can replay events against one world.

type fakeTree struct {
	state    map[string]map[string]string // deviceID -> field -> value
	config   map[string]map[string]string
	presence map[string]map[string]bool // userID -> deviceID -> true

	stateErr error
}

func newFakeTree() *fakeTree {
	return &fakeTree{
		state:    make(map[string]map[string]string),
		config:   make(map[string]map[string]string),
		presence: make(map[string]map[string]bool),
	}
}

func (t *fakeTree) DeviceState(ctx context.Context, deviceID string) (map[string]string, error) {
	if t.stateErr != nil {
		return nil, t.stateErr
	}
	node, ok := t.state[deviceID]
	if !ok {
		return nil, rtdb.ErrNotFound
	}
	out := make(map[string]string, len(node))
	for k, v := range node {
		out[k] = v
	}
	return out, nil
}

func (t *fakeTree) StateField(ctx context.Context, deviceID, field string) (string, error) {
	if t.stateErr != nil {
		return "", t.stateErr
	}
	node, ok := t.state[deviceID]
	if !ok {
		return "", rtdb.ErrNotFound
	}
	v, ok := node[field]
	if !ok {
		return "", rtdb.ErrNotFound
	}
	return v, nil
}

func (t *fakeTree) SetStateFields(ctx context.Context, deviceID string, fields map[string]any) error {
	node, ok := t.state[deviceID]
	if !ok {
		node = make(map[string]string)
		t.state[deviceID] = node
	}
	for k, v := range fields {
		node[k] = fmt.Sprintf("%v", v)
	}
	return nil
}

func (t *fakeTree) DeleteStateFields(ctx context.Context, deviceID string, fields ...string) error {
	node, ok := t.state[deviceID]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(node, f)
	}
	return nil
}

func (t *fakeTree) Config(ctx context.Context, deviceID string) (map[string]string, error) {
	node, ok := t.config[deviceID]
	if !ok {
		return nil, rtdb.ErrNotFound
	}
	return node, nil
}

func (t *fakeTree) UpsertConfig(ctx context.Context, deviceID string, fields map[string]string) error {
	node, ok := t.config[deviceID]
	if !ok {
		node = make(map[string]string)
		t.config[deviceID] = node
	}
	for k, v := range fields {
		node[k] = v
	}
	return nil
}

func (t *fakeTree) LinkedDevices(ctx context.Context, userID string) (map[string]bool, error) {
	return t.presence[userID], nil
}

func (t *fakeTree) SetLinkPresence(ctx context.Context, userID, deviceID string) error {
	node, ok := t.presence[userID]
	if !ok {
		node = make(map[string]bool)
		t.presence[userID] = node
	}
	node[deviceID] = true
	return nil
}

func (t *fakeTree) RemoveLinkPresence(ctx context.Context, userID, deviceID string) error {
	delete(t.presence[userID], deviceID)
	return nil
}

type fakeDeviceStore struct {
	devices map[string]*domain.Device // deviceID -> doc

	mergeCalls      int
	setPrimaryCalls []string // values passed to SetPrimaryPatient
	lastSnapshot    json.RawMessage
	snapshotCalls   int
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*domain.Device)}
}

func (s *fakeDeviceStore) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

func (s *fakeDeviceStore) MergeLinkedUser(ctx context.Context, deviceID, userID, role string) error {
	s.mergeCalls++
	d, ok := s.devices[deviceID]
	if !ok {
		d = &domain.Device{DeviceID: deviceID}
		s.devices[deviceID] = d
	}
	m := d.LinkedUserMap()
	m[userID] = role
	d.LinkedUsers, _ = json.Marshal(m)
	return nil
}

func (s *fakeDeviceStore) RemoveLinkedUser(ctx context.Context, deviceID, userID string) error {
	d, ok := s.devices[deviceID]
	if !ok {
		return nil
	}
	m := d.LinkedUserMap()
	delete(m, userID)
	d.LinkedUsers, _ = json.Marshal(m)
	return nil
}

func (s *fakeDeviceStore) SetPrimaryPatient(ctx context.Context, deviceID, patientID string) error {
	s.setPrimaryCalls = append(s.setPrimaryCalls, patientID)
	d, ok := s.devices[deviceID]
	if !ok {
		d = &domain.Device{DeviceID: deviceID}
		s.devices[deviceID] = d
	}
	if patientID == "" {
		d.PrimaryPatientID = sql.NullString{}
	} else {
		d.PrimaryPatientID = sql.NullString{String: patientID, Valid: true}
	}
	return nil
}

func (s *fakeDeviceStore) UpdateLastKnownState(ctx context.Context, deviceID string, snapshot json.RawMessage) error {
	s.snapshotCalls++
	s.lastSnapshot = snapshot
	return nil
}

type fakeLinkStore struct {
	links map[string]*domain.DeviceLink // deviceID|userID -> link

	caregivers map[string][]string // patientID -> caregiver ids
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{
		links:      make(map[string]*domain.DeviceLink),
		caregivers: make(map[string][]string),
	}
}

func linkKey(deviceID, userID string) string { return deviceID + "|" + userID }

func (s *fakeLinkStore) GetLink(ctx context.Context, deviceID, userID string) (*domain.DeviceLink, error) {
	l, ok := s.links[linkKey(deviceID, userID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return l, nil
}

func (s *fakeLinkStore) UpsertActiveLink(ctx context.Context, deviceID, userID, role, linkedBy string) error {
	key := linkKey(deviceID, userID)
	if l, ok := s.links[key]; ok {
		l.Role = role
		l.Status = domain.LinkStatusActive
		return nil
	}
	s.links[key] = &domain.DeviceLink{
		DeviceID: deviceID,
		UserID:   userID,
		Role:     role,
		Status:   domain.LinkStatusActive,
		LinkedBy: sql.NullString{String: linkedBy, Valid: linkedBy != ""},
	}
	return nil
}

func (s *fakeLinkStore) DeactivateLink(ctx context.Context, deviceID, userID string) error {
	if l, ok := s.links[linkKey(deviceID, userID)]; ok {
		l.Status = domain.LinkStatusInactive
	}
	return nil
}

func (s *fakeLinkStore) ListActiveLinks(ctx context.Context, deviceID string) ([]domain.DeviceLink, error) {
	var out []domain.DeviceLink
	for _, l := range s.links {
		if l.DeviceID == deviceID && l.Status == domain.LinkStatusActive {
			out = append(out, *l)
		}
	}
	// mirror the repository's deterministic ordering
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LinkedAt.Equal(out[j].LinkedAt) {
			return out[i].LinkedAt.Before(out[j].LinkedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *fakeLinkStore) ListCaregiversForPatient(ctx context.Context, patientID string) ([]string, error) {
	return s.caregivers[patientID], nil
}

type fakeUserStore struct {
	users  map[string]*domain.User
	tokens map[string][]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:  make(map[string]*domain.User),
		tokens: make(map[string][]string),
	}
}

func (s *fakeUserStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) GetPushTokens(ctx context.Context, userID string) ([]string, error) {
	return s.tokens[userID], nil
}

type fakeMedicationStore struct {
	meds map[string]*domain.Medication
}

func (s *fakeMedicationStore) GetMedication(ctx context.Context, medicationID string) (*domain.Medication, error) {
	m, ok := s.meds[medicationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

type fakeIntakeStore struct {
	records map[string]*domain.IntakeRecord
	err     error
}

func newFakeIntakeStore() *fakeIntakeStore {
	return &fakeIntakeStore{records: make(map[string]*domain.IntakeRecord)}
}

func (s *fakeIntakeStore) Insert(ctx context.Context, rec *domain.IntakeRecord) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.records[rec.RecordID]; ok {
		return false, nil
	}
	s.records[rec.RecordID] = rec
	return true, nil
}

type fakeAdherenceStore struct {
	entries map[string]*domain.AdherenceLogEntry // patient|day|time
}

func newFakeAdherenceStore() *fakeAdherenceStore {
	return &fakeAdherenceStore{entries: make(map[string]*domain.AdherenceLogEntry)}
}

func (s *fakeAdherenceStore) Insert(ctx context.Context, entry *domain.AdherenceLogEntry) (bool, error) {
	key := entry.PatientID + "|" + entry.Day + "|" + entry.Time
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = entry
	return true, nil
}

type fakeNotificationStore struct {
	created []*domain.Notification
	err     error
}

func (s *fakeNotificationStore) Create(ctx context.Context, n *domain.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, n)
	return nil
}

type enqueuedTask struct {
	deviceID  string
	patientID string
}

type fakeQueue struct {
	enqueued []enqueuedTask
	err      error
}

func (q *fakeQueue) EnqueueDoseVerification(ctx context.Context, deviceID, patientID string) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, enqueuedTask{deviceID: deviceID, patientID: patientID})
	return nil
}

type sentPush struct {
	tokens []string
	title  string
}

type fakePusher struct {
	sent []sentPush
	err  error
}

func (p *fakePusher) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (*notify.MulticastResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.sent = append(p.sent, sentPush{tokens: tokens, title: title})
	return &notify.MulticastResult{SuccessCount: len(tokens)}, nil
}
