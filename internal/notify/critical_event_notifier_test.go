package notify

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"pildhora-sync/internal/domain"
	"pildhora-sync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type markCall struct {
	sent    bool
	results *domain.NotificationResultSummary
	errMsg  string
}

type fakeEventStore struct {
	events map[string]*domain.CriticalEvent
	marks  []markCall
}

func (s *fakeEventStore) GetCriticalEvent(ctx context.Context, eventID string) (*domain.CriticalEvent, error) {
	e, ok := s.events[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (s *fakeEventStore) MarkNotificationSent(ctx context.Context, eventID string, sent bool, results *domain.NotificationResultSummary, errMsg string) error {
	s.marks = append(s.marks, markCall{sent: sent, results: results, errMsg: errMsg})
	if e, ok := s.events[eventID]; ok {
		e.NotificationSent = sql.NullBool{Bool: sent, Valid: true}
	}
	return nil
}

type fakeTokenStore struct {
	tokens  map[string][]string
	deleted []string
}

func (s *fakeTokenStore) GetPushTokens(ctx context.Context, userID string) ([]string, error) {
	return s.tokens[userID], nil
}

func (s *fakeTokenStore) DeletePushToken(ctx context.Context, userID, token string) error {
	s.deleted = append(s.deleted, token)
	return nil
}

type fakePushSender struct {
	result *MulticastResult
	err    error
	calls  int
}

func (p *fakePushSender) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (*MulticastResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func pendingEvent(eventID, caregiverID string) *domain.CriticalEvent {
	return &domain.CriticalEvent{
		EventID:     eventID,
		CaregiverID: sql.NullString{String: caregiverID, Valid: caregiverID != ""},
		EventType:   "missed_dose",
		PatientID:   "p1",
	}
}

func TestNotifierDeliversAndMarksSent(t *testing.T) {
	events := &fakeEventStore{events: map[string]*domain.CriticalEvent{
		"ev-1": pendingEvent("ev-1", "c1"),
	}}
	tokens := &fakeTokenStore{tokens: map[string][]string{"c1": {"tok-a", "tok-b"}}}
	push := &fakePushSender{result: &MulticastResult{
		SuccessCount: 2,
		Results: []TokenResult{
			{Token: "tok-a", Status: TokenStatusOK},
			{Token: "tok-b", Status: TokenStatusOK},
		},
	}}

	n := NewCriticalEventNotifier(events, tokens, push, zap.NewNop())
	require.NoError(t, n.HandleCriticalEventCreated(context.Background(), "ev-1"))

	require.Len(t, events.marks, 1)
	assert.True(t, events.marks[0].sent)
	require.NotNil(t, events.marks[0].results)
	assert.Equal(t, 2, events.marks[0].results.SuccessCount)
	assert.Empty(t, tokens.deleted)
}

func TestNotifierPrunesDeadTokens(t *testing.T) {
	events := &fakeEventStore{events: map[string]*domain.CriticalEvent{
		"ev-1": pendingEvent("ev-1", "c1"),
	}}
	tokens := &fakeTokenStore{tokens: map[string][]string{"c1": {"tok-a", "tok-b", "tok-c"}}}
	push := &fakePushSender{result: &MulticastResult{
		SuccessCount: 1,
		FailureCount: 2,
		Results: []TokenResult{
			{Token: "tok-a", Status: TokenStatusOK},
			{Token: "tok-b", Status: TokenStatusInvalid},
			{Token: "tok-c", Status: TokenStatusUnregistered},
		},
	}}

	n := NewCriticalEventNotifier(events, tokens, push, zap.NewNop())
	require.NoError(t, n.HandleCriticalEventCreated(context.Background(), "ev-1"))

	assert.ElementsMatch(t, []string{"tok-b", "tok-c"}, tokens.deleted)
	require.Len(t, events.marks, 1)
	assert.ElementsMatch(t, []string{"tok-b", "tok-c"}, events.marks[0].results.PrunedTokens)
}

func TestNotifierDeliveryFailureRecordedNotRetried(t *testing.T) {
	events := &fakeEventStore{events: map[string]*domain.CriticalEvent{
		"ev-1": pendingEvent("ev-1", "c1"),
	}}
	tokens := &fakeTokenStore{tokens: map[string][]string{"c1": {"tok-a"}}}
	push := &fakePushSender{err: errors.New("gateway unreachable")}

	n := NewCriticalEventNotifier(events, tokens, push, zap.NewNop())
	require.NoError(t, n.HandleCriticalEventCreated(context.Background(), "ev-1"))

	require.Len(t, events.marks, 1)
	assert.False(t, events.marks[0].sent)
	assert.Equal(t, "gateway unreachable", events.marks[0].errMsg)
}

func TestNotifierNoTokensMarkedSent(t *testing.T) {
	events := &fakeEventStore{events: map[string]*domain.CriticalEvent{
		"ev-1": pendingEvent("ev-1", "c1"),
	}}
	tokens := &fakeTokenStore{tokens: map[string][]string{}}
	push := &fakePushSender{}

	n := NewCriticalEventNotifier(events, tokens, push, zap.NewNop())
	require.NoError(t, n.HandleCriticalEventCreated(context.Background(), "ev-1"))

	assert.Equal(t, 0, push.calls)
	require.Len(t, events.marks, 1)
	assert.True(t, events.marks[0].sent)
	assert.Nil(t, events.marks[0].results)
}

func TestNotifierAlreadyProcessedSkipped(t *testing.T) {
	event := pendingEvent("ev-1", "c1")
	event.NotificationSent = sql.NullBool{Bool: true, Valid: true}
	events := &fakeEventStore{events: map[string]*domain.CriticalEvent{"ev-1": event}}
	push := &fakePushSender{}

	n := NewCriticalEventNotifier(events, &fakeTokenStore{}, push, zap.NewNop())
	require.NoError(t, n.HandleCriticalEventCreated(context.Background(), "ev-1"))

	assert.Equal(t, 0, push.calls)
	assert.Empty(t, events.marks)
}

func TestNotifierDropsMalformedInput(t *testing.T) {
	events := &fakeEventStore{events: map[string]*domain.CriticalEvent{
		"ev-no-caregiver": pendingEvent("ev-no-caregiver", ""),
	}}
	push := &fakePushSender{}
	n := NewCriticalEventNotifier(events, &fakeTokenStore{}, push, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, n.HandleCriticalEventCreated(ctx, ""))          // no id
	require.NoError(t, n.HandleCriticalEventCreated(ctx, "ev-ghost"))  // unknown event
	require.NoError(t, n.HandleCriticalEventCreated(ctx, "ev-no-caregiver"))

	assert.Equal(t, 0, push.calls)
	assert.Empty(t, events.marks)
}
