package notify

import (
	"context"
	"errors"
	"fmt"

	"pildhora-sync/internal/domain"
	"pildhora-sync/internal/repository"

	"go.uber.org/zap"
)

// CriticalEventStore 通知器需要的严重事件存取能力
type CriticalEventStore interface {
	GetCriticalEvent(ctx context.Context, eventID string) (*domain.CriticalEvent, error)
	MarkNotificationSent(ctx context.Context, eventID string, sent bool, results *domain.NotificationResultSummary, errMsg string) error
}

// TokenStore 通知器需要的推送 token 生命周期能力
type TokenStore interface {
	GetPushTokens(ctx context.Context, userID string) ([]string, error)
	DeletePushToken(ctx context.Context, userID, token string) error
}

// PushSender 组播推送能力
type PushSender interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (*MulticastResult, error)
}

// CriticalEventNotifier delivers push notifications for critical event
// records, tracks the delivery outcome idempotently, and prunes dead
// tokens. A delivery failure is recorded on the event and never retried
// automatically.
type CriticalEventNotifier struct {
	events CriticalEventStore
	tokens TokenStore
	push   PushSender
	logger *zap.Logger
}

func NewCriticalEventNotifier(
	events CriticalEventStore,
	tokens TokenStore,
	push PushSender,
	logger *zap.Logger,
) *CriticalEventNotifier {
	return &CriticalEventNotifier{
		events: events,
		tokens: tokens,
		push:   push,
		logger: logger,
	}
}

// HandleCriticalEventCreated processes one critical-event creation.
// Safe to invoke more than once: an event whose notification_sent is
// already set is skipped.
func (n *CriticalEventNotifier) HandleCriticalEventCreated(ctx context.Context, eventID string) error {
	if eventID == "" {
		n.logger.Warn("Critical event without id, dropping")
		return nil
	}

	event, err := n.events.GetCriticalEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			n.logger.Warn("Critical event not found, dropping",
				zap.String("event_id", eventID),
			)
			return nil
		}
		return fmt.Errorf("failed to load critical event: %w", err)
	}

	// Delivery outcome already recorded by a previous invocation.
	if event.NotificationSent.Valid {
		n.logger.Debug("Critical event already processed",
			zap.String("event_id", eventID),
		)
		return nil
	}

	if !event.CaregiverID.Valid || event.CaregiverID.String == "" {
		n.logger.Warn("Critical event without caregiver id, dropping",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType),
		)
		return nil
	}
	caregiverID := event.CaregiverID.String

	tokens, err := n.tokens.GetPushTokens(ctx, caregiverID)
	if err != nil {
		return fmt.Errorf("failed to collect push tokens: %w", err)
	}

	// No token means nothing actionable to retry.
	if len(tokens) == 0 {
		if err := n.events.MarkNotificationSent(ctx, eventID, true, nil, ""); err != nil {
			return fmt.Errorf("failed to mark notification sent: %w", err)
		}
		n.logger.Info("Critical event has no push tokens, marked sent",
			zap.String("event_id", eventID),
			zap.String("caregiver_id", caregiverID),
		)
		return nil
	}

	title, body := n.composeMessage(event)
	data := map[string]string{
		"eventId":   event.EventID,
		"eventType": event.EventType,
		"patientId": event.PatientID,
	}

	result, err := n.push.SendMulticast(ctx, tokens, title, body, data)
	if err != nil {
		// Recorded for later inspection, never retried here.
		if markErr := n.events.MarkNotificationSent(ctx, eventID, false, nil, err.Error()); markErr != nil {
			return fmt.Errorf("failed to record delivery failure: %w", markErr)
		}
		n.logger.Error("Critical event push delivery failed",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return nil
	}

	summary := &domain.NotificationResultSummary{
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
	}

	// Token lifecycle hygiene: drop tokens the gateway reports as dead.
	for _, tokenResult := range result.Results {
		if !tokenResult.PermanentlyInvalid() {
			continue
		}
		if err := n.tokens.DeletePushToken(ctx, caregiverID, tokenResult.Token); err != nil {
			n.logger.Warn("Failed to prune invalid push token",
				zap.String("caregiver_id", caregiverID),
				zap.Error(err),
			)
			continue
		}
		summary.PrunedTokens = append(summary.PrunedTokens, tokenResult.Token)
	}

	if err := n.events.MarkNotificationSent(ctx, eventID, true, summary, ""); err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	n.logger.Info("Critical event notification delivered",
		zap.String("event_id", eventID),
		zap.String("caregiver_id", caregiverID),
		zap.Int("success", summary.SuccessCount),
		zap.Int("failure", summary.FailureCount),
		zap.Int("pruned", len(summary.PrunedTokens)),
	)
	return nil
}

func (n *CriticalEventNotifier) composeMessage(event *domain.CriticalEvent) (title, body string) {
	title = "Critical event"
	switch event.EventType {
	case "missed_dose":
		title = "Missed dose"
	case "low_battery":
		title = "Dispenser battery low"
	case "device_offline":
		title = "Dispenser offline"
	}

	if event.MedicationName.Valid && event.MedicationName.String != "" {
		body = fmt.Sprintf("%s: %s (patient %s)", event.EventType, event.MedicationName.String, event.PatientID)
	} else {
		body = fmt.Sprintf("%s (patient %s)", event.EventType, event.PatientID)
	}
	return title, body
}
